// Package feed binds listeners and merged listeners to their configuration
// and to the aircraft list they keep up to date.
package feed

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/aircraft"
	"github.com/dbehnke/adsbfeed/internal/clock"
	"github.com/dbehnke/adsbfeed/internal/config"
	"github.com/dbehnke/adsbfeed/internal/connector"
	"github.com/dbehnke/adsbfeed/internal/event"
	"github.com/dbehnke/adsbfeed/internal/extractor"
	"github.com/dbehnke/adsbfeed/internal/listener"
	"github.com/dbehnke/adsbfeed/internal/merged"
	"github.com/dbehnke/adsbfeed/internal/statistics"
	"github.com/dbehnke/adsbfeed/internal/translator"
)

var (
	ErrAlreadyInitialised = errors.New("feed already initialised")
	ErrNotInitialised     = errors.New("feed not initialised")
	ErrClosed             = errors.New("feed closed")
	ErrWrongKind          = errors.New("feed is of the other kind")
)

// aircraft are dropped from a feed's list after this long without a message
const DefaultAircraftTimeout = 5 * time.Minute

// Builders create the parts of a receiver's source. Tests replace them to
// watch what gets rebuilt.
type Builders struct {
	Connector func(r config.Receiver, logger *zap.Logger) (connector.Connector, error)
	Extractor func(ds config.DataSource) (extractor.Extractor, error)
	Raw       func(r config.Receiver, logger *zap.Logger) translator.RawTranslator
}

// DefaultBuilders returns the builders for real receivers
func DefaultBuilders() Builders {
	return Builders{
		Connector: connector.New,
		Extractor: extractor.New,
		Raw: func(r config.Receiver, logger *zap.Logger) translator.RawTranslator {
			return translator.NewRaw(translator.RawOptions{Settings: r.RawDecoding, Logger: logger})
		},
	}
}

// Options are shared by every feed a manager creates
type Options struct {
	Decoders        translator.Decoders
	Builders        Builders
	AircraftTimeout time.Duration
	Clock           clock.Clock
	Logger          *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Decoders.Port30003 == nil || o.Decoders.ModeS == nil || o.Decoders.Adsb == nil || o.Decoders.Compressed == nil {
		o.Decoders = translator.DefaultDecoders()
	}
	if o.Builders.Connector == nil {
		o.Builders.Connector = connector.New
	}
	if o.Builders.Extractor == nil {
		o.Builders.Extractor = extractor.New
	}
	if o.Builders.Raw == nil {
		o.Builders.Raw = DefaultBuilders().Raw
	}
	if o.AircraftTimeout <= 0 {
		o.AircraftTimeout = DefaultAircraftTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.Real{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// rawSettable is implemented by raw translators whose tuning can change in
// place
type rawSettable interface {
	Apply(translator.RawSettings)
}

// Feed is one receiver or merged feed
type Feed struct {
	mu          sync.Mutex
	id          int
	name        string
	usage       config.ReceiverUsage
	receiver    *config.Receiver
	mergedFeed  *config.MergedFeed
	listener    *listener.Listener
	merged      *merged.Listener
	unsubscribe []func()
	initialised bool
	closed      bool

	aircraft *aircraft.List
	stats    *statistics.Statistics
	opts     Options
	logger   *zap.Logger
}

// New creates an uninitialised feed
func New(opts Options) *Feed {
	opts = opts.withDefaults()
	return &Feed{
		aircraft: aircraft.NewList(opts.Clock),
		stats:    statistics.New(),
		opts:     opts,
		logger:   opts.Logger.Named("feed"),
	}
}

func (f *Feed) begin() error {
	if f.closed {
		return ErrClosed
	}
	if f.initialised {
		return ErrAlreadyInitialised
	}
	return nil
}

// InitialiseReceiver builds the listener for a receiver and connects it when
// the receiver is enabled
func (f *Feed) InitialiseReceiver(r config.Receiver) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(); err != nil {
		return err
	}

	logger := f.opts.Logger.With(zap.Int("receiver_id", r.ID))
	c, x, err := f.buildSource(r, true, true, logger)
	if err != nil {
		return err
	}
	raw := f.opts.Builders.Raw(r, logger)

	l := listener.New(listener.Options{
		ReceiverID:        r.ID,
		Name:              r.Name,
		IgnoreBadMessages: r.IgnoreBadMessages,
		AutoReconnect:     r.AutoReconnect,
		IdleTimeout:       r.IdleTimeout,
		Clock:             f.opts.Clock,
		Statistics:        f.stats,
		Logger:            f.opts.Logger,
	}, f.opts.Decoders)

	f.unsubscribe = []func(){
		l.MessageReceived.Subscribe(func(ev listener.MessageEvent) { f.aircraft.Apply(ev.Message) }),
		l.PositionReset.Subscribe(f.aircraft.ResetPosition),
		l.ExceptionCaught.Subscribe(func(err error) {
			f.logger.Debug("receiver exception", zap.Int("feed_id", r.ID), zap.Error(err))
		}),
	}

	f.id, f.name, f.usage = r.ID, r.Name, r.Usage
	f.receiver = &r
	f.listener = l
	f.initialised = true
	f.logger = f.opts.Logger.Named("feed").With(zap.Int("feed_id", r.ID), zap.String("feed", r.Name))

	l.ChangeSource(c, x, raw, r.Enabled)
	f.logger.Info("receiver feed initialised",
		zap.Stringer("data_source", r.DataSource),
		zap.Stringer("connection", r.ConnectionType))
	return nil
}

// InitialiseMerged builds the merged listener for a merged feed
func (f *Feed) InitialiseMerged(m config.MergedFeed, components []merged.Component) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(); err != nil {
		return err
	}

	ml := merged.New(merged.Options{
		ID:                           m.ID,
		Name:                         m.Name,
		IcaoTimeout:                  m.IcaoTimeout,
		IgnoreAircraftWithNoPosition: m.IgnoreAircraftWithNoPosition,
		Clock:                        f.opts.Clock,
		Logger:                       f.opts.Logger,
	})
	f.unsubscribe = []func(){
		ml.MessageReceived.Subscribe(func(ev listener.MessageEvent) {
			msg := ev.Message
			if ev.IsOutOfBand && !msg.IsMlat {
				msg = msg.Clone()
				msg.IsMlat = true
			}
			f.aircraft.Apply(msg)
		}),
		ml.PositionReset.Subscribe(f.aircraft.ResetPosition),
	}
	ml.SetListeners(components)

	f.id, f.name, f.usage = m.ID, m.Name, m.Usage
	f.mergedFeed = &m
	f.merged = ml
	f.initialised = true
	f.logger = f.opts.Logger.Named("feed").With(zap.Int("feed_id", m.ID), zap.String("feed", m.Name))
	f.logger.Info("merged feed initialised", zap.Int("receivers", len(components)))
	return nil
}

// ApplyReceiverConfiguration brings the feed in line with a changed
// receiver. Only the parts whose settings changed are rebuilt, and the
// listener's source is only replaced when something was rebuilt.
func (f *Feed) ApplyReceiverConfiguration(r config.Receiver) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if !f.initialised {
		return ErrNotInitialised
	}
	if f.receiver == nil {
		return ErrWrongKind
	}

	old := *f.receiver
	dataSourceChanged := old.DataSource != r.DataSource
	rebuildExtractor := dataSourceChanged
	// an HTTP connector's transform depends on the data source
	rebuildConnector := old.ConnectionKey() != r.ConnectionKey() ||
		(dataSourceChanged && r.ConnectionType == config.ConnectionHTTP)
	rebuildRaw := dataSourceChanged || old.ConnectionType != r.ConnectionType

	logger := f.opts.Logger.With(zap.Int("receiver_id", r.ID))
	src := f.listener.Source()
	c, x, err := f.buildSource(r, rebuildConnector, rebuildExtractor, logger)
	if err != nil {
		return err
	}
	if c == nil {
		c = src.Connector
	}
	if x == nil {
		x = src.Extractor
	}
	raw := src.Raw
	if rebuildRaw {
		raw = f.opts.Builders.Raw(r, logger)
	} else if s, ok := raw.(rawSettable); ok {
		s.Apply(r.RawDecoding)
	}

	f.listener.SetIgnoreBadMessages(r.IgnoreBadMessages)
	f.listener.SetAutoReconnect(r.AutoReconnect)
	f.listener.SetIdleTimeout(r.IdleTimeout)

	if rebuildConnector || rebuildExtractor || rebuildRaw {
		f.logger.Info("rebuilding receiver source",
			zap.Bool("connector", rebuildConnector),
			zap.Bool("extractor", rebuildExtractor),
			zap.Bool("raw", rebuildRaw))
		f.listener.ChangeSource(c, x, raw, r.Enabled)
		f.aircraft.Clear()
	}
	switch {
	case r.Enabled && !old.Enabled:
		f.listener.Connect()
	case !r.Enabled && old.Enabled:
		f.listener.Disconnect()
	}

	f.name, f.usage = r.Name, r.Usage
	f.receiver = &r
	return nil
}

// ApplyMergedConfiguration brings a merged feed in line with its changed
// configuration and receiver set
func (f *Feed) ApplyMergedConfiguration(m config.MergedFeed, components []merged.Component) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if !f.initialised {
		return ErrNotInitialised
	}
	if f.merged == nil {
		return ErrWrongKind
	}

	f.merged.SetIcaoTimeout(m.IcaoTimeout)
	f.merged.SetIgnoreAircraftWithNoPosition(m.IgnoreAircraftWithNoPosition)
	f.merged.SetListeners(components)
	f.name, f.usage = m.Name, m.Usage
	f.mergedFeed = &m
	return nil
}

// buildSource creates the connector and extractor that were asked for. The
// ones not asked for are returned as nil.
func (f *Feed) buildSource(r config.Receiver, buildConnector, buildExtractor bool, logger *zap.Logger) (connector.Connector, extractor.Extractor, error) {
	var (
		c   connector.Connector
		x   extractor.Extractor
		err error
	)
	if buildConnector {
		if c, err = f.opts.Builders.Connector(r, logger); err != nil {
			return nil, nil, fmt.Errorf("receiver %q: %w", r.Name, err)
		}
	}
	if buildExtractor {
		if x, err = f.opts.Builders.Extractor(r.DataSource); err != nil {
			return nil, nil, fmt.Errorf("receiver %q: %w", r.Name, err)
		}
	}
	return c, x, nil
}

// ID returns the receiver or merged feed id
func (f *Feed) ID() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

// Name returns the feed's name
func (f *Feed) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

// IsVisible reports whether the feed is shown to users
func (f *Feed) IsVisible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.usage == config.UsageNormal
}

// IsMerged reports whether the feed combines other feeds
func (f *Feed) IsMerged() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.merged != nil
}

// Listener returns the receiver listener, or nil for a merged feed
func (f *Feed) Listener() *listener.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listener
}

// Merged returns the merged listener, or nil for a receiver feed
func (f *Feed) Merged() *merged.Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.merged
}

// Messages returns the hook that publishes the feed's messages
func (f *Feed) Messages() *event.Hook[listener.MessageEvent] {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.merged != nil {
		return &f.merged.MessageReceived
	}
	if f.listener != nil {
		return &f.listener.MessageReceived
	}
	return nil
}

// Status returns the connection state. Merged feeds are always connected.
func (f *Feed) Status() listener.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case f.merged != nil:
		return f.merged.Status()
	case f.listener != nil:
		return f.listener.Status()
	}
	return listener.Disconnected
}

// Aircraft returns the feed's aircraft list
func (f *Feed) Aircraft() *aircraft.List {
	return f.aircraft
}

// Statistics returns the feed's counters
func (f *Feed) Statistics() *statistics.Statistics {
	return f.stats
}

// FastTick checks the receiver for an idle connection
func (f *Feed) FastTick(now time.Time) {
	if l := f.Listener(); l != nil {
		l.CheckIdle()
	}
}

// SlowTick expires old claims and aircraft
func (f *Feed) SlowTick(now time.Time) {
	if m := f.Merged(); m != nil {
		m.Sweep()
	}
	if removed := f.aircraft.Sweep(now, f.opts.AircraftTimeout); removed > 0 {
		f.logger.Debug("aircraft expired", zap.Int("removed", removed))
	}
}

// Close disconnects the feed and stops its listener
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	unsubscribe := f.unsubscribe
	f.unsubscribe = nil
	l, m := f.listener, f.merged
	f.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	var err error
	if m != nil {
		err = m.Close()
	}
	if l != nil {
		err = errors.Join(err, l.Close())
	}
	f.logger.Info("feed closed")
	return err
}
