// Package listener drives one receiver connection: it reads the byte stream,
// runs it through an extractor and the decoders, and publishes the resulting
// messages. It reconnects after link loss and when the receiver goes quiet.
package listener

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/clock"
	"github.com/dbehnke/adsbfeed/internal/connector"
	"github.com/dbehnke/adsbfeed/internal/event"
	"github.com/dbehnke/adsbfeed/internal/extractor"
	"github.com/dbehnke/adsbfeed/internal/frame"
	"github.com/dbehnke/adsbfeed/internal/statistics"
	"github.com/dbehnke/adsbfeed/internal/translator"
)

// ConnectionStatus is the state of a listener's connection
type ConnectionStatus int

const (
	Disconnected ConnectionStatus = iota
	Connecting
	Connected
	Reconnecting
	CannotConnect
)

func (s ConnectionStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case CannotConnect:
		return "cannot connect"
	}
	return "unknown"
}

// MessageEvent carries one message published by a listener
type MessageEvent struct {
	Message *basestation.Message

	// set by a merged feed for a position from an MLAT feed that does not
	// own the aircraft
	IsOutOfBand bool
}

// Source is the connector, extractor and raw translator a listener reads
// with
type Source struct {
	Connector connector.Connector
	Extractor extractor.Extractor
	Raw       translator.RawTranslator
}

// Defaults for Options
const (
	DefaultReconnectDelay = time.Second
	DefaultReadBufferSize = 32 * 1024
)

// Options configure a listener
type Options struct {
	ReceiverID int
	Name       string

	IgnoreBadMessages bool
	AutoReconnect     bool

	// the connection is recycled when nothing arrives for this long, zero
	// disables the check
	IdleTimeout time.Duration

	// minimum gap between connection attempts
	ReconnectDelay time.Duration

	ReadBufferSize int

	Clock      clock.Clock
	Statistics *statistics.Statistics
	Logger     *zap.Logger
}

// Listener reads one receiver.
//
// Event handlers run on the listener's own goroutines. They must not call
// Connect, Disconnect, ChangeSource or Close synchronously.
type Listener struct {
	// serialises status changes with their notifications
	stateMu sync.Mutex

	mu           sync.Mutex
	source       Source
	status       ConnectionStatus
	cancel       context.CancelFunc
	lastAttempt  time.Time
	lastReceived time.Time
	idleTimeout  time.Duration
	closed       bool

	generation    atomic.Uint64
	ignoreBad     atomic.Bool
	autoReconnect atomic.Bool
	totalMessages atomic.Int64
	totalBad      atomic.Int64

	resetMu  sync.Mutex
	resetErr error

	decoders       translator.Decoders
	id             int
	reconnectDelay time.Duration
	readBufferSize int
	clock          clock.Clock
	stats          *statistics.Statistics
	logger         *zap.Logger
	wg             sync.WaitGroup

	ConnectionStateChanged   event.Hook[ConnectionStatus]
	ExceptionCaught          event.Hook[error]
	RawBytesReceived         event.Hook[[]byte]
	ModeSBytesReceived       event.Hook[frame.Frame]
	Port30003MessageReceived event.Hook[*basestation.Message]
	MessageReceived          event.Hook[MessageEvent]
	PositionReset            event.Hook[string]
	SourceChanged            event.Hook[Source]
}

// New creates a disconnected listener with no source
func New(opts Options, decoders translator.Decoders) *Listener {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Statistics == nil {
		opts.Statistics = statistics.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Listener{
		decoders:       decoders,
		id:             opts.ReceiverID,
		idleTimeout:    opts.IdleTimeout,
		reconnectDelay: opts.ReconnectDelay,
		readBufferSize: opts.ReadBufferSize,
		clock:          opts.Clock,
		stats:          opts.Statistics,
		logger: logger.Named("listener").With(
			zap.Int("receiver_id", opts.ReceiverID),
			zap.String("receiver", opts.Name)),
	}
	l.ignoreBad.Store(opts.IgnoreBadMessages)
	l.autoReconnect.Store(opts.AutoReconnect)
	return l
}

// ReceiverID returns the id stamped on every message
func (l *Listener) ReceiverID() int {
	return l.id
}

// Statistics returns the listener's counters
func (l *Listener) Statistics() *statistics.Statistics {
	return l.stats
}

// Status returns the connection state
func (l *Listener) Status() ConnectionStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Source returns the current source
func (l *Listener) Source() Source {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.source
}

func (l *Listener) SetIgnoreBadMessages(v bool) {
	l.ignoreBad.Store(v)
}

func (l *Listener) SetAutoReconnect(v bool) {
	l.autoReconnect.Store(v)
}

func (l *Listener) SetIdleTimeout(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.idleTimeout = d
}

// TotalMessages returns the number of messages decoded since the source
// last changed
func (l *Listener) TotalMessages() int64 {
	return l.totalMessages.Load()
}

// TotalBadMessages returns the number of frames rejected since the source
// last changed
func (l *Listener) TotalBadMessages() int64 {
	return l.totalBad.Load()
}

// ChangeSource replaces the connector, extractor and raw translator. Nothing
// happens when all three are the ones already in use. The new source is
// connected when reconnect is set or the old one was connected or trying to
// connect.
func (l *Listener) ChangeSource(c connector.Connector, x extractor.Extractor, raw translator.RawTranslator, reconnect bool) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	old := l.source
	if old.Connector == c && old.Extractor == x && old.Raw == raw {
		l.mu.Unlock()
		return
	}

	wasActive := l.status == Connecting || l.status == Connected || l.status == Reconnecting
	l.stopLocked()

	l.source = Source{Connector: c, Extractor: x, Raw: raw}
	if raw != old.Raw {
		if n, ok := raw.(translator.PositionResetNotifier); ok {
			n.SetPositionResetHandler(l.positionReset)
		}
	}
	l.totalMessages.Store(0)
	l.totalBad.Store(0)
	l.stats.Reset()
	l.lastAttempt = time.Time{}

	next := Disconnected
	if (reconnect || wasActive) && c != nil && x != nil && raw != nil {
		next = Connecting
		l.startLocked(0)
	}
	changed := l.status != next
	l.status = next
	source := l.source
	l.mu.Unlock()

	if raw != old.Raw {
		l.release(old.Raw)
	}

	l.logger.Info("source changed", zap.Stringer("connector", stringer(c)), zap.Bool("connecting", next == Connecting))
	l.raise("source changed", l.SourceChanged.Raise(source))
	if changed {
		l.raise("connection state", l.ConnectionStateChanged.Raise(next))
	}
}

// Connect starts connecting the current source. A pending reconnect wait is
// abandoned in favour of an immediate attempt.
func (l *Listener) Connect() {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	l.mu.Lock()
	if l.closed || l.source.Connector == nil || l.source.Extractor == nil || l.source.Raw == nil {
		l.mu.Unlock()
		return
	}
	if l.status == Connected || l.status == Connecting {
		l.mu.Unlock()
		return
	}
	l.startLocked(0)
	l.mu.Unlock()

	l.setStatusNotified(Connecting)
}

// Disconnect drops the connection and cancels any pending reconnect
func (l *Listener) Disconnect() {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.stopLocked()
	l.mu.Unlock()

	l.logger.Info("disconnected")
	l.setStatusNotified(Disconnected)
}

// CheckIdle recycles the connection when nothing has been received for
// longer than the idle timeout. It is driven by a periodic tick.
func (l *Listener) CheckIdle() {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	l.mu.Lock()
	now := l.clock.Now()
	if l.closed || l.status != Connected || l.idleTimeout <= 0 || now.Sub(l.lastReceived) <= l.idleTimeout {
		l.mu.Unlock()
		return
	}
	idle := now.Sub(l.lastReceived)
	l.startLocked(l.reconnectWaitLocked(now))
	l.mu.Unlock()

	l.logger.Warn("receiver idle, reconnecting", zap.Duration("idle", idle))
	l.stats.Update(func(c *statistics.Counters) { c.ConnectedSince = time.Time{} })
	l.setStatusNotified(Reconnecting)
}

// Close disconnects, releases the raw translator and waits for the
// connection goroutines to finish
func (l *Listener) Close() error {
	l.stateMu.Lock()

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.stateMu.Unlock()
		return nil
	}
	l.closed = true
	l.stopLocked()
	raw := l.source.Raw
	changed := l.status != Disconnected
	l.status = Disconnected
	l.mu.Unlock()

	if changed {
		l.raise("connection state", l.ConnectionStateChanged.Raise(Disconnected))
	}
	l.stateMu.Unlock()

	l.wg.Wait()
	l.release(raw)
	return nil
}

// startLocked begins a new connection attempt after wait, superseding any
// earlier one. l.mu must be held.
func (l *Listener) startLocked(wait time.Duration) {
	l.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	a := attempt{
		gen:    l.generation.Load(),
		ctx:    ctx,
		source: l.source,
	}
	l.wg.Add(1)
	go l.run(a, wait)
}

// stopLocked invalidates the current attempt. l.mu must be held.
func (l *Listener) stopLocked() {
	l.generation.Add(1)
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// reconnectWaitLocked returns how long to wait so attempts are at least
// reconnectDelay apart. l.mu must be held.
func (l *Listener) reconnectWaitLocked(now time.Time) time.Duration {
	if l.lastAttempt.IsZero() {
		return 0
	}
	return max(l.lastAttempt.Add(l.reconnectDelay).Sub(now), 0)
}

// setStatusNotified stores the status and raises the change. l.stateMu must
// be held.
func (l *Listener) setStatusNotified(s ConnectionStatus) {
	l.mu.Lock()
	changed := l.status != s
	l.status = s
	l.mu.Unlock()

	if changed {
		l.raise("connection state", l.ConnectionStateChanged.Raise(s))
	}
}

// raise reports a failure from a notification that has no connection to end
func (l *Listener) raise(name string, err error) {
	if err == nil {
		return
	}
	herr := &HandlerError{Event: name, Err: err}
	l.logger.Error("event handler failed", zap.Error(herr))
	l.report(herr)
}

// report publishes an error through ExceptionCaught
func (l *Listener) report(err error) {
	if herr := l.ExceptionCaught.Raise(err); herr != nil {
		l.logger.Error("exception handler failed", zap.Error(herr), zap.NamedError("reported", err))
	}
}

func (l *Listener) release(raw translator.RawTranslator) {
	if raw == nil {
		return
	}
	if c, ok := raw.(io.Closer); ok {
		if err := c.Close(); err != nil {
			l.logger.Warn("closing raw translator", zap.Error(err))
		}
	}
}

type nameless struct{}

func (nameless) String() string { return "none" }

func stringer(c connector.Connector) interface{ String() string } {
	if c == nil {
		return nameless{}
	}
	return c
}
