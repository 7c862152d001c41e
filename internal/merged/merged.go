// Package merged combines the output of several listeners into one feed in
// which each aircraft is reported by a single receiver at a time.
package merged

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/clock"
	"github.com/dbehnke/adsbfeed/internal/event"
	"github.com/dbehnke/adsbfeed/internal/listener"
)

// DefaultIcaoTimeout is how long a receiver keeps an aircraft after its last
// message
const DefaultIcaoTimeout = 5 * time.Second

// Component is one listener feeding a merge
type Component struct {
	Source *listener.Listener

	// positions from an MLAT feed are passed on even when another receiver
	// owns the aircraft
	IsMlatFeed bool
}

// Options configure a merged listener
type Options struct {
	ID   int
	Name string

	IcaoTimeout                  time.Duration
	IgnoreAircraftWithNoPosition bool

	Clock  clock.Clock
	Logger *zap.Logger
}

// claim records which receiver currently reports an aircraft
type claim struct {
	owner       int
	expires     time.Time
	hasPosition bool
}

type subscription struct {
	id          int
	mlat        atomic.Bool
	unsubscribe []func()
}

// Listener is a merged feed. It has no connection of its own, so it always
// reports itself connected.
type Listener struct {
	mu          sync.Mutex
	claims      map[string]*claim
	icaoTimeout time.Duration
	ignoreNoPos bool

	subsMu sync.Mutex
	subs   map[*listener.Listener]*subscription

	totalMessages atomic.Int64

	id     int
	clock  clock.Clock
	logger *zap.Logger

	MessageReceived        event.Hook[listener.MessageEvent]
	PositionReset          event.Hook[string]
	ExceptionCaught        event.Hook[error]
	ConnectionStateChanged event.Hook[listener.ConnectionStatus]
	SourceChanged          event.Hook[[]Component]
}

// New creates a merged listener with no components
func New(opts Options) *Listener {
	if opts.IcaoTimeout <= 0 {
		opts.IcaoTimeout = DefaultIcaoTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Listener{
		claims:      map[string]*claim{},
		icaoTimeout: opts.IcaoTimeout,
		ignoreNoPos: opts.IgnoreAircraftWithNoPosition,
		subs:        map[*listener.Listener]*subscription{},
		id:          opts.ID,
		clock:       opts.Clock,
		logger: logger.Named("merged").With(
			zap.Int("feed_id", opts.ID),
			zap.String("feed", opts.Name)),
	}
}

// ID returns the merged feed's id
func (m *Listener) ID() int {
	return m.id
}

// Status is always Connected
func (m *Listener) Status() listener.ConnectionStatus {
	return listener.Connected
}

// Connect does nothing, a merge has no connection
func (m *Listener) Connect() {}

// Disconnect does nothing, a merge has no connection
func (m *Listener) Disconnect() {}

// TotalMessages returns the number of messages passed on
func (m *Listener) TotalMessages() int64 {
	return m.totalMessages.Load()
}

func (m *Listener) SetIcaoTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultIcaoTimeout
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.icaoTimeout = d
}

func (m *Listener) SetIgnoreAircraftWithNoPosition(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignoreNoPos = v
}

// SetListeners replaces the listeners being merged. Listeners already in
// the set stay subscribed once. Aircraft claimed by a removed listener stay
// claimed until the claim expires.
func (m *Listener) SetListeners(components []Component) {
	m.subsMu.Lock()

	wanted := make(map[*listener.Listener]Component, len(components))
	for _, c := range components {
		if c.Source != nil {
			wanted[c.Source] = c
		}
	}

	changed := false
	for src, sub := range m.subs {
		if _, ok := wanted[src]; ok {
			continue
		}
		for _, fn := range sub.unsubscribe {
			fn()
		}
		delete(m.subs, src)
		changed = true
		m.logger.Info("receiver removed", zap.Int("receiver_id", sub.id))
	}

	for src, c := range wanted {
		if sub, ok := m.subs[src]; ok {
			if sub.mlat.Swap(c.IsMlatFeed) != c.IsMlatFeed {
				changed = true
			}
			continue
		}
		sub := &subscription{id: src.ReceiverID()}
		sub.mlat.Store(c.IsMlatFeed)
		sub.unsubscribe = []func(){
			src.MessageReceived.Subscribe(func(ev listener.MessageEvent) { m.onMessage(sub, ev) }),
			src.PositionReset.Subscribe(func(icao string) { m.onPositionReset(sub, icao) }),
		}
		m.subs[src] = sub
		changed = true
		m.logger.Info("receiver added", zap.Int("receiver_id", sub.id), zap.Bool("mlat", c.IsMlatFeed))
	}

	current := make([]Component, 0, len(m.subs))
	for src, sub := range m.subs {
		current = append(current, Component{Source: src, IsMlatFeed: sub.mlat.Load()})
	}
	m.subsMu.Unlock()

	if changed {
		m.report("source changed", m.SourceChanged.Raise(current))
	}
}

// Sweep drops expired claims. Lookups check expiry themselves, so this only
// bounds memory.
func (m *Listener) Sweep() {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()
	for icao, c := range m.claims {
		if !now.Before(c.expires) {
			delete(m.claims, icao)
		}
	}
}

// ClaimCount returns the number of claims held, live or not yet swept
func (m *Listener) ClaimCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}

// Close stops listening to every component
func (m *Listener) Close() error {
	m.SetListeners(nil)
	return nil
}

func (m *Listener) onMessage(sub *subscription, ev listener.MessageEvent) {
	msg := ev.Message
	if msg == nil || msg.Icao24 == "" {
		return
	}

	pass, outOfBand := m.arbitrate(msg.Icao24, sub.id, sub.mlat.Load(), msg.HasPosition(), m.clock.Now())
	if !pass {
		return
	}

	m.totalMessages.Add(1)
	m.report("message received", m.MessageReceived.Raise(listener.MessageEvent{
		Message:     msg.Clone(),
		IsOutOfBand: outOfBand,
	}))
}

// arbitrate decides whether a message from receiver id passes and whether it
// is out of band, updating the aircraft's claim
func (m *Listener) arbitrate(icao string, id int, mlat, hasPosition bool, now time.Time) (pass, outOfBand bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires := now.Add(m.icaoTimeout)
	c := m.claims[icao]
	live := c != nil && now.Before(c.expires)

	switch {
	case !live:
		if !hasPosition && m.ignoreNoPos {
			return true, false
		}
		m.claims[icao] = &claim{owner: id, expires: expires, hasPosition: hasPosition}
		return true, false
	case c.owner == id:
		c.expires = expires
		c.hasPosition = c.hasPosition || hasPosition
		return true, false
	case mlat && hasPosition:
		return true, true
	case m.ignoreNoPos && !c.hasPosition && hasPosition:
		// the owner has never supplied a position, take over
		m.claims[icao] = &claim{owner: id, expires: expires, hasPosition: true}
		return true, false
	}
	return false, false
}

func (m *Listener) onPositionReset(sub *subscription, icao string) {
	now := m.clock.Now()

	m.mu.Lock()
	c := m.claims[icao]
	owner := c != nil && c.owner == sub.id && now.Before(c.expires)
	m.mu.Unlock()

	if owner {
		m.report("position reset", m.PositionReset.Raise(icao))
	}
}

func (m *Listener) report(name string, err error) {
	if err == nil {
		return
	}
	herr := &listener.HandlerError{Event: name, Err: err}
	m.logger.Error("event handler failed", zap.Error(herr))
	if err := m.ExceptionCaught.Raise(herr); err != nil {
		m.logger.Error("exception handler failed", zap.Error(err))
	}
}
