package feed

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/config"
	"github.com/dbehnke/adsbfeed/internal/event"
	"github.com/dbehnke/adsbfeed/internal/merged"
	"github.com/dbehnke/adsbfeed/internal/statistics"
)

// Manager owns every feed built from a configuration
type Manager struct {
	mu        sync.Mutex
	feeds     map[int]*Feed
	closed    bool
	opts      Options
	collector *statistics.Collector
	logger    *zap.Logger

	FeedsChanged event.Hook[[]*Feed]
}

// NewManager creates a manager with no feeds. Receiver statistics are
// registered with collector when it is not nil.
func NewManager(opts Options, collector *statistics.Collector) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		feeds:     map[int]*Feed{},
		opts:      opts,
		collector: collector,
		logger:    opts.Logger.Named("manager"),
	}
}

// Apply creates, updates and removes feeds so that they match cfg. Disabled
// merged feeds are removed; disabled receivers keep a disconnected feed so
// that their settings can still be changed.
func (m *Manager) Apply(cfg *config.Configuration) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}

	var errs []error
	changed := false
	wanted := make(map[int]bool)

	for _, r := range cfg.Receivers {
		wanted[r.ID] = true
		f := m.feeds[r.ID]
		if f != nil && f.IsMerged() {
			m.removeLocked(r.ID)
			f = nil
		}
		if f != nil {
			if err := f.ApplyReceiverConfiguration(r); err != nil {
				errs = append(errs, err)
			}
			m.register(f)
			continue
		}

		f = New(m.opts)
		if err := f.InitialiseReceiver(r); err != nil {
			errs = append(errs, err)
			continue
		}
		m.feeds[r.ID] = f
		m.register(f)
		changed = true
	}

	for _, mf := range cfg.MergedFeeds {
		if !mf.Enabled {
			continue
		}
		wanted[mf.ID] = true
		components := m.componentsLocked(mf)
		f := m.feeds[mf.ID]
		if f != nil && !f.IsMerged() {
			m.removeLocked(mf.ID)
			f = nil
		}
		if f != nil {
			if err := f.ApplyMergedConfiguration(mf, components); err != nil {
				errs = append(errs, err)
			}
			continue
		}

		f = New(m.opts)
		if err := f.InitialiseMerged(mf, components); err != nil {
			errs = append(errs, err)
			continue
		}
		m.feeds[mf.ID] = f
		changed = true
	}

	for id := range m.feeds {
		if !wanted[id] {
			m.removeLocked(id)
			changed = true
		}
	}

	feeds := m.sortedLocked()
	m.mu.Unlock()

	if changed {
		m.logger.Info("feeds changed", zap.Int("feeds", len(feeds)))
		if err := m.FeedsChanged.Raise(feeds); err != nil {
			m.logger.Error("feeds changed handler failed", zap.Error(err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("applying configuration: %w", errors.Join(errs...))
	}
	return nil
}

// componentsLocked returns the receiver listeners a merged feed combines.
// Receivers without a feed are skipped.
func (m *Manager) componentsLocked(mf config.MergedFeed) []merged.Component {
	var components []merged.Component
	for _, id := range mf.ReceiverIDs {
		f := m.feeds[id]
		if f == nil || f.IsMerged() {
			continue
		}
		components = append(components, merged.Component{
			Source:     f.Listener(),
			IsMlatFeed: slices.Contains(mf.MlatReceiverIDs, id),
		})
	}
	return components
}

func (m *Manager) register(f *Feed) {
	if m.collector != nil && !f.IsMerged() {
		m.collector.Register(f.ID(), f.Name(), f.Statistics())
	}
}

func (m *Manager) removeLocked(id int) {
	f := m.feeds[id]
	if f == nil {
		return
	}
	delete(m.feeds, id)
	if m.collector != nil {
		m.collector.Unregister(id)
	}
	if err := f.Close(); err != nil {
		m.logger.Warn("closing feed", zap.Int("feed_id", id), zap.Error(err))
	}
}

func (m *Manager) sortedLocked() []*Feed {
	feeds := make([]*Feed, 0, len(m.feeds))
	for _, f := range m.feeds {
		feeds = append(feeds, f)
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].ID() < feeds[j].ID() })
	return feeds
}

// Feeds returns every feed ordered by id
func (m *Manager) Feeds() []*Feed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedLocked()
}

// Feed returns the feed with the given id
func (m *Manager) Feed(id int) (*Feed, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[id]
	return f, ok
}

// FastTick passes the fast heartbeat to every feed
func (m *Manager) FastTick(now time.Time) {
	for _, f := range m.Feeds() {
		f.FastTick(now)
	}
}

// SlowTick passes the slow heartbeat to every feed
func (m *Manager) SlowTick(now time.Time) {
	for _, f := range m.Feeds() {
		f.SlowTick(now)
	}
}

// Close closes every feed
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	// merged feeds first so they stop observing the receivers
	feeds := m.sortedLocked()
	sort.SliceStable(feeds, func(i, j int) bool { return feeds[i].IsMerged() && !feeds[j].IsMerged() })

	var err error
	for _, f := range feeds {
		err = errors.Join(err, f.Close())
		if m.collector != nil {
			m.collector.Unregister(f.ID())
		}
	}
	m.feeds = map[int]*Feed{}
	return err
}
