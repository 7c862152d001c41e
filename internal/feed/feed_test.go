package feed

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/config"
	"github.com/dbehnke/adsbfeed/internal/connector"
	"github.com/dbehnke/adsbfeed/internal/extractor"
	"github.com/dbehnke/adsbfeed/internal/listener"
	"github.com/dbehnke/adsbfeed/internal/statistics"
	"github.com/dbehnke/adsbfeed/internal/translator"
)

// quietConnector never produces a connection
type quietConnector struct {
	key string
}

func (c *quietConnector) Dial(ctx context.Context) (io.ReadCloser, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *quietConnector) String() string { return c.key }

type builds struct {
	mu                           sync.Mutex
	connectors, extractors, raws int
	lastRaw                      *translator.Raw
}

func (b *builds) builders() Builders {
	return Builders{
		Connector: func(r config.Receiver, _ *zap.Logger) (connector.Connector, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.connectors++
			return &quietConnector{key: r.ConnectionKey()}, nil
		},
		Extractor: func(ds config.DataSource) (extractor.Extractor, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.extractors++
			return extractor.New(ds)
		},
		Raw: func(r config.Receiver, _ *zap.Logger) translator.RawTranslator {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.raws++
			b.lastRaw = translator.NewRaw(translator.RawOptions{Settings: r.RawDecoding})
			return b.lastRaw
		},
	}
}

func (b *builds) counts() [3]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return [3]int{b.connectors, b.extractors, b.raws}
}

func receiver(id int, name string) config.Receiver {
	r := config.DefaultReceiver()
	r.ID = id
	r.Name = name
	r.DataSource = config.DataSourceBeast
	r.Address = "192.0.2.1"
	r.Port = 30005
	return r
}

func TestApplyReceiverConfigurationRebuildsOnlyWhatChanged(t *testing.T) {
	b := &builds{}
	f := New(Options{Builders: b.builders()})
	t.Cleanup(func() { f.Close() })

	r := receiver(1, "Roof")
	require.NoError(t, f.InitialiseReceiver(r))
	assert.Equal(t, [3]int{1, 1, 1}, b.counts())
	assert.Equal(t, listener.Connecting, f.Status())

	var changes int
	f.Listener().SourceChanged.Subscribe(func(listener.Source) { changes++ })
	first := b.lastRaw

	// decode tuning is pushed into the existing translator
	r.IgnoreBadMessages = true
	r.RawDecoding.SuppressTisbDecoding = true
	r.RawDecoding.AcceptIcaoInNonPICount = 4
	require.NoError(t, f.ApplyReceiverConfiguration(r))
	assert.Equal(t, [3]int{1, 1, 1}, b.counts())
	assert.Zero(t, changes)
	assert.True(t, first.Settings().SuppressTisbDecoding)
	assert.Equal(t, 4, first.Settings().AcceptIcaoInNonPICount)

	r.Port = 30004
	require.NoError(t, f.ApplyReceiverConfiguration(r))
	assert.Equal(t, [3]int{2, 1, 1}, b.counts())
	assert.Equal(t, 1, changes)

	r.DataSource = config.DataSourceSbs3
	require.NoError(t, f.ApplyReceiverConfiguration(r))
	assert.Equal(t, [3]int{2, 2, 2}, b.counts())
	assert.Equal(t, 2, changes)

	r.ConnectionType = config.ConnectionUDP
	r.LocalPort = 30005
	require.NoError(t, f.ApplyReceiverConfiguration(r))
	assert.Equal(t, [3]int{3, 2, 3}, b.counts())
	assert.Equal(t, 3, changes)

	r.Enabled = false
	require.NoError(t, f.ApplyReceiverConfiguration(r))
	assert.Equal(t, listener.Disconnected, f.Status())
	assert.Equal(t, 3, changes)
}

func TestRebuildResetsStatistics(t *testing.T) {
	b := &builds{}
	f := New(Options{Builders: b.builders()})
	t.Cleanup(func() { f.Close() })

	r := receiver(1, "Roof")
	require.NoError(t, f.InitialiseReceiver(r))
	f.Statistics().Update(func(c *statistics.Counters) { c.BytesReceived = 100 })

	r.Name = "Renamed"
	require.NoError(t, f.ApplyReceiverConfiguration(r))
	assert.EqualValues(t, 100, f.Statistics().Snapshot().BytesReceived)
	assert.Equal(t, "Renamed", f.Name())

	r.Address = "192.0.2.2"
	require.NoError(t, f.ApplyReceiverConfiguration(r))
	assert.Zero(t, f.Statistics().Snapshot().BytesReceived)
}

func TestInitialiseIsOneShot(t *testing.T) {
	b := &builds{}
	f := New(Options{Builders: b.builders()})
	require.ErrorIs(t, f.ApplyReceiverConfiguration(receiver(1, "a")), ErrNotInitialised)

	require.NoError(t, f.InitialiseReceiver(receiver(1, "a")))
	assert.ErrorIs(t, f.InitialiseReceiver(receiver(1, "a")), ErrAlreadyInitialised)
	assert.ErrorIs(t, f.InitialiseMerged(config.DefaultMergedFeed(), nil), ErrAlreadyInitialised)
	assert.ErrorIs(t, f.ApplyMergedConfiguration(config.DefaultMergedFeed(), nil), ErrWrongKind)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.ApplyReceiverConfiguration(receiver(1, "a")), ErrClosed)

	closed := New(Options{Builders: b.builders()})
	require.NoError(t, closed.Close())
	assert.ErrorIs(t, closed.InitialiseReceiver(receiver(2, "b")), ErrClosed)
}

func TestIsVisible(t *testing.T) {
	b := &builds{}
	f := New(Options{Builders: b.builders()})
	t.Cleanup(func() { f.Close() })

	r := receiver(1, "a")
	r.Usage = config.UsageMergeOnly
	require.NoError(t, f.InitialiseReceiver(r))
	assert.False(t, f.IsVisible())

	r.Usage = config.UsageNormal
	require.NoError(t, f.ApplyReceiverConfiguration(r))
	assert.True(t, f.IsVisible())
}

func testConfiguration() *config.Configuration {
	cfg := config.New()
	cfg.Receivers = []config.Receiver{receiver(1, "Roof"), receiver(2, "Garage")}
	m := config.DefaultMergedFeed()
	m.ID = 10
	m.Name = "All"
	m.ReceiverIDs = []int{1, 2}
	m.MlatReceiverIDs = []int{2}
	cfg.MergedFeeds = []config.MergedFeed{m}
	return cfg
}

func TestManagerApply(t *testing.T) {
	b := &builds{}
	collector := statistics.NewCollector()
	m := NewManager(Options{Builders: b.builders()}, collector)
	t.Cleanup(func() { m.Close() })

	var changes [][]*Feed
	m.FeedsChanged.Subscribe(func(feeds []*Feed) { changes = append(changes, feeds) })

	cfg := testConfiguration()
	require.NoError(t, m.Apply(cfg))
	require.Len(t, changes, 1)
	require.Len(t, m.Feeds(), 3)
	assert.Equal(t, 10, m.Feeds()[2].ID())
	assert.Equal(t, 2, countFeeds(t, collector))

	// messages from a receiver reach the merged feed's aircraft list
	roof, ok := m.Feed(1)
	require.True(t, ok)
	all, ok := m.Feed(10)
	require.True(t, ok)
	require.True(t, all.IsMerged())
	assert.Equal(t, listener.Connected, all.Status())

	msg := &basestation.Message{MessageType: basestation.MessageTypeTransmission, Icao24: "4CA2D1", ReceiverID: 1}
	require.NoError(t, roof.Listener().MessageReceived.Raise(listener.MessageEvent{Message: msg}))
	assert.Equal(t, 1, roof.Aircraft().Count())
	assert.Equal(t, 1, all.Aircraft().Count())

	// the same configuration changes nothing
	require.NoError(t, m.Apply(testConfiguration()))
	assert.Len(t, changes, 1)
	assert.Equal(t, [3]int{2, 2, 2}, b.counts())

	cfg = testConfiguration()
	cfg.Receivers = cfg.Receivers[:1]
	cfg.MergedFeeds[0].ReceiverIDs = []int{1}
	cfg.MergedFeeds[0].MlatReceiverIDs = nil
	require.NoError(t, m.Apply(cfg))
	require.Len(t, changes, 2)
	assert.Len(t, m.Feeds(), 2)
	assert.Equal(t, 1, countFeeds(t, collector))

	_, ok = m.Feed(2)
	assert.False(t, ok)
}

func TestManagerRejectsInvalidConfiguration(t *testing.T) {
	m := NewManager(Options{Builders: (&builds{}).builders()}, nil)
	t.Cleanup(func() { m.Close() })

	cfg := testConfiguration()
	cfg.MergedFeeds[0].ReceiverIDs = []int{1, 99}
	assert.ErrorIs(t, m.Apply(cfg), config.ErrInvalidConfig)
	assert.Empty(t, m.Feeds())
}

func TestManagerTicks(t *testing.T) {
	m := NewManager(Options{Builders: (&builds{}).builders(), AircraftTimeout: time.Minute}, nil)
	t.Cleanup(func() { m.Close() })
	require.NoError(t, m.Apply(testConfiguration()))

	roof, _ := m.Feed(1)
	roof.Aircraft().Apply(&basestation.Message{MessageType: basestation.MessageTypeTransmission, Icao24: "4CA2D1"})

	m.FastTick(time.Now())
	m.SlowTick(time.Now().Add(30 * time.Second))
	assert.Equal(t, 1, roof.Aircraft().Count())
	m.SlowTick(time.Now().Add(2 * time.Minute))
	assert.Zero(t, roof.Aircraft().Count())
}

// countFeeds returns the number of feeds exporting a bytes counter
func countFeeds(t *testing.T, c *statistics.Collector) int {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(c))
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "adsbfeed_feed_bytes_received_total" {
			return len(f.GetMetric())
		}
	}
	return 0
}
