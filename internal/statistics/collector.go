package statistics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "adsbfeed"

var feedLabels = []string{"feed_id", "feed"}

var (
	descBytesReceived = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "bytes_received_total"),
		"Bytes read from the receiver since the source last changed", feedLabels, nil)
	descBufferSize = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "buffer_bytes"),
		"Bytes held by the extractor between reads", feedLabels, nil)
	descConnectedSeconds = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "connected_seconds"),
		"Seconds since the current connection was made, zero when not connected", feedLabels, nil)
	descBadChecksum = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "bad_checksum_total"),
		"Frames whose receiver checksum failed", feedLabels, nil)
	descMessages = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "feed", "messages_total"),
		"Messages by decoding stage and result",
		append(append([]string{}, feedLabels...), "stage", "result"), nil)
	descPI = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "modes", "pi_total"),
		"Mode-S messages by parity/interrogator field state",
		append(append([]string{}, feedLabels...), "state"), nil)
	descDownlinkFormat = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "modes", "downlink_format_total"),
		"Mode-S messages by downlink format",
		append(append([]string{}, feedLabels...), "df"), nil)
	descTypeCode = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "adsb", "type_code_total"),
		"ADS-B messages by type code",
		append(append([]string{}, feedLabels...), "tc"), nil)
)

type registration struct {
	name  string
	stats *Statistics
}

// Collector exports the statistics of every registered feed
type Collector struct {
	mu    sync.Mutex
	feeds map[int]registration
	now   func() time.Time
}

// NewCollector creates a collector with no feeds
func NewCollector() *Collector {
	return &Collector{feeds: map[int]registration{}, now: time.Now}
}

// Register starts exporting a feed's statistics, replacing any earlier
// registration with the same id
func (c *Collector) Register(id int, name string, s *Statistics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feeds[id] = registration{name: name, stats: s}
}

// Unregister stops exporting a feed
func (c *Collector) Unregister(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.feeds, id)
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descBytesReceived
	ch <- descBufferSize
	ch <- descConnectedSeconds
	ch <- descBadChecksum
	ch <- descMessages
	ch <- descPI
	ch <- descDownlinkFormat
	ch <- descTypeCode
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	feeds := make(map[int]registration, len(c.feeds))
	for id, r := range c.feeds {
		feeds[id] = r
	}
	c.mu.Unlock()

	now := c.now()
	for id, r := range feeds {
		s := r.stats.Snapshot()
		labels := []string{strconv.Itoa(id), r.name}
		with := func(extra ...string) []string {
			return append(append([]string{}, labels...), extra...)
		}

		ch <- prometheus.MustNewConstMetric(descBytesReceived, prometheus.CounterValue, float64(s.BytesReceived), labels...)
		ch <- prometheus.MustNewConstMetric(descBufferSize, prometheus.GaugeValue, float64(s.CurrentBufferSize), labels...)

		connected := 0.0
		if !s.ConnectedSince.IsZero() {
			connected = now.Sub(s.ConnectedSince).Seconds()
		}
		ch <- prometheus.MustNewConstMetric(descConnectedSeconds, prometheus.GaugeValue, connected, labels...)
		ch <- prometheus.MustNewConstMetric(descBadChecksum, prometheus.CounterValue, float64(s.ReceiverBadChecksum), labels...)

		for _, m := range []struct {
			stage, result string
			value         int64
		}{
			{"port30003", "received", s.Port30003Received},
			{"port30003", "bad", s.Port30003Bad},
			{"modes", "received", s.ModeSReceived},
			{"modes", "bad", s.ModeSBad},
			{"modes", "not_adsb", s.ModeSNotAdsb},
			{"adsb", "received", s.AdsbReceived},
			{"adsb", "rejected", s.AdsbRejected},
			{"compressed", "received", s.CompressedReceived},
			{"compressed", "bad", s.CompressedBad},
		} {
			ch <- prometheus.MustNewConstMetric(descMessages, prometheus.CounterValue, float64(m.value), with(m.stage, m.result)...)
		}

		ch <- prometheus.MustNewConstMetric(descPI, prometheus.CounterValue, float64(s.ModeSPIZero), with("zero")...)
		ch <- prometheus.MustNewConstMetric(descPI, prometheus.CounterValue, float64(s.ModeSPIGood), with("good")...)
		ch <- prometheus.MustNewConstMetric(descPI, prometheus.CounterValue, float64(s.ModeSPIBad), with("bad")...)

		for df, n := range s.DownlinkFormats {
			if n > 0 {
				ch <- prometheus.MustNewConstMetric(descDownlinkFormat, prometheus.CounterValue, float64(n), with(strconv.Itoa(df))...)
			}
		}
		for tc, n := range s.AdsbTypeCodes {
			if n > 0 {
				ch <- prometheus.MustNewConstMetric(descTypeCode, prometheus.CounterValue, float64(n), with(strconv.Itoa(tc))...)
			}
		}
	}
}
