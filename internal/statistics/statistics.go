// Package statistics holds the per-feed counters updated by a listener and
// exports them to Prometheus.
package statistics

import (
	"sync"
	"time"
)

// Counters is a point-in-time copy of a feed's statistics
type Counters struct {
	ConnectedSince    time.Time
	BytesReceived     int64
	CurrentBufferSize int

	ReceiverBadChecksum int64

	Port30003Received int64
	Port30003Bad      int64

	ModeSReceived int64
	ModeSBad      int64
	ModeSNotAdsb  int64

	// parity/interrogator field of DF11/17/18 after parity removal
	ModeSPIZero int64
	ModeSPIGood int64
	ModeSPIBad  int64

	DownlinkFormats [32]int64

	AdsbReceived  int64
	AdsbRejected  int64
	AdsbTypeCodes [32]int64

	CompressedReceived int64
	CompressedBad      int64
}

// Statistics guards a feed's counters. The zero value is ready to use.
type Statistics struct {
	mu       sync.Mutex
	counters Counters
}

// New creates an empty set of statistics
func New() *Statistics {
	return &Statistics{}
}

// Update applies fn to the counters under the lock
func (s *Statistics) Update(fn func(c *Counters)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.counters)
}

// Snapshot returns a copy of the counters
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Reset clears every counter
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = Counters{}
}
