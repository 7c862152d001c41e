// Package aircraft keeps the latest known state of every aircraft a feed
// reports.
package aircraft

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/clock"
	"github.com/dbehnke/adsbfeed/internal/compressed"
)

// Aircraft is the merged state of one aircraft
type Aircraft struct {
	Icao24       string
	Callsign     string
	Altitude     *int
	GroundSpeed  *float64
	Track        *float64
	Latitude     *float64
	Longitude    *float64
	VerticalRate *int
	Squawk       *int
	Emergency    *bool
	OnGround     *bool
	SignalLevel  *int
	ReceiverID   int
	IsMlat       bool

	FirstSeen    time.Time
	LastSeen     time.Time
	PositionTime time.Time
	Messages     int64
}

// List is a thread safe table of aircraft keyed by ICAO address
type List struct {
	mu       sync.Mutex
	aircraft map[string]*Aircraft
	messages uint64
	clock    clock.Clock
}

// NewList creates an empty list
func NewList(c clock.Clock) *List {
	if c == nil {
		c = clock.Real{}
	}
	return &List{aircraft: map[string]*Aircraft{}, clock: c}
}

// Apply folds a message into the aircraft it describes
func (l *List) Apply(msg *basestation.Message) {
	if msg == nil || msg.Icao24 == "" || msg.MessageType != basestation.MessageTypeTransmission {
		return
	}
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages++
	a := l.aircraft[msg.Icao24]
	if a == nil {
		a = &Aircraft{Icao24: msg.Icao24, FirstSeen: now}
		l.aircraft[msg.Icao24] = a
	}
	a.LastSeen = now
	a.Messages++
	a.ReceiverID = msg.ReceiverID

	if msg.Callsign != "" {
		a.Callsign = msg.Callsign
	}
	set(&a.Altitude, msg.Altitude)
	set(&a.GroundSpeed, msg.GroundSpeed)
	set(&a.Track, msg.Track)
	set(&a.VerticalRate, msg.VerticalRate)
	set(&a.Squawk, msg.Squawk)
	set(&a.Emergency, msg.Emergency)
	set(&a.OnGround, msg.OnGround)
	set(&a.SignalLevel, msg.SignalLevel)
	if msg.HasPosition() {
		set(&a.Latitude, msg.Latitude)
		set(&a.Longitude, msg.Longitude)
		a.PositionTime = now
		a.IsMlat = msg.IsMlat
	}
}

func set[T any](dst **T, v *T) {
	if v != nil {
		c := *v
		*dst = &c
	}
}

// ResetPosition forgets an aircraft's position, for when earlier positions
// can no longer be trusted
func (l *List) ResetPosition(icao string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if a := l.aircraft[icao]; a != nil {
		a.Latitude = nil
		a.Longitude = nil
		a.PositionTime = time.Time{}
	}
}

// Sweep removes aircraft not heard from for longer than maxAge and returns
// how many were removed
func (l *List) Sweep(now time.Time, maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for icao, a := range l.aircraft {
		if now.Sub(a.LastSeen) > maxAge {
			delete(l.aircraft, icao)
			removed++
		}
	}
	return removed
}

// Clear removes every aircraft
func (l *List) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.aircraft = map[string]*Aircraft{}
}

// Count returns the number of aircraft
func (l *List) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.aircraft)
}

// Snapshot returns a copy of every aircraft ordered by address
func (l *List) Snapshot() []Aircraft {
	l.mu.Lock()
	out := make([]Aircraft, 0, len(l.aircraft))
	for _, a := range l.aircraft {
		out = append(out, *a)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Icao24 < out[j].Icao24 })
	return out
}

// Report renders the list as an aircraft.json document
func (l *List) Report() compressed.Report {
	now := l.clock.Now()
	aircraft := l.Snapshot()

	l.mu.Lock()
	r := compressed.Report{
		Now:      float64(now.UnixMilli()) / 1000,
		Messages: l.messages,
		Aircraft: make([]compressed.AircraftSnapshot, 0, len(aircraft)),
	}
	l.mu.Unlock()

	for _, a := range aircraft {
		r.Aircraft = append(r.Aircraft, a.snapshot(now))
	}
	return r
}

func (a Aircraft) snapshot(now time.Time) compressed.AircraftSnapshot {
	s := compressed.AircraftSnapshot{
		Hex:         a.Icao24,
		Lat:         a.Latitude,
		Lon:         a.Longitude,
		GroundSpeed: a.GroundSpeed,
		Track:       a.Track,
	}
	if a.Callsign != "" {
		s.Flight = basestation.Ptr(a.Callsign)
	}
	if a.Squawk != nil {
		s.Squawk = basestation.Ptr(fmt.Sprintf("%04d", *a.Squawk))
	}
	if a.VerticalRate != nil {
		s.BaroRate = basestation.Ptr(float64(*a.VerticalRate))
	}
	if a.Emergency != nil {
		e := "none"
		if *a.Emergency {
			e = "general"
		}
		s.Emergency = &e
	}
	if a.IsMlat && a.Latitude != nil {
		s.Mlat = []string{"lat", "lon"}
	}
	if !a.PositionTime.IsZero() {
		s.SeenPosition = basestation.Ptr(now.Sub(a.PositionTime).Seconds())
	}
	switch {
	case a.OnGround != nil && *a.OnGround:
		s.BaroAltitude = []byte(`"ground"`)
	case a.Altitude != nil:
		s.BaroAltitude = []byte(strconv.Itoa(*a.Altitude))
	}
	return s
}
