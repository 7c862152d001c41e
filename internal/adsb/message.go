// Package adsb decodes the ME field of extended squitter messages.
package adsb

import (
	"github.com/dbehnke/adsbfeed/internal/modes"
)

// Kind groups type codes by the information they carry
type Kind int

const (
	KindNone Kind = iota
	KindIdentification
	KindSurfacePosition
	KindAirbornePosition
	KindAirborneVelocity
	KindAircraftStatus
	KindTargetState
	KindOperationalStatus
	KindOther
)

// CPR is one compact position report. Resolving it into a latitude and
// longitude needs an even and odd pair.
type CPR struct {
	Odd     bool
	Surface bool
	Lat     uint32
	Lon     uint32
}

// Message is a decoded ADS-B message
type Message struct {
	ModeS    *modes.Message
	TypeCode int
	Subtype  int
	Kind     Kind

	// DF18 messages relayed by ground stations
	IsTisb bool

	// DF19 application field zero
	IsMilitary bool

	EmitterCategory int
	Callsign        string
	Altitude        *int
	Position        *CPR
	GroundSpeed     *float64
	Track           *float64
	VerticalRate    *int
}

// bits returns n bits of the ME field starting at the 1-based bit position
// used by the ADS-B documents
func bits(me []byte, start, n int) uint32 {
	var v uint32
	for i := 0; i < n; i++ {
		pos := start - 1 + i
		bit := (me[pos/8] >> (7 - uint(pos%8))) & 1
		v = v<<1 | uint32(bit)
	}
	return v
}
