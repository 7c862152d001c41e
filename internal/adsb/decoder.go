package adsb

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/dbehnke/adsbfeed/internal/modes"
)

// ErrMalformed is returned for ME fields that cannot be decoded
var ErrMalformed = errors.New("malformed adsb message")

const callsignCharset = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ##### ###############0123456789######"

// Decoder translates extended squitters into ADS-B messages
type Decoder struct{}

// NewDecoder creates an ADS-B decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Translate decodes m. Messages that are not ADS-B yield nil.
func (d *Decoder) Translate(m *modes.Message) (*Message, error) {
	if m == nil || !m.IsExtendedSquitter() {
		return nil, nil
	}

	out := &Message{ModeS: m}
	switch m.DownlinkFormat {
	case modes.DFExtendedSquitter:
	case modes.DFExtendedSquitterNonTx:
		switch m.Capability {
		case 0, 1, 6:
		case 2, 3, 5:
			out.IsTisb = true
		default:
			return nil, nil
		}
	case modes.DFMilitaryExtended:
		if m.Capability != 0 {
			return nil, nil
		}
		out.IsMilitary = true
	default:
		return nil, nil
	}

	me := m.ExtendedSquitter
	out.TypeCode = int(bits(me, 1, 5))
	out.Subtype = int(bits(me, 6, 3))

	switch tc := out.TypeCode; {
	case tc >= 1 && tc <= 4:
		out.Kind = KindIdentification
		decodeIdentification(out, me)
	case tc >= 5 && tc <= 8:
		out.Kind = KindSurfacePosition
		decodeSurfacePosition(out, me)
	case (tc >= 9 && tc <= 18) || (tc >= 20 && tc <= 22):
		out.Kind = KindAirbornePosition
		decodeAirbornePosition(out, me)
	case tc == 19:
		out.Kind = KindAirborneVelocity
		if err := decodeVelocity(out, me); err != nil {
			return nil, err
		}
	case tc == 28:
		out.Kind = KindAircraftStatus
	case tc == 29:
		out.Kind = KindTargetState
	case tc == 31:
		out.Kind = KindOperationalStatus
	case tc == 0:
		out.Kind = KindNone
	default:
		out.Kind = KindOther
	}

	return out, nil
}

func decodeIdentification(out *Message, me []byte) {
	out.EmitterCategory = out.Subtype

	var b strings.Builder
	for i := 0; i < 8; i++ {
		b.WriteByte(callsignCharset[bits(me, 9+i*6, 6)])
	}
	out.Callsign = strings.TrimRight(strings.ReplaceAll(b.String(), "#", ""), " ")
}

func decodeSurfacePosition(out *Message, me []byte) {
	if bits(me, 13, 1) == 1 {
		track := float64(bits(me, 14, 7)) * 360 / 128
		out.Track = &track
	}
	out.Position = &CPR{
		Surface: true,
		Odd:     bits(me, 22, 1) == 1,
		Lat:     bits(me, 23, 17),
		Lon:     bits(me, 40, 17),
	}
}

func decodeAirbornePosition(out *Message, me []byte) {
	// only barometric altitudes with 25 foot increments
	if out.TypeCode <= 18 {
		alt := bits(me, 9, 12)
		if alt != 0 && alt&0x10 != 0 {
			n := int((alt&0xFE0)>>1 | alt&0x0F)
			feet := n*25 - 1000
			out.Altitude = &feet
		}
	}
	out.Position = &CPR{
		Odd: bits(me, 22, 1) == 1,
		Lat: bits(me, 23, 17),
		Lon: bits(me, 40, 17),
	}
}

func decodeVelocity(out *Message, me []byte) error {
	switch out.Subtype {
	case 1, 2:
	case 3, 4:
		// airspeed and heading, not ground track
		return nil
	default:
		return fmt.Errorf("%w: velocity subtype %d", ErrMalformed, out.Subtype)
	}

	vew, vns := int(bits(me, 15, 10)), int(bits(me, 26, 10))
	if vew != 0 && vns != 0 {
		vx, vy := float64(vew-1), float64(vns-1)
		if bits(me, 14, 1) == 1 {
			vx = -vx
		}
		if bits(me, 25, 1) == 1 {
			vy = -vy
		}
		if out.Subtype == 2 {
			vx, vy = vx*4, vy*4
		}
		speed := math.Round(math.Hypot(vx, vy)*10) / 10
		track := math.Atan2(vx, vy) * 180 / math.Pi
		if track < 0 {
			track += 360
		}
		track = math.Round(track*10) / 10
		out.GroundSpeed = &speed
		out.Track = &track
	}

	if vr := int(bits(me, 38, 9)); vr != 0 {
		rate := (vr - 1) * 64
		if bits(me, 37, 1) == 1 {
			rate = -rate
		}
		out.VerticalRate = &rate
	}
	return nil
}
