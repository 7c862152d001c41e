// Package compressed implements the compact binary record used to move
// BaseStation messages between instances.
//
// A record is laid out as
//
//	[length][crc16 LE][type][icao 3 bytes BE][flags uint16 LE][optional fields]
//
// where the CRC is CRC-16/CCITT with a zero seed over everything from the type
// byte onwards. Optional fields follow in flag bit order.
package compressed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/correction"
)

// Record length limits, including the length byte itself
const (
	MinRecordLength = headerLength
	MaxRecordLength = 64
)

const (
	headerLength   = 9
	maxCallsign    = 8
	mlatTypeFlag   = 0x10
	transmitMask   = 0x0F
	altitudeLength = 3
)

var (
	// ErrChecksum is returned when a record's CRC does not match
	ErrChecksum = errors.New("compressed record checksum mismatch")

	// ErrInvalidLength is returned when a record is truncated or oversized
	ErrInvalidLength = errors.New("invalid compressed record length")
)

// flag bits
const (
	flagCallsign uint16 = 1 << iota
	flagAltitude
	flagGroundSpeed
	flagTrack
	flagPosition
	flagVerticalRate
	flagSquawk
	flagSquawkChangedPresent
	flagSquawkChanged
	flagEmergencyPresent
	flagEmergency
	flagIdentPresent
	flagIdent
	flagOnGroundPresent
	flagOnGround
)

// Compress encodes a message. Ground speed and track keep one decimal
// place and positions keep float32 precision.
func Compress(m *basestation.Message) ([]byte, error) {
	icao, err := strconv.ParseUint(m.Icao24, 16, 24)
	if err != nil {
		return nil, fmt.Errorf("compress icao %q: %w", m.Icao24, err)
	}

	b := make([]byte, headerLength, MaxRecordLength)
	b[3] = byte(m.TransmissionType) & transmitMask
	if m.IsMlat {
		b[3] |= mlatTypeFlag
	}
	b[4], b[5], b[6] = byte(icao>>16), byte(icao>>8), byte(icao)

	var flags uint16
	if m.Callsign != "" {
		flags |= flagCallsign
		callsign := m.Callsign
		if len(callsign) > maxCallsign {
			callsign = callsign[:maxCallsign]
		}
		b = append(b, byte(len(callsign)))
		b = append(b, callsign...)
	}
	if m.Altitude != nil {
		flags |= flagAltitude
		alt := uint32(int32(*m.Altitude)) & 0xFFFFFF
		b = append(b, byte(alt>>16), byte(alt>>8), byte(alt))
	}
	if m.GroundSpeed != nil {
		flags |= flagGroundSpeed
		b = binary.LittleEndian.AppendUint16(b, uint16(math.Round(*m.GroundSpeed*10)))
	}
	if m.Track != nil {
		flags |= flagTrack
		b = binary.LittleEndian.AppendUint16(b, uint16(math.Round(*m.Track*10)))
	}
	if m.Latitude != nil && m.Longitude != nil {
		flags |= flagPosition
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(*m.Latitude)))
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(float32(*m.Longitude)))
	}
	if m.VerticalRate != nil {
		flags |= flagVerticalRate
		b = binary.LittleEndian.AppendUint16(b, uint16(int16(*m.VerticalRate)))
	}
	if m.Squawk != nil {
		flags |= flagSquawk
		b = binary.LittleEndian.AppendUint16(b, uint16(*m.Squawk))
	}
	flags |= boolFlags(m.SquawkHasChanged, flagSquawkChangedPresent, flagSquawkChanged)
	flags |= boolFlags(m.Emergency, flagEmergencyPresent, flagEmergency)
	flags |= boolFlags(m.IdentActive, flagIdentPresent, flagIdent)
	flags |= boolFlags(m.OnGround, flagOnGroundPresent, flagOnGround)

	binary.LittleEndian.PutUint16(b[7:9], flags)
	b[0] = byte(len(b))
	binary.LittleEndian.PutUint16(b[1:3], correction.CCITT16(b[3:]))
	return b, nil
}

func boolFlags(v *bool, present, value uint16) uint16 {
	if v == nil {
		return 0
	}
	if *v {
		return present | value
	}
	return present
}

// Decompress decodes one complete record
func Decompress(b []byte) (*basestation.Message, error) {
	if len(b) < MinRecordLength || len(b) > MaxRecordLength || int(b[0]) != len(b) {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(b))
	}
	if binary.LittleEndian.Uint16(b[1:3]) != correction.CCITT16(b[3:]) {
		return nil, ErrChecksum
	}

	m := &basestation.Message{
		MessageType:      basestation.MessageTypeTransmission,
		TransmissionType: basestation.TransmissionType(b[3] & transmitMask),
		IsMlat:           b[3]&mlatTypeFlag != 0,
		Icao24:           fmt.Sprintf("%02X%02X%02X", b[4], b[5], b[6]),
	}
	flags := binary.LittleEndian.Uint16(b[7:9])

	r := reader{b: b, pos: headerLength}
	if flags&flagCallsign != 0 {
		n := int(r.byte())
		if n > maxCallsign {
			return nil, fmt.Errorf("%w: callsign of %d bytes", ErrInvalidLength, n)
		}
		m.Callsign = string(r.bytes(n))
	}
	if flags&flagAltitude != 0 {
		a := r.bytes(altitudeLength)
		if a != nil {
			v := int32(uint32(a[0])<<24|uint32(a[1])<<16|uint32(a[2])<<8) >> 8
			m.Altitude = basestation.Ptr(int(v))
		}
	}
	if flags&flagGroundSpeed != 0 {
		m.GroundSpeed = basestation.Ptr(float64(r.uint16()) / 10)
	}
	if flags&flagTrack != 0 {
		m.Track = basestation.Ptr(float64(r.uint16()) / 10)
	}
	if flags&flagPosition != 0 {
		m.Latitude = basestation.Ptr(float64(math.Float32frombits(r.uint32())))
		m.Longitude = basestation.Ptr(float64(math.Float32frombits(r.uint32())))
	}
	if flags&flagVerticalRate != 0 {
		m.VerticalRate = basestation.Ptr(int(int16(r.uint16())))
	}
	if flags&flagSquawk != 0 {
		m.Squawk = basestation.Ptr(int(r.uint16()))
	}
	m.SquawkHasChanged = flagBool(flags, flagSquawkChangedPresent, flagSquawkChanged)
	m.Emergency = flagBool(flags, flagEmergencyPresent, flagEmergency)
	m.IdentActive = flagBool(flags, flagIdentPresent, flagIdent)
	m.OnGround = flagBool(flags, flagOnGroundPresent, flagOnGround)

	if r.short {
		return nil, fmt.Errorf("%w: fields overrun the record", ErrInvalidLength)
	}
	return m, nil
}

func flagBool(flags, present, value uint16) *bool {
	if flags&present == 0 {
		return nil
	}
	return basestation.Ptr(flags&value != 0)
}

// reader walks the optional fields and remembers running off the end
type reader struct {
	b     []byte
	pos   int
	short bool
}

func (r *reader) bytes(n int) []byte {
	if r.pos+n > len(r.b) {
		r.short = true
		r.pos = len(r.b)
		return nil
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v
}

func (r *reader) byte() byte {
	if v := r.bytes(1); v != nil {
		return v[0]
	}
	return 0
}

func (r *reader) uint16() uint16 {
	if v := r.bytes(2); v != nil {
		return binary.LittleEndian.Uint16(v)
	}
	return 0
}

func (r *reader) uint32() uint32 {
	if v := r.bytes(4); v != nil {
		return binary.LittleEndian.Uint32(v)
	}
	return 0
}

// Decompressor adapts Decompress to the listener's decoder set
type Decompressor struct{}

// NewDecompressor creates a record decompressor
func NewDecompressor() *Decompressor {
	return &Decompressor{}
}

// Decompress decodes one record
func (d *Decompressor) Decompress(p []byte) (*basestation.Message, error) {
	return Decompress(p)
}
