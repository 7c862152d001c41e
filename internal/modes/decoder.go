package modes

import (
	"fmt"
)

// Decoder translates Mode-S bytes into messages
type Decoder struct{}

// NewDecoder creates a Mode-S decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Translate decodes the message starting at offset. Formats that carry
// nothing useful yield a nil message.
func (d *Decoder) Translate(p []byte, offset int, signalLevel *int) (*Message, error) {
	if offset < 0 || offset >= len(p) {
		return nil, fmt.Errorf("%w: offset %d of %d", ErrInvalidLength, offset, len(p))
	}
	b := p[offset:]

	df := DownlinkFormat(b[0] >> 3)
	if df >= DFCommDExtendedLength {
		df = DFCommDExtendedLength
	}

	expected := ExpectedLength(df)
	if expected == 0 {
		return nil, nil
	}
	if len(b) < expected {
		return nil, fmt.Errorf("%w: DF%d needs %d bytes, have %d", ErrInvalidLength, df, expected, len(b))
	}
	b = b[:expected]

	m := &Message{
		DownlinkFormat: df,
		Capability:     b[0] & 0x07,
		SignalLevel:    signalLevel,
	}
	trailer := uint32(b[expected-3])<<16 | uint32(b[expected-2])<<8 | uint32(b[expected-1])

	switch df {
	case DFAllCallReply, DFExtendedSquitter, DFExtendedSquitterNonTx, DFMilitaryExtended:
		m.Icao24 = uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		pi := trailer
		m.PI = &pi
	default:
		m.Icao24 = trailer
	}

	switch df {
	case DFShortAirToAir, DFSurveillanceAltitude, DFLongAirToAir, DFCommBAltitudeReply:
		ac := (uint16(b[2])<<8 | uint16(b[3])) & 0x1FFF
		m.AltitudeCode = &ac
	case DFSurveillanceIdentity, DFCommBIdentityReply:
		id := (uint16(b[2])<<8 | uint16(b[3])) & 0x1FFF
		m.IdentityCode = &id
	case DFExtendedSquitter, DFExtendedSquitterNonTx, DFMilitaryExtended:
		m.ExtendedSquitter = append([]byte(nil), b[4:11]...)
	}

	return m, nil
}
