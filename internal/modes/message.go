// Package modes decodes the structure of Mode-S downlink messages: the
// downlink format, the aircraft address and the fields every later stage
// needs. It does not interpret the meaning of surveillance replies.
package modes

import (
	"errors"
	"fmt"
)

// ErrInvalidLength is returned when a message length does not match its downlink format
var ErrInvalidLength = errors.New("invalid mode-s message length")

// DownlinkFormat is the DF field of a Mode-S message
type DownlinkFormat int

const (
	DFShortAirToAir          DownlinkFormat = 0
	DFSurveillanceAltitude   DownlinkFormat = 4
	DFSurveillanceIdentity   DownlinkFormat = 5
	DFAllCallReply           DownlinkFormat = 11
	DFLongAirToAir           DownlinkFormat = 16
	DFExtendedSquitter       DownlinkFormat = 17
	DFExtendedSquitterNonTx  DownlinkFormat = 18
	DFMilitaryExtended       DownlinkFormat = 19
	DFCommBAltitudeReply     DownlinkFormat = 20
	DFCommBIdentityReply     DownlinkFormat = 21
	DFCommDExtendedLength    DownlinkFormat = 24
	DFMaxMessageFormatNumber DownlinkFormat = 31
)

// Message lengths in bytes
const (
	ShortLength = 7
	LongLength  = 14
)

// Message is a structurally decoded Mode-S message. The trailing three bytes
// must already have had the parity removed, so they hold either the aircraft
// address (AP formats) or the parity/interrogator field (PI formats).
type Message struct {
	DownlinkFormat DownlinkFormat

	// CA for DF11/17, CF for DF18, AF for DF19, FS for surveillance replies
	Capability byte

	Icao24 uint32

	// PI is set for DF11, DF17, DF18 and DF19
	PI *uint32

	// 13 bit AC field of DF0/4/16/20
	AltitudeCode *uint16

	// 13 bit ID field of DF5/21
	IdentityCode *uint16

	// ME field of DF17/18/19, seven bytes
	ExtendedSquitter []byte

	SignalLevel *int
}

// IcaoString formats the aircraft address as six upper case hex digits
func (m *Message) IcaoString() string {
	return fmt.Sprintf("%06X", m.Icao24)
}

// IsExtendedSquitter reports whether the message carries an ME field
func (m *Message) IsExtendedSquitter() bool {
	return len(m.ExtendedSquitter) == 7
}

// HasPI reports whether the address in the message is confirmed by a zero
// PI field
func (m *Message) HasPI() bool {
	return m.PI != nil
}

// OnGround reports the vertical status carried by CA or FS, or nil when the
// format does not say
func (m *Message) OnGround() *bool {
	var v bool
	switch m.DownlinkFormat {
	case DFAllCallReply, DFExtendedSquitter:
		switch m.Capability {
		case 4:
			v = false
		case 5:
			v = true
		default:
			return nil
		}
	case DFSurveillanceAltitude, DFSurveillanceIdentity, DFCommBAltitudeReply, DFCommBIdentityReply:
		switch m.Capability {
		case 0, 2:
			v = false
		case 1, 3:
			v = true
		default:
			return nil
		}
	default:
		return nil
	}
	return &v
}

// ExpectedLength returns the byte length of a downlink format, or 0 for
// formats that are not decoded
func ExpectedLength(df DownlinkFormat) int {
	switch df {
	case DFShortAirToAir, DFSurveillanceAltitude, DFSurveillanceIdentity, DFAllCallReply:
		return ShortLength
	case DFLongAirToAir, DFExtendedSquitter, DFExtendedSquitterNonTx, DFMilitaryExtended,
		DFCommBAltitudeReply, DFCommBIdentityReply, DFCommDExtendedLength:
		return LongLength
	}
	return 0
}
