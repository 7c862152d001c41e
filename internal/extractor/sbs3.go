package extractor

import (
	"github.com/dbehnke/adsbfeed/internal/correction"
	"github.com/dbehnke/adsbfeed/internal/frame"
)

// Sbs3BufferCeiling bounds the bytes an SBS-3 extractor keeps between calls
const Sbs3BufferCeiling = 10 * 1024

// SBS-3 packet types that carry Mode-S data
const (
	sbs3PacketAdsb       = 0x01
	sbs3PacketModeSLong  = 0x05
	sbs3PacketModeSShort = 0x07

	// packet type plus a three byte timestamp
	sbs3HeaderLength = 4
)

// Sbs3 extracts Mode-S frames from a Kinetic SBS-3 binary stream
type Sbs3 struct {
	dce
}

// NewSbs3 creates a new SBS-3 extractor
func NewSbs3() *Sbs3 {
	e := &Sbs3{}
	e.checksummed = true
	e.ceiling = Sbs3BufferCeiling
	e.handle = e.handlePacket
	return e
}

// Extract returns the Mode-S frames carried by complete SBS-3 packets
func (e *Sbs3) Extract(p []byte) []frame.Frame {
	return e.extract(p)
}

func (e *Sbs3) handlePacket(packet []byte, checksum uint16, _ bool) {
	if len(packet) == 0 {
		return
	}

	// a failed packet is always reported so the caller can count it
	if correction.CCITT16(packet) != checksum {
		e.emit(frame.Frame{Format: frame.FormatModeS, ChecksumFailed: true}, packet)
		return
	}

	switch packet[0] {
	case sbs3PacketAdsb, sbs3PacketModeSLong, sbs3PacketModeSShort:
		if len(packet) > sbs3HeaderLength {
			// the SBS-3 has already replaced parity with the aircraft address
			e.emit(frame.Frame{Format: frame.FormatModeS}, packet[sbs3HeaderLength:])
		}
	}
}
