package extractor

import (
	"github.com/dbehnke/adsbfeed/internal/frame"
)

// DCE framing bytes shared by SBS-3 and PlaneFinder
const (
	dle = 0x10
	stx = 0x02
	etx = 0x03
)

// De-stuffed packets longer than this are treated as noise
const maxDcePacket = 256

type packetResult int

const (
	packetComplete packetResult = iota
	packetIncomplete
	packetAbandoned
)

// dce parses DLE STX ... DLE ETX envelopes with DLE stuffing. When
// checksummed is set a stuffed big-endian CRC-16 follows DLE ETX.
type dce struct {
	buffer
	checksummed bool
	ceiling     int
	packet      []byte
	crc         [2]byte
	handle      func(packet []byte, checksum uint16, hasChecksum bool)
}

func (e *dce) extract(p []byte) []frame.Frame {
	e.begin(p)

	pos := 0
	for pos < len(e.pending) {
		start, keep := findStart(e.pending, pos)
		if start < 0 {
			pos = keep
			break
		}

		used, result := e.readPacket(e.pending[start+2:])
		if result == packetIncomplete {
			pos = start
			break
		}
		if result == packetAbandoned {
			pos = start + 2
			continue
		}

		checksum := uint16(e.crc[0])<<8 | uint16(e.crc[1])
		e.handle(e.packet, checksum, e.checksummed)
		pos = start + 2 + used
	}

	return e.finish(pos, e.ceiling)
}

// findStart returns the index of the next DLE STX at or after pos. When there
// is none, keep is the index from which bytes must be retained.
func findStart(b []byte, pos int) (start, keep int) {
	for i := pos; i < len(b); {
		if b[i] != dle {
			i++
			continue
		}
		if i+1 >= len(b) {
			return -1, i
		}
		switch b[i+1] {
		case stx:
			return i, i
		case dle:
			i += 2
		default:
			i++
		}
	}
	return -1, len(b)
}

// readPacket de-stuffs one packet body that starts just after DLE STX
func (e *dce) readPacket(src []byte) (int, packetResult) {
	e.packet = e.packet[:0]

	i := 0
	for {
		if i >= len(src) {
			return 0, packetIncomplete
		}
		b := src[i]
		if b != dle {
			e.packet = append(e.packet, b)
			i++
			if len(e.packet) > maxDcePacket {
				return 0, packetAbandoned
			}
			continue
		}
		if i+1 >= len(src) {
			return 0, packetIncomplete
		}
		next := src[i+1]
		i += 2
		if next == etx {
			break
		}
		if next != dle {
			return 0, packetAbandoned
		}
		e.packet = append(e.packet, dle)
		if len(e.packet) > maxDcePacket {
			return 0, packetAbandoned
		}
	}

	if !e.checksummed {
		return i, packetComplete
	}

	for k := 0; k < 2; k++ {
		if i >= len(src) {
			return 0, packetIncomplete
		}
		b := src[i]
		if b == dle {
			if i+1 >= len(src) {
				return 0, packetIncomplete
			}
			if src[i+1] != dle {
				return 0, packetAbandoned
			}
			i++
		}
		e.crc[k] = b
		i++
	}
	return i, packetComplete
}
