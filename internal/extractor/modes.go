package extractor

import (
	"github.com/dbehnke/adsbfeed/internal/frame"
)

// Bytes that must be seen before the extractor decides between AVR text and
// Beast binary
const sniffLength = 22

// Bytes read in the chosen format without a frame before the format is
// picked again
const relockLength = 4096

const (
	beastEscape     = 0x1A
	beastModeAC     = 0x31
	beastModeSShort = 0x32
	beastModeSLong  = 0x33
	beastStatus     = 0x34

	beastTimestampLength = 6
)

// AVR text frames are at most a 12 digit timestamp plus 28 payload digits
const maxAvrDigits = 12 + 28

type streamMode int

const (
	modeUnknown streamMode = iota
	modeText
	modeBinary
)

// ModeS extracts Mode-S frames from AVR text or Beast binary streams. The
// first complete frame decides which of the two is in use, and a stream that
// stops yielding frames in that format is sniffed again.
type ModeS struct {
	buffer
	mode    streamMode
	seen    int
	idle    int
	scratch []byte
}

// NewModeS creates a new AVR/Beast extractor
func NewModeS() *ModeS {
	return &ModeS{scratch: make([]byte, 0, beastTimestampLength+1+14)}
}

// Extract returns the complete Mode-S frames in p
func (e *ModeS) Extract(p []byte) []frame.Frame {
	e.begin(p)
	e.seen += len(p)

	pos := 0
	if e.mode == modeUnknown {
		if e.seen < sniffLength {
			return e.finish(0, 0)
		}
		pos = e.sniff()
	}

	switch e.mode {
	case modeText:
		pos = e.extractText(pos)
	case modeBinary:
		pos = e.extractBinary(pos)
	}

	if len(e.frames) > 0 {
		e.idle = 0
	} else if e.mode != modeUnknown {
		e.idle += len(p)
		if e.idle > relockLength {
			e.mode = modeUnknown
			e.idle = 0
		}
	}

	return e.finish(pos, 0)
}

// sniff commits to the format of the earliest complete, well formed frame.
// Markers that do not start such a frame are skipped. When a candidate needs
// more input the bytes from it onwards are kept and the decision waits.
func (e *ModeS) sniff() int {
	for i := 0; i+1 < len(e.pending); i++ {
		c, next := e.pending[i], e.pending[i+1]
		switch {
		case (c == '*' || c == '@') && isHex(next):
			_, _, ok, more := scanAvr(e.pending[i:])
			if more {
				return i
			}
			if ok {
				e.mode = modeText
				return i
			}
		case c == beastEscape && isBeastType(next):
			_, _, corrupt, more := e.unescape(e.pending[i+2:], beastTimestampLength+1+beastDataLength(next))
			if more {
				return i
			}
			if corrupt < 0 {
				e.mode = modeBinary
				return i
			}
		}
	}
	if len(e.pending) == 0 {
		return 0
	}
	return len(e.pending) - 1
}

func (e *ModeS) extractText(pos int) int {
	for pos < len(e.pending) {
		c := e.pending[pos]
		if c != '*' && c != '@' {
			pos++
			continue
		}

		length, ok, more := e.parseAvr(e.pending[pos:])
		if more {
			break
		}
		if !ok {
			pos++
			continue
		}
		pos += length
	}
	return pos
}

// parseAvr reads one AVR frame starting at its marker and emits it. It
// returns the bytes used, whether the frame was valid and whether more input
// is needed to decide.
func (e *ModeS) parseAvr(b []byte) (int, bool, bool) {
	end, payload, ok, more := scanAvr(b)
	if !ok {
		return 0, false, more
	}
	e.scratch = e.scratch[:0]
	for j := payload; j < end; j += 2 {
		e.scratch = append(e.scratch, hexValue(b[j])<<4|hexValue(b[j+1]))
	}
	e.emit(frame.Frame{Format: frame.FormatModeS, HasParity: true}, e.scratch)
	return end + 1, true, false
}

// scanAvr checks the AVR frame starting at b[0]. end is the index of the
// terminating ';' and payload the index of the first payload digit.
func scanAvr(b []byte) (end, payload int, ok, more bool) {
	timestamp := 0
	if b[0] == '@' {
		timestamp = 12
	}
	digits := 0
	for i := 1; i < len(b); i++ {
		c := b[i]
		if c == ';' {
			if n := digits - timestamp; n != 14 && n != 28 {
				return 0, 0, false, false
			}
			return i, 1 + timestamp, true, false
		}
		if !isHex(c) {
			return 0, 0, false, false
		}
		digits++
		if digits > maxAvrDigits {
			return 0, 0, false, false
		}
	}
	return 0, 0, false, true
}

func (e *ModeS) extractBinary(pos int) int {
	for pos < len(e.pending) {
		if e.pending[pos] != beastEscape {
			pos++
			continue
		}
		if pos+1 >= len(e.pending) {
			break
		}

		kind := e.pending[pos+1]
		if kind == beastEscape {
			// an escaped escape outside a frame
			pos += 2
			continue
		}
		if !isBeastType(kind) {
			pos++
			continue
		}

		body, used, corrupt, more := e.unescape(e.pending[pos+2:], beastTimestampLength+1+beastDataLength(kind))
		if more {
			break
		}
		if corrupt >= 0 {
			// resynchronise on the unescaped 0x1A
			pos += 2 + corrupt
			continue
		}
		if kind == beastModeSShort || kind == beastModeSLong {
			e.emit(frame.Frame{
				Format:      frame.FormatModeS,
				HasParity:   true,
				SignalLevel: signalLevel(body[beastTimestampLength]),
			}, body[beastTimestampLength+1:])
		}
		pos += 2 + used
	}
	return pos
}

// unescape reads n de-stuffed bytes from src into the scratch buffer. corrupt
// is the index of a lone escape byte, or -1.
func (e *ModeS) unescape(src []byte, n int) (body []byte, used int, corrupt int, more bool) {
	e.scratch = e.scratch[:0]
	i := 0
	for len(e.scratch) < n {
		if i >= len(src) {
			return nil, 0, -1, true
		}
		b := src[i]
		if b == beastEscape {
			if i+1 >= len(src) {
				return nil, 0, -1, true
			}
			if src[i+1] != beastEscape {
				return nil, 0, i, false
			}
			i++
		}
		e.scratch = append(e.scratch, b)
		i++
	}
	return e.scratch, i, -1, false
}

func beastDataLength(kind byte) int {
	switch kind {
	case beastModeSShort:
		return 7
	case beastModeSLong:
		return 14
	}
	return 2
}

func isBeastType(b byte) bool {
	return b >= beastModeAC && b <= beastStatus
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexValue(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
