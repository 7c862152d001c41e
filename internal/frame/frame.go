// Package frame defines the unit of work handed from a byte extractor to a listener.
package frame

// Format identifies which decoder a frame must be routed to
type Format int

const (
	FormatNone Format = iota
	FormatPort30003
	FormatModeS
	FormatCompressed
)

// String returns the format name for logging
func (f Format) String() string {
	switch f {
	case FormatPort30003:
		return "port30003"
	case FormatModeS:
		return "modes"
	case FormatCompressed:
		return "compressed"
	default:
		return "none"
	}
}

// Frame is one complete message extracted from a byte stream.
//
// Bytes usually points into a buffer owned by the extractor that produced the
// frame, and that buffer is overwritten by the next call to the extractor.
// Anything that keeps a frame past the current dispatch must Clone it first.
type Frame struct {
	Format         Format
	Bytes          []byte
	Offset         int
	Length         int
	HasParity      bool
	ChecksumFailed bool
	SignalLevel    *int
}

// Payload returns the frame's slice of the backing buffer
func (f Frame) Payload() []byte {
	return f.Bytes[f.Offset : f.Offset+f.Length]
}

// Valid reports whether Offset and Length lie within Bytes
func (f Frame) Valid() bool {
	return f.Offset >= 0 && f.Length >= 0 && f.Offset+f.Length <= len(f.Bytes)
}

// Clone returns a copy of the frame that owns its bytes
func (f Frame) Clone() Frame {
	clone := f
	clone.Bytes = make([]byte, f.Length)
	copy(clone.Bytes, f.Payload())
	clone.Offset = 0
	if f.SignalLevel != nil {
		level := *f.SignalLevel
		clone.SignalLevel = &level
	}
	return clone
}
