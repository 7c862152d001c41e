// Package extractor turns a raw receiver byte stream into validated frames.
//
// Each extractor is stateful and owned by a single connection. Extract may be
// called with arbitrary slices of the stream, including empty ones, and yields
// the same frames no matter where the call boundaries fall. Frames point into
// a buffer owned by the extractor and are only valid until the next call.
package extractor

import (
	"fmt"

	"github.com/dbehnke/adsbfeed/internal/config"
	"github.com/dbehnke/adsbfeed/internal/frame"
)

// Extractor is implemented by every wire format
type Extractor interface {
	// Extract consumes the next piece of the stream and returns the frames it completes
	Extract(p []byte) []frame.Frame

	// BufferSize returns the number of bytes retained between calls
	BufferSize() int
}

// New creates the extractor for a data source
func New(ds config.DataSource) (Extractor, error) {
	switch ds {
	case config.DataSourcePort30003:
		return NewPort30003(), nil
	case config.DataSourceBeast:
		return NewModeS(), nil
	case config.DataSourceCompressed:
		return NewCompressed(), nil
	case config.DataSourceSbs3:
		return NewSbs3(), nil
	case config.DataSourcePlaneFinder:
		return NewPlaneFinder(), nil
	}
	return nil, fmt.Errorf("no extractor for data source %s", ds)
}

// buffer holds the bytes carried between calls plus the output area that
// emitted frames point into
type buffer struct {
	pending []byte
	out     []byte
	frames  []frame.Frame
}

// largest capacity kept once the pending bytes have been consumed
const maxRetainedCapacity = 16 * 1024

func (b *buffer) begin(p []byte) {
	b.pending = append(b.pending, p...)
	b.out = b.out[:0]
	b.frames = b.frames[:0]
}

func (b *buffer) emit(f frame.Frame, payload []byte) {
	f.Offset = len(b.out)
	f.Length = len(payload)
	b.out = append(b.out, payload...)
	b.frames = append(b.frames, f)
}

// finish drops the first consumed bytes, enforces the ceiling on what is left
// and fixes up the emitted frames to point at the final output buffer
func (b *buffer) finish(consumed, ceiling int) []frame.Frame {
	if ceiling > 0 && len(b.pending)-consumed > ceiling {
		consumed = len(b.pending) - ceiling
	}

	n := copy(b.pending, b.pending[consumed:])
	b.pending = b.pending[:n]
	if cap(b.pending) > maxRetainedCapacity && n < maxRetainedCapacity/4 {
		b.pending = append(make([]byte, 0, maxRetainedCapacity/4), b.pending...)
	}

	if len(b.frames) == 0 {
		return nil
	}
	for i := range b.frames {
		b.frames[i].Bytes = b.out
	}
	return b.frames
}

// BufferSize returns the number of bytes retained between calls
func (b *buffer) BufferSize() int {
	return len(b.pending)
}

func signalLevel(v byte) *int {
	level := int(v)
	return &level
}
