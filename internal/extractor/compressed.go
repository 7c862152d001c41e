package extractor

import (
	"encoding/binary"

	"github.com/dbehnke/adsbfeed/internal/compressed"
	"github.com/dbehnke/adsbfeed/internal/correction"
	"github.com/dbehnke/adsbfeed/internal/frame"
)

// Compressed extracts length-prefixed, checksummed compressed records
type Compressed struct {
	buffer
}

// NewCompressed creates a new compressed record extractor
func NewCompressed() *Compressed {
	return &Compressed{}
}

// Extract returns every complete record whose checksum matches. Bytes that
// cannot start a record are skipped one at a time until the stream resyncs.
func (e *Compressed) Extract(p []byte) []frame.Frame {
	e.begin(p)

	pos := 0
	for pos < len(e.pending) {
		length := int(e.pending[pos])
		if length < compressed.MinRecordLength || length > compressed.MaxRecordLength {
			pos++
			continue
		}
		if pos+length > len(e.pending) {
			break
		}

		record := e.pending[pos : pos+length]
		if binary.LittleEndian.Uint16(record[1:3]) != correction.CCITT16(record[3:]) {
			pos++
			continue
		}
		e.emit(frame.Frame{Format: frame.FormatCompressed}, record)
		pos += length
	}

	return e.finish(pos, compressed.MaxRecordLength)
}
