package extractor

import (
	"bytes"

	"github.com/dbehnke/adsbfeed/internal/frame"
)

// Lines longer than this are not BaseStation messages and are thrown away
const maxPort30003Line = 1024

// Port30003 extracts newline-delimited BaseStation text messages
type Port30003 struct {
	buffer
	discarding bool
}

// NewPort30003 creates a new Port30003 extractor
func NewPort30003() *Port30003 {
	return &Port30003{}
}

// Extract returns one frame per complete, non-empty line
func (e *Port30003) Extract(p []byte) []frame.Frame {
	e.begin(p)

	start := 0
	for {
		idx := bytes.IndexByte(e.pending[start:], '\n')
		if idx < 0 {
			break
		}
		line := e.pending[start : start+idx]
		start += idx + 1

		if e.discarding {
			e.discarding = false
			continue
		}
		if len(line) > maxPort30003Line {
			continue
		}
		line = bytes.Trim(line, "\r")
		if len(line) == 0 {
			continue
		}
		e.emit(frame.Frame{Format: frame.FormatPort30003}, line)
	}

	// an unterminated line that is already too long is dropped up to its newline
	if len(e.pending)-start > maxPort30003Line {
		start = len(e.pending)
		e.discarding = true
	}

	return e.finish(start, 0)
}
