package extractor

import (
	"github.com/dbehnke/adsbfeed/internal/frame"
)

// PlaneFinderBufferCeiling bounds the bytes a PlaneFinder extractor keeps between calls
const PlaneFinderBufferCeiling = 4 * 1024

const (
	planeFinderModeS = 0xC1

	// packet type, signal level and a six byte timestamp
	planeFinderHeaderLength = 8
)

// PlaneFinder extracts Mode-S frames from a PlaneFinder radar box stream
type PlaneFinder struct {
	dce
}

// NewPlaneFinder creates a new PlaneFinder extractor
func NewPlaneFinder() *PlaneFinder {
	e := &PlaneFinder{}
	e.ceiling = PlaneFinderBufferCeiling
	e.handle = e.handlePacket
	return e
}

// Extract returns the Mode-S frames carried by complete PlaneFinder packets
func (e *PlaneFinder) Extract(p []byte) []frame.Frame {
	return e.extract(p)
}

func (e *PlaneFinder) handlePacket(packet []byte, _ uint16, _ bool) {
	if len(packet) <= planeFinderHeaderLength || packet[0] != planeFinderModeS {
		return
	}
	e.emit(frame.Frame{
		Format:      frame.FormatModeS,
		HasParity:   true,
		SignalLevel: signalLevel(packet[1]),
	}, packet[planeFinderHeaderLength:])
}
