// Package translator defines the decoding stages a listener runs frames
// through and provides the raw translator that turns Mode-S and ADS-B
// messages into BaseStation messages.
package translator

import (
	"time"

	"github.com/dbehnke/adsbfeed/internal/adsb"
	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/compressed"
	"github.com/dbehnke/adsbfeed/internal/modes"
)

// Port30003Translator decodes BaseStation text
type Port30003Translator interface {
	Translate(text string, signalLevel *int) (*basestation.Message, error)
}

// ModeSTranslator decodes Mode-S bytes
type ModeSTranslator interface {
	Translate(p []byte, offset int, signalLevel *int) (*modes.Message, error)
}

// AdsbTranslator decodes the ME field of an extended squitter
type AdsbTranslator interface {
	Translate(m *modes.Message) (*adsb.Message, error)
}

// RawTranslator combines decoded Mode-S and ADS-B messages into a
// BaseStation message. Implementations may keep per-aircraft state.
type RawTranslator interface {
	Translate(now time.Time, m *modes.Message, a *adsb.Message) (*basestation.Message, error)
}

// Decompressor decodes compressed records
type Decompressor interface {
	Decompress(p []byte) (*basestation.Message, error)
}

// PositionResetNotifier is implemented by raw translators that can tell when
// an aircraft's earlier positions should be discarded
type PositionResetNotifier interface {
	SetPositionResetHandler(fn func(icao string))
}

// Decoders is the fixed set of stateless decoders a listener uses
type Decoders struct {
	Port30003  Port30003Translator
	ModeS      ModeSTranslator
	Adsb       AdsbTranslator
	Compressed Decompressor
}

// DefaultDecoders returns the built-in decoders
func DefaultDecoders() Decoders {
	return Decoders{
		Port30003:  basestation.NewTranslator(),
		ModeS:      modes.NewDecoder(),
		Adsb:       adsb.NewDecoder(),
		Compressed: compressed.NewDecompressor(),
	}
}
