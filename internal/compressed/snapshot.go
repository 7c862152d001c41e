package compressed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/dbehnke/adsbfeed/internal/basestation"
)

// Report is an aircraft.json document as served by dump1090 style feeders
type Report struct {
	Now      float64            `json:"now"`
	Messages uint64             `json:"messages"`
	Aircraft []AircraftSnapshot `json:"aircraft"`
}

// AircraftSnapshot is one aircraft from a Report
type AircraftSnapshot struct {
	Hex          string   `json:"hex"`
	Flight       *string  `json:"flight,omitempty"`
	Squawk       *string  `json:"squawk,omitempty"`
	Lat          *float64 `json:"lat,omitempty"`
	Lon          *float64 `json:"lon,omitempty"`
	GroundSpeed  *float64 `json:"gs,omitempty"`
	Track        *float64 `json:"track,omitempty"`
	BaroRate     *float64 `json:"baro_rate,omitempty"`
	Emergency    *string  `json:"emergency,omitempty"`
	Mlat         []string `json:"mlat,omitempty"`
	Rssi         *float64 `json:"rssi,omitempty"`
	SeenPosition *float64 `json:"seen_pos,omitempty"`

	// a number of feet, or the string "ground"
	BaroAltitude json.RawMessage `json:"alt_baro,omitempty"`
}

// ParseReport decodes an aircraft.json document
func ParseReport(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse aircraft report: %w", err)
	}
	return &r, nil
}

// FromSnapshot builds the message a receiver would have sent to convey the
// snapshot. Snapshots without a usable address yield nil.
func FromSnapshot(a AircraftSnapshot) *basestation.Message {
	// addresses starting with ~ are not ICAO assigned
	icao, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimSpace(a.Hex), "~"), 16, 24)
	if err != nil {
		return nil
	}

	m := &basestation.Message{
		MessageType:      basestation.MessageTypeTransmission,
		TransmissionType: basestation.TransmissionAirbornePosition,
		Icao24:           fmt.Sprintf("%06X", icao),
		IsMlat:           len(a.Mlat) > 0,
		GroundSpeed:      a.GroundSpeed,
		Track:            a.Track,
		Latitude:         a.Lat,
		Longitude:        a.Lon,
	}
	if a.Flight != nil {
		m.Callsign = strings.TrimSpace(*a.Flight)
	}
	if a.BaroRate != nil {
		m.VerticalRate = basestation.Ptr(int(*a.BaroRate))
	}
	if a.Squawk != nil {
		if v, err := strconv.Atoi(*a.Squawk); err == nil {
			m.Squawk = basestation.Ptr(v)
		}
	}
	if a.Emergency != nil {
		m.Emergency = basestation.Ptr(*a.Emergency != "none")
	}

	if alt := bytes.TrimSpace(a.BaroAltitude); len(alt) > 0 {
		if bytes.Equal(alt, []byte(`"ground"`)) {
			m.OnGround = basestation.Ptr(true)
			m.TransmissionType = basestation.TransmissionSurfacePosition
		} else if v, err := strconv.ParseFloat(string(alt), 64); err == nil {
			m.Altitude = basestation.Ptr(int(v))
			m.OnGround = basestation.Ptr(false)
		}
	}
	return m
}

// CompressReport turns every aircraft in an aircraft.json document into a
// compressed record, concatenated in document order
func CompressReport(data []byte) ([]byte, error) {
	report, err := ParseReport(data)
	if err != nil {
		return nil, err
	}

	var out []byte
	for _, a := range report.Aircraft {
		m := FromSnapshot(a)
		if m == nil {
			continue
		}
		record, err := Compress(m)
		if err != nil {
			return nil, err
		}
		out = append(out, record...)
	}
	return out, nil
}
