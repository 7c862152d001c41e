package aircraft

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/clock"
	"github.com/dbehnke/adsbfeed/internal/compressed"
)

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestApplyMergesFields(t *testing.T) {
	clk := clock.NewFake(start)
	l := NewList(clk)

	l.Apply(&basestation.Message{
		MessageType:      basestation.MessageTypeTransmission,
		TransmissionType: basestation.TransmissionIdentificationAndCategory,
		Icao24:           "4840D6",
		Callsign:         "KLM1023",
	})
	clk.Advance(time.Second)
	l.Apply(&basestation.Message{
		MessageType:      basestation.MessageTypeTransmission,
		TransmissionType: basestation.TransmissionAirbornePosition,
		Icao24:           "4840D6",
		Altitude:         basestation.Ptr(38000),
		Latitude:         basestation.Ptr(52.25),
		Longitude:        basestation.Ptr(3.92),
		ReceiverID:       3,
	})
	// not a transmission
	l.Apply(&basestation.Message{MessageType: basestation.MessageTypeStatusChange, Icao24: "111111"})

	require.Equal(t, 1, l.Count())
	a := l.Snapshot()[0]
	assert.Equal(t, "KLM1023", a.Callsign)
	assert.Equal(t, 38000, *a.Altitude)
	assert.Equal(t, 52.25, *a.Latitude)
	assert.Equal(t, 3, a.ReceiverID)
	assert.EqualValues(t, 2, a.Messages)
	assert.Equal(t, start, a.FirstSeen)
	assert.Equal(t, start.Add(time.Second), a.LastSeen)

	l.ResetPosition("4840D6")
	a = l.Snapshot()[0]
	assert.Nil(t, a.Latitude)
	assert.Equal(t, "KLM1023", a.Callsign)
}

func TestSweep(t *testing.T) {
	clk := clock.NewFake(start)
	l := NewList(clk)
	l.Apply(&basestation.Message{MessageType: basestation.MessageTypeTransmission, Icao24: "AAAAAA"})
	clk.Advance(time.Minute)
	l.Apply(&basestation.Message{MessageType: basestation.MessageTypeTransmission, Icao24: "BBBBBB"})

	assert.Equal(t, 1, l.Sweep(clk.Now(), 30*time.Second))
	require.Equal(t, 1, l.Count())
	assert.Equal(t, "BBBBBB", l.Snapshot()[0].Icao24)

	l.Clear()
	assert.Zero(t, l.Count())
}

func TestReportRoundTrip(t *testing.T) {
	clk := clock.NewFake(start)
	l := NewList(clk)
	l.Apply(&basestation.Message{
		MessageType: basestation.MessageTypeTransmission,
		Icao24:      "4CA2D1",
		Callsign:    "EIN3BT",
		Altitude:    basestation.Ptr(12000),
		Squawk:      basestation.Ptr(1200),
		Latitude:    basestation.Ptr(53.4),
		Longitude:   basestation.Ptr(-6.2),
		OnGround:    basestation.Ptr(false),
	})

	data, err := json.Marshal(l.Report())
	require.NoError(t, err)

	report, err := compressed.ParseReport(data)
	require.NoError(t, err)
	require.Len(t, report.Aircraft, 1)
	assert.Equal(t, "1200", *report.Aircraft[0].Squawk)

	m := compressed.FromSnapshot(report.Aircraft[0])
	require.NotNil(t, m)
	assert.Equal(t, "4CA2D1", m.Icao24)
	assert.Equal(t, "EIN3BT", m.Callsign)
	assert.Equal(t, 12000, *m.Altitude)
	assert.Equal(t, 53.4, *m.Latitude)
	assert.False(t, m.IsMlat)
}
