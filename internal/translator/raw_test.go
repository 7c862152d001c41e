package translator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbehnke/adsbfeed/internal/adsb"
	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/modes"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func es(icao uint32) *modes.Message {
	return &modes.Message{
		DownlinkFormat:   modes.DFExtendedSquitter,
		Capability:       5,
		Icao24:           icao,
		PI:               basestation.Ptr(uint32(0)),
		ExtendedSquitter: make([]byte, 7),
	}
}

func airborne(m *modes.Message, odd bool, lat, lon uint32) *adsb.Message {
	return &adsb.Message{
		ModeS:    m,
		TypeCode: 11,
		Kind:     adsb.KindAirbornePosition,
		Altitude: basestation.Ptr(38000),
		Position: &adsb.CPR{Odd: odd, Lat: lat, Lon: lon},
	}
}

func TestRawIdentification(t *testing.T) {
	r := NewRaw(RawOptions{})
	m := es(0x484506)
	msg, err := r.Translate(t0, m, &adsb.Message{ModeS: m, TypeCode: 4, Kind: adsb.KindIdentification, Callsign: "KLM1023"})
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, basestation.MessageTypeTransmission, msg.MessageType)
	assert.Equal(t, basestation.TransmissionIdentificationAndCategory, msg.TransmissionType)
	assert.Equal(t, "484506", msg.Icao24)
	assert.Equal(t, "KLM1023", msg.Callsign)
	assert.Equal(t, t0, msg.MessageGenerated)
}

func TestRawAirbornePositionPair(t *testing.T) {
	tests := []struct {
		name    string
		lastOdd bool
		lat     float64
		lon     float64
	}{
		{name: "even last", lastOdd: false, lat: 52.2572021484375, lon: 3.91937255859375},
		{name: "odd last", lastOdd: true, lat: 52.26578017412606, lon: 3.938912527901786},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRaw(RawOptions{})
			m := es(0x40621D)
			even := airborne(m, false, 93000, 51372)
			odd := airborne(m, true, 74158, 50194)

			first, last := odd, even
			if tt.lastOdd {
				first, last = even, odd
			}

			msg, err := r.Translate(t0, m, first)
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.False(t, msg.HasPosition(), "a single report cannot be resolved")
			assert.Equal(t, 38000, *msg.Altitude)
			assert.False(t, *msg.OnGround)

			msg, err = r.Translate(t0.Add(time.Second), m, last)
			require.NoError(t, err)
			require.True(t, msg.HasPosition())
			assert.Equal(t, basestation.TransmissionAirbornePosition, msg.TransmissionType)
			assert.InDelta(t, tt.lat, *msg.Latitude, 1e-9)
			assert.InDelta(t, tt.lon, *msg.Longitude, 1e-9)
		})
	}
}

func TestRawPairWindow(t *testing.T) {
	r := NewRaw(RawOptions{CPRPairWindow: 5 * time.Second})
	m := es(0x40621D)

	_, err := r.Translate(t0, m, airborne(m, false, 93000, 51372))
	require.NoError(t, err)
	msg, err := r.Translate(t0.Add(6*time.Second), m, airborne(m, true, 74158, 50194))
	require.NoError(t, err)
	assert.False(t, msg.HasPosition())
}

func TestRawPositionReset(t *testing.T) {
	r := NewRaw(RawOptions{})
	var resets []string
	r.SetPositionResetHandler(func(icao string) { resets = append(resets, icao) })

	m := es(0xABCDEF)
	_, err := r.Translate(t0, m, airborne(m, false, 93000, 51372))
	require.NoError(t, err)
	assert.Empty(t, resets)

	surface := &adsb.Message{
		ModeS:    m,
		TypeCode: 6,
		Kind:     adsb.KindSurfacePosition,
		Track:    basestation.Ptr(90.0),
		Position: &adsb.CPR{Odd: true, Surface: true, Lat: 1, Lon: 2},
	}
	msg, err := r.Translate(t0.Add(time.Second), m, surface)
	require.NoError(t, err)
	assert.Equal(t, basestation.TransmissionSurfacePosition, msg.TransmissionType)
	assert.True(t, *msg.OnGround)
	assert.Equal(t, []string{"ABCDEF"}, resets)

	// the earlier airborne half must not pair with a new airborne report
	msg, err = r.Translate(t0.Add(2*time.Second), m, airborne(m, true, 74158, 50194))
	require.NoError(t, err)
	assert.False(t, msg.HasPosition())
	assert.Equal(t, []string{"ABCDEF", "ABCDEF"}, resets)
}

func TestRawFilters(t *testing.T) {
	m := es(0x123456)
	tisb := &adsb.Message{ModeS: m, Kind: adsb.KindAirborneVelocity, IsTisb: true, GroundSpeed: basestation.Ptr(100.0)}
	military := &adsb.Message{ModeS: m, Kind: adsb.KindAirborneVelocity, IsMilitary: true, GroundSpeed: basestation.Ptr(100.0)}

	r := NewRaw(RawOptions{})
	msg, err := r.Translate(t0, m, tisb)
	require.NoError(t, err)
	assert.NotNil(t, msg)
	msg, err = r.Translate(t0, m, military)
	require.NoError(t, err)
	assert.NotNil(t, msg)

	r.Apply(RawSettings{SuppressTisbDecoding: true, IgnoreMilitaryExtendedSquitter: true})
	msg, err = r.Translate(t0, m, tisb)
	require.NoError(t, err)
	assert.Nil(t, msg)
	msg, err = r.Translate(t0, m, military)
	require.NoError(t, err)
	assert.Nil(t, msg)
	assert.True(t, r.Settings().SuppressTisbDecoding)
}

func TestRawRejectsNonZeroPI(t *testing.T) {
	r := NewRaw(RawOptions{})
	m := es(0x123456)
	m.PI = basestation.Ptr(uint32(0x00F00D))
	msg, err := r.Translate(t0, m, &adsb.Message{ModeS: m, Kind: adsb.KindIdentification, Callsign: "X"})
	require.NoError(t, err)
	assert.Nil(t, msg)

	allCall := &modes.Message{DownlinkFormat: modes.DFAllCallReply, Capability: 5, Icao24: 0x123456, PI: basestation.Ptr(uint32(0x05))}
	msg, err = r.Translate(t0, allCall, nil)
	require.NoError(t, err)
	require.NotNil(t, msg, "interrogator codes are allowed in an all-call reply")
	assert.Equal(t, basestation.TransmissionAllCallReply, msg.TransmissionType)
	assert.True(t, *msg.OnGround)
}

func TestRawAcceptIcaoInNonPICount(t *testing.T) {
	r := NewRaw(RawOptions{Settings: RawSettings{AcceptIcaoInNonPICount: 3}})
	reply := func() *modes.Message {
		return &modes.Message{
			DownlinkFormat: modes.DFSurveillanceAltitude,
			Icao24:         0x3C6586,
			AltitudeCode:   basestation.Ptr(uint16(0x0C38)),
		}
	}

	for i := 0; i < 2; i++ {
		msg, err := r.Translate(t0, reply(), nil)
		require.NoError(t, err)
		assert.Nil(t, msg, "message %d", i)
	}
	msg, err := r.Translate(t0, reply(), nil)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, basestation.TransmissionSurveillanceAltitude, msg.TransmissionType)
	assert.Equal(t, modes.DecodeAltitude(0x0C38), msg.Altitude)

	// a clean PI message trusts an address straight away
	other := &modes.Message{DownlinkFormat: modes.DFSurveillanceIdentity, Icao24: 0x777777, IdentityCode: basestation.Ptr(uint16(0))}
	msg, err = r.Translate(t0, other, nil)
	require.NoError(t, err)
	assert.Nil(t, msg)

	confirm := es(0x777777)
	_, err = r.Translate(t0, confirm, &adsb.Message{ModeS: confirm, Kind: adsb.KindIdentification})
	require.NoError(t, err)
	msg, err = r.Translate(t0, other, nil)
	require.NoError(t, err)
	assert.NotNil(t, msg)
}

func TestRawSurveillanceIdentity(t *testing.T) {
	r := NewRaw(RawOptions{})
	m := &modes.Message{
		DownlinkFormat: modes.DFCommBIdentityReply,
		Capability:     4,
		Icao24:         0x4CA2D1,
		IdentityCode:   basestation.Ptr(uint16(0)),
	}
	msg, err := r.Translate(t0, m, nil)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, basestation.TransmissionSurveillanceID, msg.TransmissionType)
	assert.Equal(t, 0, *msg.Squawk)
	assert.False(t, *msg.Emergency)
	assert.True(t, *msg.SquawkHasChanged)
	assert.True(t, *msg.IdentActive)
	assert.Nil(t, msg.OnGround)
}

func TestRawClose(t *testing.T) {
	r := NewRaw(RawOptions{})
	require.NoError(t, r.Close())
	m := es(1)
	_, err := r.Translate(t0, m, &adsb.Message{ModeS: m, Kind: adsb.KindIdentification})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCPRNL(t *testing.T) {
	assert.Equal(t, 59, cprNL(0))
	assert.Equal(t, 2, cprNL(87))
	assert.Equal(t, 1, cprNL(-88))
	assert.Equal(t, 36, cprNL(52.25))
	assert.Equal(t, 2, cprMod(-3, 5))
}
