package merged

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/clock"
	"github.com/dbehnke/adsbfeed/internal/listener"
	"github.com/dbehnke/adsbfeed/internal/translator"
)

type harness struct {
	clock  *clock.Fake
	merged *Listener
	l1, l2 *listener.Listener

	mu     sync.Mutex
	out    []listener.MessageEvent
	resets []string
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{clock: clock.NewFake(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))}
	opts.Clock = h.clock
	h.merged = New(opts)
	h.l1 = listener.New(listener.Options{ReceiverID: 1}, translator.DefaultDecoders())
	h.l2 = listener.New(listener.Options{ReceiverID: 2}, translator.DefaultDecoders())

	h.merged.MessageReceived.Subscribe(func(ev listener.MessageEvent) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.out = append(h.out, ev)
	})
	h.merged.PositionReset.Subscribe(func(icao string) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.resets = append(h.resets, icao)
	})
	t.Cleanup(func() { h.merged.Close() })
	return h
}

func (h *harness) send(t *testing.T, l *listener.Listener, msg *basestation.Message) {
	t.Helper()
	msg.ReceiverID = l.ReceiverID()
	require.NoError(t, l.MessageReceived.Raise(listener.MessageEvent{Message: msg}))
}

func (h *harness) received() []listener.MessageEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]listener.MessageEvent(nil), h.out...)
}

func message(icao string) *basestation.Message {
	return &basestation.Message{
		MessageType:      basestation.MessageTypeTransmission,
		TransmissionType: basestation.TransmissionSurveillanceAltitude,
		Icao24:           icao,
		Altitude:         basestation.Ptr(12000),
	}
}

func positioned(icao string) *basestation.Message {
	m := message(icao)
	m.TransmissionType = basestation.TransmissionAirbornePosition
	m.Latitude = basestation.Ptr(51.5)
	m.Longitude = basestation.Ptr(-0.1)
	return m
}

func TestClaimSuppressesOtherReceivers(t *testing.T) {
	h := newHarness(t, Options{})
	h.merged.SetListeners([]Component{{Source: h.l1}, {Source: h.l2}})

	h.send(t, h.l1, message("4CA2D1"))
	h.send(t, h.l2, message("4CA2D1"))
	require.Len(t, h.received(), 1)
	assert.Equal(t, 1, h.received()[0].Message.ReceiverID)

	// a different aircraft is free
	h.send(t, h.l2, message("400F01"))
	require.Len(t, h.received(), 2)

	h.clock.Advance(DefaultIcaoTimeout)
	h.send(t, h.l2, message("4CA2D1"))
	require.Len(t, h.received(), 3)
	assert.Equal(t, 2, h.received()[2].Message.ReceiverID)

	// now receiver 2 owns it
	h.send(t, h.l1, message("4CA2D1"))
	assert.Len(t, h.received(), 3)
	assert.EqualValues(t, 3, h.merged.TotalMessages())
}

func TestOwnerRefreshesClaim(t *testing.T) {
	h := newHarness(t, Options{IcaoTimeout: 2 * time.Second})
	h.merged.SetListeners([]Component{{Source: h.l1}, {Source: h.l2}})

	h.send(t, h.l1, message("4CA2D1"))
	h.clock.Advance(1500 * time.Millisecond)
	h.send(t, h.l1, message("4CA2D1"))
	h.clock.Advance(1500 * time.Millisecond)

	h.send(t, h.l2, message("4CA2D1"))
	assert.Len(t, h.received(), 2, "the refreshed claim is still live")
}

func TestMessagesAreCopied(t *testing.T) {
	h := newHarness(t, Options{})
	h.merged.SetListeners([]Component{{Source: h.l1}})

	msg := message("4CA2D1")
	h.send(t, h.l1, msg)
	require.Len(t, h.received(), 1)
	out := h.received()[0].Message
	assert.NotSame(t, msg, out)
	*msg.Altitude = 1
	assert.Equal(t, 12000, *out.Altitude)
}

func TestMlatPositionsAreOutOfBand(t *testing.T) {
	h := newHarness(t, Options{})
	h.merged.SetListeners([]Component{{Source: h.l1}, {Source: h.l2, IsMlatFeed: true}})

	h.send(t, h.l1, positioned("4CA2D1"))
	h.send(t, h.l2, positioned("4CA2D1"))
	h.send(t, h.l2, message("4CA2D1"))

	out := h.received()
	require.Len(t, out, 2)
	assert.False(t, out[0].IsOutOfBand)
	assert.True(t, out[1].IsOutOfBand)
	assert.Equal(t, 2, out[1].Message.ReceiverID)

	// the MLAT position did not take the claim
	h.send(t, h.l1, message("4CA2D1"))
	assert.Len(t, h.received(), 3)
}

func TestIgnoreAircraftWithNoPosition(t *testing.T) {
	h := newHarness(t, Options{IgnoreAircraftWithNoPosition: true})
	h.merged.SetListeners([]Component{{Source: h.l1}, {Source: h.l2}})

	// messages without a position do not claim the aircraft
	h.send(t, h.l1, message("4CA2D1"))
	h.send(t, h.l2, positioned("4CA2D1"))
	h.send(t, h.l1, message("4CA2D1"))
	require.Len(t, h.received(), 2)
	assert.Equal(t, 2, h.received()[1].Message.ReceiverID)

	// an owner that never had a position loses the aircraft to one that has
	h.send(t, h.l1, message("400F01"))
	h.merged.SetIgnoreAircraftWithNoPosition(false)
	h.send(t, h.l1, message("400F01"))
	h.merged.SetIgnoreAircraftWithNoPosition(true)
	h.send(t, h.l2, positioned("400F01"))
	h.send(t, h.l1, message("400F01"))

	out := h.received()
	require.Len(t, out, 5)
	assert.Equal(t, 2, out[4].Message.ReceiverID)
}

func TestSetListenersDoesNotDoubleSubscribe(t *testing.T) {
	h := newHarness(t, Options{})
	var changes int
	h.merged.SourceChanged.Subscribe(func([]Component) { changes++ })

	components := []Component{{Source: h.l1}, {Source: h.l2}}
	h.merged.SetListeners(components)
	h.merged.SetListeners(components)
	assert.Equal(t, 1, changes)
	assert.Equal(t, 1, h.l1.MessageReceived.Len())

	h.send(t, h.l1, message("4CA2D1"))
	assert.Len(t, h.received(), 1)

	h.merged.SetListeners([]Component{{Source: h.l1}, {Source: h.l2, IsMlatFeed: true}})
	assert.Equal(t, 2, changes, "a changed MLAT flag is a change")
}

func TestRemovedListenerKeepsItsClaim(t *testing.T) {
	h := newHarness(t, Options{})
	h.merged.SetListeners([]Component{{Source: h.l1}, {Source: h.l2}})
	h.send(t, h.l1, message("4CA2D1"))

	h.merged.SetListeners([]Component{{Source: h.l2}})
	assert.Zero(t, h.l1.MessageReceived.Len())

	h.send(t, h.l1, message("4CA2D1"))
	h.send(t, h.l2, message("4CA2D1"))
	assert.Len(t, h.received(), 1, "the removed listener's claim still blocks others")

	h.clock.Advance(DefaultIcaoTimeout)
	h.send(t, h.l2, message("4CA2D1"))
	assert.Len(t, h.received(), 2)
}

func TestPositionResetOnlyFromOwner(t *testing.T) {
	h := newHarness(t, Options{})
	h.merged.SetListeners([]Component{{Source: h.l1}, {Source: h.l2}})
	h.send(t, h.l1, message("4CA2D1"))

	require.NoError(t, h.l2.PositionReset.Raise("4CA2D1"))
	require.NoError(t, h.l1.PositionReset.Raise("4CA2D1"))
	require.NoError(t, h.l1.PositionReset.Raise("400F01"))

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, []string{"4CA2D1"}, h.resets)
}

func TestSweep(t *testing.T) {
	h := newHarness(t, Options{IcaoTimeout: time.Second})
	h.merged.SetListeners([]Component{{Source: h.l1}})
	h.send(t, h.l1, message("4CA2D1"))
	h.clock.Advance(500 * time.Millisecond)
	h.send(t, h.l1, message("400F01"))

	h.clock.Advance(600 * time.Millisecond)
	h.merged.Sweep()
	assert.Equal(t, 1, h.merged.ClaimCount())

	h.clock.Advance(time.Second)
	h.merged.Sweep()
	assert.Zero(t, h.merged.ClaimCount())
}

func TestHandlerPanicIsReported(t *testing.T) {
	h := newHarness(t, Options{})
	h.merged.SetListeners([]Component{{Source: h.l1}})
	var reported []error
	h.merged.ExceptionCaught.Subscribe(func(err error) { reported = append(reported, err) })
	h.merged.MessageReceived.Subscribe(func(listener.MessageEvent) { panic("boom") })

	h.send(t, h.l1, message("4CA2D1"))
	require.Len(t, reported, 1)
	var herr *listener.HandlerError
	assert.ErrorAs(t, reported[0], &herr)
	assert.Equal(t, listener.Connected, h.merged.Status())
}
