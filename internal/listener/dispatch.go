package listener

import (
	"time"

	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/adsb"
	"github.com/dbehnke/adsbfeed/internal/basestation"
	"github.com/dbehnke/adsbfeed/internal/correction"
	"github.com/dbehnke/adsbfeed/internal/frame"
	"github.com/dbehnke/adsbfeed/internal/modes"
	"github.com/dbehnke/adsbfeed/internal/statistics"
)

// process handles one read from the stream. A non-nil error ends the
// connection.
func (l *Listener) process(a attempt, p []byte) error {
	if l.generation.Load() != a.gen {
		return errSuperseded
	}

	now := l.clock.Now()
	l.mu.Lock()
	l.lastReceived = now
	l.mu.Unlock()

	n := int64(len(p))
	l.stats.Update(func(c *statistics.Counters) { c.BytesReceived += n })

	if err := l.RawBytesReceived.Raise(p); err != nil {
		return &HandlerError{Event: "raw bytes received", Err: err}
	}

	frames := a.source.Extractor.Extract(p)
	size := a.source.Extractor.BufferSize()
	l.stats.Update(func(c *statistics.Counters) { c.CurrentBufferSize = size })

	for _, f := range frames {
		// a disconnect can land part way through a batch
		if l.generation.Load() != a.gen {
			return errSuperseded
		}
		if err := l.dispatch(a, now, f); err != nil {
			return err
		}
	}
	return nil
}

func (l *Listener) dispatch(a attempt, now time.Time, f frame.Frame) error {
	if !f.Valid() {
		return nil
	}
	if f.ChecksumFailed {
		// counted, never decoded
		l.totalBad.Add(1)
		l.stats.Update(func(c *statistics.Counters) { c.ReceiverBadChecksum++ })
		return nil
	}

	switch f.Format {
	case frame.FormatPort30003:
		return l.dispatchPort30003(f)
	case frame.FormatModeS:
		return l.dispatchModeS(a, now, f)
	case frame.FormatCompressed:
		return l.dispatchCompressed(f)
	}
	return nil
}

func (l *Listener) dispatchPort30003(f frame.Frame) error {
	msg, err := l.decoders.Port30003.Translate(string(f.Payload()), f.SignalLevel)
	if err != nil {
		l.stats.Update(func(c *statistics.Counters) { c.Port30003Bad++ })
		return l.bad(StagePort30003, err)
	}
	if msg == nil {
		return nil
	}

	l.stats.Update(func(c *statistics.Counters) { c.Port30003Received++ })
	l.totalMessages.Add(1)
	msg.ReceiverID = l.id
	if err := l.Port30003MessageReceived.Raise(msg); err != nil {
		return &HandlerError{Event: "port30003 message received", Err: err}
	}
	return l.publish(msg)
}

func (l *Listener) dispatchModeS(a attempt, now time.Time, f frame.Frame) error {
	p := f.Payload()
	if len(p) != modes.ShortLength && len(p) != modes.LongLength {
		return nil
	}

	if l.ModeSBytesReceived.Len() > 0 {
		if err := l.ModeSBytesReceived.Raise(f.Clone()); err != nil {
			return &HandlerError{Event: "modes bytes received", Err: err}
		}
	}

	data := make([]byte, len(p))
	copy(data, p)
	if f.HasParity {
		correction.StripParity(data)
	}

	ms, err := l.decoders.ModeS.Translate(data, 0, f.SignalLevel)
	if err != nil {
		l.stats.Update(func(c *statistics.Counters) { c.ModeSBad++ })
		return l.bad(StageModeS, err)
	}
	if ms == nil {
		return nil
	}
	l.totalMessages.Add(1)
	l.stats.Update(func(c *statistics.Counters) {
		c.ModeSReceived++
		c.DownlinkFormats[ms.DownlinkFormat&31]++
		if ms.PI != nil {
			switch pi := *ms.PI; {
			case pi == 0:
				c.ModeSPIZero++
			case ms.DownlinkFormat == modes.DFAllCallReply && pi&^0x7F == 0:
				c.ModeSPIGood++
			default:
				c.ModeSPIBad++
			}
		}
		if !ms.IsExtendedSquitter() {
			c.ModeSNotAdsb++
		}
	})

	var am *adsb.Message
	if ms.IsExtendedSquitter() {
		am, err = l.decoders.Adsb.Translate(ms)
		if err != nil {
			l.stats.Update(func(c *statistics.Counters) { c.AdsbRejected++ })
			return l.bad(StageAdsb, err)
		}
		if am != nil {
			tc := am.TypeCode & 31
			l.stats.Update(func(c *statistics.Counters) {
				c.AdsbReceived++
				c.AdsbTypeCodes[tc]++
			})
		}
	}

	msg, err := a.source.Raw.Translate(now.UTC(), ms, am)
	if err != nil {
		return &DecodeError{Stage: StageRaw, Err: err}
	}
	if rerr := l.takeResetError(); rerr != nil {
		return &HandlerError{Event: "position reset", Err: rerr}
	}
	if msg == nil {
		return nil
	}
	msg.ReceiverID = l.id
	return l.publish(msg)
}

func (l *Listener) dispatchCompressed(f frame.Frame) error {
	msg, err := l.decoders.Compressed.Decompress(f.Payload())
	if err != nil {
		l.stats.Update(func(c *statistics.Counters) { c.CompressedBad++ })
		return l.bad(StageCompressed, err)
	}
	if msg == nil {
		return nil
	}

	l.stats.Update(func(c *statistics.Counters) { c.CompressedReceived++ })
	l.totalMessages.Add(1)
	msg.ReceiverID = l.id
	return l.publish(msg)
}

func (l *Listener) publish(msg *basestation.Message) error {
	if err := l.MessageReceived.Raise(MessageEvent{Message: msg}); err != nil {
		return &HandlerError{Event: "message received", Err: err}
	}
	return nil
}

// bad counts a rejected frame and returns the error that ends the
// connection, or nil when bad messages are ignored
func (l *Listener) bad(stage Stage, err error) error {
	l.totalBad.Add(1)
	derr := &DecodeError{Stage: stage, Err: err}
	if l.ignoreBad.Load() {
		l.logger.Debug("bad message ignored", zap.Error(derr))
		return nil
	}
	return derr
}

// positionReset is handed to the raw translator, which calls it on the read
// goroutine
func (l *Listener) positionReset(icao string) {
	if err := l.PositionReset.Raise(icao); err != nil {
		l.resetMu.Lock()
		if l.resetErr == nil {
			l.resetErr = err
		}
		l.resetMu.Unlock()
	}
}

func (l *Listener) takeResetError() error {
	l.resetMu.Lock()
	defer l.resetMu.Unlock()
	err := l.resetErr
	l.resetErr = nil
	return err
}
