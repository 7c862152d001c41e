package listener

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/connector"
	"github.com/dbehnke/adsbfeed/internal/statistics"
)

var errSuperseded = errors.New("connection attempt superseded")

// attempt is one connection attempt. Its generation is compared with the
// listener's so that completions from superseded attempts are ignored.
type attempt struct {
	gen    uint64
	ctx    context.Context
	source Source
}

func (l *Listener) run(a attempt, wait time.Duration) {
	defer l.wg.Done()

	if wait > 0 {
		select {
		case <-a.ctx.Done():
			return
		case <-l.clock.After(wait):
		}
		if !l.transition(a, Connecting) {
			return
		}
	}

	if !l.markAttempt(a) {
		return
	}
	l.logger.Debug("connecting", zap.Stringer("connector", a.source.Connector))

	stream, err := a.source.Connector.Dial(a.ctx)
	if err != nil {
		l.connectFailed(a, err)
		return
	}
	stop := context.AfterFunc(a.ctx, func() { stream.Close() })
	defer func() {
		if stop() {
			stream.Close()
		}
	}()

	if !l.connected(a) {
		return
	}
	l.ended(a, l.read(a, stream))
}

// current reports whether a is still the live attempt
func (l *Listener) current(a attempt) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed && l.generation.Load() == a.gen
}

func (l *Listener) transition(a attempt, s ConnectionStatus) bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if !l.current(a) {
		return false
	}
	l.setStatusNotified(s)
	return true
}

func (l *Listener) markAttempt(a attempt) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.generation.Load() != a.gen {
		return false
	}
	l.lastAttempt = l.clock.Now()
	return true
}

func (l *Listener) connected(a attempt) bool {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	l.mu.Lock()
	if l.closed || l.generation.Load() != a.gen {
		l.mu.Unlock()
		return false
	}
	now := l.clock.Now()
	l.lastReceived = now
	l.mu.Unlock()

	l.stats.Reset()
	l.stats.Update(func(c *statistics.Counters) { c.ConnectedSince = now })
	l.logger.Info("connected", zap.Stringer("connector", a.source.Connector))
	l.setStatusNotified(Connected)
	return true
}

func (l *Listener) connectFailed(a attempt, err error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if !l.current(a) {
		return
	}
	l.logger.Warn("cannot connect", zap.Stringer("connector", a.source.Connector), zap.Error(err))
	l.setStatusNotified(CannotConnect)
	l.report(err)
	if l.autoReconnect.Load() {
		l.reconnect(a)
	}
}

// ended handles the end of a connection. A nil error means the receiver
// closed the stream.
func (l *Listener) ended(a attempt, err error) {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()

	if !l.current(a) {
		return
	}

	received := l.stats.Snapshot().BytesReceived
	l.stats.Update(func(c *statistics.Counters) { c.ConnectedSince = time.Time{} })
	fields := []zap.Field{zap.String("received", humanize.Bytes(uint64(received)))}

	switch {
	case err == nil:
		l.logger.Info("receiver closed the connection", fields...)
	case connector.IsClosedError(err):
		l.logger.Debug("connection closed", append(fields, zap.Error(err))...)
	default:
		l.logger.Warn("connection lost", append(fields, zap.Error(err))...)
		l.report(err)
	}

	if l.autoReconnect.Load() {
		l.reconnect(a)
		return
	}

	l.mu.Lock()
	if l.generation.Load() == a.gen {
		l.stopLocked()
	}
	l.mu.Unlock()
	l.setStatusNotified(Disconnected)
}

// reconnect schedules the attempt that follows a. l.stateMu must be held.
func (l *Listener) reconnect(a attempt) {
	l.mu.Lock()
	if l.closed || l.generation.Load() != a.gen {
		l.mu.Unlock()
		return
	}
	wait := l.reconnectWaitLocked(l.clock.Now())
	l.startLocked(wait)
	l.mu.Unlock()

	l.logger.Debug("reconnect scheduled", zap.Duration("wait", wait))
	l.setStatusNotified(Reconnecting)
}

func (l *Listener) read(a attempt, stream io.Reader) error {
	buf := make([]byte, l.readBufferSize)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			if perr := l.process(a, buf[:n]); perr != nil {
				return perr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
