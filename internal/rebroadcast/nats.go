package rebroadcast

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/listener"
)

// Conn is the part of a NATS connection the publisher uses
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes each message on <subject>.<icao>
type NATSPublisher struct {
	conn    Conn
	nc      *nats.Conn
	subject string
	opts    Options
	logger  *zap.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// DialNATS connects to the server at opts.Address and publishes under
// opts.Subject. The connection reconnects on its own.
func DialNATS(opts Options, subject string) (*NATSPublisher, error) {
	p := newNATSPublisher(nil, opts, subject)
	nc, err := nats.Connect(opts.Address,
		nats.Name("adsbfeed-"+opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", opts.Address, err)
	}
	p.conn, p.nc = nc, nc
	p.logger.Info("nats connected", zap.String("url", nc.ConnectedUrl()), zap.String("subject", subject))
	return p, nil
}

// NewNATSPublisher publishes through an existing connection
func NewNATSPublisher(conn Conn, opts Options, subject string) *NATSPublisher {
	return newNATSPublisher(conn, opts, subject)
}

func newNATSPublisher(conn Conn, opts Options, subject string) *NATSPublisher {
	return &NATSPublisher{conn: conn, subject: subject, opts: opts, logger: opts.logger("nats")}
}

// Publish sends one message
func (p *NATSPublisher) Publish(ev listener.MessageEvent) {
	msg := ev.Message
	if msg == nil || msg.Icao24 == "" {
		return
	}
	data, err := Encode(p.opts.Format, msg)
	if err != nil {
		p.logger.Debug("message not encodable", zap.String("icao", msg.Icao24), zap.Error(err))
		return
	}
	if err := p.conn.Publish(p.subject+"."+msg.Icao24, data); err != nil {
		if p.failed.Add(1)%1000 == 1 {
			p.logger.Warn("nats publish failed", zap.Error(err))
		}
		return
	}
	p.published.Add(1)
}

// Published returns the number of messages sent
func (p *NATSPublisher) Published() int64 {
	return p.published.Load()
}

// Close drains the connection when the publisher made it
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
