// Package connector opens the byte streams that listeners read from.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/compressed"
	"github.com/dbehnke/adsbfeed/internal/config"
)

// Connector opens a stream of receiver bytes. Each successful Dial returns a
// new stream; closing it ends that connection only.
type Connector interface {
	Dial(ctx context.Context) (io.ReadCloser, error)
	String() string
}

// New creates the connector for a receiver's connection settings
func New(r config.Receiver, logger *zap.Logger) (Connector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("connector").With(zap.Int("receiver_id", r.ID))

	switch r.ConnectionType {
	case config.ConnectionTCP:
		return &TCP{Address: r.Address, Port: r.Port, KeepAlive: true}, nil
	case config.ConnectionUDP:
		return &UDP{LocalAddress: r.LocalAddress, LocalPort: r.LocalPort, Logger: logger}, nil
	case config.ConnectionSerial:
		return &Serial{
			Port:      r.SerialPort,
			Baud:      r.BaudRate,
			DataBits:  r.DataBits,
			StopBits:  r.StopBits,
			Parity:    r.Parity,
			Handshake: r.Handshake,
			Logger:    logger,
		}, nil
	case config.ConnectionHTTP:
		poll := &HTTPPoll{URL: r.WebAddress, Interval: r.FetchInterval, Logger: logger}
		if r.DataSource == config.DataSourceCompressed {
			// aircraft lists are turned into compressed records
			poll.Transform = compressed.CompressReport
		}
		return poll, nil
	}
	return nil, fmt.Errorf("%w: connection type %s", config.ErrInvalidConfig, r.ConnectionType)
}

// IsClosedError reports whether err only says the stream was closed locally
func IsClosedError(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, context.Canceled)
}
