package connector

import (
	"context"
	"fmt"
	"io"

	"github.com/tarm/serial"
	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/config"
)

// Serial reads a feeder attached to a serial port
type Serial struct {
	Port      string
	Baud      int
	DataBits  int
	StopBits  int
	Parity    config.Parity
	Handshake config.Handshake
	Logger    *zap.Logger
}

// Dial opens the port
func (s *Serial) Dial(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, err := s.portConfig()
	if err != nil {
		return nil, err
	}
	if s.Handshake != config.HandshakeNone && s.Logger != nil {
		s.Logger.Warn("serial flow control is not supported, continuing without it",
			zap.String("port", s.Port),
			zap.Stringer("handshake", s.Handshake))
	}

	p, err := serial.OpenPort(cfg)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", s.Port, err)
	}
	return p, nil
}

func (s *Serial) portConfig() (*serial.Config, error) {
	cfg := &serial.Config{Name: s.Port, Baud: s.Baud}

	if s.DataBits != 0 {
		cfg.Size = byte(s.DataBits)
	}

	switch s.StopBits {
	case 0, 1:
		cfg.StopBits = serial.Stop1
	case 2:
		cfg.StopBits = serial.Stop2
	default:
		return nil, fmt.Errorf("%w: %d stop bits", config.ErrInvalidConfig, s.StopBits)
	}

	switch s.Parity {
	case config.ParityNone:
		cfg.Parity = serial.ParityNone
	case config.ParityOdd:
		cfg.Parity = serial.ParityOdd
	case config.ParityEven:
		cfg.Parity = serial.ParityEven
	case config.ParityMark:
		cfg.Parity = serial.ParityMark
	case config.ParitySpace:
		cfg.Parity = serial.ParitySpace
	default:
		return nil, fmt.Errorf("%w: parity %s", config.ErrInvalidConfig, s.Parity)
	}
	return cfg, nil
}

func (s *Serial) String() string {
	return fmt.Sprintf("serial://%s?baud=%d", s.Port, s.Baud)
}
