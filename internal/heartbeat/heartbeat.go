// Package heartbeat raises the periodic ticks that drive idle checks and
// expiry sweeps.
package heartbeat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/clock"
	"github.com/dbehnke/adsbfeed/internal/event"
)

const (
	DefaultFastTick = time.Second
	DefaultSlowTick = 10 * time.Minute
)

// Options configure a heartbeat service
type Options struct {
	FastTick time.Duration
	SlowTick time.Duration
	Clock    clock.Clock
	Logger   *zap.Logger
}

// Service raises FastTick and SlowTick until its context ends
type Service struct {
	fast, slow time.Duration
	clock      clock.Clock
	logger     *zap.Logger

	FastTick event.Hook[time.Time]
	SlowTick event.Hook[time.Time]
}

// New creates a heartbeat service
func New(opts Options) *Service {
	if opts.FastTick <= 0 {
		opts.FastTick = DefaultFastTick
	}
	if opts.SlowTick <= 0 {
		opts.SlowTick = DefaultSlowTick
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		fast:   opts.FastTick,
		slow:   opts.SlowTick,
		clock:  opts.Clock,
		logger: opts.Logger.Named("heartbeat"),
	}
}

// Run raises ticks until ctx is done. A slow tick that falls due with a fast
// one is raised after it.
func (s *Service) Run(ctx context.Context) error {
	start := s.clock.Now()
	nextFast, nextSlow := start.Add(s.fast), start.Add(s.slow)
	s.logger.Info("heartbeat started", zap.Duration("fast", s.fast), zap.Duration("slow", s.slow))

	for {
		next := nextFast
		if nextSlow.Before(next) {
			next = nextSlow
		}

		select {
		case <-ctx.Done():
			s.logger.Info("heartbeat stopped")
			return ctx.Err()
		case <-s.clock.After(next.Sub(s.clock.Now())):
		}

		now := s.clock.Now()
		if !now.Before(nextFast) {
			s.raise("fast tick", s.FastTick.Raise(now))
			nextFast = now.Add(s.fast)
		}
		if !now.Before(nextSlow) {
			s.raise("slow tick", s.SlowTick.Raise(now))
			nextSlow = now.Add(s.slow)
		}
	}
}

func (s *Service) raise(name string, err error) {
	if err != nil {
		s.logger.Error("tick handler failed", zap.String("tick", name), zap.Error(err))
	}
}
