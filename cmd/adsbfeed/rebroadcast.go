package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/config"
	"github.com/dbehnke/adsbfeed/internal/feed"
	"github.com/dbehnke/adsbfeed/internal/rebroadcast"
)

// rebroadcasts holds the running rebroadcast servers
type rebroadcasts struct {
	closers []func()
}

func (r *rebroadcasts) add(fn func()) {
	r.closers = append(r.closers, fn)
}

// Close stops the servers in reverse order
func (r *rebroadcasts) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// startRebroadcast starts every enabled server. A server that cannot start
// is logged and skipped.
func startRebroadcast(ctx context.Context, servers []config.RebroadcastServer, manager *feed.Manager, logger *zap.Logger) *rebroadcasts {
	r := &rebroadcasts{}
	for _, s := range servers {
		if !s.Enabled {
			continue
		}
		log := logger.With(zap.String("server", s.Name), zap.Int("feed_id", s.FeedID))
		f, ok := manager.Feed(s.FeedID)
		if !ok {
			log.Warn("rebroadcast feed not found")
			continue
		}
		opts := rebroadcast.Options{Name: s.Name, Address: s.Address, Format: s.Format, Logger: logger}

		var b rebroadcast.Broadcaster
		switch s.Transport {
		case config.TransportTCP:
			srv := rebroadcast.NewServer(opts)
			if err := srv.Listen(); err != nil {
				log.Error("rebroadcast listen failed", zap.Error(err))
				continue
			}
			go func() {
				if err := srv.Serve(ctx); err != nil {
					log.Error("rebroadcast server stopped", zap.Error(err))
				}
			}()
			b = srv

		case config.TransportWebSocket:
			h := rebroadcast.NewWebSocketHandler(opts)
			hs := &http.Server{Addr: s.Address, Handler: h, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("websocket server stopped", zap.Error(err))
				}
			}()
			r.add(func() { hs.Close() })
			b = h

		case config.TransportNATS:
			p, err := rebroadcast.DialNATS(opts, s.Subject)
			if err != nil {
				log.Error("rebroadcast nats connect failed", zap.Error(err))
				continue
			}
			b = p
		}
		if b == nil {
			continue
		}

		detach := rebroadcast.Attach(f.Messages(), b)
		r.add(func() {
			detach()
			if err := b.Close(); err != nil {
				log.Warn("closing rebroadcast server", zap.Error(err))
			}
		})
		log.Info("rebroadcasting",
			zap.Stringer("transport", s.Transport),
			zap.Stringer("format", s.Format),
			zap.String("address", s.Address))
	}
	return r
}
