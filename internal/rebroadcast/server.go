package rebroadcast

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/config"
	"github.com/dbehnke/adsbfeed/internal/connector"
	"github.com/dbehnke/adsbfeed/internal/listener"
)

const writeTimeout = 10 * time.Second

// Options configure a rebroadcast server
type Options struct {
	Name        string
	Address     string
	Format      config.RebroadcastFormat
	QueueLength int
	Logger      *zap.Logger
}

func (o Options) logger(kind string) *zap.Logger {
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.Named("rebroadcast").With(zap.String("server", o.Name), zap.String("transport", kind))
}

// Server accepts TCP clients and writes every message of its feed to each
// of them
type Server struct {
	opts   Options
	hub    *hub
	logger *zap.Logger

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

// NewServer creates a server that is not yet listening
func NewServer(opts Options) *Server {
	logger := opts.logger("tcp")
	return &Server{opts: opts, hub: newHub(opts.QueueLength, logger), logger: logger}
}

// Listen binds the server's address
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.opts.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.logger.Info("listening", zap.Stringer("address", ln.Addr()), zap.Stringer("format", s.opts.Format))
	return nil
}

// Addr returns the bound address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts clients until ctx is done or the server is closed
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("rebroadcast server is not listening")
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if connector.IsClosedError(err) {
				return nil
			}
			return err
		}
		c := s.hub.add(conn.RemoteAddr().String())
		if c == nil {
			conn.Close()
			return nil
		}
		s.wg.Add(2)
		go s.write(conn, c)
		go s.drain(conn, c)
	}
}

// write sends the client's queue until the hub drops it
func (s *Server) write(conn net.Conn, c *client) {
	defer s.wg.Done()
	defer conn.Close()
	for p := range c.send {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if _, err := conn.Write(p); err != nil {
			if !connector.IsClosedError(err) {
				s.logger.Debug("write failed", zap.String("client", c.id), zap.Error(err))
			}
			s.hub.remove(c)
			return
		}
	}
}

// drain discards anything the client sends and notices when it hangs up
func (s *Server) drain(conn net.Conn, c *client) {
	defer s.wg.Done()
	io.Copy(io.Discard, conn)
	s.hub.remove(c)
}

// Publish queues one message for every client
func (s *Server) Publish(ev listener.MessageEvent) {
	if ev.Message == nil || s.hub.count() == 0 {
		return
	}
	p, err := Encode(s.opts.Format, ev.Message)
	if err != nil {
		s.logger.Debug("message not encodable", zap.String("icao", ev.Message.Icao24), zap.Error(err))
		return
	}
	s.hub.broadcast(p)
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.count()
}

// Close stops accepting, disconnects every client and waits for them
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	var err error
	if ln != nil {
		if cerr := ln.Close(); cerr != nil && !connector.IsClosedError(cerr) {
			err = cerr
		}
	}
	s.hub.close()
	s.wg.Wait()
	return err
}
