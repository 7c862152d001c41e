package rebroadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/event"
	"github.com/dbehnke/adsbfeed/internal/listener"
)

// DefaultQueueLength is how many payloads a client may fall behind before
// payloads are dropped for it
const DefaultQueueLength = 256

// Broadcaster is a rebroadcast server fed with a feed's messages
type Broadcaster interface {
	Publish(ev listener.MessageEvent)
	Close() error
}

// Attach subscribes b to a feed's message hook and returns the function that
// detaches it
func Attach(hook *event.Hook[listener.MessageEvent], b Broadcaster) func() {
	return hook.Subscribe(b.Publish)
}

type client struct {
	id     string
	remote string
	send   chan []byte
}

// hub fans payloads out to connected clients. A client that cannot keep up
// loses payloads rather than holding up the feed.
type hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	closed  bool
	queue   int
	dropped atomic.Int64
	logger  *zap.Logger
}

func newHub(queue int, logger *zap.Logger) *hub {
	if queue <= 0 {
		queue = DefaultQueueLength
	}
	return &hub{clients: map[string]*client{}, queue: queue, logger: logger}
}

// add registers a client, or returns nil once the hub is closed
func (h *hub) add(remote string) *client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	c := &client{id: uuid.New().String(), remote: remote, send: make(chan []byte, h.queue)}
	h.clients[c.id] = c
	h.logger.Info("client connected", zap.String("client", c.id), zap.String("remote", remote))
	return c
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	close(c.send)
	h.logger.Info("client disconnected", zap.String("client", c.id), zap.String("remote", c.remote))
}

func (h *hub) broadcast(p []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- p:
		default:
			if h.dropped.Add(1)%1000 == 1 {
				h.logger.Warn("client too slow, dropping messages", zap.String("client", c.id))
			}
		}
	}
}

func (h *hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.send)
	}
}
