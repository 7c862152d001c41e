package rebroadcast

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dbehnke/adsbfeed/internal/config"
	"github.com/dbehnke/adsbfeed/internal/listener"
)

const pingInterval = 20 * time.Second

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// WebSocketHandler streams a feed's messages to browser clients. Compressed
// records go out as binary frames, everything else as text.
type WebSocketHandler struct {
	opts   Options
	hub    *hub
	logger *zap.Logger
}

// NewWebSocketHandler creates a handler with no clients
func NewWebSocketHandler(opts Options) *WebSocketHandler {
	logger := opts.logger("websocket")
	return &WebSocketHandler{opts: opts, hub: newHub(opts.QueueLength, logger), logger: logger}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	c := h.hub.add(r.RemoteAddr)
	if c == nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
		return
	}
	defer h.hub.remove(c)

	// the reader only watches for the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	messageType := websocket.TextMessage
	if h.opts.Format == config.FormatCompressed {
		messageType = websocket.BinaryMessage
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case p, ok := <-c.send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(messageType, p); err != nil {
				h.logger.Debug("websocket write failed", zap.String("client", c.id), zap.Error(err))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Publish queues one message for every client
func (h *WebSocketHandler) Publish(ev listener.MessageEvent) {
	if ev.Message == nil || h.hub.count() == 0 {
		return
	}
	p, err := Encode(h.opts.Format, ev.Message)
	if err != nil {
		h.logger.Debug("message not encodable", zap.String("icao", ev.Message.Icao24), zap.Error(err))
		return
	}
	h.hub.broadcast(p)
}

// ClientCount returns the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	return h.hub.count()
}

// Close disconnects every client
func (h *WebSocketHandler) Close() error {
	h.hub.close()
	return nil
}
