// Package live streams session frames to WebSocket subscribers.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/okian/pulse/pkg/logger"
	"github.com/okian/pulse/pkg/metrics"
)

const (
	defaultBuffer       = 32
	defaultWriteTimeout = 5 * time.Second
)

// Frame is the envelope written to subscribers.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// client is a single WebSocket subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// writePump drains send into the connection until ctx ends or send closes.
func (c *client) writePump(ctx context.Context, timeout time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-c.send:
			if !ok {
				return nil
			}
			wctx, cancel := context.WithTimeout(ctx, timeout)
			err := c.conn.Write(wctx, websocket.MessageText, msg)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-client frame buffer. Frames beyond it are dropped
// for that client.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithWriteTimeout bounds a single frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

// WithOriginPatterns allows cross-origin dashboards matching patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) {
		h.origins = append(h.origins, patterns...)
	}
}

// WithLogger sets the hub logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l
		}
	}
}

// Hub fans frames out to every connected client. Broadcast never blocks on a
// slow client.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*client
	buffer       int
	writeTimeout time.Duration
	origins      []string
	logger       logger.Logger
}

// NewHub creates a new Hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:      make(map[string]*client),
		buffer:       defaultBuffer,
		writeTimeout: defaultWriteTimeout,
		logger:       logger.GetOrNop().Named("live"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	metrics.UpdateLiveClients(n)
}

func (h *Hub) unregister(id string) {
	h.mu.Lock()
	if c, ok := h.clients[id]; ok {
		close(c.send)
		delete(h.clients, id)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.UpdateLiveClients(n)
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends one frame to all clients, dropping it for any client whose
// buffer is full.
func (h *Hub) Broadcast(frameType string, data any) {
	msg, err := json.Marshal(Frame{Type: frameType, Data: data})
	if err != nil {
		h.logger.Error(context.Background(), "failed to marshal live frame",
			logger.String("type", frameType),
			logger.Error(err),
		)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			metrics.RecordLiveFrameDropped()
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
	h.mu.Unlock()
	metrics.UpdateLiveClients(0)
}

// ServeHTTP upgrades GET /live to a WebSocket and streams frames until the
// client goes away. Incoming messages are ignored.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// The server write timeout must not cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn(r.Context(), "websocket accept failed", logger.Error(err))
		return
	}
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, h.buffer),
	}
	h.register(c)
	defer h.unregister(c.id)

	// CloseRead discards client messages and cancels ctx when the peer closes.
	ctx := conn.CloseRead(r.Context())
	h.logger.Debug(ctx, "live client connected", logger.String("client", c.id))

	err = c.writePump(ctx, h.writeTimeout)
	switch {
	case err == nil:
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure, ctx.Err() != nil:
		_ = conn.CloseNow()
	default:
		h.logger.Debug(ctx, "live client write failed", logger.String("client", c.id), logger.Error(err))
		_ = conn.CloseNow()
	}
}
