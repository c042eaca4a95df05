package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitUplenchwar2687/Throttle/internal/limiter"
)

const (
	writeWait          = 5 * time.Second
	defaultEventBuffer = 256
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // events carry no credentials
	},
}

// Hub fans decision events out to WebSocket clients.
//
// Publish never blocks: events go through a buffered channel drained by Run,
// and are dropped when the buffer is full.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	events  chan limiter.Event
	dropped atomic.Int64
	logger  *slog.Logger
}

// NewHub creates a hub buffering up to buffer events (0 uses a default).
func NewHub(logger *slog.Logger, buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		clients: make(map[*websocket.Conn]struct{}),
		events:  make(chan limiter.Event, buffer),
		logger:  logger,
	}
}

// Publish queues e for broadcast. It is suitable as limiter.Options.OnDecision.
func (h *Hub) Publish(e limiter.Event) {
	select {
	case h.events <- e:
	default:
		h.dropped.Add(1)
	}
}

// Run broadcasts queued events until ctx is done, then disconnects clients.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case e := <-h.events:
			h.broadcast(e)
		}
	}
}

// HandleWebSocket upgrades the HTTP connection and registers the client.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Reads only detect disconnects.
	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) broadcast(e limiter.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		h.logger.Error("encoding decision event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.Debug("dropping websocket client", "error", err)
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(h.clients, conn)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many events were discarded because the buffer was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
