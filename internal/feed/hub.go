// Package feed pushes thought change notifications to websocket clients.
//
// The Hub is an event.Sink: the notes service and the sync coordinator
// publish committed changes to it, and a single broadcast loop fans each
// message out to every connected client. Clients do not send anything; the
// read loop only notices disconnects.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/enso-notes/enso/internal/event"
)

// MessageType defines the type of feed message.
type MessageType string

const (
	// MessageTypeHello is sent once to each client after it connects.
	MessageTypeHello MessageType = "hello"

	// MessageTypeThoughtUpdate indicates a thought was created, updated,
	// deleted or purged.
	MessageTypeThoughtUpdate MessageType = "thought_update"

	// MessageTypeSyncComplete indicates a sync request or batch committed.
	MessageTypeSyncComplete MessageType = "sync_complete"
)

// Message is one websocket frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ThoughtUpdateData describes a changed thought.
type ThoughtUpdateData struct {
	ThoughtID string     `json:"thought_id"`
	Action    event.Kind `json:"action"` // created, updated, deleted, purged
	Title     string     `json:"title,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// SyncCompleteData summarizes a committed sync.
type SyncCompleteData struct {
	ClientID   string  `json:"client_id,omitempty"`
	Applied    int     `json:"applied"`
	Stale      int     `json:"stale"`
	Rejected   int     `json:"rejected"`
	Returned   int     `json:"returned"`
	DurationMS float64 `json:"duration_ms"`
}

// HelloData tells a new client how many peers are listening.
type HelloData struct {
	Clients int `json:"clients"`
}

const (
	bufferSize   = 256
	writeTimeout = 5 * time.Second
)

// Hub tracks websocket clients and broadcasts messages to them.
type Hub struct {
	clients   map[*websocket.Conn]struct{}
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	originPatterns []string
	logger         *zap.Logger
}

// NewHub creates a hub. originPatterns restrict which browser origins may
// connect; nil allows same-origin only.
func NewHub(originPatterns []string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:        make(map[*websocket.Conn]struct{}),
		broadcast:      make(chan Message, bufferSize),
		ctx:            ctx,
		cancel:         cancel,
		originPatterns: originPatterns,
		logger:         logger,
	}
}

// Start runs the broadcast loop.
func (h *Hub) Start() {
	h.wg.Add(1)
	go h.broadcastLoop()
}

// Stop closes every client and waits for the hub goroutines to exit.
func (h *Hub) Stop() {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	h.wg.Wait()
}

// Publish implements event.Sink.
func (h *Hub) Publish(e event.Event) {
	var (
		typ  MessageType
		data any
	)
	switch e.Kind {
	case event.Synced:
		typ = MessageTypeSyncComplete
		data = SyncCompleteData{
			ClientID:   e.ClientID,
			Applied:    e.Applied,
			Stale:      e.Stale,
			Rejected:   e.Rejected,
			Returned:   e.Returned,
			DurationMS: float64(e.Duration.Microseconds()) / 1000,
		}
	default:
		typ = MessageTypeThoughtUpdate
		d := ThoughtUpdateData{ThoughtID: e.ThoughtID, Action: e.Kind}
		if e.Thought != nil {
			d.Title = e.Thought.Title
			at := e.Thought.UpdatedAt
			d.UpdatedAt = &at
		}
		data = d
	}
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal feed message", zap.Error(err))
		return
	}
	h.Broadcast(Message{Type: typ, Timestamp: e.At, Data: raw})
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	select {
	case <-h.ctx.Done():
	case h.broadcast <- msg:
	default:
		h.logger.Warn("feed queue full, dropping message", zap.String("type", string(msg.Type)))
	}
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg := <-h.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now().UTC()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("failed to marshal feed message", zap.Error(err))
				continue
			}

			h.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				clients = append(clients, conn)
			}
			h.clientsMu.RUnlock()

			for _, conn := range clients {
				if err := h.write(conn, data); err != nil {
					h.logger.Debug("feed write failed", zap.Error(err))
					h.removeClient(conn)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.clientsMu.Lock()
	h.clients[conn] = struct{}{}
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Debug("feed client connected", zap.Int("clients", count))

	hello, _ := json.Marshal(HelloData{Clients: count})
	data, _ := json.Marshal(Message{Type: MessageTypeHello, Timestamp: time.Now().UTC(), Data: hello})
	if err := h.write(conn, data); err != nil {
		h.removeClient(conn)
		return
	}

	h.wg.Add(1)
	go h.readLoop(conn)
}

func (h *Hub) write(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.wg.Done()
	defer h.removeClient(conn)

	for {
		if _, _, err := conn.Read(h.ctx); err != nil {
			return
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	count := len(h.clients)
	h.clientsMu.Unlock()

	if ok {
		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Debug("feed client disconnected", zap.Int("clients", count))
	}
}

// ClientCount returns the current number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
