package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket

	"github.com/scrypster/memorytap/internal/engine"
	"github.com/scrypster/memorytap/pkg/types"
)

// Event types pushed to websocket clients.
const (
	EventMemorySaved     = "memory.saved"
	EventMemoryUpdated   = "memory.updated"
	EventMemoryDeleted   = "memory.deleted"
	EventIngestionFailed = "ingestion.failed"
	EventMutationFailed  = "mutation.failed"
)

// Event is one message on the websocket.
type Event struct {
	Type        string              `json:"type"`
	MemoryID    string              `json:"memoryId,omitempty"`
	Memory      *types.Memory       `json:"memory,omitempty"`
	IsFavorite  *bool               `json:"isFavorite,omitempty"`
	IsCompleted *bool               `json:"isCompleted,omitempty"`
	Reason      types.FailureReason `json:"reason,omitempty"`
	Op          string              `json:"op,omitempty"`
	Error       string              `json:"error,omitempty"`
}

type envelope struct {
	ownerID string
	event   Event
}

// client is one open socket. conn is nil for in-process subscribers.
type client struct {
	ownerID string
	conn    *websocket.Conn //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	send    chan []byte
}

// WebSocketHub fans engine events out to the sockets of the owner they
// belong to.
type WebSocketHub struct {
	origins []string
	logger  *slog.Logger

	broadcast chan envelope

	mu      sync.Mutex
	clients map[*client]struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWebSocketHub creates a hub. Handshakes whose Origin is neither the
// request host nor one of origins (host[:port]) are refused.
func NewWebSocketHub(origins []string, logger *slog.Logger) *WebSocketHub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketHub{
		origins:   origins,
		logger:    logger.With("component", "websocket"),
		broadcast: make(chan envelope, 256),
		clients:   make(map[*client]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Run delivers queued events until Stop is called.
func (h *WebSocketHub) Run() {
	for {
		select {
		case env := <-h.broadcast:
			data, err := json.Marshal(env.event)
			if err != nil {
				h.logger.Error("failed to marshal event", "type", env.event.Type, "error", err)
				continue
			}
			h.deliver(env.ownerID, data)
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *WebSocketHub) deliver(ownerID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.ownerID != ownerID {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Slow reader; drop it rather than block everyone else.
			h.removeLocked(c)
		}
	}
}

// Stop closes every socket and ends Run.
func (h *WebSocketHub) Stop() {
	h.cancel()
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}

// CloseOwner disconnects every socket of ownerID, as on sign-out.
func (h *WebSocketHub) CloseOwner(ownerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.ownerID == ownerID {
			h.removeLocked(c)
		}
	}
}

// Len returns the number of connected clients.
func (h *WebSocketHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *WebSocketHub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", "owner_id", c.ownerID, "clients", n)
}

func (h *WebSocketHub) unregister(c *client) {
	h.mu.Lock()
	h.removeLocked(c)
	h.mu.Unlock()
}

// removeLocked must be called with h.mu held.
func (h *WebSocketHub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "") //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
	}
}

func (h *WebSocketHub) publish(ownerID string, e Event) {
	select {
	case h.broadcast <- envelope{ownerID: ownerID, event: e}:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", e.Type, "owner_id", ownerID)
	}
}

// For returns a Notifier publishing to ownerID's sockets.
func (h *WebSocketHub) For(ownerID string) engine.Notifier {
	return ownerNotifier{hub: h, ownerID: ownerID}
}

// Serve upgrades the request to a websocket subscribed to ownerID's events.
func (h *WebSocketHub) Serve(w http.ResponseWriter, r *http.Request, ownerID string) {
	if !h.originAllowed(r) {
		http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{ //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		InsecureSkipVerify: true, // origin checked above
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{ownerID: ownerID, conn: conn, send: make(chan []byte, 64)}
	h.register(c)

	go h.writePump(c)
	h.readPump(c)
}

func (h *WebSocketHub) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Host == r.Host {
		return true
	}
	for _, allowed := range h.origins {
		if u.Host == allowed {
			return true
		}
	}
	return false
}

// writePump sends queued events until the client is removed.
func (h *WebSocketHub) writePump(c *client) {
	for msg := range c.send {
		ctx, cancel := context.WithTimeout(h.ctx, 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, msg) //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
		cancel()
		if err != nil {
			h.unregister(c)
			return
		}
	}
}

// readPump drains the connection so closes are noticed. Clients send nothing.
func (h *WebSocketHub) readPump(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.Read(h.ctx); err != nil { //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
			return
		}
	}
}

type ownerNotifier struct {
	hub     *WebSocketHub
	ownerID string
}

func (n ownerNotifier) MemorySaved(m *types.Memory) {
	n.hub.publish(n.ownerID, Event{Type: EventMemorySaved, MemoryID: m.ID, Memory: m})
}

func (n ownerNotifier) MemoryUpdated(id string, patch types.Patch) {
	n.hub.publish(n.ownerID, Event{
		Type:        EventMemoryUpdated,
		MemoryID:    id,
		IsFavorite:  patch.IsFavorite,
		IsCompleted: patch.IsCompleted,
	})
}

func (n ownerNotifier) MemoryDeleted(id string) {
	n.hub.publish(n.ownerID, Event{Type: EventMemoryDeleted, MemoryID: id})
}

func (n ownerNotifier) IngestionFailed(reason types.FailureReason, err error) {
	n.hub.publish(n.ownerID, Event{Type: EventIngestionFailed, Reason: reason, Error: errString(err)})
}

func (n ownerNotifier) MutationFailed(op, id string, err error) {
	n.hub.publish(n.ownerID, Event{Type: EventMutationFailed, Op: op, MemoryID: id, Error: errString(err)})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ engine.Notifier = ownerNotifier{}
