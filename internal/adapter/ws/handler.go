// Package ws pushes approval notifications to connected trainer dashboards.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/Apsistec/fitos-app-sub001/internal/port/messagequeue"
	"github.com/Apsistec/fitos-app-sub001/internal/port/notifier"
)

const providerName = "websocket"

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type conn struct {
	ws        *websocket.Conn
	cancel    context.CancelFunc
	trainerID string
}

// Hub tracks dashboard connections per trainer.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[*conn]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[*conn]struct{})}
}

func (h *Hub) Name() string { return providerName }

func (h *Hub) Capabilities() notifier.Capabilities {
	return notifier.Capabilities{Targeted: true}
}

// HandleWS upgrades the request and subscribes it to the trainer named by
// the trainer_id query parameter.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	trainerID := r.URL.Query().Get("trainer_id")
	if trainerID == "" {
		http.Error(w, "trainer_id is required", http.StatusBadRequest)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{ws: wsConn, cancel: cancel, trainerID: trainerID}
	h.add(c)
	slog.Info("websocket connected", "trainer_id", trainerID, "remote", r.RemoteAddr)

	// Dashboards never send; the read loop only notices disconnects.
	go func() {
		defer func() {
			h.remove(c)
			_ = wsConn.CloseNow()
		}()
		for {
			if _, _, err := wsConn.Read(ctx); err != nil {
				return
			}
		}
	}()
}

// Send delivers a notification to every connection of its recipient.
// A trainer with no open dashboard is not an error.
func (h *Hub) Send(ctx context.Context, n notifier.Notification) error {
	if n.Recipient == "" {
		return nil
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	h.SendTo(ctx, n.Recipient, Message{Type: n.Source, Payload: payload})
	return nil
}

// SendTo writes msg to all connections held by trainerID.
func (h *Hub) SendTo(ctx context.Context, trainerID string, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*conn, 0, len(h.conns[trainerID]))
	for c := range h.conns[trainerID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
			slog.Debug("websocket write failed", "trainer_id", trainerID, "error", err)
			h.remove(c)
		}
	}
}

// Relay is a messagequeue.Handler that forwards approval events to the
// dashboards of the event's trainer, so every instance's dashboards see
// ledger changes made on any instance.
func (h *Hub) Relay(ctx context.Context, subject string, data []byte) error {
	var ev messagequeue.ApprovalEventPayload
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode %s event: %w", subject, err)
	}
	if ev.TrainerID == "" {
		return nil
	}
	h.SendTo(ctx, ev.TrainerID, Message{Type: subject, Payload: data})
	return nil
}

// ConnectionCount returns the number of open connections for trainerID,
// or across all trainers when trainerID is empty.
func (h *Hub) ConnectionCount(trainerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if trainerID != "" {
		return len(h.conns[trainerID])
	}
	total := 0
	for _, set := range h.conns {
		total += len(set)
	}
	return total
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	all := h.conns
	h.conns = make(map[string]map[*conn]struct{})
	h.mu.Unlock()

	for _, set := range all {
		for c := range set {
			c.cancel()
			_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		}
	}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[c.trainerID]
	if !ok {
		set = make(map[*conn]struct{})
		h.conns[c.trainerID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[c.trainerID]
	if !ok {
		return
	}
	if _, ok := set[c]; ok {
		c.cancel()
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.trainerID)
		}
		slog.Info("websocket disconnected", "trainer_id", c.trainerID)
	}
}
