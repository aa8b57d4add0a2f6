package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bodhix-ai/cora-registry/authz"
	"github.com/bodhix-ai/cora-registry/storage"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
	wsSendBuffer   = 16
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == externalURL(r)
	},
}

// OverrideEvent is pushed to subscribed clients whenever a module override
// changes at any tier, so open admin pages can refresh resolved views.
type OverrideEvent struct {
	Type        string    `json:"type"`
	Tier        string    `json:"tier"`
	Module      string    `json:"module"`
	OrgID       string    `json:"org_id,omitempty"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventHub fans module change events out to connected websocket clients. It
// implements storage.Notifier so the store can feed it directly.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewEventHub() *EventHub {
	return &EventHub{clients: make(map[*wsClient]struct{})}
}

// ModuleOverrideChanged broadcasts the change to every subscriber.
func (h *EventHub) ModuleOverrideChanged(tier storage.Tier, moduleName, orgID, workspaceID string) {
	h.broadcast(OverrideEvent{
		Type:        "module_override_changed",
		Tier:        string(tier),
		Module:      moduleName,
		OrgID:       orgID,
		WorkspaceID: workspaceID,
		Timestamp:   time.Now().UTC(),
	})
}

func (h *EventHub) broadcast(event OverrideEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		logger.Error().Err(err).Msg("failed to marshal websocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.send <- payload:
		default:
			// Slow consumer; drop the connection rather than block writers.
			go client.conn.Close()
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades an authenticated request to a websocket subscription.
// Runs behind the session middleware.
func (h *EventHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := authorizeRequest(r, authz.ActionEventsSubscribe, authz.ResourceRef{}); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	logger.Debug().Str("remote", r.RemoteAddr).Str("actor", actorEmail(r)).
		Msg("websocket subscriber connected")

	go h.writePump(client)
	h.readPump(client)
}

// writePump drains the send channel and keeps the connection alive with
// periodic pings. Exits when the send channel is closed or a write fails.
func (h *EventHub) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages (the stream is one-way) and unregisters
// the client when the connection drops.
func (h *EventHub) readPump(client *wsClient) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, client)
		h.mu.Unlock()
		close(client.send)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}
