package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bodhix-ai/cora-registry/storage"
)

// newEventTestServer exposes the hub behind a handler that injects an
// authenticated system admin, mirroring what the session middleware does.
func newEventTestServer(t *testing.T, hub *EventHub) *httptest.Server {
	t.Helper()
	admin := &storage.User{ID: "admin", Email: "admin@example.com", Role: storage.RoleSystemAdmin}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := &Principal{User: admin}
		hub.HandleWS(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialEvents(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *EventHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d (now %d)", want, hub.ClientCount())
}

func TestEventHubBroadcastsOverrideChanges(t *testing.T) {
	hub := NewEventHub()
	srv := newEventTestServer(t, hub)
	conn := dialEvents(t, srv)
	waitForClients(t, hub, 1)

	hub.ModuleOverrideChanged(storage.TierOrg, "billing", "org-1", "")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var event OverrideEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != "module_override_changed" {
		t.Fatalf("unexpected event type: %s", event.Type)
	}
	if event.Tier != "org" || event.Module != "billing" || event.OrgID != "org-1" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.WorkspaceID != "" {
		t.Fatalf("workspace id should be omitted at org tier: %+v", event)
	}
}

func TestEventHubFansOutToAllSubscribers(t *testing.T) {
	hub := NewEventHub()
	srv := newEventTestServer(t, hub)
	first := dialEvents(t, srv)
	second := dialEvents(t, srv)
	waitForClients(t, hub, 2)

	hub.ModuleOverrideChanged(storage.TierWorkspace, "search", "org-1", "ws-9")

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		var event OverrideEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if event.Module != "search" || event.WorkspaceID != "ws-9" {
			t.Fatalf("unexpected event: %+v", event)
		}
	}
}

func TestEventHubUnregistersOnDisconnect(t *testing.T) {
	hub := NewEventHub()
	srv := newEventTestServer(t, hub)
	conn := dialEvents(t, srv)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)

	// Broadcasting into an empty hub must not panic or block.
	hub.ModuleOverrideChanged(storage.TierSystem, "billing", "", "")
}

func TestEventHubRejectsUnauthorizedSubjects(t *testing.T) {
	hub := NewEventHub()
	viewerLackingGrant := &storage.User{ID: "v", Email: "v@example.com", Role: storage.Role("intruder")}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := &Principal{User: viewerLackingGrant}
		hub.HandleWS(w, r.WithContext(context.WithValue(r.Context(), principalKey, principal)))
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial should fail for subject without events grant")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake rejection, got %+v", resp)
	}
}
