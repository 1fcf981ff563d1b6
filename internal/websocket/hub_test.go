// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/vitalsync/internal/events"
)

// startHub runs a hub behind an httptest server that streams the user named
// in the ?user= query parameter.
func startHub(t *testing.T, origins []string) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(origins)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.Run(ctx)
		close(done)
	}()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeUser(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, user, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user=" + user
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"missing origin", nil, "", false},
		{"no allow list", nil, "https://dash.example", true},
		{"listed", []string{"https://dash.example"}, "https://dash.example", true},
		{"wildcard", []string{"*"}, "https://other.example", true},
		{"not listed", []string{"https://dash.example"}, "https://evil.example", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := NewHub(tt.allowed)
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := hub.checkOrigin(r); got != tt.want {
				t.Errorf("checkOrigin() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStreamDeliversOnlyToMatchingUser(t *testing.T) {
	hub, srv := startHub(t, nil)

	alice, _, err := dial(t, srv, "alice", "https://dash.example")
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	bob, _, err := dial(t, srv, "bob", "https://dash.example")
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	waitForClients(t, hub, 2)

	hub.NotifyMetricsIngested(events.MetricsIngested{UserID: "bob", Provider: "oura", Count: 4, Source: "webhook"})
	hub.NotifyMetricsIngested(events.MetricsIngested{UserID: "alice", Provider: "dexcom", Count: 12, Source: "pull"})

	msg := readMessage(t, alice)
	if msg.Type != MessageTypeMetricsIngested {
		t.Fatalf("Type = %q, want %q", msg.Type, MessageTypeMetricsIngested)
	}
	data, ok := msg.Data.(map[string]any)
	if !ok {
		t.Fatalf("Data = %T, want object", msg.Data)
	}
	if data["user_id"] != "alice" || data["provider"] != "dexcom" || data["count"] != float64(12) {
		t.Errorf("alice received %v", data)
	}

	msg = readMessage(t, bob)
	if data := msg.Data.(map[string]any); data["user_id"] != "bob" {
		t.Errorf("bob received %v", data)
	}
}

func TestStreamPingPong(t *testing.T) {
	hub, srv := startHub(t, nil)
	conn, _, err := dial(t, srv, "alice", "https://dash.example")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	other, _, err := dial(t, srv, "alice", "https://dash.example")
	if err != nil {
		t.Fatalf("dial second client: %v", err)
	}
	waitForClients(t, hub, 2)

	if err := conn.WriteJSON(Message{Type: MessageTypePing}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readMessage(t, conn); msg.Type != MessageTypePong {
		t.Errorf("Type = %q, want pong", msg.Type)
	}

	// The pong is for the sender only.
	hub.NotifyMetricsIngested(events.MetricsIngested{UserID: "alice", Count: 1})
	if msg := readMessage(t, other); msg.Type != MessageTypeMetricsIngested {
		t.Errorf("second client got %q first, want %q", msg.Type, MessageTypeMetricsIngested)
	}
}

func TestStreamRejectsOrigin(t *testing.T) {
	hub, srv := startHub(t, []string{"https://dash.example"})
	_, resp, err := dial(t, srv, "alice", "https://evil.example")
	if err == nil {
		t.Fatal("dial succeeded, want handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("response = %v, want 403", resp)
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}

func TestClientDisconnectUnregisters(t *testing.T) {
	hub, srv := startHub(t, nil)
	conn, _, err := dial(t, srv, "alice", "https://dash.example")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitForClients(t, hub, 1)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()
	waitForClients(t, hub, 0)
}

func TestRunClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	c := &Client{id: 1, hub: hub, userID: "alice", send: make(chan Message, 1)}
	hub.register <- c
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if _, ok := <-c.send; ok {
		t.Error("client send channel should be closed")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub(nil)
	c := &Client{id: 1, hub: hub, userID: "alice", send: make(chan Message)}
	hub.clients[c] = struct{}{}

	hub.deliver(delivery{userID: "alice", msg: Message{Type: MessageTypeMetricsIngested}})

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0 after full buffer", hub.ClientCount())
	}
}
