// Vitalsync - Wearable and CGM Data Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vitalsync

package websocket

import (
	"cmp"
	"context"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/vitalsync/internal/events"
	"github.com/tomtom215/vitalsync/internal/logging"
	"github.com/tomtom215/vitalsync/internal/metrics"
)

// Message types.
const (
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
	MessageTypeMetricsIngested = "metrics_ingested"
)

// Message is one websocket frame.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// delivery targets either every client of userID or, when client is set,
// that client alone.
type delivery struct {
	userID string
	client *Client
	msg    Message
}

// Hub tracks connected clients and fans messages out to the ones watching
// the message's user.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan delivery
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	allowedOrigins []string
	upgrader       websocket.Upgrader
}

// NewHub creates a hub. An empty allowedOrigins accepts any origin; "*"
// does the same explicitly.
func NewHub(allowedOrigins []string) *Hub {
	h := &Hub{
		clients:        make(map[*Client]struct{}),
		broadcast:      make(chan delivery, 256),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		done:           make(chan struct{}),
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

// Run serves register, unregister and broadcast requests until ctx is
// canceled, then closes every client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		// Lifecycle events go first so a broadcast never races a register.
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.StreamClients.Set(float64(n))
	logging.Debug().Str("user_id", c.userID).Int("total_clients", n).Msg("Stream client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.StreamClients.Set(float64(n))
	logging.Debug().Str("user_id", c.userID).Int("total_clients", n).Msg("Stream client disconnected")
}

// deliver sends d to matching clients in connection order. Clients whose
// buffer is full are disconnected.
func (h *Hub) deliver(d delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()

	targets := make([]*Client, 0, len(h.clients))
	if d.client != nil {
		if _, ok := h.clients[d.client]; ok {
			targets = append(targets, d.client)
		}
	} else {
		for c := range h.clients {
			if c.userID == d.userID {
				targets = append(targets, c)
			}
		}
		slices.SortFunc(targets, func(a, b *Client) int { return cmp.Compare(a.id, b.id) })
	}

	for _, c := range targets {
		select {
		case c.send <- d.msg:
		default:
			close(c.send)
			delete(h.clients, c)
			metrics.StreamMessagesDropped.Inc()
			logging.Warn().Str("user_id", c.userID).Msg("Stream client too slow, disconnecting")
		}
	}
	metrics.StreamClients.Set(float64(len(h.clients)))
}

func (h *Hub) shutdown() {
	h.stopOnce.Do(func() { close(h.done) })
	h.mu.Lock()
	n := len(h.clients)
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.StreamClients.Set(0)
	logging.Info().Str("component", "websocket-hub").Int("clients_closed", n).Msg("Websocket hub stopped")
}

// Publish queues msg for every client watching userID. It never blocks.
func (h *Hub) Publish(userID string, msg Message) {
	select {
	case h.broadcast <- delivery{userID: userID, msg: msg}:
	default:
		metrics.StreamMessagesDropped.Inc()
		logging.Warn().Str("message_type", msg.Type).Msg("Stream broadcast channel full, dropping message")
	}
}

func (h *Hub) reply(c *Client, msg Message) {
	select {
	case h.broadcast <- delivery{client: c, msg: msg}:
	default:
	}
}

// NotifyMetricsIngested forwards e to the user's stream clients.
func (h *Hub) NotifyMetricsIngested(e events.MetricsIngested) {
	h.Publish(e.UserID, Message{Type: MessageTypeMetricsIngested, Data: e})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("Stream connection rejected: missing Origin header")
		return false
	}
	if len(h.allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("Stream connection rejected from unauthorized origin")
	return false
}

// ServeUser upgrades the request and streams userID's events to it. The
// upgrader writes the error response when the handshake fails.
func (h *Hub) ServeUser(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	c := newClient(h, conn, userID)
	select {
	case h.register <- c:
		c.start()
	case <-h.done:
		_ = conn.Close()
	case <-r.Context().Done():
		_ = conn.Close()
	}
}
