// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Thermoquad/throttlestat/pkg/channel"
)

// DefaultPublishInterval matches the control loop cycle
const DefaultPublishInterval = 300 * time.Millisecond

// clientBuffer is how many snapshots may queue for a slow client before
// it starts missing them
const clientBuffer = 4

// Hub fans controller snapshots out to WebSocket clients
type Hub struct {
	target   Target
	link     *channel.Channel
	interval time.Duration
	username string
	password string
	logger   *slog.Logger
	now      func() time.Time
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

type hubClient struct {
	send chan []byte
}

// HubOption configures a Hub
type HubOption func(*Hub)

// WithPublishInterval sets how often Run pushes snapshots
func WithPublishInterval(d time.Duration) HubOption {
	return func(h *Hub) { h.interval = d }
}

// WithLink adds command channel health to snapshots
func WithLink(ch *channel.Channel) HubOption {
	return func(h *Hub) { h.link = ch }
}

// WithAuth requires HTTP Basic credentials
func WithAuth(username, password string) HubOption {
	return func(h *Hub) {
		h.username = username
		h.password = password
	}
}

// WithHubLogger sets the logger
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) { h.logger = logger }
}

// NewHub creates a hub for target
func NewHub(target Target, opts ...HubOption) *Hub {
	h := &Hub{
		target:   target,
		interval: DefaultPublishInterval,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:      time.Now,
		clients:  make(map[*hubClient]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns the hub's HTTP routes
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/api/state", h.serveState)
	return mux
}

// Snapshot builds a snapshot of the target now
func (h *Hub) Snapshot() Snapshot {
	st := h.target.State()
	s := Snapshot{
		Timestamp:           h.now().UnixMilli(),
		AcceleratorPosition: st.AcceleratorPosition,
		CruiseEnabled:       st.CruiseEnabled,
		CruiseTargetSpeed:   st.CruiseTargetSpeed,
		CurrentSpeed:        st.CurrentSpeed,
		ThrottlePosition:    st.ThrottlePosition,
		MassAirFlow:         st.MassAirFlow,
		Mode:                st.Mode.String(),
		DTCs:                st.DTCs,
	}

	if h.link != nil {
		stats := h.link.Statistics().Snapshot()
		s.ResetAttempts = h.link.ResetAttempts()
		s.SuccessRate = stats.SuccessRate()
		s.LatencyMs = stats.LatencyMean
	}
	return s
}

// Run publishes a snapshot every interval until ctx is cancelled
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case <-ticker.C:
			h.Publish()
		}
	}
}

// Publish sends the current snapshot to every client.
// Clients whose queue is full miss this snapshot.
func (h *Hub) Publish() {
	data, err := MarshalSnapshot(h.Snapshot())
	if err != nil {
		h.logger.Error("encode snapshot failed", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("telemetry client lagging, snapshot dropped")
		}
	}
}

// Clients returns the number of connected WebSocket clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) register() *hubClient {
	c := &hubClient{send: make(chan []byte, clientBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="throttlestat"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("telemetry upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := h.register()
	h.logger.Info("telemetry client connected", "remote", r.RemoteAddr, "clients", h.Clients())

	// Writer: the first snapshot goes out immediately
	done := make(chan struct{})
	go func() {
		defer close(done)
		if data, err := MarshalSnapshot(h.Snapshot()); err == nil {
			if conn.WriteMessage(websocket.BinaryMessage, data) != nil {
				return
			}
		}
		for data := range c.send {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
	}()

	// Reader: set requests from the dashboard
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		req, err := UnmarshalSetRequest(data)
		if err != nil {
			h.logger.Warn("bad set request", "remote", r.RemoteAddr, "error", err)
			continue
		}
		Apply(h.target, req)
		h.logger.Debug("set request applied", "remote", r.RemoteAddr)
	}

	h.unregister(c)
	conn.Close()
	<-done
	h.logger.Info("telemetry client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) serveState(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="throttlestat"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodGet:
	case http.MethodPost:
		var req SetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid set request: "+err.Error(), http.StatusBadRequest)
			return
		}
		Apply(h.target, req)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Snapshot()); err != nil {
		h.logger.Warn("write state failed", "error", err)
	}
}

func (h *Hub) authorized(r *http.Request) bool {
	if h.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) == 1
	return userOK && passOK
}
