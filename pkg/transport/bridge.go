// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// Link is a transport with a reset line, the unit a Bridge exposes
type Link interface {
	Transport
	ResetLine
}

// Bridge serves a Link to WebSocketTransport clients.
//
// Clients are served one exchange at a time, in arrival order, so the link
// never sees interleaved requests.
type Bridge struct {
	link     Link
	username string
	password string
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu sync.Mutex
}

// BridgeOption configures a Bridge
type BridgeOption func(*Bridge)

// WithBasicAuth requires HTTP Basic credentials on the upgrade request
func WithBasicAuth(username, password string) BridgeOption {
	return func(b *Bridge) {
		b.username = username
		b.password = password
	}
}

// WithBridgeLogger sets the logger for connection and exchange events
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = logger }
}

// NewBridge creates a bridge for link
func NewBridge(link Link, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		link:   link,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 256,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeHTTP upgrades the request and relays frames until the client leaves
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="throttlestat"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("bridge upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	b.logger.Info("bridge client connected", "remote", r.RemoteAddr)
	defer b.logger.Info("bridge client disconnected", "remote", r.RemoteAddr)

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		replyType, reply := b.exchange(messageType, data)
		if err := conn.WriteMessage(replyType, reply); err != nil {
			return
		}
	}
}

func (b *Bridge) exchange(messageType int, data []byte) (int, []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if messageType == websocket.BinaryMessage {
		resp, err := b.link.Send(data)
		if err != nil {
			b.logger.Debug("bridge send failed", "error", err)
			return websocket.TextMessage, []byte(msgNakPrefix + " " + err.Error())
		}
		return websocket.BinaryMessage, resp
	}

	var err error
	switch string(data) {
	case msgResetHigh:
		err = b.link.SetReset(true)
	case msgResetLow:
		err = b.link.SetReset(false)
	default:
		return websocket.TextMessage, []byte(msgNakPrefix + " unknown control message")
	}
	if err != nil {
		return websocket.TextMessage, []byte(msgNakPrefix + " " + err.Error())
	}
	b.logger.Debug("bridge reset line", "state", string(data))
	return websocket.TextMessage, []byte(msgAck)
}

func (b *Bridge) authorized(r *http.Request) bool {
	if b.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(b.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(b.password)) == 1
	return userOK && passOK
}
