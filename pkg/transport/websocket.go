// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Bridge control messages. Requests travel as binary messages; everything
// else is a text message.
const (
	msgResetHigh = "reset:1"
	msgResetLow  = "reset:0"
	msgAck       = "ok"
	msgNakPrefix = "nak:"
)

// WebSocketOptions configures a bridge connection
type WebSocketOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	// Timeout bounds each request/response exchange
	Timeout time.Duration
}

// WebSocketTransport reaches a throttle body through a WebSocket bridge.
// Each frame is one binary message.
//
// A connection that failed mid-exchange is dropped, and the next Send or
// SetReset dials the bridge again with the same URL and credentials.
type WebSocketTransport struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	url     string
	dialer  websocket.Dialer
	headers http.Header
	timeout time.Duration
	broken  error
	closed  bool
}

// DialWebSocket connects to a bridge with optional HTTP Basic auth
func DialWebSocket(wsURL string, opts WebSocketOptions) (*WebSocketTransport, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}

	w := &WebSocketTransport{
		url:     wsURL,
		dialer:  dialer,
		headers: headers,
		timeout: timeout,
	}
	conn, err := w.dial()
	if err != nil {
		return nil, err
	}
	w.conn = conn
	return w, nil
}

func (w *WebSocketTransport) dial() (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := w.dialer.DialContext(ctx, w.url, w.headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return conn, nil
}

// reconnect replaces a broken connection. Callers hold w.mu.
func (w *WebSocketTransport) reconnect() error {
	if w.closed {
		return ErrClosed
	}
	if w.broken == nil {
		return nil
	}

	w.conn.Close()
	conn, err := w.dial()
	if err != nil {
		return fmt.Errorf("websocket redial: %w", err)
	}
	w.conn = conn
	w.broken = nil
	return nil
}

// Send writes the request as a binary message and waits for the reply
func (w *WebSocketTransport) Send(req []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.reconnect(); err != nil {
		return nil, err
	}
	if err := w.write(websocket.BinaryMessage, req); err != nil {
		return nil, err
	}
	return w.read()
}

// SetReset asks the bridge to drive the reset line
func (w *WebSocketTransport) SetReset(high bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.reconnect(); err != nil {
		return err
	}

	msg := msgResetLow
	if high {
		msg = msgResetHigh
	}
	if err := w.write(websocket.TextMessage, []byte(msg)); err != nil {
		return err
	}
	_, err := w.read()
	return err
}

func (w *WebSocketTransport) write(messageType int, data []byte) error {
	w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	if err := w.conn.WriteMessage(messageType, data); err != nil {
		w.broken = fmt.Errorf("%w: %v", ErrClosed, err)
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// read returns the next binary message, or nil after a text ack
func (w *WebSocketTransport) read() ([]byte, error) {
	w.conn.SetReadDeadline(time.Now().Add(w.timeout))
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			// A timed out websocket cannot be read again; the next
			// exchange redials
			w.broken = fmt.Errorf("%w: %v", ErrClosed, err)
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, fmt.Errorf("websocket read: %w", ErrNoAck)
			}
			return nil, fmt.Errorf("websocket read: %w", err)
		}

		if messageType == websocket.BinaryMessage {
			return data, nil
		}

		text := string(data)
		switch {
		case text == msgAck:
			return nil, nil
		case strings.HasPrefix(text, msgNakPrefix):
			return nil, fmt.Errorf("bridge:%s: %w", strings.TrimPrefix(text, msgNakPrefix), ErrNoAck)
		}
		// Skip unrelated text messages
	}
}

// Close closes the WebSocket connection
func (w *WebSocketTransport) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	w.broken = ErrClosed

	w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return w.conn.Close()
}

// String describes the link for banners and logs
func (w *WebSocketTransport) String() string {
	return "WebSocket: " + w.url
}
