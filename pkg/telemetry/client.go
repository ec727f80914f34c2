// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientOptions configures a hub connection
type ClientOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
}

// Client is a dashboard connection to a Hub
type Client struct {
	conn *websocket.Conn
	url  string

	writeMu sync.Mutex
}

// Dial connects to a hub's /ws endpoint
func Dial(hubURL string, opts ClientOptions) (*Client, error) {
	u, err := url.Parse(hubURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.SkipSSLVerify}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, hubURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("telemetry connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("telemetry connection failed: %w", err)
	}

	return &Client{conn: conn, url: hubURL}, nil
}

// Next blocks until the next snapshot arrives
func (c *Client) Next() (Snapshot, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return Snapshot{}, err
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		return UnmarshalSnapshot(data)
	}
}

// Send asks the hub to apply a set request
func (c *Client) Send(r SetRequest) error {
	data, err := MarshalSetRequest(r)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

// Close closes the connection
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// URL returns the hub address
func (c *Client) URL() string {
	return c.url
}
