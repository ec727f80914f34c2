// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"log/slog"

	"github.com/Thermoquad/throttlestat/pkg/frame"
)

// NewLogged wraps a transport and logs every exchange at the given level.
// The reset line, if the inner transport has one, is passed through.
func NewLogged(inner Transport, logger *slog.Logger, level slog.Level) Transport {
	l := &loggedTransport{inner: inner, logger: logger, level: level}
	if r, ok := inner.(ResetLine); ok {
		return &loggedLink{loggedTransport: l, reset: r}
	}
	return l
}

type loggedTransport struct {
	inner  Transport
	logger *slog.Logger
	level  slog.Level
}

// Send logs the request and the response or error
func (l *loggedTransport) Send(req []byte) ([]byte, error) {
	ctx := context.Background()
	if l.logger.Enabled(ctx, l.level) {
		l.logger.Log(ctx, l.level, "transport send",
			"len", len(req),
			"data", frame.HexDump(req),
		)
	}

	resp, err := l.inner.Send(req)
	if err != nil {
		l.logger.Log(ctx, slog.LevelWarn, "transport send error", "error", err)
		return resp, err
	}

	if l.logger.Enabled(ctx, l.level) {
		l.logger.Log(ctx, l.level, "transport receive",
			"len", len(resp),
			"data", frame.HexDump(resp),
		)
	}
	return resp, nil
}

// Close forwards to the inner transport without logging
func (l *loggedTransport) Close() error {
	return l.inner.Close()
}

type loggedLink struct {
	*loggedTransport
	reset ResetLine
}

// SetReset logs and forwards the reset line change
func (l *loggedLink) SetReset(high bool) error {
	l.logger.Log(context.Background(), l.level, "transport reset line", "high", high)
	return l.reset.SetReset(high)
}
