// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport moves raw frames between the engine controller and the
// throttle body and drives the throttle body's reset line.
//
// A Transport exchanges exactly one request for one response. It knows
// nothing about the frame contents; classification of the reply is the
// command channel's job.
package transport

import (
	"errors"
)

var (
	// ErrNoAck is returned when the throttle body does not answer a request
	ErrNoAck = errors.New("transport: no acknowledgement from throttle body")

	// ErrClosed is returned when using a transport after Close
	ErrClosed = errors.New("transport: closed")
)

// Transport sends one request frame and returns the raw response bytes
type Transport interface {
	Send(req []byte) ([]byte, error)
	Close() error
}

// ResetLine drives the throttle body's hardware reset input
type ResetLine interface {
	SetReset(high bool) error
}

// NopResetLine is a ResetLine for links without a reset wire
type NopResetLine struct{}

// SetReset does nothing
func (NopResetLine) SetReset(bool) error { return nil }

// ResetLineOf returns t's own reset line if it has one, otherwise NopResetLine
func ResetLineOf(t Transport) ResetLine {
	if r, ok := t.(ResetLine); ok {
		return r
	}
	return NopResetLine{}
}
