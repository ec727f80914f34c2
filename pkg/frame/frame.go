// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"encoding/binary"
	"errors"
	"math"
	"strings"
)

var (
	// ErrCorrupt is returned when a buffer cannot be decoded as a frame
	ErrCorrupt = errors.New("frame: corrupt frame")

	// ErrTextTooLong is returned when encoding text longer than MaxTextLen bytes
	ErrTextTooLong = errors.New("frame: text payload too long")

	// ErrUnknownKind is returned for payload kinds outside the known set
	ErrUnknownKind = errors.New("frame: unknown payload kind")
)

// Payload is the tagged union carried after the command byte.
// The set of implementations is closed: Empty, Int32s, Uint32s, Float32s and Text.
type Payload interface {
	Kind() Kind
	put(union []byte) error
}

// Empty carries no data; the union is zero filled
type Empty struct{}

// Int32s carries seven signed slots
type Int32s [Slots]int32

// Uint32s carries seven unsigned slots
type Uint32s [Slots]uint32

// Float32s carries seven IEEE-754 single precision slots
type Float32s [Slots]float32

// Text carries a short UTF-8 message, at most MaxTextLen bytes
type Text string

func (Empty) Kind() Kind    { return KindEmpty }
func (Int32s) Kind() Kind   { return KindInt32 }
func (Uint32s) Kind() Kind  { return KindUint32 }
func (Float32s) Kind() Kind { return KindFloat32 }
func (Text) Kind() Kind     { return KindText }

func (Empty) put(union []byte) error { return nil }

func (p Int32s) put(union []byte) error {
	for i, v := range p {
		binary.LittleEndian.PutUint32(union[i*4:], uint32(v))
	}
	return nil
}

func (p Uint32s) put(union []byte) error {
	for i, v := range p {
		binary.LittleEndian.PutUint32(union[i*4:], v)
	}
	return nil
}

func (p Float32s) put(union []byte) error {
	for i, v := range p {
		binary.LittleEndian.PutUint32(union[i*4:], math.Float32bits(v))
	}
	return nil
}

func (p Text) put(union []byte) error {
	if len(p) > MaxTextLen {
		return ErrTextTooLong
	}
	copy(union, p)
	return nil
}

// Frame is a decoded request or response
type Frame struct {
	Command int8
	Payload Payload
}

// New creates a frame. A nil payload is treated as Empty.
func New(command int8, payload Payload) Frame {
	if payload == nil {
		payload = Empty{}
	}
	return Frame{Command: command, Payload: payload}
}

// Kind returns the payload kind of the frame
func (f Frame) Kind() Kind {
	if f.Payload == nil {
		return KindEmpty
	}
	return f.Payload.Kind()
}

// Failed reports whether a response frame carries an error status.
// Only meaningful for frames received from the throttle body.
func (f Frame) Failed() bool {
	return f.Command != StatusOK
}

// Int returns numeric slot i as a signed integer.
// Returns false if the payload is not numeric or i is out of range.
func (f Frame) Int(i int) (int32, bool) {
	if i < 0 || i >= Slots {
		return 0, false
	}
	switch p := f.Payload.(type) {
	case Int32s:
		return p[i], true
	case Uint32s:
		return int32(p[i]), true
	case Float32s:
		return int32(p[i]), true
	}
	return 0, false
}

// Message returns the text payload, or "" for non-text frames
func (f Frame) Message() string {
	if t, ok := f.Payload.(Text); ok {
		return string(t)
	}
	return ""
}

// TruncateText clips s to MaxTextLen bytes without splitting a UTF-8 sequence
func TruncateText(s string) Text {
	if len(s) <= MaxTextLen {
		return Text(s)
	}
	cut := MaxTextLen
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return Text(strings.Clone(s[:cut]))
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
