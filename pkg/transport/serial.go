// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/Thermoquad/throttlestat/pkg/frame"
)

// DefaultReadTimeout bounds the wait for a full response frame
const DefaultReadTimeout = 500 * time.Millisecond

// SerialTransport talks to the throttle body over a serial port.
// The port's DTR line is wired to the throttle body reset input.
type SerialTransport struct {
	mu     sync.Mutex
	port   serial.Port
	name   string
	closed bool
}

// OpenSerial opens a serial port. A non-positive readTimeout selects DefaultReadTimeout.
func OpenSerial(portName string, baudRate int, readTimeout time.Duration) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", portName, err)
	}

	return &SerialTransport{port: port, name: portName}, nil
}

// Send writes a request and reads exactly one response frame.
// A response shorter than the frame size is reported as ErrNoAck.
func (s *SerialTransport) Send(req []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	// Drop anything left over from an earlier, abandoned exchange
	if err := s.port.ResetInputBuffer(); err != nil {
		return nil, fmt.Errorf("%s: reset input buffer: %w", s.name, err)
	}

	if _, err := s.port.Write(req); err != nil {
		return nil, fmt.Errorf("%s: write: %w", s.name, err)
	}

	resp := make([]byte, frame.Size)
	read := 0
	for read < len(resp) {
		n, err := s.port.Read(resp[read:])
		if err != nil {
			return nil, fmt.Errorf("%s: read: %w", s.name, err)
		}
		if n == 0 {
			// read timeout
			return nil, fmt.Errorf("%s: %w (got %d of %d bytes)", s.name, ErrNoAck, read, len(resp))
		}
		read += n
	}

	return resp, nil
}

// SetReset drives the DTR line
func (s *SerialTransport) SetReset(high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	return s.port.SetDTR(high)
}

// Close closes the port
func (s *SerialTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.port.Close()
}

// String describes the link for banners and logs
func (s *SerialTransport) String() string {
	return "Serial: " + s.name
}
