// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"sync"

	"github.com/Thermoquad/throttlestat/pkg/frame"
)

// Servo pulse range the throttle body firmware maps 0-90 degrees onto
const (
	ServoMin = 16
	ServoMax = 118
)

// Simulator is an in-memory throttle body.
//
// It answers get/set position like the firmware does, replies with an error
// frame to unknown commands, and can be told to drop requests to exercise
// the recovery path. It is safe for concurrent use.
type Simulator struct {
	mu sync.Mutex

	position int // degrees, what a get reports
	target   int // degrees, last commanded

	slewRate   int
	servoSteps bool

	failNext    int
	corruptNext int
	errorNext   *frame.Frame

	resetHigh bool
	closed    bool

	requests int
	resets   int
}

// SimulatorOption configures a Simulator
type SimulatorOption func(*Simulator)

// WithSlewRate limits how far the actuator moves per request (degrees).
// Zero means the actuator reaches its target immediately.
func WithSlewRate(degrees int) SimulatorOption {
	return func(s *Simulator) { s.slewRate = degrees }
}

// WithServoSteps quantizes positions through the firmware's integer servo
// mapping, so some targets read back one degree low
func WithServoSteps() SimulatorOption {
	return func(s *Simulator) { s.servoSteps = true }
}

// WithInitialPosition sets the actuator position at power up
func WithInitialPosition(degrees int) SimulatorOption {
	return func(s *Simulator) {
		s.position = clampPosition(degrees)
		s.target = s.position
	}
}

// NewSimulator creates a simulated throttle body at position 0
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send handles one request frame
func (s *Simulator) Send(req []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	s.requests++

	if s.resetHigh {
		return nil, fmt.Errorf("simulator held in reset: %w", ErrNoAck)
	}
	if s.failNext > 0 {
		s.failNext--
		return nil, fmt.Errorf("simulator: injected fault: %w", ErrNoAck)
	}
	// The firmware ignores writes of the wrong size
	if len(req) != frame.Size {
		return nil, fmt.Errorf("simulator: %d byte request ignored: %w", len(req), ErrNoAck)
	}

	s.slew()

	resp := s.handle(req)
	if s.corruptNext > 0 {
		s.corruptNext--
		return resp[:len(resp)-1], nil
	}
	return resp, nil
}

func (s *Simulator) handle(req []byte) []byte {
	if s.errorNext != nil {
		f := *s.errorNext
		s.errorNext = nil
		return frame.MustEncode(f)
	}

	request, err := frame.Decode(req, frame.KindInt32)
	if err != nil {
		return frame.MustEncode(frame.New(frame.StatusGeneric, frame.Text("bad request")))
	}

	switch request.Command {
	case frame.CmdGetPosition:
		return frame.MustEncode(frame.New(frame.StatusOK, frame.Int32s{int32(s.position)}))

	case frame.CmdSetPosition:
		v, _ := request.Int(0)
		s.target = s.quantize(clampPosition(int(v)))
		if s.slewRate <= 0 {
			s.position = s.target
		}
		return frame.MustEncode(frame.New(frame.StatusOK, frame.Empty{}))
	}

	return frame.MustEncode(frame.New(frame.StatusGeneric, frame.Text("invalid command")))
}

// slew moves the actuator one step toward its target
func (s *Simulator) slew() {
	if s.slewRate <= 0 || s.position == s.target {
		return
	}
	delta := s.target - s.position
	if delta > s.slewRate {
		delta = s.slewRate
	} else if delta < -s.slewRate {
		delta = -s.slewRate
	}
	s.position += delta
}

// quantize round trips a position through the servo pulse range using the
// same integer mapping as the firmware
func (s *Simulator) quantize(degrees int) int {
	if !s.servoSteps {
		return degrees
	}
	servo := mapRange(degrees, frame.PositionMin, frame.PositionMax, ServoMin, ServoMax)
	return mapRange(servo, ServoMin, ServoMax, frame.PositionMin, frame.PositionMax)
}

func mapRange(x, inMin, inMax, outMin, outMax int) int {
	return (x-inMin)*(outMax-outMin)/(inMax-inMin) + outMin
}

func clampPosition(p int) int {
	if p < frame.PositionMin {
		return frame.PositionMin
	}
	if p > frame.PositionMax {
		return frame.PositionMax
	}
	return p
}

// SetReset models the reset input. Releasing the line reboots the board,
// which clears any pending injected reply.
func (s *Simulator) SetReset(high bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.resetHigh && !high {
		s.resets++
		s.errorNext = nil
		s.corruptNext = 0
	}
	s.resetHigh = high
	return nil
}

// FailNext makes the next n requests go unanswered
func (s *Simulator) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// CorruptNext truncates the next n responses
func (s *Simulator) CorruptNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.corruptNext = n
}

// ErrorNext makes the next answered request return an error frame
func (s *Simulator) ErrorNext(code int8, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := frame.New(code, frame.TruncateText(message))
	s.errorNext = &f
}

// Position returns the actuator position in degrees
func (s *Simulator) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// SetPosition moves the actuator directly, as if pushed by hand
func (s *Simulator) SetPosition(degrees int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = clampPosition(degrees)
	s.target = s.position
}

// Requests returns the number of requests received
func (s *Simulator) Requests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests
}

// Resets returns the number of completed reset pulses
func (s *Simulator) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Close stops the simulator from answering
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// String describes the link for banners and logs
func (s *Simulator) String() string {
	return "Simulator"
}
