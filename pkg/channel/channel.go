// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package channel implements the command channel to the throttle body:
// request/response exchanges, classification of failures, the
// reset-and-retry recovery sequence and the communication health counter
// behind the CommIntermittent trouble code.
package channel

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/throttlestat/pkg/dtc"
	"github.com/Thermoquad/throttlestat/pkg/frame"
	"github.com/Thermoquad/throttlestat/pkg/transport"
)

// Recovery tuning
const (
	MaxAttempts      = 2
	ResetPulse       = 200 * time.Millisecond
	ResetSettle      = 2 * time.Second
	CounterIncrement = 1.0
	CounterDecay     = 0.25
	CounterThreshold = 3.0
)

// Operation names used in errors and logs
const (
	OpReadPosition = "read position"
	OpSetPosition  = "set position"
)

// Channel issues commands to the throttle body. Operations are serialized;
// the accessors may be called from any goroutine.
type Channel struct {
	mu sync.Mutex // serializes operations

	transport transport.Transport
	reset     transport.ResetLine
	register  *dtc.Register
	stats     *Statistics

	logger *slog.Logger
	sleep  func(time.Duration)
	now    func() time.Time

	counterMu sync.RWMutex
	counter   float64
}

// Option configures a Channel
type Option func(*Channel)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Channel) { c.logger = logger }
}

// WithSleep replaces time.Sleep for the recovery sequence
func WithSleep(sleep func(time.Duration)) Option {
	return func(c *Channel) { c.sleep = sleep }
}

// WithClock replaces time.Now for latency measurement
func WithClock(now func() time.Time) Option {
	return func(c *Channel) { c.now = now }
}

// New creates a command channel. A nil reset line falls back to the
// transport's own, if it has one.
func New(t transport.Transport, reset transport.ResetLine, register *dtc.Register, opts ...Option) *Channel {
	if reset == nil {
		reset = transport.ResetLineOf(t)
	}
	if register == nil {
		register = dtc.NewRegister()
	}

	c := &Channel{
		transport: t,
		reset:     reset,
		register:  register,
		stats:     NewStatistics(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:     time.Sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReadPosition returns the actuator position in degrees.
// An out-of-range report is logged and clamped to [0, 90].
func (c *Channel) ReadPosition() (int, error) {
	req := frame.MustEncode(frame.New(frame.CmdGetPosition, frame.Empty{}))

	f, err := c.exchange(OpReadPosition, req, frame.KindInt32)
	if err != nil {
		return 0, err
	}

	for _, anomaly := range frame.ValidatePosition(f) {
		c.logger.Warn("position anomaly", "detail", anomaly.Message)
	}

	pos, _ := f.Int(0)
	return Clamp(int(pos)), nil
}

// SetPosition commands the actuator to target degrees, clamped to [0, 90]
func (c *Channel) SetPosition(target int) error {
	target = Clamp(target)
	req := frame.MustEncode(frame.New(frame.CmdSetPosition, frame.Int32s{int32(target)}))

	_, err := c.exchange(OpSetPosition, req, frame.KindEmpty)
	return err
}

// exchange sends req and classifies the outcome, running the recovery
// sequence between attempts when the bus fails
func (c *Channel) exchange(op string, req []byte, kind frame.Kind) (frame.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var lastErr *TransportError
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if attempt > 1 {
			c.recover(op)
		}

		c.stats.recordRequest()
		start := c.now()
		resp, err := c.transport.Send(req)
		if err != nil {
			c.stats.recordTransportError()
			lastErr = &TransportError{Op: op, Err: err}
			c.logger.Warn("transport error", "op", op, "attempt", attempt, "error", err)
			continue
		}
		rtt := c.now().Sub(start)

		f, err := frame.Decode(resp, kind)
		if err != nil {
			c.stats.recordCorrupt()
			c.register.SetDTC(dtc.FrameCorrupt)
			c.logger.Warn("corrupt frame", "op", op, "len", len(resp), "error", err)
			return frame.Frame{}, fmt.Errorf("%s: %w", op, err)
		}

		if f.Failed() {
			c.stats.recordProtocolError()
			c.register.SetDTC(dtc.ThrottleBodyError)
			message := "<unreadable error message>"
			if text, err := frame.Decode(resp, frame.KindText); err == nil {
				message = text.Message()
			}
			c.logger.Warn("throttle body error", "op", op, "code", f.Command, "message", message)
			return frame.Frame{}, &CommandFailed{Op: op, Code: f.Command, Message: message}
		}

		c.stats.recordSuccess(rtt)
		c.register.Clear(dtc.ThrottleBodyError.Code)
		c.register.Clear(dtc.FrameCorrupt.Code)
		c.adjustCounter(-CounterDecay)
		return f, nil
	}

	c.logger.Error("command failed", "op", op, "attempts", MaxAttempts, "error", lastErr.Err)
	return frame.Frame{}, &CommandFailed{
		Op:      op,
		Code:    frame.StatusGeneric,
		Message: "no response from throttle body",
		Err:     lastErr,
	}
}

// recover pulses the reset line and waits for the throttle body to boot.
// The waits are not interruptible.
func (c *Channel) recover(op string) {
	c.logger.Warn("resetting throttle body", "op", op)

	if err := c.reset.SetReset(true); err != nil {
		c.logger.Error("reset line high failed", "error", err)
	}
	c.sleep(ResetPulse)
	if err := c.reset.SetReset(false); err != nil {
		c.logger.Error("reset line low failed", "error", err)
	}
	c.sleep(ResetSettle)

	c.stats.recordReset()
	c.adjustCounter(CounterIncrement)
}

// adjustCounter moves the health counter, floored at zero, and
// re-evaluates CommIntermittent
func (c *Channel) adjustCounter(delta float64) {
	c.counterMu.Lock()
	c.counter += delta
	if c.counter < 0 {
		c.counter = 0
	}
	active := c.counter > CounterThreshold
	value := c.counter
	c.counterMu.Unlock()

	wasActive := c.register.Has(dtc.CommIntermittent.Code)
	c.register.Update(dtc.CommIntermittent, active)
	if active != wasActive {
		c.logger.Info("comm intermittent changed", "active", active, "counter", value)
	}
}

// ResetAttempts returns the current health counter
func (c *Channel) ResetAttempts() float64 {
	c.counterMu.RLock()
	defer c.counterMu.RUnlock()
	return c.counter
}

// Statistics returns the link statistics
func (c *Channel) Statistics() *Statistics {
	return c.stats
}

// Register returns the trouble code register the channel reports into
func (c *Channel) Register() *dtc.Register {
	return c.register
}

// Clamp bounds an actuator position to [0, 90] degrees
func Clamp(pos int) int {
	if pos < frame.PositionMin {
		return frame.PositionMin
	}
	if pos > frame.PositionMax {
		return frame.PositionMax
	}
	return pos
}
