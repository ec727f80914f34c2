// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package pid implements the discrete PID controller used by the control loop.
//
// The proportional term acts on the error, the integral accumulates
// Ki*error*dt, and the derivative acts on the measurement (not the error) so
// setpoint changes do not kick the output. The first update after
// construction has no derivative contribution. There is no output limit and
// no anti-windup: the caller bounds the command.
package pid

import "time"

// minDT stands in for a zero or negative time step
const minDT = 1e-16

// Gains holds the controller tuning
type Gains struct {
	Kp float64 `yaml:"kp"`
	Ki float64 `yaml:"ki"`
	Kd float64 `yaml:"kd"`
}

// Controller is a PID controller with persistent state. The state lives as
// long as the controller; there is no reset. Not safe for concurrent use.
type Controller struct {
	gains    Gains
	setpoint float64

	// State
	integral  float64
	lastInput float64
	lastError float64
	lastP     float64
	lastD     float64
	hasLast   bool
}

// New creates a controller with the given gains and setpoint
func New(gains Gains, setpoint float64) *Controller {
	return &Controller{gains: gains, setpoint: setpoint}
}

// Gains returns the controller tuning
func (c *Controller) Gains() Gains {
	return c.gains
}

// Setpoint returns the current target
func (c *Controller) Setpoint() float64 {
	return c.setpoint
}

// SetSetpoint changes the target without touching the accumulated state
func (c *Controller) SetSetpoint(setpoint float64) {
	c.setpoint = setpoint
}

// Update computes the control output for a measurement taken dt seconds
// after the previous one
func (c *Controller) Update(input, dt float64) float64 {
	if dt <= 0 {
		dt = minDT
	}

	err := c.setpoint - input

	dInput := 0.0
	if c.hasLast {
		dInput = input - c.lastInput
	}

	c.lastP = c.gains.Kp * err
	c.integral += c.gains.Ki * err * dt
	c.lastD = -c.gains.Kd * dInput / dt

	c.lastInput = input
	c.lastError = err
	c.hasLast = true

	return c.lastP + c.integral + c.lastD
}

// UpdateDuration is Update with the time step as a duration
func (c *Controller) UpdateDuration(input float64, dt time.Duration) float64 {
	return c.Update(input, dt.Seconds())
}

// Diagnostics returns the terms of the most recent update
func (c *Controller) Diagnostics() Diagnostics {
	return Diagnostics{
		Setpoint: c.setpoint,
		Error:    c.lastError,
		P:        c.lastP,
		I:        c.integral,
		D:        c.lastD,
	}
}

// Diagnostics contains PID internal state for monitoring
type Diagnostics struct {
	Setpoint float64
	Error    float64
	P        float64
	I        float64
	D        float64
}
