// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/Thermoquad/throttlestat/pkg/frame"
)

// Model is the simplified vehicle acceleration curve used while cruising.
//
// With x the throttle opening in [0, 1], the drive term is
// MaxAcceleration * (c1*x + c2*x^2 + c3*x^3 + c4*x^4) and Drag is subtracted
// from it. Both are in mph per second.
type Model struct {
	MaxAcceleration float64    `yaml:"max_acceleration"`
	Drag            float64    `yaml:"drag"`
	Curve           [4]float64 `yaml:"curve"`
}

// DefaultModel returns a curve that rises steeply from closed throttle and
// flattens toward wide open. At the default 300 ms interval it gains 10 mph
// per cycle wide open and loses 2 mph per cycle closed.
func DefaultModel() Model {
	return Model{
		MaxAcceleration: 40,
		Drag:            20.0 / 3.0,
		Curve:           [4]float64{2.2, -1.6, 0.6, -0.2},
	}
}

// Validate checks the model constants
func (m Model) Validate() error {
	if m.MaxAcceleration < 0 {
		return fmt.Errorf("model max_acceleration must not be negative (%g)", m.MaxAcceleration)
	}
	if m.Drag < 0 {
		return fmt.Errorf("model drag must not be negative (%g)", m.Drag)
	}
	if sum := floats.Sum(m.Curve[:]); math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("model curve must reach 1 at wide open throttle (sums to %g)", sum)
	}
	return nil
}

// Shape evaluates the curve at opening x, clamped to [0, 1]
func (m Model) Shape(x float64) float64 {
	x = math.Max(0, math.Min(1, x))
	powers := []float64{x, x * x, x * x * x, x * x * x * x}
	return floats.Dot(m.Curve[:], powers)
}

// Acceleration returns mph per second for an actuator position in degrees
func (m Model) Acceleration(position int) float64 {
	x := float64(position) / float64(frame.PositionMax)
	return m.MaxAcceleration*m.Shape(x) - m.Drag
}

// Advance returns the speed after dt at the given position, never below zero
func (m Model) Advance(speed float64, position int, dt time.Duration) float64 {
	speed += m.Acceleration(position) * dt.Seconds()
	if speed < 0 {
		return 0
	}
	return speed
}
