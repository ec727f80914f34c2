// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package controller implements the engine control loop: once per cycle it
// reads the throttle actuator, arbitrates between cruise control, manual
// accelerator tracking and fuel trim, and commands a new throttle position.
package controller

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/throttlestat/pkg/dtc"
	"github.com/Thermoquad/throttlestat/pkg/frame"
	"github.com/Thermoquad/throttlestat/pkg/pid"
)

// Speed limits in mph
const (
	MinSpeed = 0
	MaxSpeed = 100
)

// Actuator is the throttle body as seen through the command channel
type Actuator interface {
	ReadPosition() (int, error)
	SetPosition(target int) error
}

// Sensors supplies the engine inputs the loop samples each cycle
type Sensors interface {
	MassAirFlow() float64
}

// StaticSensors reports a fixed mass-air-flow reading
type StaticSensors struct {
	MAF float64
}

// MassAirFlow returns the fixed reading
func (s StaticSensors) MassAirFlow() float64 {
	return s.MAF
}

// Mode is the control objective selected for a cycle
type Mode int

const (
	ModeIdle Mode = iota // no cycle has run yet
	ModeCruise
	ModeManual
	ModeFuelTrim
)

// String returns the mode name shown on the dashboard
func (m Mode) String() string {
	switch m {
	case ModeCruise:
		return "cruise"
	case ModeManual:
		return "manual"
	case ModeFuelTrim:
		return "fuel-trim"
	default:
		return "idle"
	}
}

// Cycle describes what one Step did
type Cycle struct {
	Mode     Mode
	Position int     // actuator position the cycle started from
	Output   float64 // raw PID output
	Command  int     // position sent to the actuator, before clamping
	ReadErr  error
	SetErr   error
}

// State is a consistent copy of the controller's telemetry values
type State struct {
	AcceleratorPosition float64
	CruiseEnabled       bool
	CruiseTargetSpeed   int
	CurrentSpeed        int
	ThrottlePosition    int
	MassAirFlow         float64
	Mode                Mode
	DTCs                []dtc.DTC
}

// Controller runs the control loop. Step and Run must be driven from a
// single goroutine; accessors and setters may be called from any goroutine.
type Controller struct {
	cfg      Config
	actuator Actuator
	register *dtc.Register
	logger   *slog.Logger

	// Only touched by Step
	stepMu      sync.Mutex
	cruisePID   *pid.Controller
	throttlePID *pid.Controller
	fuelPID     *pid.Controller

	mu            sync.RWMutex
	accelerator   float64
	cruiseEnabled bool
	cruiseTarget  int
	speed         float64
	position      int
	maf           float64
	mode          Mode
	sensors       Sensors
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithSensors sets the engine input source
func WithSensors(s Sensors) Option {
	return func(c *Controller) { c.sensors = s }
}

// New creates a controller. The config is assumed valid; see Config.Validate.
func New(cfg Config, actuator Actuator, register *dtc.Register, opts ...Option) *Controller {
	if register == nil {
		register = dtc.NewRegister()
	}

	c := &Controller{
		cfg:         cfg,
		actuator:    actuator,
		register:    register,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		cruisePID:   pid.New(cfg.Cruise, 0),
		throttlePID: pid.New(cfg.Throttle, 0),
		fuelPID:     pid.New(cfg.FuelTrim, cfg.Stoichiometric),
		maf:         cfg.Stoichiometric,
		sensors:     StaticSensors{MAF: cfg.Stoichiometric},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes cycles until ctx is cancelled. Cancellation is observed
// between cycles; a cycle in progress always completes. Errors inside a
// cycle are logged and never end the loop.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("control loop started", "interval", c.cfg.Interval)
	defer c.logger.Info("control loop stopped")

	timer := time.NewTimer(c.cfg.Interval)
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.Step()

		timer.Reset(c.cfg.Interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Step runs exactly one control cycle
func (c *Controller) Step() Cycle {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	var cycle Cycle

	// 1. Actuator position; keep the last known value on failure
	c.mu.RLock()
	position := c.position
	sensors := c.sensors
	c.mu.RUnlock()

	if p, err := c.actuator.ReadPosition(); err != nil {
		cycle.ReadErr = err
		c.logger.Warn("read position failed, using last known", "position", position, "error", err)
	} else {
		position = p
	}
	cycle.Position = position

	// 2. Engine inputs
	maf := sensors.MassAirFlow()

	c.mu.Lock()
	c.position = position
	c.maf = maf
	accelerator := c.accelerator
	cruiseEnabled := c.cruiseEnabled
	cruiseTarget := c.cruiseTarget
	speed := c.speed
	c.mu.Unlock()

	// 3. Arbitration, strict priority
	demand := accelerator * frame.PositionMax

	var active *pid.Controller
	hold := false
	switch {
	case cruiseEnabled:
		cycle.Mode = ModeCruise
		speed = c.cfg.Model.Advance(speed, position, c.cfg.Interval)
		c.register.Update(dtc.SpeedOutOfRange, speed > MaxSpeed)

		active = c.cruisePID
		active.SetSetpoint(float64(cruiseTarget))
		cycle.Output = active.UpdateDuration(speed, c.cfg.Interval)
		if c.cfg.CruiseDeadband > 0 && math.Abs(float64(cruiseTarget)-speed) <= c.cfg.CruiseDeadband {
			hold = true
		}

	case math.Abs(float64(position)-demand) > c.cfg.AcceleratorDeadband:
		cycle.Mode = ModeManual
		active = c.throttlePID
		active.SetSetpoint(demand)
		cycle.Output = active.UpdateDuration(float64(position), c.cfg.Interval)

	default:
		cycle.Mode = ModeFuelTrim
		active = c.fuelPID
		cycle.Output = active.UpdateDuration(maf, c.cfg.Interval)
	}

	// 4. Command: truncate toward zero, then the optional step bound
	step := int(cycle.Output)
	if hold {
		step = 0
	}
	if c.cfg.MaxStep > 0 {
		step = max(-c.cfg.MaxStep, min(c.cfg.MaxStep, step))
	}
	cycle.Command = position + step

	c.mu.Lock()
	c.mode = cycle.Mode
	c.speed = speed
	c.mu.Unlock()

	terms := active.Diagnostics()
	c.logger.Debug("control cycle",
		"mode", cycle.Mode.String(),
		"position", position,
		"setpoint", terms.Setpoint,
		"p", terms.P,
		"i", terms.I,
		"d", terms.D,
		"output", cycle.Output,
		"command", cycle.Command,
		"speed", speed,
	)

	if err := c.actuator.SetPosition(cycle.Command); err != nil {
		cycle.SetErr = err
		c.logger.Warn("set position failed", "command", cycle.Command, "error", err)
	}

	return cycle
}

// AcceleratorPosition returns the driver demand in [0, 1]
func (c *Controller) AcceleratorPosition() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accelerator
}

// SetAcceleratorPosition sets the driver demand, clamped to [0, 1]
func (c *Controller) SetAcceleratorPosition(pos float64) {
	if math.IsNaN(pos) {
		pos = 0
	}
	pos = math.Max(0, math.Min(1, pos))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.accelerator = pos
}

// CruiseEnabled reports whether cruise control is engaged
func (c *Controller) CruiseEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cruiseEnabled
}

// SetCruiseEnabled engages or releases cruise control
func (c *Controller) SetCruiseEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cruiseEnabled = enabled
}

// CruiseTargetSpeed returns the cruise set speed in mph
func (c *Controller) CruiseTargetSpeed() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cruiseTarget
}

// SetCruiseTargetSpeed sets the cruise set speed, clamped to [0, 100] mph
func (c *Controller) SetCruiseTargetSpeed(speed int) {
	speed = max(MinSpeed, min(MaxSpeed, speed))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cruiseTarget = speed
}

// CurrentSpeed returns the modelled vehicle speed in whole mph
func (c *Controller) CurrentSpeed() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return int(math.Round(c.speed))
}

// ThrottlePosition returns the last known actuator position in degrees
func (c *Controller) ThrottlePosition() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position
}

// MassAirFlow returns the most recent mass-air-flow sample
func (c *Controller) MassAirFlow() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maf
}

// SetMassAirFlow replaces the input source with a fixed reading
func (c *Controller) SetMassAirFlow(maf float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sensors = StaticSensors{MAF: maf}
}

// Mode returns the mode chosen by the most recent cycle
func (c *Controller) Mode() Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// DTCs returns a snapshot of the active trouble codes
func (c *Controller) DTCs() []dtc.DTC {
	return c.register.List()
}

// State returns all telemetry values read under one lock
func (c *Controller) State() State {
	c.mu.RLock()
	s := State{
		AcceleratorPosition: c.accelerator,
		CruiseEnabled:       c.cruiseEnabled,
		CruiseTargetSpeed:   c.cruiseTarget,
		CurrentSpeed:        int(math.Round(c.speed)),
		ThrottlePosition:    c.position,
		MassAirFlow:         c.maf,
		Mode:                c.mode,
	}
	c.mu.RUnlock()

	s.DTCs = c.register.List()
	return s
}

// Config returns the controller calibration
func (c *Controller) Config() Config {
	return c.cfg
}
