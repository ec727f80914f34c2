// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package controller

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/throttlestat/pkg/pid"
)

// Config is the controller calibration. It is copied at construction and
// never changes afterwards.
type Config struct {
	Cruise   pid.Gains `yaml:"cruise"`
	Throttle pid.Gains `yaml:"throttle"`
	FuelTrim pid.Gains `yaml:"fuel_trim"`

	// AcceleratorDeadband is how far (degrees) the actuator may sit from
	// the accelerator demand before manual tracking takes over
	AcceleratorDeadband float64 `yaml:"accelerator_deadband"`

	// CruiseDeadband (mph) holds the throttle while the speed error is
	// inside the band. Zero disables it.
	CruiseDeadband float64 `yaml:"cruise_deadband"`

	// MaxStep bounds the per-cycle throttle change in degrees. Zero means unbounded.
	MaxStep int `yaml:"max_step"`

	Interval time.Duration `yaml:"interval"`

	// Stoichiometric is the mass-air-flow reference the fuel trim holds
	Stoichiometric float64 `yaml:"stoichiometric"`

	Model Model `yaml:"model"`
}

// DefaultConfig returns the stock calibration
func DefaultConfig() Config {
	return Config{
		Cruise:              pid.Gains{Kp: 3.0, Ki: 0.03, Kd: 0.6},
		Throttle:            pid.Gains{Kp: 1.0, Ki: 0.01, Kd: 0.1},
		FuelTrim:            pid.Gains{Kp: 4.0, Ki: 0.01, Kd: 0.1},
		AcceleratorDeadband: 5,
		CruiseDeadband:      0,
		MaxStep:             0,
		Interval:            300 * time.Millisecond,
		Stoichiometric:      14.7,
		Model:               DefaultModel(),
	}
}

// Validate rejects negative gains, bands and steps and a non-positive interval
func (c Config) Validate() error {
	var errs []error

	gains := []struct {
		name string
		g    pid.Gains
	}{
		{"cruise", c.Cruise},
		{"throttle", c.Throttle},
		{"fuel_trim", c.FuelTrim},
	}
	for _, e := range gains {
		if e.g.Kp < 0 || e.g.Ki < 0 || e.g.Kd < 0 {
			errs = append(errs, fmt.Errorf("%s gains must not be negative (kp=%g ki=%g kd=%g)", e.name, e.g.Kp, e.g.Ki, e.g.Kd))
		}
	}
	if c.AcceleratorDeadband < 0 {
		errs = append(errs, fmt.Errorf("accelerator_deadband must not be negative (%g)", c.AcceleratorDeadband))
	}
	if c.CruiseDeadband < 0 {
		errs = append(errs, fmt.Errorf("cruise_deadband must not be negative (%g)", c.CruiseDeadband))
	}
	if c.MaxStep < 0 {
		errs = append(errs, fmt.Errorf("max_step must not be negative (%d)", c.MaxStep))
	}
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("interval must be positive (%s)", c.Interval))
	}
	if c.Stoichiometric < 0 {
		errs = append(errs, fmt.Errorf("stoichiometric must not be negative (%g)", c.Stoichiometric))
	}
	if err := c.Model.Validate(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid controller config: %w", errors.Join(errs...))
	}
	return nil
}

// LoadConfig reads a YAML calibration file over DefaultConfig.
// Keys missing from the file keep their defaults; unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	return ParseConfig(f)
}

// ParseConfig is LoadConfig for an already open reader
func ParseConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
