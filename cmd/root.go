// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/throttlestat/pkg/controller"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Simulated throttle body instead of hardware
	useSim bool

	// Process flags
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "throttlestat",
	Short: "Throttle-by-wire engine controller",
	Long: `Throttlestat - Throttle-by-wire engine controller.

Drives an electronically actuated throttle body: each cycle it reads the
throttle position, chooses between cruise control, manual accelerator
tracking and fuel trim, and commands a new position. Communication faults
are recovered by pulsing the actuator reset line and are reported as
diagnostic trouble codes.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host:8081/bus [--username user]
  Simulated: --sim

For WebSocket authentication, the password is read from the
THROTTLESTAT_PASSWORD environment variable, or prompted interactively if not
set. The --password flag is intentionally not provided to avoid leaking
credentials in shell history.

Controller calibration is read from --config (YAML); keys that are left out
keep their defaults.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket bridge URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().BoolVar(&useSim, "sim", false, "Use an in-process simulated throttle body")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Controller calibration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text, json")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExitError carries a process exit code out of a command, so the command's
// deferred cleanup runs before the process exits
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// newLogger builds the process logger from --log-level and --log-format
func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", logLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q (use text or json)", logFormat)
	}
}

// loadControllerConfig reads --config, or returns the defaults
func loadControllerConfig() (controller.Config, error) {
	if configPath == "" {
		return controller.DefaultConfig(), nil
	}
	return controller.LoadConfig(configPath)
}
