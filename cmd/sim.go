// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/throttlestat/pkg/transport"
)

var (
	simListen     string
	simSlewRate   int
	simServoSteps bool
	simInitial    int
	simUsername   string
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Serve a simulated throttle body over WebSocket",
	Long: `Serve an in-memory throttle body on /bus for development without hardware.

The simulator answers get/set position like the actuator firmware, replies
with an error frame to unknown commands, and honours the reset line. Point
any other command at it with --url ws://localhost:8081/bus.

Set --username to require HTTP Basic auth; the password is read from
THROTTLESTAT_PASSWORD or prompted interactively.`,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().StringVar(&simListen, "listen", ":8081", "Listen address")
	simCmd.Flags().IntVar(&simSlewRate, "slew", 0, "Maximum degrees moved per request (0 = instant)")
	simCmd.Flags().BoolVar(&simServoSteps, "servo-steps", true, "Quantize positions like the servo pulse mapping")
	simCmd.Flags().IntVar(&simInitial, "initial", 0, "Initial throttle position in degrees")
	simCmd.Flags().StringVar(&simUsername, "username", "", "Require HTTP Basic auth")
}

func runSim(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}

	simOpts := []transport.SimulatorOption{
		transport.WithSlewRate(simSlewRate),
		transport.WithInitialPosition(simInitial),
	}
	if simServoSteps {
		simOpts = append(simOpts, transport.WithServoSteps())
	}
	sim := transport.NewSimulator(simOpts...)
	defer sim.Close()

	bridgeOpts := []transport.BridgeOption{transport.WithBridgeLogger(logger)}
	if simUsername != "" {
		password, err := GetPassword()
		if err != nil {
			return err
		}
		bridgeOpts = append(bridgeOpts, transport.WithBasicAuth(simUsername, password))
	}

	mux := http.NewServeMux()
	mux.Handle("/bus", transport.NewBridge(sim, bridgeOpts...))

	srv := &http.Server{
		Addr:              simListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	fmt.Printf("Throttlestat - Throttle Body Simulator\n")
	fmt.Printf("Listening: ws://%s/bus\n", simListen)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("simulator server: %w", err)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}

	fmt.Printf("\nServed %d requests, %d resets, final position %d°\n",
		sim.Requests(), sim.Resets(), sim.Position())
	return nil
}
