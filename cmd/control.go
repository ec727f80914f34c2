// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/throttlestat/pkg/controller"
	"github.com/Thermoquad/throttlestat/pkg/telemetry"
)

var (
	controlInterval time.Duration
	controlListen   string
	controlLogFile  string
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Run the controller with an interactive TUI",
	Long: `Run the engine control loop and drive it from a terminal UI.

The TUI shows the driver inputs, the modelled vehicle state, link health and
active trouble codes, and logs mode changes and DTC transitions.

Keys:
  ↑/↓ (k/j)  accelerator +/- 5%
  c          toggle cruise control
  +/-        cruise target +/- 5 mph
  tab        type a cruise target, enter to set, esc to cancel
  q          quit

Logs would garble the screen, so they go to --log-file (or nowhere).
With --listen the telemetry hub is served alongside, so other dashboards
can watch the same controller.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().DurationVar(&controlInterval, "interval", 0, "Cycle interval (overrides the calibration file)")
	controlCmd.Flags().StringVar(&controlListen, "listen", "", "Also serve the telemetry hub on this address")
	controlCmd.Flags().StringVar(&controlLogFile, "log-file", "", "Write logs to this file")
}

// localBackend applies requests straight to an in-process controller
type localBackend struct {
	ctrl *controller.Controller
}

func (b localBackend) Apply(r telemetry.SetRequest) error {
	telemetry.Apply(b.ctrl, r)
	return nil
}

func runControl(cmd *cobra.Command, args []string) error {
	var logOut io.Writer = io.Discard
	if controlLogFile != "" {
		f, err := os.OpenFile(controlLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		logOut = f
	}
	logger, err := newLogger(logOut)
	if err != nil {
		return err
	}

	s, err := openStack(logger, controlInterval)
	if err != nil {
		return err
	}
	defer s.Close()

	hub := telemetry.NewHub(s.controller,
		telemetry.WithLink(s.channel),
		telemetry.WithHubLogger(logger),
	)

	m := initialDashboardModel("THROTTLESTAT CONTROL", localBackend{ctrl: s.controller}, s.info)
	p := tea.NewProgram(m, tea.WithAltScreen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.controller.Run(ctx)
	})

	// Feed the TUI once per cycle
	g.Go(func() error {
		ticker := time.NewTicker(s.controller.Config().Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				p.Send(snapshotMsg(hub.Snapshot()))
			}
		}
	})

	if controlListen != "" {
		srv := &http.Server{
			Addr:              controlListen,
			Handler:           hub.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			return hub.Run(ctx)
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				p.Send(applyErrMsg{err: fmt.Errorf("telemetry server: %w", err)})
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelShutdown()
			return srv.Shutdown(shutdownCtx)
		})
	}

	_, tuiErr := p.Run()

	// The cycle in progress finishes before the link is closed
	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if tuiErr != nil {
		return fmt.Errorf("TUI error: %w", tuiErr)
	}

	fmt.Print(s.channel.Statistics().Snapshot().String())
	return nil
}
