// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/throttlestat/pkg/channel"
	"github.com/Thermoquad/throttlestat/pkg/controller"
	"github.com/Thermoquad/throttlestat/pkg/dtc"
	"github.com/Thermoquad/throttlestat/pkg/telemetry"
	"github.com/Thermoquad/throttlestat/pkg/transport"
)

// hubPasswordEnv holds the telemetry hub password
const hubPasswordEnv = "THROTTLESTAT_HUB_PASSWORD"

var (
	runInterval        time.Duration
	runListen          string
	runPublishInterval time.Duration
	runHubUsername     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the controller headless",
	Long: `Run the engine control loop without a user interface.

The loop runs until interrupted (Ctrl+C or SIGTERM). The cycle in progress
always completes before the process exits and the link is closed.

With --listen the telemetry hub is served as well:
  /ws         CBOR snapshots pushed every --publish-interval; accepts
              CBOR set requests (accelerator, cruise enable, cruise target)
  /api/state  JSON snapshot on GET, JSON set request on POST

Set --hub-username to require HTTP Basic auth on the hub; the password is
read from THROTTLESTAT_HUB_PASSWORD.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().DurationVar(&runInterval, "interval", 0, "Cycle interval (overrides the calibration file)")
	runCmd.Flags().StringVar(&runListen, "listen", ":8080", "Telemetry hub address (empty disables)")
	runCmd.Flags().DurationVar(&runPublishInterval, "publish-interval", telemetry.DefaultPublishInterval, "Telemetry publish interval")
	runCmd.Flags().StringVar(&runHubUsername, "hub-username", "", "Require HTTP Basic auth on the hub")
}

// stack is one controller wired to one throttle body link
type stack struct {
	link       transport.Transport
	info       string
	register   *dtc.Register
	channel    *channel.Channel
	controller *controller.Controller
}

// openStack loads the calibration, opens the link and builds the controller
func openStack(logger *slog.Logger, interval time.Duration) (*stack, error) {
	cfg, err := loadControllerConfig()
	if err != nil {
		return nil, err
	}
	if interval > 0 {
		cfg.Interval = interval
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	link, info, err := OpenTransport(logger, 0)
	if err != nil {
		return nil, err
	}

	register := dtc.NewRegister()
	ch := channel.New(link, nil, register, channel.WithLogger(logger))
	ctrl := controller.New(cfg, ch, register, controller.WithLogger(logger))

	return &stack{
		link:       link,
		info:       info,
		register:   register,
		channel:    ch,
		controller: ctrl,
	}, nil
}

func (s *stack) Close() error {
	return s.link.Close()
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}

	hubPassword, err := hubCredentials()
	if err != nil {
		return err
	}

	s, err := openStack(logger, runInterval)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := s.controller.Config()
	fmt.Printf("Throttlestat - Engine Controller\n")
	fmt.Printf("Connection: %s\n", s.info)
	fmt.Printf("Interval: %v\n", cfg.Interval)
	if runListen != "" {
		fmt.Printf("Telemetry: http://%s/api/state, ws://%s/ws\n", runListen, runListen)
	}
	fmt.Printf("Press Ctrl+C to stop\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.controller.Run(ctx)
	})

	if runListen != "" {
		hubOpts := []telemetry.HubOption{
			telemetry.WithLink(s.channel),
			telemetry.WithPublishInterval(runPublishInterval),
			telemetry.WithHubLogger(logger),
		}
		if runHubUsername != "" {
			hubOpts = append(hubOpts, telemetry.WithAuth(runHubUsername, hubPassword))
		}
		hub := telemetry.NewHub(s.controller, hubOpts...)

		srv := &http.Server{
			Addr:              runListen,
			Handler:           hub.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			return hub.Run(ctx)
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("telemetry server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()

	fmt.Printf("\n")
	fmt.Print(s.channel.Statistics().Snapshot().String())
	for _, d := range s.register.List() {
		fmt.Printf("Active DTC: %s\n", d)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// hubCredentials reads the hub password when --hub-username is set
func hubCredentials() (string, error) {
	if runHubUsername == "" || runListen == "" {
		return "", nil
	}
	password := os.Getenv(hubPasswordEnv)
	if password == "" {
		return "", fmt.Errorf("--hub-username requires %s", hubPasswordEnv)
	}
	return password, nil
}
