// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/throttlestat/pkg/channel"
	"github.com/Thermoquad/throttlestat/pkg/dtc"
	"github.com/Thermoquad/throttlestat/pkg/frame"
)

var actuatorCmd = &cobra.Command{
	Use:   "actuator",
	Short: "One-shot throttle body commands",
	Long: `Read or command the throttle body directly, bypassing the control loop.

Both operations go through the command channel, so a transport failure
pulses the reset line and retries once. Targets are clamped to 0-90 degrees.`,
}

var actuatorGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Read the throttle position",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withChannel(func(ch *channel.Channel) error {
			position, err := ch.ReadPosition()
			if err != nil {
				return err
			}
			pterm.Success.Printf("Throttle position: %d°\n", position)
			return nil
		})
	},
}

var actuatorSetCmd = &cobra.Command{
	Use:   "set <degrees>",
	Short: "Command a throttle position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid position %q: %w", args[0], err)
		}
		if clamped := channel.Clamp(target); clamped != target {
			pterm.Warning.Printf("Target %d° clamped to %d° (range %d-%d)\n",
				target, clamped, frame.PositionMin, frame.PositionMax)
		}

		return withChannel(func(ch *channel.Channel) error {
			if err := ch.SetPosition(target); err != nil {
				return err
			}
			pterm.Success.Printf("Throttle commanded to %d°\n", channel.Clamp(target))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(actuatorCmd)
	actuatorCmd.AddCommand(actuatorGetCmd)
	actuatorCmd.AddCommand(actuatorSetCmd)
}

// withChannel opens the link, runs fn, then reports link health
func withChannel(fn func(*channel.Channel) error) error {
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}

	link, connInfo, err := OpenTransport(logger, 0)
	if err != nil {
		return err
	}
	defer link.Close()

	register := dtc.NewRegister()
	ch := channel.New(link, nil, register, channel.WithLogger(logger))

	pterm.Info.Printf("Connection: %s\n", connInfo)
	opErr := fn(ch)
	if opErr != nil {
		pterm.Error.Printf("%v\n", opErr)
	}

	if ch.ResetAttempts() > 0 {
		pterm.Warning.Printf("Link recovered with reset counter at %.2f\n", ch.ResetAttempts())
	}
	for _, d := range register.List() {
		pterm.Warning.Println(d.String())
	}
	return opErr
}
