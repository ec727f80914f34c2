// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/throttlestat/pkg/channel"
	"github.com/Thermoquad/throttlestat/pkg/dtc"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the throttle body link with repeated position reads",
	Long: `Send GET_POSITION requests to the throttle body and report round trips.

Each ping is a full command channel operation: a transport failure pulses
the reset line and retries once before the ping is counted as failed. Run
with --log-level debug to see every frame on the wire.

This is useful for verifying:
  - The serial port or WebSocket bridge is reachable
  - HTTP Basic authentication works
  - The actuator firmware answers
  - Link latency and reset recovery

Exit codes:
  0 - All pings successful
  1 - One or more pings failed
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 1, "Timeout in seconds for each exchange")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}

	link, connInfo, err := OpenTransport(logger, time.Duration(pingTimeout)*time.Second)
	if err != nil {
		return &ExitError{Code: 2, Err: fmt.Errorf("connection error: %w", err)}
	}
	defer link.Close()

	register := dtc.NewRegister()
	ch := channel.New(link, nil, register, channel.WithLogger(logger))

	fmt.Printf("Throttlestat - Link Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per exchange\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		position, err := ch.ReadPosition()
		rtt := time.Since(startTime)

		if err != nil {
			var failed *channel.CommandFailed
			switch {
			case errors.As(err, &failed) && failed.Err == nil:
				fmt.Printf("ERROR %d: %s\n", failed.Code, failed.Message)
			default:
				fmt.Printf("FAILED: %v\n", err)
			}
			failCount++
		} else {
			fmt.Printf("position=%d°, rtt=%v\n", position, rtt.Round(time.Microsecond))
			successCount++
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	stats := ch.Statistics().Snapshot()
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% loss\n\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	tableData := pterm.TableData{
		{"Metric", "Value"},
		{"Exchanges", fmt.Sprintf("%d", stats.Requests)},
		{"Successful", fmt.Sprintf("%d (%.1f%%)", stats.Successes, stats.SuccessRate())},
		{"Transport errors", fmt.Sprintf("%d", stats.TransportErrors)},
		{"Protocol errors", fmt.Sprintf("%d", stats.ProtocolErrors)},
		{"Corrupt frames", fmt.Sprintf("%d", stats.CorruptFrames)},
		{"Reset pulses", fmt.Sprintf("%d", stats.Resets)},
		{"Reset counter", fmt.Sprintf("%.2f", ch.ResetAttempts())},
	}
	if stats.Samples > 0 {
		tableData = append(tableData,
			[]string{"Latency mean", fmt.Sprintf("%.2f ms", stats.LatencyMean)},
			[]string{"Latency stddev", fmt.Sprintf("%.2f ms", stats.LatencyStdDev)},
			[]string{"Latency min/max", fmt.Sprintf("%.2f / %.2f ms", stats.LatencyMin, stats.LatencyMax)},
		)
	}
	pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()

	for _, d := range register.List() {
		pterm.Warning.Println(d.String())
	}

	if failCount > 0 {
		return &ExitError{Code: 1, Err: fmt.Errorf("%d of %d pings failed", failCount, pingCount)}
	}
	return nil
}
