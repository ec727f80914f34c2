// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/throttlestat/pkg/frame"
)

var (
	monitorShowAll       bool
	monitorStatsInterval int
	monitorRate          time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll the throttle position and flag bad responses",
	Long: `Send GET_POSITION at a fixed rate and check every raw response.

Unlike the control loop, the monitor never resets the throttle body: each
request is a single exchange, so the output shows the link as it is. It
detects:
  - Transport failures (no or short response)
  - Corrupt frames
  - Error status replies from the firmware
  - Anomalous responses (position out of range, stray payload data)

By default, only problems are displayed. Use --show-all to display every
frame. A statistics summary is printed every --stats-interval seconds.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&monitorShowAll, "show-all", false, "Show all frames (not just errors)")
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().DurationVar(&monitorRate, "rate", 300*time.Millisecond, "Polling interval")
}

// monitorStats counts raw exchange outcomes
type monitorStats struct {
	start      time.Time
	total      int
	valid      int
	transport  int
	corrupt    int
	statusErrs int
	anomalous  int
}

func (s *monitorStats) String() string {
	elapsed := time.Since(s.start)
	result := fmt.Sprintf("=== Monitor Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Requests:         %8d (%.1f/s)\n", s.total, float64(s.total)/elapsed.Seconds())
	if s.total > 0 {
		result += fmt.Sprintf("Valid:            %8d (%.1f%%)\n", s.valid, float64(s.valid)*100/float64(s.total))
	}
	result += fmt.Sprintf("Transport Errors: %8d\n", s.transport)
	result += fmt.Sprintf("Corrupt Frames:   %8d\n", s.corrupt)
	result += fmt.Sprintf("Status Errors:    %8d\n", s.statusErrs)
	result += fmt.Sprintf("Anomalous:        %8d\n", s.anomalous)
	result += "=======================================\n"
	return result
}

func runMonitor(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(os.Stderr)
	if err != nil {
		return err
	}

	link, connInfo, err := OpenTransport(logger, 0)
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Printf("Throttlestat - Link Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", monitorStatsInterval)
	if monitorShowAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	request := frame.MustEncode(frame.New(frame.CmdGetPosition, frame.Empty{}))
	stats := &monitorStats{start: time.Now()}

	pollTicker := time.NewTicker(monitorRate)
	defer pollTicker.Stop()
	statsTicker := time.NewTicker(time.Duration(monitorStatsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n")
			fmt.Print(stats.String())
			return nil

		case <-statsTicker.C:
			fmt.Print(stats.String())
			fmt.Printf("\n")

		case <-pollTicker.C:
			stats.total++
			timestamp := time.Now().Format("15:04:05.000")

			resp, err := link.Send(request)
			if err != nil {
				stats.transport++
				fmt.Printf("[%s] \033[1;31mTRANSPORT ERROR:\033[0m %v\n\n", timestamp, err)
				continue
			}

			f, err := frame.Decode(resp, frame.KindInt32)
			if err != nil {
				stats.corrupt++
				fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
				fmt.Printf("  %s\n\n", frame.HexDump(resp))
				continue
			}

			if f.Failed() {
				stats.statusErrs++
				message := "<unreadable>"
				if text, err := frame.Decode(resp, frame.KindText); err == nil {
					message = text.Message()
				}
				fmt.Printf("[%s] \033[1;31mSTATUS ERROR:\033[0m %s %q\n\n",
					timestamp, frame.FormatCommand(f.Command), message)
				continue
			}

			anomalies := frame.ValidatePosition(f)
			if len(anomalies) > 0 {
				stats.anomalous++
				fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s\n", timestamp, frame.FormatFrame(f))
				for i, a := range anomalies {
					fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, a.Message)
				}
				fmt.Printf("\n")
				continue
			}

			stats.valid++
			if monitorShowAll {
				fmt.Printf("[%s] %s\n", timestamp, frame.FormatFrame(f))
			}
		}
	}
}
