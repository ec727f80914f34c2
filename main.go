// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Throttlestat - Throttle-by-wire engine controller
//
// Runs the throttle control loop against a serial, WebSocket or simulated
// throttle body and serves its state to dashboards.

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Thermoquad/throttlestat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
