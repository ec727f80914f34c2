// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Thermoquad/throttlestat/pkg/transport"
)

// passwordEnv holds the WebSocket password
const passwordEnv = "THROTTLESTAT_PASSWORD"

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenTransport opens the throttle body link selected by the connection
// flags. Every exchange is logged at debug level. readTimeout bounds a single
// exchange; zero keeps the transport default.
func OpenTransport(logger *slog.Logger, readTimeout time.Duration) (transport.Transport, string, error) {
	t, info, err := openRawTransport(readTimeout)
	if err != nil {
		return nil, "", err
	}
	return transport.NewLogged(t, logger, slog.LevelDebug), info, nil
}

func openRawTransport(readTimeout time.Duration) (transport.Transport, string, error) {
	if useSim {
		sim := transport.NewSimulator(transport.WithServoSteps())
		return sim, sim.String(), nil
	}

	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		ws, err := transport.DialWebSocket(wsURL, transport.WebSocketOptions{
			Username:      wsUsername,
			Password:      password,
			SkipSSLVerify: wsNoSSLVerify,
			Timeout:       readTimeout,
		})
		if err != nil {
			return nil, "", err
		}
		return ws, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		if readTimeout <= 0 {
			readTimeout = transport.DefaultReadTimeout
		}
		port, err := transport.OpenSerial(portName, baudRate, readTimeout)
		if err != nil {
			return nil, "", err
		}
		return port, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("one of --port, --url or --sim must be specified")
}
