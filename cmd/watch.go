// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/throttlestat/pkg/telemetry"
)

var watchHubURL string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch and drive a remote controller through its telemetry hub",
	Long: `Connect to the telemetry hub of a running controller (run or control
--listen) and show the same TUI as the control command.

Key presses are sent to the hub as set requests, so the remote controller
applies its own clamping. The connection is re-established with
exponential backoff if it drops.

Authentication uses --username with the password from THROTTLESTAT_PASSWORD
or an interactive prompt.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchHubURL, "hub", "ws://localhost:8080/ws", "Telemetry hub URL")
}

// hubManager handles the hub connection lifecycle and reconnection
type hubManager struct {
	url  string
	opts telemetry.ClientOptions

	mu     sync.RWMutex
	client *telemetry.Client
	p      *tea.Program
	done   chan struct{}
}

func (hm *hubManager) getClient() *telemetry.Client {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	return hm.client
}

func (hm *hubManager) setClient(c *telemetry.Client) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.client = c
}

// Apply sends a set request over the current connection
func (hm *hubManager) Apply(r telemetry.SetRequest) error {
	c := hm.getClient()
	if c == nil {
		return errConnectionLost
	}
	return c.Send(r)
}

func runWatch(cmd *cobra.Command, args []string) error {
	opts := telemetry.ClientOptions{
		Username:      wsUsername,
		SkipSSLVerify: wsNoSSLVerify,
	}
	if wsUsername != "" {
		password, err := GetPassword()
		if err != nil {
			return err
		}
		opts.Password = password
	}

	client, err := telemetry.Dial(watchHubURL, opts)
	if err != nil {
		return err
	}

	hm := &hubManager{
		url:    watchHubURL,
		opts:   opts,
		client: client,
		done:   make(chan struct{}),
	}

	m := initialDashboardModel("THROTTLESTAT WATCH", hm, fmt.Sprintf("Hub: %s", watchHubURL))
	p := tea.NewProgram(m, tea.WithAltScreen())
	hm.p = p

	go hm.readerLoop()

	_, err = p.Run()
	close(hm.done)
	if c := hm.getClient(); c != nil {
		c.Close()
	}
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// readerLoop forwards snapshots to the TUI, reconnecting when the hub drops
func (hm *hubManager) readerLoop() {
	for {
		c := hm.getClient()
		for {
			snap, err := c.Next()
			if err != nil {
				select {
				case <-hm.done:
					return
				default:
				}
				hm.p.Send(connectionLostMsg{err: err})
				break
			}
			hm.p.Send(snapshotMsg(snap))
		}

		if !hm.reconnect() {
			return // Shutdown requested during reconnect
		}
	}
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (hm *hubManager) reconnect() bool {
	if c := hm.getClient(); c != nil {
		c.Close()
	}
	hm.setClient(nil)

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-hm.done:
			return false
		case <-time.After(backoff):
		}

		c, err := telemetry.Dial(hm.url, hm.opts)
		if err == nil {
			hm.setClient(c)
			hm.p.Send(reconnectedMsg{connInfo: fmt.Sprintf("Hub: %s", hm.url)})
			return true
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
