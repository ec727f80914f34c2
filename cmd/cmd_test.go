// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/cursor"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/throttlestat/pkg/dtc"
	"github.com/Thermoquad/throttlestat/pkg/telemetry"
)

// recordingBackend collects applied requests
type recordingBackend struct {
	requests []telemetry.SetRequest
	err      error
}

func (b *recordingBackend) Apply(r telemetry.SetRequest) error {
	b.requests = append(b.requests, r)
	return b.err
}

// press feeds a key to the model and runs the resulting command
func press(t *testing.T, m dashboardModel, key string) (dashboardModel, tea.Msg) {
	t.Helper()

	var msg tea.KeyMsg
	switch key {
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case "tab":
		msg = tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}

	next, cmd := m.Update(msg)
	var out tea.Msg
	if cmd != nil {
		out = cmd()
	}
	return next.(dashboardModel), out
}

// newTestModel builds a dashboard whose cursor never blinks, so commands
// returned by the text input complete immediately
func newTestModel(b backend) dashboardModel {
	m := initialDashboardModel("TEST", b, "sim")
	m.targetInput.Cursor.SetMode(cursor.CursorStatic)
	return m
}

func withSnapshot(m dashboardModel, s telemetry.Snapshot) dashboardModel {
	next, _ := m.Update(snapshotMsg(s))
	return next.(dashboardModel)
}

// ============================================================
// Dashboard Tests
// ============================================================

func TestDashboard_AcceleratorKeys(t *testing.T) {
	b := &recordingBackend{}
	m := withSnapshot(newTestModel(b), telemetry.Snapshot{AcceleratorPosition: 0.5})

	m, _ = press(t, m, "up")
	m, _ = press(t, m, "up")
	if len(b.requests) != 2 {
		t.Fatalf("requests = %d, want 2", len(b.requests))
	}
	if got := *b.requests[1].AcceleratorPosition; got < 0.599 || got > 0.601 {
		t.Errorf("accelerator = %v, want 0.6", got)
	}

	// Clamped at both ends
	m = withSnapshot(m, telemetry.Snapshot{AcceleratorPosition: 1})
	press(t, m, "up")
	if got := *b.requests[2].AcceleratorPosition; got != 1 {
		t.Errorf("accelerator above 1: %v", got)
	}
	m = withSnapshot(m, telemetry.Snapshot{AcceleratorPosition: 0.02})
	press(t, m, "down")
	if got := *b.requests[3].AcceleratorPosition; got != 0 {
		t.Errorf("accelerator below 0: %v", got)
	}
}

func TestDashboard_CruiseKeys(t *testing.T) {
	b := &recordingBackend{}
	m := withSnapshot(newTestModel(b), telemetry.Snapshot{CruiseTargetSpeed: 98})

	m, _ = press(t, m, "c")
	if r := b.requests[0]; r.CruiseEnabled == nil || !*r.CruiseEnabled {
		t.Errorf("c should enable cruise, got %+v", r)
	}

	m, _ = press(t, m, "+")
	if got := *b.requests[1].CruiseTargetSpeed; got != 100 {
		t.Errorf("target = %d, want 100 (clamped)", got)
	}

	press(t, m, "-")
	if got := *b.requests[2].CruiseTargetSpeed; got != 95 {
		t.Errorf("target = %d, want 95", got)
	}
}

func TestDashboard_TypedTarget(t *testing.T) {
	b := &recordingBackend{}
	m := withSnapshot(newTestModel(b), telemetry.Snapshot{})

	m, _ = press(t, m, "tab")
	if m.focusedField != focusTargetInput {
		t.Fatal("tab should focus the target input")
	}

	// q is text while the input has focus
	m, _ = press(t, m, "q")
	if m.quitting {
		t.Fatal("q inside the input should not quit")
	}

	m.targetInput.SetValue("72")
	m, _ = press(t, m, "enter")
	if m.focusedField != focusDashboard {
		t.Error("enter should return focus to the dashboard")
	}
	if len(b.requests) != 1 || *b.requests[0].CruiseTargetSpeed != 72 {
		t.Errorf("requests = %+v", b.requests)
	}

	m, _ = press(t, m, "tab")
	m, _ = press(t, m, "esc")
	if m.focusedField != focusDashboard || len(b.requests) != 1 {
		t.Error("esc should cancel without sending")
	}
}

func TestDashboard_ApplyError(t *testing.T) {
	b := &recordingBackend{err: errors.New("hub gone")}
	m := withSnapshot(newTestModel(b), telemetry.Snapshot{})

	m, msg := press(t, m, "c")
	if _, ok := msg.(applyErrMsg); !ok {
		t.Fatalf("msg = %T, want applyErrMsg", msg)
	}
	next, _ := m.Update(msg)
	m = next.(dashboardModel)
	if last := m.errorLog[len(m.errorLog)-1]; !last.isError || !strings.Contains(last.message, "hub gone") {
		t.Errorf("last log entry = %+v", last)
	}
}

func TestDashboard_ConnectionLost(t *testing.T) {
	b := &recordingBackend{}
	m := newTestModel(b)

	next, _ := m.Update(connectionLostMsg{err: errors.New("eof")})
	m = next.(dashboardModel)

	_, msg := press(t, m, "up")
	if em, ok := msg.(applyErrMsg); !ok || !errors.Is(em.err, errConnectionLost) {
		t.Errorf("msg = %v, want connection lost", msg)
	}
	if len(b.requests) != 0 {
		t.Error("nothing should be sent while disconnected")
	}

	next, _ = m.Update(reconnectedMsg{connInfo: "hub again"})
	m = next.(dashboardModel)
	if m.connectionLost || m.connInfo != "hub again" {
		t.Errorf("reconnect not applied: %+v", m.connInfo)
	}
}

func TestDashboard_LogsTransitions(t *testing.T) {
	m := newTestModel(&recordingBackend{})
	m = withSnapshot(m, telemetry.Snapshot{Mode: "manual"})
	m = withSnapshot(m, telemetry.Snapshot{Mode: "fuel-trim", DTCs: []dtc.DTC{dtc.CommIntermittent}})
	m = withSnapshot(m, telemetry.Snapshot{Mode: "fuel-trim"})

	var messages []string
	for _, e := range m.errorLog {
		messages = append(messages, e.message)
	}
	joined := strings.Join(messages, "\n")
	for _, want := range []string{"Mode manual -> fuel-trim", "Set: DTC 1", "Cleared: DTC 1"} {
		if !strings.Contains(joined, want) {
			t.Errorf("log missing %q:\n%s", want, joined)
		}
	}
}

func TestDashboard_View(t *testing.T) {
	m := newTestModel(&recordingBackend{})
	if !strings.Contains(m.View(), "Waiting for controller state") {
		t.Error("view before first snapshot should say it is waiting")
	}

	next, _ := m.Update(tea.WindowSizeMsg{Width: 160, Height: 40})
	m = next.(dashboardModel)

	m = withSnapshot(m, telemetry.Snapshot{
		Mode:             "cruise",
		CurrentSpeed:     64,
		ThrottlePosition: 45,
		DTCs:             []dtc.DTC{dtc.SpeedOutOfRange},
	})
	view := m.View()
	for _, want := range []string{"cruise", "64 mph", "45°", "DTC 2"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestDashboard_Quit(t *testing.T) {
	m := newTestModel(&recordingBackend{})
	m, _ = press(t, m, "q")
	if !m.quitting {
		t.Error("q should quit")
	}
}

// ============================================================
// Wiring Tests
// ============================================================

func TestNewLogger(t *testing.T) {
	defer func(level, format string) { logLevel, logFormat = level, format }(logLevel, logFormat)

	var buf bytes.Buffer
	logLevel, logFormat = "warn", "json"
	logger, err := newLogger(&buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), `"msg":"shown"`) {
		t.Errorf("output = %q", buf.String())
	}

	logLevel, logFormat = "loud", "text"
	if _, err := newLogger(&buf); err == nil {
		t.Error("bad level should fail")
	}
	logLevel, logFormat = "info", "xml"
	if _, err := newLogger(&buf); err == nil {
		t.Error("bad format should fail")
	}
}

func TestOpenStack_Sim(t *testing.T) {
	defer func(sim bool) { useSim = sim }(useSim)
	useSim = true

	logger, err := newLogger(&bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	s, err := openStack(logger, 0)
	if err != nil {
		t.Fatalf("openStack: %v", err)
	}
	defer s.Close()

	s.controller.SetAcceleratorPosition(0.5)
	cycle := s.controller.Step()
	if cycle.ReadErr != nil || cycle.SetErr != nil {
		t.Fatalf("cycle errors: %v / %v", cycle.ReadErr, cycle.SetErr)
	}
	if cycle.Command <= 0 {
		t.Errorf("command = %d, want movement toward 45", cycle.Command)
	}
}

func TestOpenTransport_NoFlags(t *testing.T) {
	defer func(sim bool, port, url string) { useSim, portName, wsURL = sim, port, url }(useSim, portName, wsURL)
	useSim, portName, wsURL = false, "", ""

	logger, _ := newLogger(&bytes.Buffer{})
	if _, _, err := OpenTransport(logger, 0); err == nil {
		t.Error("no connection flags should fail")
	}
}

func TestRun_HubPasswordCheckedFirst(t *testing.T) {
	defer func(sim bool, port, url, user, listen string) {
		useSim, portName, wsURL, runHubUsername, runListen = sim, port, url, user, listen
	}(useSim, portName, wsURL, runHubUsername, runListen)
	t.Setenv(hubPasswordEnv, "")

	// No link flags either: the hub error must come before any link is opened
	useSim, portName, wsURL = false, "", ""
	runHubUsername, runListen = "admin", ":0"

	err := runRun(runCmd, nil)
	if err == nil || !strings.Contains(err.Error(), hubPasswordEnv) {
		t.Fatalf("err = %v, want missing %s", err, hubPasswordEnv)
	}

	t.Setenv(hubPasswordEnv, "secret")
	if password, err := hubCredentials(); err != nil || password != "secret" {
		t.Errorf("hubCredentials = %q, %v", password, err)
	}

	runListen = ""
	t.Setenv(hubPasswordEnv, "")
	if _, err := hubCredentials(); err != nil {
		t.Errorf("no hub, no password needed: %v", err)
	}
}

func TestPing_ExitCodes(t *testing.T) {
	defer func(sim bool, port, url string, count int) {
		useSim, portName, wsURL, pingCount = sim, port, url, count
	}(useSim, portName, wsURL, pingCount)

	useSim, portName, wsURL = false, "", ""
	var exitErr *ExitError
	if err := runPing(pingCmd, nil); !errors.As(err, &exitErr) || exitErr.Code != 2 {
		t.Errorf("no link: err = %v, want exit code 2", err)
	}

	useSim, pingCount = true, 1
	if err := runPing(pingCmd, nil); err != nil {
		t.Errorf("simulated link: %v", err)
	}
}
