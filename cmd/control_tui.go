// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/throttlestat/pkg/controller"
	"github.com/Thermoquad/throttlestat/pkg/dtc"
	"github.com/Thermoquad/throttlestat/pkg/frame"
	"github.com/Thermoquad/throttlestat/pkg/telemetry"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	acceleratorStep = 0.05 // per arrow key press
	cruiseStep      = 5    // mph per +/- press
	barWidth        = 30
	maxLogEntries   = 100
)

var errConnectionLost = errors.New("connection lost")

// Focus states
const (
	focusDashboard = iota
	focusTargetInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// backend applies driver inputs, locally or through a telemetry hub
type backend interface {
	Apply(telemetry.SetRequest) error
}

type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool // true for errors, false for info
}

// dashboardModel is the Bubble Tea model shared by control and watch
type dashboardModel struct {
	title    string
	backend  backend
	connInfo string

	snap        telemetry.Snapshot
	hasSnapshot bool
	lastUpdate  time.Time

	targetInput  textinput.Model
	focusedField int

	errorLog []errorLogEntry

	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type snapshotMsg telemetry.Snapshot

type applyErrMsg struct {
	err error
}

type connectionLostMsg struct {
	err error
}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialDashboardModel(title string, b backend, connInfo string) dashboardModel {
	ti := textinput.New()
	ti.Placeholder = "65"
	ti.CharLimit = 3
	ti.Width = 5
	ti.Validate = func(s string) error {
		if s == "" {
			return nil
		}
		_, err := strconv.Atoi(s)
		return err
	}

	return dashboardModel{
		title:        title,
		backend:      b,
		connInfo:     connInfo,
		targetInput:  ti,
		focusedField: focusDashboard,
		errorLog:     make([]errorLogEntry, 0),
		width:        80,
		height:       24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m dashboardModel) Init() tea.Cmd {
	return nil
}

func (m dashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case snapshotMsg:
		m.processSnapshot(telemetry.Snapshot(msg))

	case applyErrMsg:
		m.addLogEntry(fmt.Sprintf("Request failed: %v", msg.err), true)

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry(fmt.Sprintf("Connection lost (%v) - reconnecting...", msg.err), true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.addLogEntry("Reconnected", false)
	}

	return m, nil
}

func (m dashboardModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.focusedField == focusTargetInput {
		switch msg.String() {
		case "enter":
			return m.submitTarget()
		case "esc", "tab", "shift+tab":
			m.blurTarget()
			return m, nil
		}
		var cmd tea.Cmd
		m.targetInput, cmd = m.targetInput.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q":
		m.quitting = true
		return m, tea.Quit

	case "tab", "shift+tab":
		m.focusedField = focusTargetInput
		m.targetInput.SetValue("")
		return m, m.targetInput.Focus()

	case "up", "k":
		pos := math.Min(1, m.snap.AcceleratorPosition+acceleratorStep)
		m.snap.AcceleratorPosition = pos
		return m, m.apply(telemetry.SetRequest{AcceleratorPosition: &pos})

	case "down", "j":
		pos := math.Max(0, m.snap.AcceleratorPosition-acceleratorStep)
		m.snap.AcceleratorPosition = pos
		return m, m.apply(telemetry.SetRequest{AcceleratorPosition: &pos})

	case "c":
		enabled := !m.snap.CruiseEnabled
		m.snap.CruiseEnabled = enabled
		if enabled {
			m.addLogEntry(fmt.Sprintf("Cruise engaged at %d mph", m.snap.CruiseTargetSpeed), false)
		} else {
			m.addLogEntry("Cruise released", false)
		}
		return m, m.apply(telemetry.SetRequest{CruiseEnabled: &enabled})

	case "+", "=":
		return m.setTarget(m.snap.CruiseTargetSpeed + cruiseStep)

	case "-", "_":
		return m.setTarget(m.snap.CruiseTargetSpeed - cruiseStep)
	}

	return m, nil
}

func (m dashboardModel) submitTarget() (tea.Model, tea.Cmd) {
	value := strings.TrimSpace(m.targetInput.Value())
	m.blurTarget()
	if value == "" {
		return m, nil
	}

	speed, err := strconv.Atoi(value)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid cruise target %q", value), true)
		return m, nil
	}
	return m.setTarget(speed)
}

func (m dashboardModel) setTarget(speed int) (tea.Model, tea.Cmd) {
	speed = max(controller.MinSpeed, min(controller.MaxSpeed, speed))
	m.snap.CruiseTargetSpeed = speed
	return m, m.apply(telemetry.SetRequest{CruiseTargetSpeed: &speed})
}

func (m *dashboardModel) blurTarget() {
	m.focusedField = focusDashboard
	m.targetInput.Blur()
}

// apply sends a request without blocking the UI
func (m dashboardModel) apply(r telemetry.SetRequest) tea.Cmd {
	if m.connectionLost {
		return func() tea.Msg { return applyErrMsg{err: errConnectionLost} }
	}
	b := m.backend
	return func() tea.Msg {
		if err := b.Apply(r); err != nil {
			return applyErrMsg{err: err}
		}
		return nil
	}
}

//////////////////////////////////////////////////////////////
// Data Processing
//////////////////////////////////////////////////////////////

func (m *dashboardModel) processSnapshot(s telemetry.Snapshot) {
	if m.hasSnapshot {
		if s.Mode != m.snap.Mode {
			m.addLogEntry(fmt.Sprintf("Mode %s -> %s", m.snap.Mode, s.Mode), false)
		}
		m.diffDTCs(m.snap.DTCs, s.DTCs)
	} else {
		for _, d := range s.DTCs {
			m.addLogEntry(fmt.Sprintf("Active: %s", d), true)
		}
	}

	m.snap = s
	m.hasSnapshot = true
	m.lastUpdate = time.Now()
}

func (m *dashboardModel) diffDTCs(before, after []dtc.DTC) {
	was := make(map[int]bool, len(before))
	for _, d := range before {
		was[d.Code] = true
	}
	is := make(map[int]bool, len(after))
	for _, d := range after {
		is[d.Code] = true
		if !was[d.Code] {
			m.addLogEntry(fmt.Sprintf("Set: %s", d), true)
		}
	}
	for _, d := range before {
		if !is[d.Code] {
			m.addLogEntry(fmt.Sprintf("Cleared: %s", d), false)
		}
	}
}

func (m *dashboardModel) addLogEntry(message string, isError bool) {
	m.errorLog = append(m.errorLog, errorLogEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.errorLog) > maxLogEntries {
		m.errorLog = m.errorLog[len(m.errorLog)-maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	focusedBoxStyle = boxStyle.
			BorderForeground(lipgloss.Color("12"))
)

func (m dashboardModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Header
	helpText := "q=quit ↑/↓=accel c=cruise +/-=target tab=type target"
	if m.focusedField == focusTargetInput {
		helpText = "enter=set esc=cancel"
	}
	s.WriteString(titleStyle.Render(m.title))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s", connStatus, helpText)))
	s.WriteString("\n\n")

	if !m.hasSnapshot {
		s.WriteString(warningStyle.Render("Waiting for controller state..."))
		s.WriteString("\n\n")
		s.WriteString(m.renderEventLog())
		return s.String()
	}

	panelWidth := (m.width - 6) / 2
	if panelWidth < 30 {
		panelWidth = 30
	}

	driverStyle := boxStyle.Width(panelWidth)
	if m.focusedField == focusTargetInput {
		driverStyle = focusedBoxStyle.Width(panelWidth)
	}
	driver := driverStyle.Render(m.renderDriverPanel())
	engine := boxStyle.Width(panelWidth).Render(m.renderEnginePanel())

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, driver, " ", engine))
	s.WriteString("\n")
	s.WriteString(m.renderLinkBar())
	s.WriteString("\n")
	s.WriteString(m.renderDTCs())
	s.WriteString("\n")
	s.WriteString(m.renderEventLog())

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m dashboardModel) renderDriverPanel() string {
	var s strings.Builder

	s.WriteString(labelStyle.Render("DRIVER"))
	s.WriteString("\n\n")

	s.WriteString(fmt.Sprintf("%s %s %s\n",
		labelStyle.Render("Accelerator:"),
		renderBar(m.snap.AcceleratorPosition),
		valueStyle.Render(fmt.Sprintf("%3.0f%%", m.snap.AcceleratorPosition*100))))

	cruise := headerStyle.Render("OFF")
	if m.snap.CruiseEnabled {
		cruise = valueStyle.Render("ON")
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Cruise:"), cruise))

	s.WriteString(labelStyle.Render("Target: "))
	if m.focusedField == focusTargetInput {
		s.WriteString(m.targetInput.View())
	} else {
		s.WriteString(fmt.Sprintf("[%d]", m.snap.CruiseTargetSpeed))
	}
	s.WriteString(" mph")

	return s.String()
}

func (m dashboardModel) renderEnginePanel() string {
	var s strings.Builder

	s.WriteString(labelStyle.Render("ENGINE"))
	s.WriteString("\n\n")

	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Mode:"), valueStyle.Render(m.snap.Mode)))

	speed := valueStyle.Render(fmt.Sprintf("%d mph", m.snap.CurrentSpeed))
	if m.snap.CurrentSpeed > controller.MaxSpeed {
		speed = errorStyle.Render(fmt.Sprintf("%d mph", m.snap.CurrentSpeed))
	}
	s.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("Speed:"), speed))

	s.WriteString(fmt.Sprintf("%s %s %s\n",
		labelStyle.Render("Throttle:"),
		renderBar(float64(m.snap.ThrottlePosition)/frame.PositionMax),
		valueStyle.Render(fmt.Sprintf("%2d°", m.snap.ThrottlePosition))))

	s.WriteString(fmt.Sprintf("%s %s",
		labelStyle.Render("MAF:"),
		valueStyle.Render(fmt.Sprintf("%.2f", m.snap.MassAirFlow))))

	return s.String()
}

func (m dashboardModel) renderLinkBar() string {
	resets := valueStyle.Render(fmt.Sprintf("%.2f", m.snap.ResetAttempts))
	if m.snap.ResetAttempts > 0 {
		resets = warningStyle.Render(fmt.Sprintf("%.2f", m.snap.ResetAttempts))
	}

	age := "-"
	if !m.lastUpdate.IsZero() {
		age = time.Since(m.lastUpdate).Round(100 * time.Millisecond).String()
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Resets:"), resets,
		labelStyle.Render("Success:"), valueStyle.Render(fmt.Sprintf("%.1f%%", m.snap.SuccessRate)),
		labelStyle.Render("Latency:"), valueStyle.Render(fmt.Sprintf("%.2f ms", m.snap.LatencyMs)),
		labelStyle.Render("Updated:"), valueStyle.Render(age),
	)
	return boxStyle.Width(m.width - 4).Render(content)
}

func (m dashboardModel) renderDTCs() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("TROUBLE CODES"))
	s.WriteString("\n")

	if len(m.snap.DTCs) == 0 {
		s.WriteString(headerStyle.Render("  (none)"))
	} else {
		for i, d := range m.snap.DTCs {
			if i > 0 {
				s.WriteString("\n")
			}
			s.WriteString(errorStyle.Render(fmt.Sprintf("  DTC %d", d.Code)))
			s.WriteString(" ")
			s.WriteString(d.Message)
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

func (m dashboardModel) renderEventLog() string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	logHeight := 8
	if len(m.errorLog) < logHeight {
		logHeight = len(m.errorLog)
	}
	startIdx := len(m.errorLog) - logHeight

	if len(m.errorLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.errorLog); i++ {
			entry := m.errorLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			icon := "i"
			style := warningStyle
			if entry.isError {
				icon = "x"
				style = errorStyle
			}
			s.WriteString(fmt.Sprintf("%s %s %s\n",
				headerStyle.Render(timestamp),
				style.Render(icon),
				entry.message))
		}
	}

	return boxStyle.Width(m.width - 4).Render(s.String())
}

// renderBar draws frac in [0, 1] as a fixed-width gauge
func renderBar(frac float64) string {
	frac = math.Max(0, math.Min(1, frac))
	filled := int(math.Round(frac * barWidth))
	return valueStyle.Render(strings.Repeat("█", filled)) +
		headerStyle.Render(strings.Repeat("░", barWidth-filled))
}
