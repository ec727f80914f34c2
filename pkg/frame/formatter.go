// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"fmt"
	"strings"
)

// FormatCommand returns the human-readable name for a command or status tag
func FormatCommand(tag int8) string {
	switch tag {
	case StatusOK:
		return "OK"
	case CmdGetPosition:
		return "GET_POSITION"
	case CmdSetPosition:
		return "SET_POSITION"
	case StatusGeneric:
		return "ERROR"
	}
	if tag < 0 {
		return fmt.Sprintf("ERROR_%d", -int(tag))
	}
	return fmt.Sprintf("UNKNOWN_%d", tag)
}

// FormatFrame formats a frame into a single human-readable line
func FormatFrame(f Frame) string {
	result := fmt.Sprintf("%s (%d) kind=%s", FormatCommand(f.Command), f.Command, f.Kind())

	switch p := f.Payload.(type) {
	case Int32s:
		result += " " + formatSlots(p[:], "%d")
	case Uint32s:
		result += " " + formatSlots(p[:], "%d")
	case Float32s:
		result += " " + formatSlots(p[:], "%.3f")
	case Text:
		result += fmt.Sprintf(" %q", string(p))
	}

	return result
}

// formatSlots prints the slots up to the last non-zero one
func formatSlots[T int32 | uint32 | float32](slots []T, verb string) string {
	last := 0
	for i, v := range slots {
		if v != 0 {
			last = i
		}
	}

	parts := make([]string, 0, last+1)
	for _, v := range slots[:last+1] {
		parts = append(parts, fmt.Sprintf(verb, v))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// HexDump formats raw frame bytes as space separated hex, 16 bytes per line
func HexDump(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			if i%16 == 0 {
				sb.WriteByte('\n')
			} else {
				sb.WriteByte(' ')
			}
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
