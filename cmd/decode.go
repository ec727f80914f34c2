// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/throttlestat/pkg/frame"
)

var decodeKind string

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode a captured frame",
	Long: `Decode a frame captured from the wire and print its fields.

The frame does not describe its own payload, so --kind selects how the
payload union is read: empty, int32, uint32, float32 or text. A frame with
a non-zero status is always shown as an error message, the way the command
channel reads it.

Spaces and colons in the hex string are ignored:
  throttlestat decode "00 2d 00 00 00 ..." --kind int32`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().StringVarP(&decodeKind, "kind", "k", "int32", "Payload kind: empty, int32, uint32, float32, text")
}

func runDecode(cmd *cobra.Command, args []string) error {
	kind, err := frame.ParseKind(decodeKind)
	if err != nil {
		return err
	}

	cleaned := strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(args[0])
	data, err := hex.DecodeString(cleaned)
	if err != nil {
		return fmt.Errorf("invalid hex: %w", err)
	}

	f, err := frame.Decode(data, kind)
	if err != nil {
		return err
	}
	if f.Failed() {
		if f, err = frame.Decode(data, frame.KindText); err != nil {
			return err
		}
	}

	tableData := pterm.TableData{
		{"Field", "Value"},
		{"Command", fmt.Sprintf("%s (%d)", frame.FormatCommand(f.Command), f.Command)},
		{"Kind", f.Kind().String()},
		{"Frame", frame.FormatFrame(f)},
	}
	pterm.DefaultTable.WithHasHeader().WithData(tableData).Render()

	fmt.Println()
	fmt.Print(frame.HexDump(data))

	if kind == frame.KindInt32 && !f.Failed() {
		for _, anomaly := range frame.ValidatePosition(f) {
			pterm.Warning.Println(anomaly.Message)
		}
	}
	return nil
}
