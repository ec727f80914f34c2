// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "fmt"

// AnomalyType represents different types of response anomalies
type AnomalyType int

const (
	AnomalyPositionRange AnomalyType = iota
	AnomalyUnusedSlots
	AnomalyUnexpectedKind
)

// ValidationError represents a response validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePosition checks a decoded get-position response.
// Returns a slice of validation errors (empty if the response is plausible).
func ValidatePosition(f Frame) []ValidationError {
	errors := []ValidationError{}

	p, ok := f.Payload.(Int32s)
	if !ok {
		return []ValidationError{{
			Type:    AnomalyUnexpectedKind,
			Message: fmt.Sprintf("position response has %s payload (expected int32)", f.Kind()),
			Details: map[string]interface{}{"kind": f.Kind().String()},
		}}
	}

	if p[0] < PositionMin || p[0] > PositionMax {
		errors = append(errors, ValidationError{
			Type:    AnomalyPositionRange,
			Message: fmt.Sprintf("Position out of range (%d, valid: %d-%d)", p[0], PositionMin, PositionMax),
			Details: map[string]interface{}{"position": p[0], "min": PositionMin, "max": PositionMax},
		})
	}

	// The firmware only ever fills slot 0
	for i := 1; i < Slots; i++ {
		if p[i] != 0 {
			errors = append(errors, ValidationError{
				Type:    AnomalyUnusedSlots,
				Message: fmt.Sprintf("Unused slot %d is non-zero (%d)", i, p[i]),
				Details: map[string]interface{}{"slot": i, "value": p[i]},
			})
			break
		}
	}

	return errors
}
