// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package telemetry publishes controller state to dashboards and accepts
// driver inputs from them.
//
// WebSocket clients on /ws receive a CBOR encoded Snapshot every publish
// interval and may send CBOR encoded SetRequests. /api/state serves the same
// snapshot as JSON and accepts a JSON SetRequest on POST.
package telemetry

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/throttlestat/pkg/controller"
	"github.com/Thermoquad/throttlestat/pkg/dtc"
)

// Snapshot is one published view of the controller
type Snapshot struct {
	Timestamp           int64     `json:"timestamp" cbor:"1,keyasint"` // unix milliseconds
	AcceleratorPosition float64   `json:"accelerator_position" cbor:"2,keyasint"`
	CruiseEnabled       bool      `json:"cruise_enabled" cbor:"3,keyasint"`
	CruiseTargetSpeed   int       `json:"cruise_target_speed" cbor:"4,keyasint"`
	CurrentSpeed        int       `json:"current_speed" cbor:"5,keyasint"`
	ThrottlePosition    int       `json:"throttle_position" cbor:"6,keyasint"`
	MassAirFlow         float64   `json:"mass_air_flow" cbor:"7,keyasint"`
	Mode                string    `json:"mode" cbor:"8,keyasint"`
	DTCs                []dtc.DTC `json:"dtcs" cbor:"9,keyasint"`

	// Link health, present when the hub has a command channel
	ResetAttempts float64 `json:"reset_attempts" cbor:"10,keyasint,omitempty"`
	SuccessRate   float64 `json:"success_rate" cbor:"11,keyasint,omitempty"`
	LatencyMs     float64 `json:"latency_ms" cbor:"12,keyasint,omitempty"`
}

// SetRequest changes driver inputs. Nil fields are left alone.
type SetRequest struct {
	AcceleratorPosition *float64 `json:"accelerator_position,omitempty" cbor:"1,keyasint,omitempty"`
	CruiseEnabled       *bool    `json:"cruise_enabled,omitempty" cbor:"2,keyasint,omitempty"`
	CruiseTargetSpeed   *int     `json:"cruise_target_speed,omitempty" cbor:"3,keyasint,omitempty"`
}

// Empty reports whether the request changes nothing
func (r SetRequest) Empty() bool {
	return r.AcceleratorPosition == nil && r.CruiseEnabled == nil && r.CruiseTargetSpeed == nil
}

// Target is what the hub reads state from and applies requests to
type Target interface {
	State() controller.State
	SetAcceleratorPosition(pos float64)
	SetCruiseEnabled(enabled bool)
	SetCruiseTargetSpeed(speed int)
}

// Apply forwards the set fields of r to t. The target does its own clamping.
func Apply(t Target, r SetRequest) {
	if r.AcceleratorPosition != nil {
		t.SetAcceleratorPosition(*r.AcceleratorPosition)
	}
	if r.CruiseEnabled != nil {
		t.SetCruiseEnabled(*r.CruiseEnabled)
	}
	if r.CruiseTargetSpeed != nil {
		t.SetCruiseTargetSpeed(*r.CruiseTargetSpeed)
	}
}

// encMode encodes snapshots canonically so identical states encode identically
var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("telemetry: cbor enc mode: %v", err))
	}
	return em
}()

// MarshalSnapshot encodes a snapshot for the wire
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	return encMode.Marshal(s)
}

// UnmarshalSnapshot decodes a snapshot from the wire
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("invalid snapshot: %w", err)
	}
	return s, nil
}

// MarshalSetRequest encodes a set request for the wire
func MarshalSetRequest(r SetRequest) ([]byte, error) {
	return encMode.Marshal(r)
}

// UnmarshalSetRequest decodes a set request from the wire
func UnmarshalSetRequest(data []byte) (SetRequest, error) {
	var r SetRequest
	if err := cbor.Unmarshal(data, &r); err != nil {
		return SetRequest{}, fmt.Errorf("invalid set request: %w", err)
	}
	return r, nil
}
