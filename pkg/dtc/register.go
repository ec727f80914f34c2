// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dtc holds the diagnostic trouble code register shared by the
// command channel, the control loop and the telemetry hub.
package dtc

import (
	"fmt"
	"sort"
	"sync"
)

// DTC is a single diagnostic trouble code
type DTC struct {
	Code    int    `json:"code" cbor:"1,keyasint"`
	Message string `json:"message" cbor:"2,keyasint"`
}

// String formats the code as it appears on the dashboard
func (d DTC) String() string {
	return fmt.Sprintf("DTC %d: %s", d.Code, d.Message)
}

// Register is the set of active trouble codes, at most one entry per code.
// It is safe for concurrent use.
type Register struct {
	mu    sync.RWMutex
	codes map[int]DTC
}

// NewRegister creates an empty register
func NewRegister() *Register {
	return &Register{codes: make(map[int]DTC)}
}

// Set activates a code. Setting a code that is already active keeps the
// original entry.
func (r *Register) Set(code int, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.codes[code]; ok {
		return
	}
	r.codes[code] = DTC{Code: code, Message: message}
}

// SetDTC activates a well-known code with its default message
func (r *Register) SetDTC(d DTC) {
	r.Set(d.Code, d.Message)
}

// Clear removes a code. Clearing an inactive code is a no-op.
func (r *Register) Clear(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.codes, code)
}

// Update sets or clears a code depending on active
func (r *Register) Update(d DTC, active bool) {
	if active {
		r.SetDTC(d)
	} else {
		r.Clear(d.Code)
	}
}

// Has reports whether a code is active
func (r *Register) Has(code int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.codes[code]
	return ok
}

// Len returns the number of active codes
func (r *Register) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.codes)
}

// List returns a snapshot of the active codes ordered by code
func (r *Register) List() []DTC {
	r.mu.RLock()
	list := make([]DTC, 0, len(r.codes))
	for _, d := range r.codes {
		list = append(list, d)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Code < list[j].Code })
	return list
}
