// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package channel

import "fmt"

// TransportError is a bus-level failure: the throttle body did not answer
// or the link itself failed
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CommandFailed is returned when an operation could not be completed.
//
// When the throttle body answered with an error status, Code and Message
// carry its report and Err is nil. When every attempt failed on the bus,
// Err holds the last *TransportError.
type CommandFailed struct {
	Op      string
	Code    int8
	Message string
	Err     error
}

func (e *CommandFailed) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: command failed after %d attempts: %v", e.Op, MaxAttempts, e.Err)
	}
	return fmt.Sprintf("%s: throttle body error %d: %s", e.Op, e.Code, e.Message)
}

func (e *CommandFailed) Unwrap() error {
	return e.Err
}
