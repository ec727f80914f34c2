// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package frame implements the fixed-size request/response frame exchanged
// between the engine controller and the throttle body.
//
// Every frame is a one-byte signed command/status tag followed by a 28-byte
// payload union. The union holds either nothing, seven 32-bit slots (signed,
// unsigned or float) or a short string. The format is not self-describing:
// the receiver must know which payload kind to expect for a given command.
package frame

// Frame layout
const (
	Size       = 1 + UnionSize // tag + payload union
	UnionSize  = Slots * 4
	Slots      = 7
	MaxTextLen = UnionSize - 1 // last union byte is reserved for the terminator
)

// Command tags (controller → throttle body).
// Values between 1 and 127 are reserved for function calls.
const (
	CmdGetPosition int8 = 1
	CmdSetPosition int8 = 2
)

// Status tags (throttle body → controller).
// Values between -128 and -1 are reserved for error codes.
const (
	StatusOK      int8 = 0
	StatusGeneric int8 = -1
)

// Actuator travel in degrees
const (
	PositionMin = 0
	PositionMax = 90
)

// Kind identifies the payload variant carried by a frame
type Kind uint8

// Payload kinds
const (
	KindEmpty Kind = iota
	KindInt32
	KindUint32
	KindFloat32
	KindText
)

// String returns the lower-case kind name used on the command line
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindInt32:
		return "int32"
	case KindUint32:
		return "uint32"
	case KindFloat32:
		return "float32"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

// ParseKind converts a kind name back to a Kind
func ParseKind(name string) (Kind, error) {
	switch name {
	case "empty", "void":
		return KindEmpty, nil
	case "int32", "int":
		return KindInt32, nil
	case "uint32", "uint":
		return KindUint32, nil
	case "float32", "float":
		return KindFloat32, nil
	case "text", "string":
		return KindText, nil
	}
	return 0, ErrUnknownKind
}
