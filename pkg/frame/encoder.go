// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import "fmt"

// Encode serializes a frame to its fixed wire size.
// The union is zero padded after the payload.
func Encode(f Frame) ([]byte, error) {
	buf := make([]byte, Size)
	buf[0] = byte(f.Command)

	payload := f.Payload
	if payload == nil {
		payload = Empty{}
	}
	if err := payload.put(buf[1:]); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", payload.Kind(), err)
	}

	return buf, nil
}

// MustEncode encodes a frame and panics on error.
// Intended for frames built from constants (requests, simulator replies).
func MustEncode(f Frame) []byte {
	data, err := Encode(f)
	if err != nil {
		panic(fmt.Sprintf("frame: encode error: %v", err))
	}
	return data
}
