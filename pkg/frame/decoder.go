// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Decode parses a wire frame, interpreting the union as the expected kind.
//
// The kind is never read from the frame itself. A buffer of the wrong size,
// an unknown kind or a text payload that is not valid UTF-8 yields an error
// wrapping ErrCorrupt. Empty decoding ignores whatever the union contains.
func Decode(data []byte, kind Kind) (Frame, error) {
	if len(data) != Size {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrCorrupt, len(data), Size)
	}

	cmd := int8(data[0])
	union := data[1:]

	switch kind {
	case KindEmpty:
		return Frame{Command: cmd, Payload: Empty{}}, nil

	case KindInt32:
		var p Int32s
		for i := range p {
			p[i] = int32(binary.LittleEndian.Uint32(union[i*4:]))
		}
		return Frame{Command: cmd, Payload: p}, nil

	case KindUint32:
		var p Uint32s
		for i := range p {
			p[i] = binary.LittleEndian.Uint32(union[i*4:])
		}
		return Frame{Command: cmd, Payload: p}, nil

	case KindFloat32:
		var p Float32s
		for i := range p {
			p[i] = math.Float32frombits(binary.LittleEndian.Uint32(union[i*4:]))
		}
		return Frame{Command: cmd, Payload: p}, nil

	case KindText:
		text := union[:MaxTextLen]
		if n := bytes.IndexByte(text, 0); n >= 0 {
			text = text[:n]
		}
		if !utf8.Valid(text) {
			return Frame{}, fmt.Errorf("%w: text payload is not valid UTF-8", ErrCorrupt)
		}
		return Frame{Command: cmd, Payload: Text(text)}, nil
	}

	return Frame{}, fmt.Errorf("%w: %w %d", ErrCorrupt, ErrUnknownKind, kind)
}
