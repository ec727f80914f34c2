// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package frame

import (
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
	"unicode/utf8"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomText builds a valid UTF-8 string of at most MaxTextLen bytes without NULs
func randomText(rng *rand.Rand) Text {
	alphabet := []rune("abcdefghijklmnopqrstuvwxyz0123456789 -_°äöü€")
	var b []byte
	for {
		r := alphabet[rng.Intn(len(alphabet))]
		if len(b)+utf8.RuneLen(r) > MaxTextLen || rng.Intn(12) == 0 {
			return Text(b)
		}
		b = utf8.AppendRune(b, r)
	}
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

// TestFuzzDecode_RandomBytes decodes random buffers of random length as every kind
// and verifies it never panics and only fails with ErrCorrupt
func TestFuzzDecode_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	kinds := []Kind{KindEmpty, KindInt32, KindUint32, KindFloat32, KindText}
	for i := 0; i < rounds; i++ {
		length := rng.Intn(2 * Size)
		if rng.Intn(2) == 0 {
			length = Size
		}
		data := make([]byte, length)
		rng.Read(data)

		for _, kind := range kinds {
			_, err := Decode(data, kind)
			if err != nil && !errors.Is(err, ErrCorrupt) {
				t.Fatalf("round %d: unexpected error kind: %v", i, err)
			}
			if length != Size && err == nil {
				t.Fatalf("round %d: %d byte buffer decoded without error", i, length)
			}
		}
	}
}

// TestFuzzRoundTrip encodes random frames of every kind and checks they decode back unchanged
func TestFuzzRoundTrip(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		var payload Payload
		switch rng.Intn(5) {
		case 0:
			payload = Empty{}
		case 1:
			var p Int32s
			for j := range p {
				p[j] = int32(rng.Uint32())
			}
			payload = p
		case 2:
			var p Uint32s
			for j := range p {
				p[j] = rng.Uint32()
			}
			payload = p
		case 3:
			var p Float32s
			for j := range p {
				p[j] = (rng.Float32() - 0.5) * 1e6
			}
			payload = p
		case 4:
			payload = randomText(rng)
		}

		f := New(int8(rng.Intn(256)-128), payload)
		data, err := Encode(f)
		if err != nil {
			t.Fatalf("round %d: Encode failed: %v", i, err)
		}
		got, err := Decode(data, f.Kind())
		if err != nil {
			t.Fatalf("round %d: Decode failed: %v", i, err)
		}
		if got != f {
			t.Fatalf("round %d: got %+v, want %+v", i, got, f)
		}
	}
}
