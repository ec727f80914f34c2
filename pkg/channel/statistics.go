// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package channel

import (
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// latencyWindow is the number of recent round trips kept for latency figures
const latencyWindow = 256

// Statistics tracks link outcomes and round-trip latency.
// It is safe for concurrent use.
type Statistics struct {
	mu sync.Mutex

	startTime time.Time

	requests        uint64
	successes       uint64
	transportErrors uint64
	protocolErrors  uint64
	corruptFrames   uint64
	resets          uint64

	latencies []float64 // milliseconds, ring buffer
	next      int
}

// Snapshot is a point-in-time copy of the statistics
type Snapshot struct {
	Elapsed time.Duration

	Requests        uint64
	Successes       uint64
	TransportErrors uint64
	ProtocolErrors  uint64
	CorruptFrames   uint64
	Resets          uint64

	// Round-trip latency over the recent window, milliseconds
	LatencyMean   float64
	LatencyStdDev float64
	LatencyMin    float64
	LatencyMax    float64
	Samples       int
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{
		startTime: time.Now(),
		latencies: make([]float64, 0, latencyWindow),
	}
}

func (s *Statistics) recordRequest() {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()
}

func (s *Statistics) recordSuccess(rtt time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.successes++
	ms := float64(rtt) / float64(time.Millisecond)
	if len(s.latencies) < latencyWindow {
		s.latencies = append(s.latencies, ms)
		return
	}
	s.latencies[s.next] = ms
	s.next = (s.next + 1) % latencyWindow
}

func (s *Statistics) recordTransportError() {
	s.mu.Lock()
	s.transportErrors++
	s.mu.Unlock()
}

func (s *Statistics) recordProtocolError() {
	s.mu.Lock()
	s.protocolErrors++
	s.mu.Unlock()
}

func (s *Statistics) recordCorrupt() {
	s.mu.Lock()
	s.corruptFrames++
	s.mu.Unlock()
}

func (s *Statistics) recordReset() {
	s.mu.Lock()
	s.resets++
	s.mu.Unlock()
}

// Snapshot returns the current figures
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Elapsed:         time.Since(s.startTime),
		Requests:        s.requests,
		Successes:       s.successes,
		TransportErrors: s.transportErrors,
		ProtocolErrors:  s.protocolErrors,
		CorruptFrames:   s.corruptFrames,
		Resets:          s.resets,
		Samples:         len(s.latencies),
	}

	if len(s.latencies) > 0 {
		snap.LatencyMean, snap.LatencyStdDev = stat.MeanStdDev(s.latencies, nil)
		if len(s.latencies) < 2 {
			snap.LatencyStdDev = 0
		}
		snap.LatencyMin, snap.LatencyMax = s.latencies[0], s.latencies[0]
		for _, v := range s.latencies[1:] {
			if v < snap.LatencyMin {
				snap.LatencyMin = v
			}
			if v > snap.LatencyMax {
				snap.LatencyMax = v
			}
		}
	}

	return snap
}

// Reset clears all counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.startTime = time.Now()
	s.requests = 0
	s.successes = 0
	s.transportErrors = 0
	s.protocolErrors = 0
	s.corruptFrames = 0
	s.resets = 0
	s.latencies = s.latencies[:0]
	s.next = 0
}

// SuccessRate returns the percentage of requests answered without error
func (s Snapshot) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Successes) * 100.0 / float64(s.Requests)
}

// String returns a formatted statistics summary
func (s Snapshot) String() string {
	result := fmt.Sprintf("=== Link Statistics (%.0f seconds) ===\n", s.Elapsed.Seconds())
	result += fmt.Sprintf("Requests:         %8d\n", s.Requests)
	result += fmt.Sprintf("Successful:       %8d (%.1f%%)\n", s.Successes, s.SuccessRate())

	if s.TransportErrors > 0 {
		result += fmt.Sprintf("Transport Errors: %8d\n", s.TransportErrors)
	}
	if s.ProtocolErrors > 0 {
		result += fmt.Sprintf("Protocol Errors:  %8d\n", s.ProtocolErrors)
	}
	if s.CorruptFrames > 0 {
		result += fmt.Sprintf("Corrupt Frames:   %8d\n", s.CorruptFrames)
	}
	if s.Resets > 0 {
		result += fmt.Sprintf("Resets:           %8d\n", s.Resets)
	}
	if s.Samples > 0 {
		result += fmt.Sprintf("Latency:          %8.2f ms (sd %.2f, min %.2f, max %.2f)\n",
			s.LatencyMean, s.LatencyStdDev, s.LatencyMin, s.LatencyMax)
	}
	result += "====================================\n"

	return result
}
