// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dtc

// Well-known trouble codes
var (
	CommIntermittent  = DTC{Code: 1, Message: "Intermittent communication with throttle body"}
	SpeedOutOfRange   = DTC{Code: 2, Message: "Vehicle speed out of range"}
	ThrottleBodyError = DTC{Code: 3, Message: "Throttle body reported an error"}
	FrameCorrupt      = DTC{Code: 4, Message: "Corrupt frame from throttle body"}
)

// Known returns the well-known code for a number
func Known(code int) (DTC, bool) {
	for _, d := range []DTC{CommIntermittent, SpeedOutOfRange, ThrottleBodyError, FrameCorrupt} {
		if d.Code == code {
			return d, true
		}
	}
	return DTC{}, false
}
