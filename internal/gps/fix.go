// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

// Validity values carried by Fix.Validity.
const (
	ValidityActive = "A"
	ValidityVoid   = "V"
)

// Fix represents a single combined GPS fix suitable for JSON and MQTT.
type Fix struct {
	Time       string  `json:"time"`        // e.g. "12:34:56"
	Date       string  `json:"date"`        // e.g. "13/06/94"
	Latitude   float64 `json:"lat"`         // decimal degrees
	Longitude  float64 `json:"lon"`         // decimal degrees
	SpeedKnots float64 `json:"speed_knots"` // speed over ground
	CourseDeg  float64 `json:"course_deg"`  // course over ground
	Validity   string  `json:"validity"`    // "A" (valid) / "V" (void)
	Satellites int64   `json:"satellites,omitempty"`
}

// Valid reports whether the fix carries a usable position.
func (f Fix) Valid() bool {
	return f.Validity == ValidityActive
}

// Position projects the fix onto its coordinate pair.
func (f Fix) Position() Position {
	return Position{Latitude: f.Latitude, Longitude: f.Longitude}
}
