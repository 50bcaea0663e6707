// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"fmt"
	"math"
)

// Position is an immutable latitude/longitude pair in decimal degrees.
type Position struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Equal reports whether both components are bit-identical.
// 0.0 and -0.0 differ; a NaN equals itself when the payload matches.
func (p Position) Equal(o Position) bool {
	return math.Float64bits(p.Latitude) == math.Float64bits(o.Latitude) &&
		math.Float64bits(p.Longitude) == math.Float64bits(o.Longitude)
}

func (p Position) String() string {
	return fmt.Sprintf("lat %.6f; lon %.6f", p.Latitude, p.Longitude)
}
