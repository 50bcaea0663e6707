// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package gps

import (
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// Decoder accumulates NMEA sentences into a Fix.
// RMC fills the whole fix; GGA refreshes position, validity and satellite count.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	current Fix
}

// Feed decodes one raw line. It returns the updated fix and true when the
// line carried position data, false for noise, partial lines and other
// sentence types.
func (d *Decoder) Feed(line string) (Fix, bool) {
	line = strings.TrimSpace(line)
	// NMEA sentences usually start with '$'
	if line == "" || !strings.HasPrefix(line, "$") {
		return d.current, false
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		// noisy GPS or partial sentences
		return d.current, false
	}

	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		d.current.Time = m.Time.String()
		d.current.Date = m.Date.String()
		d.current.Latitude = m.Latitude
		d.current.Longitude = m.Longitude
		d.current.SpeedKnots = m.Speed
		d.current.CourseDeg = m.Course
		d.current.Validity = string(m.Validity)
		return d.current, true

	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		d.current.Time = m.Time.String()
		d.current.Latitude = m.Latitude
		d.current.Longitude = m.Longitude
		d.current.Satellites = m.NumSatellites
		if m.FixQuality == nmea.Invalid {
			d.current.Validity = ValidityVoid
		} else {
			d.current.Validity = ValidityActive
		}
		return d.current, true

	default:
		return d.current, false
	}
}

// Last returns the most recently decoded fix.
func (d *Decoder) Last() Fix {
	return d.current
}
