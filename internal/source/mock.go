// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package source

import (
	"context"
	"math"
	"time"

	"github.com/relabs-tech/dyntarget/internal/gps"
)

// MockSource walks a small circle around a centre point, one step per sample.
type MockSource struct {
	center gps.Position
	radius float64 // degrees
	step   float64 // radians per sample; 0 keeps the position fixed
	slot   slot
}

// NewMockSource creates a mock source that generates smoothly changing positions.
func NewMockSource(center gps.Position) *MockSource {
	return &MockSource{center: center, radius: 0.0005, step: math.Pi / 30}
}

// Subscribe starts emitting one position per interval.
func (m *MockSource) Subscribe(ctx context.Context, interval time.Duration, onSample func(gps.Position)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.slot.mu.Lock()
	defer m.slot.mu.Unlock()
	if m.slot.sub != nil {
		return ErrAlreadySubscribed
	}

	sub, subCtx := newSubscription()
	sub.goRun(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for n := 0; ; n++ {
			select {
			case <-subCtx.Done():
				return
			case <-ticker.C:
				onSample(m.at(n))
			}
		}
	})

	m.slot.sub = sub
	return nil
}

// Unsubscribe stops the walk.
func (m *MockSource) Unsubscribe() {
	m.slot.unsubscribe()
}

func (m *MockSource) at(n int) gps.Position {
	angle := float64(n) * m.step
	return gps.Position{
		Latitude:  m.center.Latitude + m.radius*math.Sin(angle),
		Longitude: m.center.Longitude + m.radius*math.Cos(angle),
	}
}
