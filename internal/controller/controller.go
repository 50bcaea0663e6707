// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package controller is the surface the UI drives: it exposes tracking state,
// switches tracking on and off, and remembers the choice across restarts.
package controller

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/relabs-tech/dyntarget/internal/gps"
	"github.com/relabs-tech/dyntarget/internal/prefs"
	"github.com/relabs-tech/dyntarget/internal/tracking"
)

//go:generate mockgen -destination=mocks/mock_tracker.go -package=mocks -source=controller.go Tracker

// Tracker is the part of the publish scheduler the controller needs.
type Tracker interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	LastKnown() (gps.Position, bool)
	Snapshot() tracking.State
	Observe(fn tracking.Observer) (cancel func())
}

// Controller forwards commands to a Tracker and persists the desired state.
type Controller struct {
	tracker   Tracker
	prefsPath string
	log       *zap.Logger

	// mu makes Toggle a single step with respect to Start and Stop.
	mu sync.Mutex
}

// New returns a controller for t that stores preferences at prefsPath.
func New(t Tracker, prefsPath string, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{tracker: t, prefsPath: prefsPath, log: log}
}

func (c *Controller) Running() bool {
	return c.tracker.Running()
}

func (c *Controller) LastKnown() (gps.Position, bool) {
	return c.tracker.LastKnown()
}

func (c *Controller) State() tracking.State {
	return c.tracker.Snapshot()
}

func (c *Controller) Observe(fn tracking.Observer) (cancel func()) {
	return c.tracker.Observe(fn)
}

// Start switches tracking on and remembers it. Errors from acquiring the
// position source are returned and nothing is remembered.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked(ctx)
}

// Stop switches tracking off and remembers it.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Toggle flips tracking and reports whether it is now running.
func (c *Controller) Toggle(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tracker.Running() {
		c.stopLocked()
		return false, nil
	}
	if err := c.startLocked(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Restore starts tracking if it was on when the preference was last saved.
func (c *Controller) Restore(ctx context.Context) error {
	p, err := prefs.Load(c.prefsPath)
	if err != nil {
		c.log.Warn("Could not load preferences, tracking stays off",
			zap.String("path", c.prefsPath), zap.Error(err))
		return nil
	}
	if !p.Tracking {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.Info("Resuming position tracking from saved preference")
	return c.tracker.Start(ctx)
}

func (c *Controller) startLocked(ctx context.Context) error {
	if err := c.tracker.Start(ctx); err != nil {
		return err
	}
	c.remember(true)
	return nil
}

func (c *Controller) stopLocked() {
	c.tracker.Stop()
	c.remember(false)
}

func (c *Controller) remember(tracking bool) {
	if err := prefs.Save(c.prefsPath, prefs.Prefs{Tracking: tracking}); err != nil {
		c.log.Warn("Could not save preferences",
			zap.String("path", c.prefsPath), zap.Error(err))
	}
}
