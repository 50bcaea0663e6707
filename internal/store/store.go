// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package store holds the remote record the agent republishes positions to.
// Each Publish is one independent single-field update of the shared document;
// no ordering is assumed across calls.
package store

import (
	"context"
	"time"

	"github.com/relabs-tech/dyntarget/internal/gps"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks -source=store.go Store

// Store accepts one position per call and reports the outcome. Publish must
// return promptly once ctx is done; callers do not start another Publish
// until the previous one has returned.
type Store interface {
	Publish(ctx context.Context, pos gps.Position) error
}

// Document is the shape of the shared record as seen by readers.
type Document struct {
	Target    gps.Position `json:"target"`
	UpdatedAt time.Time    `json:"updated_at"`
}
