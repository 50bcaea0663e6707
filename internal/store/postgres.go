// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relabs-tech/dyntarget/internal/gps"
)

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS mission_documents (
	id          TEXT PRIMARY KEY,
	target_lat  DOUBLE PRECISION NOT NULL,
	target_lon  DOUBLE PRECISION NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const upsertTarget = `
INSERT INTO mission_documents (id, target_lat, target_lon, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO UPDATE
SET target_lat = EXCLUDED.target_lat,
    target_lon = EXCLUDED.target_lon,
    updated_at = EXCLUDED.updated_at`

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore writes the target field of one row in mission_documents.
type PostgresStore struct {
	db         execer
	pool       *pgxpool.Pool
	documentID string
}

// NewPostgresStore opens a pool against dsn and checks connectivity.
func NewPostgresStore(ctx context.Context, dsn, documentID string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: pool, pool: pool, documentID: documentID}, nil
}

// EnsureSchema creates the documents table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, createDocumentsTable); err != nil {
		return fmt.Errorf("create mission_documents: %w", err)
	}
	return nil
}

// Publish upserts the document's target.
func (s *PostgresStore) Publish(ctx context.Context, pos gps.Position) error {
	tag, err := s.db.Exec(ctx, upsertTarget, s.documentID, pos.Latitude, pos.Longitude)
	if err != nil {
		return fmt.Errorf("update %s target: %w", s.documentID, err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("update %s target: %d rows affected", s.documentID, tag.RowsAffected())
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
