// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package archive persists a historical record of each step's computed
// groups for offline analysis. The engine never reads these back — this
// is a write-only side channel, off by default.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"syncengine/internal/grouper"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS sync_engine_groups (
	id          BIGSERIAL PRIMARY KEY,
	node_id     TEXT NOT NULL,
	t_global    DOUBLE PRECISION NOT NULL,
	member_count INT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL
)`

const insertGroupSQL = `
INSERT INTO sync_engine_groups (node_id, t_global, member_count, recorded_at)
VALUES ($1, $2, $3, $4)`

// PostgresArchive appends one row per computed group. Grounded directly
// on Etersoft-uniset-timemachine-go's internal/storage/postgres: a
// pgxpool.Pool used directly rather than database/sql.
type PostgresArchive struct {
	pool *pgxpool.Pool
}

// NewPostgresArchive connects to connString and ensures the archive
// table exists.
func NewPostgresArchive(ctx context.Context, connString string) (*PostgresArchive, error) {
	if connString == "" {
		return nil, fmt.Errorf("archive: connection string is empty")
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}
	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ensure table: %w", err)
	}
	return &PostgresArchive{pool: pool}, nil
}

// ArchiveGroups implements orchestrator.Archiver.
func (a *PostgresArchive) ArchiveGroups(ctx context.Context, nodeID string, groups []grouper.Group) error {
	if len(groups) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for _, g := range groups {
		if _, err := a.pool.Exec(ctx, insertGroupSQL, nodeID, g.TGlobal, len(g.Members), now); err != nil {
			return fmt.Errorf("archive: insert group: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (a *PostgresArchive) Close() { a.pool.Close() }
