package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_start_time ON sessions (start_time DESC)`,
	`CREATE TABLE IF NOT EXISTS chunks (
		chunk_id TEXT PRIMARY KEY,
		session_id TEXT REFERENCES sessions (session_id),
		timestamp TIMESTAMPTZ NOT NULL,
		text TEXT NOT NULL,
		audio_path TEXT NOT NULL DEFAULT ''
	)`,
	`ALTER TABLE chunks ADD COLUMN IF NOT EXISTS source TEXT NOT NULL DEFAULT 'unknown'`,
	`ALTER TABLE chunks ADD COLUMN IF NOT EXISTS speaker_id TEXT`,
	`ALTER TABLE chunks ADD COLUMN IF NOT EXISTS seq BIGSERIAL`,
	`CREATE INDEX IF NOT EXISTS idx_chunks_session_seq ON chunks (session_id, seq)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for _, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
