package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category_id TEXT NOT NULL DEFAULT '',
		uploader_id TEXT NOT NULL DEFAULT '',
		duration_seconds INTEGER NOT NULL DEFAULT 0,
		source_resolution TEXT NOT NULL DEFAULT 'unknown',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		is_short BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		provider TEXT NOT NULL,
		resolution TEXT NOT NULL,
		file_id TEXT NOT NULL DEFAULT '',
		embed_url TEXT NOT NULL DEFAULT '',
		download_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sources_video_provider_resolution
		ON sources (video_id, provider, resolution)`,
	`CREATE TABLE IF NOT EXISTS channel_artifacts (
		video_id TEXT PRIMARY KEY REFERENCES videos(id) ON DELETE CASCADE,
		message_id BIGINT NOT NULL,
		file_id TEXT NOT NULL DEFAULT '',
		size_bytes BIGINT NOT NULL DEFAULT 0,
		resolution TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS renditions (
		video_id TEXT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		resolution TEXT NOT NULL,
		size_bytes BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (video_id, resolution)
	)`,
	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value JSONB NOT NULL
	)`,
}

// MigratePostgres applies the schema statements. Every statement is
// idempotent so the migration can run on each boot.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrationStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
