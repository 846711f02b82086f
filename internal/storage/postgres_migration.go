package storage

import (
	"context"
	"fmt"
)

// migrationStatements bootstrap the schema idempotently. The unique indexes
// on the slug columns back the duplicate-slug detection the upload pipeline
// relies on.
var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		username      TEXT NOT NULL,
		email         TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		avatar_url    TEXT NOT NULL DEFAULT '',
		is_admin      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_email_idx ON users (email)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS users_username_idx ON users (LOWER(username))`,
	`CREATE TABLE IF NOT EXISTS videos (
		id          TEXT PRIMARY KEY,
		slug        TEXT NOT NULL,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		tags        TEXT[] NOT NULL DEFAULT '{}',
		video_url   TEXT NOT NULL,
		thumbnail   TEXT NOT NULL,
		duration    INTEGER NOT NULL DEFAULT 0,
		uploader_id TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS videos_slug_idx ON videos (slug)`,
	`CREATE INDEX IF NOT EXISTS videos_uploader_idx ON videos (uploader_id)`,
	`CREATE TABLE IF NOT EXISTS images (
		id              TEXT PRIMARY KEY,
		slug            TEXT NOT NULL,
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		tags            TEXT[] NOT NULL DEFAULT '{}',
		image_urls      TEXT[] NOT NULL,
		thumbnail_index INTEGER NOT NULL DEFAULT 0,
		uploader_id     TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS images_slug_idx ON images (slug)`,
	`CREATE INDEX IF NOT EXISTS images_uploader_idx ON images (uploader_id)`,
}

func (r *postgresRepository) migrate(ctx context.Context) error {
	for _, statement := range migrationStatements {
		if _, err := r.pool.Exec(ctx, statement); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}
