package store

import (
	"context"
	"fmt"
)

// migrate runs database migrations up to the current schema version.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var version int
	err := s.conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateV1(ctx); err != nil {
			return err
		}
	}
	if version < 2 {
		if err := s.migrateV2(ctx); err != nil {
			return err
		}
	}
	if version < 3 {
		if err := s.migrateV3(ctx); err != nil {
			return err
		}
	}

	return nil
}

// migrateV1 creates the boardgames table.
func (s *Store) migrateV1(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS boardgames (
			game_id TEXT PRIMARY KEY,
			rank_order INTEGER NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			year INTEGER,
			minplayers INTEGER,
			maxplayers INTEGER,
			minplaytime INTEGER,
			maxplaytime INTEGER,
			minage INTEGER,
			boardgamecategory TEXT,
			boardgamemechanic TEXT,
			boardgamedesigner TEXT,
			boardgameartist TEXT,
			usersrated INTEGER,
			average REAL,
			bayesaverage REAL,
			stddev REAL,
			averageweight REAL
		);

		CREATE INDEX IF NOT EXISTS idx_boardgames_rank_order ON boardgames(rank_order);

		INSERT INTO schema_version (version) VALUES (1);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute v1 migration: %w", err)
	}
	return nil
}

// migrateV2 tracks when a record was last enriched.
func (s *Store) migrateV2(ctx context.Context) error {
	schema := `
		ALTER TABLE boardgames ADD COLUMN updated_at DATETIME;
		CREATE INDEX IF NOT EXISTS idx_boardgames_name ON boardgames(name);

		INSERT INTO schema_version (version) VALUES (2);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute v2 migration: %w", err)
	}
	return nil
}

// migrateV3 adds JSON encoded tag lists. Tag values may contain the separator
// of the comma-joined columns, so reads prefer these columns.
func (s *Store) migrateV3(ctx context.Context) error {
	schema := `
		ALTER TABLE boardgames ADD COLUMN categories_json TEXT;
		ALTER TABLE boardgames ADD COLUMN mechanics_json TEXT;
		ALTER TABLE boardgames ADD COLUMN designers_json TEXT;
		ALTER TABLE boardgames ADD COLUMN artists_json TEXT;

		INSERT INTO schema_version (version) VALUES (3);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute v3 migration: %w", err)
	}
	return nil
}
