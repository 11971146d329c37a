// Package store persists catalog identifiers and detail records in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Sternrassler/bgg-sync/pkg/detail"
	"github.com/Sternrassler/bgg-sync/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when an identifier is not stored.
var ErrNotFound = errors.New("game not found")

var operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bgg_store_operations_total",
	Help: "Total store operations by operation and result",
}, []string{"operation", "result"})

// tagSeparator joins tag lists into a single column.
const tagSeparator = ","

// Filter selects records for LoadRecords.
type Filter struct {
	// UnenrichedOnly keeps only records whose name is still empty.
	UnenrichedOnly bool
}

// PartialRecord is the identifying part of a stored record.
// An empty Name means the record has not been enriched with details yet.
type PartialRecord struct {
	ID   string
	Name string
}

// Store wraps a SQLite database holding the boardgames table.
type Store struct {
	conn   *sql.DB
	path   string
	logger zerolog.Logger

	// serializes DiffAndInsertIdentifiers on this handle
	insertMu sync.Mutex
}

// Open opens or creates a SQLite database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one connection: ":memory:" databases are per connection
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{
		conn:   conn,
		path:   path,
		logger: logging.NewLogger(logging.ComponentStore).With().Str("path", path).Logger(),
	}
	if err := s.migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Conn returns the underlying database connection.
func (s *Store) Conn() *sql.DB {
	return s.conn
}

// LoadIdentifiers returns every stored identifier in insertion order.
func (s *Store) LoadIdentifiers(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT game_id FROM boardgames ORDER BY rank_order, game_id`)
	if err != nil {
		observe("load_identifiers", err)
		return nil, fmt.Errorf("failed to query identifiers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			observe("load_identifiers", err)
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		ids = append(ids, id)
	}
	err = rows.Err()
	observe("load_identifiers", err)
	return ids, err
}

// LoadRecords returns the identifying part of the stored records in insertion order.
func (s *Store) LoadRecords(ctx context.Context, filter Filter) ([]PartialRecord, error) {
	query := `SELECT game_id, name FROM boardgames`
	if filter.UnenrichedOnly {
		query += ` WHERE name = ''`
	}
	query += ` ORDER BY rank_order, game_id`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		observe("load_records", err)
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := []PartialRecord{}
	for rows.Next() {
		var r PartialRecord
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			observe("load_records", err)
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	err = rows.Err()
	observe("load_records", err)
	return records, err
}

// DiffAndInsertIdentifiers inserts the identifiers not yet stored and returns how
// many were inserted. Existing rows are never modified; repeated identifiers in
// ids are inserted once.
func (s *Store) DiffAndInsertIdentifiers(ctx context.Context, ids []string) (int, error) {
	s.insertMu.Lock()
	defer s.insertMu.Unlock()

	inserted, err := s.diffAndInsert(ctx, ids)
	observe("diff_and_insert", err)
	if err != nil {
		return 0, err
	}

	s.logger.Info().
		Int("candidates", len(ids)).
		Int("inserted", inserted).
		Msg("Stored new identifiers")

	return inserted, nil
}

func (s *Store) diffAndInsert(ctx context.Context, ids []string) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := existingIdentifiers(ctx, tx)
	if err != nil {
		return 0, err
	}

	var next int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(rank_order), 0) FROM boardgames`).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to read rank order: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO boardgames (game_id, rank_order) VALUES (?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for _, id := range ids {
		if _, ok := existing[id]; ok {
			continue
		}
		next++
		if _, err := stmt.ExecContext(ctx, id, next); err != nil {
			return 0, fmt.Errorf("failed to insert %s: %w", id, err)
		}
		existing[id] = struct{}{}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return inserted, nil
}

func existingIdentifiers(ctx context.Context, tx *sql.Tx) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, `SELECT game_id FROM boardgames`)
	if err != nil {
		return nil, fmt.Errorf("failed to query identifiers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	existing := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan identifier: %w", err)
		}
		existing[id] = struct{}{}
	}
	return existing, rows.Err()
}

// SaveRecords writes full detail records in one transaction, inserting
// identifiers that are not stored yet.
func (s *Store) SaveRecords(ctx context.Context, records []detail.Record) error {
	err := s.saveRecords(ctx, records)
	observe("save_records", err)
	if err != nil {
		return err
	}

	s.logger.Info().
		Int("records", len(records)).
		Msg("Saved detail records")
	return nil
}

func (s *Store) saveRecords(ctx context.Context, records []detail.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO boardgames (
			game_id, rank_order, name, year, minplayers, maxplayers, minplaytime, maxplaytime, minage,
			boardgamecategory, boardgamemechanic, boardgamedesigner, boardgameartist,
			usersrated, average, bayesaverage, stddev, averageweight, updated_at,
			categories_json, mechanics_json, designers_json, artists_json
		) VALUES (
			?, (SELECT COALESCE(MAX(rank_order), 0) + 1 FROM boardgames), ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?, ?, CURRENT_TIMESTAMP,
			?, ?, ?, ?
		)
		ON CONFLICT(game_id) DO UPDATE SET
			name = excluded.name,
			year = excluded.year,
			minplayers = excluded.minplayers,
			maxplayers = excluded.maxplayers,
			minplaytime = excluded.minplaytime,
			maxplaytime = excluded.maxplaytime,
			minage = excluded.minage,
			boardgamecategory = excluded.boardgamecategory,
			boardgamemechanic = excluded.boardgamemechanic,
			boardgamedesigner = excluded.boardgamedesigner,
			boardgameartist = excluded.boardgameartist,
			usersrated = excluded.usersrated,
			average = excluded.average,
			bayesaverage = excluded.bayesaverage,
			stddev = excluded.stddev,
			averageweight = excluded.averageweight,
			updated_at = excluded.updated_at,
			categories_json = excluded.categories_json,
			mechanics_json = excluded.mechanics_json,
			designers_json = excluded.designers_json,
			artists_json = excluded.artists_json
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		tags := [][]string{r.Categories, r.Mechanics, r.Designers, r.Artists}
		encoded := make([]string, len(tags))
		for i, list := range tags {
			data, err := json.Marshal(nonNil(list))
			if err != nil {
				return fmt.Errorf("failed to encode tags of %s: %w", r.ID, err)
			}
			encoded[i] = string(data)
		}

		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Name, r.Year, r.MinPlayers, r.MaxPlayers, r.MinPlaytime, r.MaxPlaytime, r.MinAge,
			joinTags(r.Categories), joinTags(r.Mechanics), joinTags(r.Designers), joinTags(r.Artists),
			r.UsersRated, r.Average, r.BayesAverage, r.StdDev, r.AverageWeight,
			encoded[0], encoded[1], encoded[2], encoded[3],
		); err != nil {
			return fmt.Errorf("failed to save %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// LoadRecord returns the stored record for id. Fields of a record that has not
// been enriched yet are zero.
func (s *Store) LoadRecord(ctx context.Context, id string) (*detail.Record, error) {
	var (
		r                                      detail.Record
		categories, mechanics, designers, arts string
		tagsJSON                               [4]string
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT game_id, name,
			COALESCE(year, 0), COALESCE(minplayers, 0), COALESCE(maxplayers, 0),
			COALESCE(minplaytime, 0), COALESCE(maxplaytime, 0), COALESCE(minage, 0),
			COALESCE(boardgamecategory, ''), COALESCE(boardgamemechanic, ''),
			COALESCE(boardgamedesigner, ''), COALESCE(boardgameartist, ''),
			COALESCE(usersrated, 0), COALESCE(average, 0), COALESCE(bayesaverage, 0),
			COALESCE(stddev, 0), COALESCE(averageweight, 0),
			COALESCE(categories_json, ''), COALESCE(mechanics_json, ''),
			COALESCE(designers_json, ''), COALESCE(artists_json, '')
		FROM boardgames WHERE game_id = ?
	`, id).Scan(
		&r.ID, &r.Name,
		&r.Year, &r.MinPlayers, &r.MaxPlayers,
		&r.MinPlaytime, &r.MaxPlaytime, &r.MinAge,
		&categories, &mechanics, &designers, &arts,
		&r.UsersRated, &r.Average, &r.BayesAverage,
		&r.StdDev, &r.AverageWeight,
		&tagsJSON[0], &tagsJSON[1], &tagsJSON[2], &tagsJSON[3],
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", id, err)
	}

	targets := []struct {
		dst    *[]string
		joined string
	}{
		{&r.Categories, categories},
		{&r.Mechanics, mechanics},
		{&r.Designers, designers},
		{&r.Artists, arts},
	}
	for i, t := range targets {
		tags, err := decodeTags(tagsJSON[i], t.joined)
		if err != nil {
			return nil, fmt.Errorf("failed to decode tags of %s: %w", id, err)
		}
		*t.dst = tags
	}
	return &r, nil
}

// decodeTags prefers the JSON column and falls back to the comma-joined one
// for rows written before schema version 3.
func decodeTags(encoded, joined string) ([]string, error) {
	if encoded == "" {
		return splitTags(joined), nil
	}

	var tags []string
	if err := json.Unmarshal([]byte(encoded), &tags); err != nil {
		return nil, err
	}
	return nonNil(tags), nil
}

func nonNil(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func joinTags(tags []string) string {
	return strings.Join(tags, tagSeparator)
}

func splitTags(joined string) []string {
	if joined == "" {
		return []string{}
	}
	return strings.Split(joined, tagSeparator)
}

func observe(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
}
