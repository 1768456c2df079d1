package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store manages the SQLite connection and schema for the change journal.
type Store struct {
	db *sql.DB
}

// NewStore initializes the SQLite database connection.
// It enables WAL mode for concurrency and durability.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}

	// Enable WAL mode (Write-Ahead Logging)
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	// Envelope fields as columns for querying, payload as a JSON blob.
	query := `
	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		schema_version INTEGER NOT NULL,
		file_id TEXT NOT NULL,
		writer_id TEXT,
		ts_event DATETIME NOT NULL,
		ts_ingest DATETIME NOT NULL,
		payload JSON NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_ts_ingest ON events(ts_ingest);
	CREATE INDEX IF NOT EXISTS idx_events_file ON events(file_id, ts_ingest);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);

	CREATE TABLE IF NOT EXISTS activity_stats (
		bucket_ts DATETIME NOT NULL,
		file_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		event_count INTEGER NOT NULL,
		PRIMARY KEY (bucket_ts, file_id, event_type)
	);

	CREATE TABLE IF NOT EXISTS system_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}

	return nil
}

const insertEventSQL = `INSERT INTO events
	(event_id, event_type, schema_version, file_id, writer_id, ts_event, ts_ingest, payload)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// AppendEvent writes a single event to the journal.
func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	if e.TsIngest.IsZero() {
		e.TsIngest = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, insertEventSQL,
		e.EventID, string(e.EventType), e.SchemaVersion, e.FileID, e.WriterID,
		e.TsEvent.UTC(), e.TsIngest.UTC(), string(e.Payload))
	if err != nil {
		return fmt.Errorf("failed to append event %s: %w", e.EventID, err)
	}
	return nil
}

// AppendEvents writes a batch of events in one transaction.
func (s *Store) AppendEvents(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertEventSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range events {
		e := &events[i]
		if e.TsIngest.IsZero() {
			e.TsIngest = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			e.EventID, string(e.EventType), e.SchemaVersion, e.FileID, e.WriterID,
			e.TsEvent.UTC(), e.TsIngest.UTC(), string(e.Payload)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to append event %s: %w", e.EventID, err)
		}
	}
	return tx.Commit()
}

const selectEventSQL = `SELECT event_id, event_type, schema_version, file_id, writer_id, ts_event, ts_ingest, payload FROM events`

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		var e Event
		var et string
		var payload []byte
		if err := rows.Scan(&e.EventID, &et, &e.SchemaVersion, &e.FileID, &e.WriterID,
			&e.TsEvent, &e.TsIngest, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.EventType = EventType(et)
		e.Payload = payload
		events = append(events, &e)
	}
	return events, rows.Err()
}

// ReadEvents returns up to limit events ingested strictly after since,
// oldest first. Used by the rollup worker's cursor.
func (s *Store) ReadEvents(ctx context.Context, since time.Time, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		selectEventSQL+` WHERE ts_ingest > ? ORDER BY ts_ingest ASC LIMIT ?`,
		since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ReadEventsBefore returns up to limit events ingested before cutoff,
// oldest first. Used by the archive worker.
func (s *Store) ReadEventsBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		selectEventSQL+` WHERE ts_ingest < ? ORDER BY ts_ingest ASC LIMIT ?`,
		cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive candidates: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// QueryEvents returns events matching the filter, oldest first.
func (s *Store) QueryEvents(ctx context.Context, f EventFilter) ([]*Event, error) {
	var conds []string
	var args []any
	if f.FileID != "" {
		conds = append(conds, "file_id = ?")
		args = append(args, f.FileID)
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, string(f.EventType))
	}
	if !f.From.IsZero() {
		conds = append(conds, "ts_ingest >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		conds = append(conds, "ts_ingest < ?")
		args = append(args, f.To.UTC())
	}
	q := selectEventSQL
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY ts_ingest ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// RecentEvents returns the newest events, newest first, optionally scoped
// to one file id.
func (s *Store) RecentEvents(ctx context.Context, fileID string, limit int) ([]*Event, error) {
	q := selectEventSQL
	var args []any
	if fileID != "" {
		q += " WHERE file_id = ?"
		args = append(args, fileID)
	}
	q += " ORDER BY ts_ingest DESC LIMIT ?"
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// CountEvents returns the total number of journaled events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT count(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// DeleteEvents removes the given event ids in one transaction.
func (s *Store) DeleteEvents(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "DELETE FROM events WHERE event_id = ?")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to delete event %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// PruneEvents deletes events ingested before cutoff and reports how many
// rows were removed.
func (s *Store) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE ts_ingest < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}
	return res.RowsAffected()
}

// UpsertActivityStats merges rollup buckets. Counts are additive: the
// rollup cursor only moves forward, so a bucket may receive increments
// from several batches.
func (s *Store) UpsertActivityStats(ctx context.Context, stats []ActivityStat) error {
	if len(stats) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO activity_stats (bucket_ts, file_id, event_type, event_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bucket_ts, file_id, event_type)
		DO UPDATE SET event_count = event_count + excluded.event_count`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()
	for _, st := range stats {
		if _, err := stmt.ExecContext(ctx, st.BucketTs.UTC(), st.FileID, string(st.EventType), st.EventCount); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to upsert bucket %s/%s: %w", st.FileID, st.EventType, err)
		}
	}
	return tx.Commit()
}

// GetActivityStats returns rollup buckets matching the filter, oldest first.
func (s *Store) GetActivityStats(ctx context.Context, f ActivityFilter) ([]ActivityStat, error) {
	var conds []string
	var args []any
	if f.FileID != "" {
		conds = append(conds, "file_id = ?")
		args = append(args, f.FileID)
	}
	if f.EventType != "" {
		conds = append(conds, "event_type = ?")
		args = append(args, string(f.EventType))
	}
	if !f.From.IsZero() {
		conds = append(conds, "bucket_ts >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		conds = append(conds, "bucket_ts < ?")
		args = append(args, f.To.UTC())
	}
	q := "SELECT bucket_ts, file_id, event_type, event_count FROM activity_stats"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY bucket_ts ASC"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity stats: %w", err)
	}
	defer rows.Close()

	var stats []ActivityStat
	for rows.Next() {
		var st ActivityStat
		var et string
		if err := rows.Scan(&st.BucketTs, &st.FileID, &et, &st.EventCount); err != nil {
			return nil, fmt.Errorf("failed to scan activity stat: %w", err)
		}
		st.EventType = EventType(et)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// GetSystemState returns the value for key, or sql.ErrNoRows wrapped if
// the key has never been set.
func (s *Store) GetSystemState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM system_state WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("failed to get system state %q: %w", key, err)
	}
	return value, nil
}

// SetSystemState upserts a key/value pair.
func (s *Store) SetSystemState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO system_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set system state %q: %w", key, err)
	}
	return nil
}
