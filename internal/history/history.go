// Package history persists a journal of resolved conversion requests
// backed by SQLite. The journal is informational: request correlation
// never consults it, and a disabled or broken journal never blocks a
// conversion.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"pitchpipe/internal/config"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped on incompatible schema changes; a mismatched
// journal must be cleared or deleted.
const schemaVersion = 1

// ErrSchemaMismatch indicates the journal was written by an
// incompatible version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Outcome classifies how a request resolved.
type Outcome string

const (
	OutcomeComplete Outcome = "complete"
	OutcomeFailed   Outcome = "failed"
	OutcomeExpired  Outcome = "expired"
)

// Entry is one resolved conversion.
type Entry struct {
	ID          string
	RequestID   string
	DisplayName string
	InputPath   string
	OutputPath  string
	Outcome     Outcome
	ByteCount   int64
	Diagnostic  string
	Elapsed     time.Duration
	CreatedAt   time.Time
}

// Counts aggregates journal totals per outcome.
type Counts struct {
	Complete int64
	Failed   int64
	Expired  int64
}

// Total sums all outcomes.
func (c Counts) Total() int64 {
	return c.Complete + c.Failed + c.Expired
}

// Store is the SQLite-backed journal.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open initializes or connects to the journal database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.HistoryDBPath())
}

// OpenPath opens a journal at an explicit filesystem path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return nil
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (run 'pitchpipe history clear' or delete the database)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

// Path reports the journal database location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Record appends one resolved conversion. Missing id and timestamp
// fields are filled in.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	if s == nil || s.db == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO conversions (id, request_id, display_name, input_path, output_path, outcome, byte_count, diagnostic, elapsed_ms, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.RequestID, entry.DisplayName, entry.InputPath, entry.OutputPath,
			string(entry.Outcome), entry.ByteCount, entry.Diagnostic, entry.Elapsed.Milliseconds(),
			entry.CreatedAt.Format(time.RFC3339Nano))
		return err
	})
}

// List returns the most recent entries, newest first. limit <= 0 means
// all entries.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := `SELECT id, request_id, display_name, input_path, output_path, outcome, byte_count, diagnostic, elapsed_ms, created_at
		FROM conversions ORDER BY created_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			outcome   string
			elapsedMS int64
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.RequestID, &entry.DisplayName, &entry.InputPath,
			&entry.OutputPath, &outcome, &entry.ByteCount, &entry.Diagnostic, &elapsedMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		entry.Outcome = Outcome(outcome)
		entry.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if ts, parseErr := time.Parse(time.RFC3339Nano, createdAt); parseErr == nil {
			entry.CreatedAt = ts
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Tally returns per-outcome totals.
func (s *Store) Tally(ctx context.Context) (Counts, error) {
	var counts Counts
	if s == nil || s.db == nil {
		return counts, nil
	}
	rows, err := s.db.QueryContext(ctx, "SELECT outcome, COUNT(1) FROM conversions GROUP BY outcome")
	if err != nil {
		return counts, fmt.Errorf("tally history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			outcome string
			total   int64
		)
		if err := rows.Scan(&outcome, &total); err != nil {
			return counts, fmt.Errorf("scan tally row: %w", err)
		}
		switch Outcome(outcome) {
		case OutcomeComplete:
			counts.Complete = total
		case OutcomeFailed:
			counts.Failed = total
		case OutcomeExpired:
			counts.Expired = total
		}
	}
	return counts, rows.Err()
}

// Clear removes every journal entry.
func (s *Store) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM conversions")
		return err
	})
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
