// Package history implements the append-only query history log (spec §6
// Persisted state), adapted from the teacher's internal/storage/sqlite
// SQLiteStorage: a pure-Go modernc.org/sqlite-backed store behind a single
// WAL-mode file, written once per request and never mutated afterward.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Source distinguishes a manually issued statement from one generated from
// natural language (spec §6 record shape).
type Source string

const (
	SourceManual Source = "manual"
	SourceNL     Source = "nl"
)

// Record is one append-only history entry (spec §6).
type Record struct {
	RequestID    string
	Timestamp    time.Time
	DatabaseName string
	SQL          string
	RowCount     *int
	ExecutionMS  *int64
	Success      bool
	ErrorKind    string
	Source       Source
}

// Store is the query history log. Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
	mu     sync.RWMutex
}

// Open creates (or reuses) the SQLite file at path and ensures its schema,
// grounded on the teacher's NewSQLiteStorage path validation and WAL setup.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("history: path must not be empty")
	}
	if strings.Contains(path, "..") {
		return nil, fmt.Errorf("history: path must not contain '..': %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("history: create directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}

	s := &Store{db: db, logger: logger, path: path}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	_ = os.Chmod(path, 0600)

	logger.Info("history store initialized", "path", path)
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS query_history (
    request_id    TEXT PRIMARY KEY,
    ts            INTEGER NOT NULL,
    db_name       TEXT NOT NULL,
    sql_text      TEXT NOT NULL,
    row_count     INTEGER,
    execution_ms  INTEGER,
    success       INTEGER NOT NULL,
    error_kind    TEXT,
    source        TEXT NOT NULL CHECK(source IN ('manual', 'nl'))
);

CREATE INDEX IF NOT EXISTS idx_query_history_db_name ON query_history(db_name);
CREATE INDEX IF NOT EXISTS idx_query_history_ts ON query_history(ts);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("history: init schema: %w", err)
	}
	return nil
}

// Append writes one record. It never mutates an existing row — request ids
// are expected to be unique per request.
func (s *Store) Append(ctx context.Context, r Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
INSERT INTO query_history (
    request_id, ts, db_name, sql_text, row_count, execution_ms, success, error_kind, source
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`
	success := 0
	if r.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		r.RequestID,
		r.Timestamp.UnixMilli(),
		r.DatabaseName,
		r.SQL,
		r.RowCount,
		r.ExecutionMS,
		success,
		nullableString(r.ErrorKind),
		string(r.Source),
	)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Recent returns up to limit records for dbName, most recent first. Intended
// for operator inspection, not a query surface exposed to end users.
func (s *Store) Recent(ctx context.Context, dbName string, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT request_id, ts, db_name, sql_text, row_count, execution_ms, success, error_kind, source
FROM query_history WHERE db_name = ? ORDER BY ts DESC LIMIT ?`, dbName, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts int64
		var success int
		var errorKind sql.NullString
		var rowCount, executionMS sql.NullInt64
		if err := rows.Scan(&r.RequestID, &ts, &r.DatabaseName, &r.SQL, &rowCount, &executionMS, &success, &errorKind, &r.Source); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Timestamp = time.UnixMilli(ts)
		r.Success = success != 0
		if rowCount.Valid {
			n := int(rowCount.Int64)
			r.RowCount = &n
		}
		if executionMS.Valid {
			r.ExecutionMS = &executionMS.Int64
		}
		if errorKind.Valid {
			r.ErrorKind = errorKind.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the underlying connection. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
