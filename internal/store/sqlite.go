package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/smtpq/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// RecordResult appends r to the journal. Created messages are not stored
// in full; only their envelope fields are kept.
func (s *SQLiteStore) RecordResult(ctx context.Context, r model.Result) error {
	a := r.Action
	a.CreatedMsg = nil
	action, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshaling action: %w", err)
	}

	message := r.Message
	if r.Action.Kind == model.KindCreateMessage && r.Ok() {
		message = fmt.Sprintf("composed %d bytes", len(r.Message))
	}

	var rcpts []string
	for _, list := range []string{a.To, a.Cc, a.Bcc} {
		if strings.TrimSpace(list) != "" {
			rcpts = append(rcpts, list)
		}
	}

	const query = `
		INSERT INTO results (
			id, kind, status, message, subject, recipients, action, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		uuid.NewString(), a.Kind.String(), r.Status.String(), message,
		a.Subject, strings.Join(rcpts, ", "), string(action), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording result: %w", err)
	}
	return nil
}

// RecentResults returns up to limit entries, newest first.
func (s *SQLiteStore) RecentResults(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	var entries []Entry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM results ORDER BY created_at DESC, rowid DESC LIMIT ?", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying results: %w", err)
	}
	return entries, nil
}

// CountByStatus returns the number of journaled results per status.
func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT status, COUNT(*) FROM results GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("counting results: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scanning result count: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}
