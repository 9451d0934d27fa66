package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a Journal persisted in a SQLite file, so transitions survive a
// restart in the middle of an event.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the journal database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("journal: create dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS transitions (
		event       TEXT    NOT NULL,
		occurrence  INTEGER NOT NULL,
		phase       TEXT    NOT NULL,
		recorded_at INTEGER NOT NULL,
		PRIMARY KEY (event, occurrence, phase)
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: create table: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Done(ctx context.Context, k Key) (bool, error) {
	k = k.normalized()
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transitions WHERE event = ? AND occurrence = ? AND phase = ?`,
		k.Event, k.Occurrence.Unix(), k.Phase,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("journal: lookup %s/%s: %w", k.Event, k.Phase, err)
	}
	return n > 0, nil
}

func (s *SQLite) Record(ctx context.Context, k Key) error {
	k = k.normalized()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO transitions (event, occurrence, phase, recorded_at) VALUES (?, ?, ?, ?)`,
		k.Event, k.Occurrence.Unix(), k.Phase, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("journal: record %s/%s: %w", k.Event, k.Phase, err)
	}
	return nil
}

func (s *SQLite) Prune(ctx context.Context, before time.Time) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM transitions WHERE occurrence < ?`, before.UTC().Unix()); err != nil {
		return fmt.Errorf("journal: prune: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
