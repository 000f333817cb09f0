package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteSink persists audit entries to a SQLite database. The table is
// keyed by sequence, so replaying a sink in order reproduces the chain.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink wraps an existing database handle and ensures the
// audit schema exists.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteSink opens (or creates) a SQLite database at path.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite audit db %s: %w", path, err)
	}
	return NewSQLiteSink(db)
}

func (s *SQLiteSink) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_entries (
        sequence INTEGER PRIMARY KEY,
        id TEXT NOT NULL UNIQUE,
        timestamp TEXT NOT NULL,
        kind TEXT NOT NULL,
        actor TEXT,
        subject TEXT,
        payload TEXT NOT NULL,
        payload_hash TEXT NOT NULL,
        previous_hash TEXT NOT NULL,
        entry_hash TEXT NOT NULL
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Append inserts one entry. Sequence collisions fail, the chain is
// append-only.
func (s *SQLiteSink) Append(ctx context.Context, e Entry) error {
	query := `INSERT INTO audit_entries (
        sequence, id, timestamp, kind, actor, subject, payload, payload_hash, previous_hash, entry_hash
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		e.Sequence,
		e.ID,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		string(e.Kind),
		e.Actor,
		e.Subject,
		string(e.Payload),
		e.PayloadHash,
		e.PreviousHash,
		e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry %d: %w", e.Sequence, err)
	}
	return nil
}

// Entries loads the full entry sequence back, in chain order.
func (s *SQLiteSink) Entries(ctx context.Context) ([]Entry, error) {
	query := `
        SELECT sequence, id, timestamp, kind, actor, subject, payload, payload_hash, previous_hash, entry_hash
        FROM audit_entries
        ORDER BY sequence ASC
    `
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e       Entry
			ts      string
			kind    string
			payload string
		)
		if err := rows.Scan(&e.Sequence, &e.ID, &ts, &kind, &e.Actor, &e.Subject, &payload, &e.PayloadHash, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, err
		}
		e.Timestamp = parseStoredTime(ts)
		e.Kind = Kind(kind)
		e.Payload = []byte(payload)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Close closes the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

func parseStoredTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
