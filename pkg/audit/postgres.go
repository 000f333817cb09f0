package audit

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresSink persists audit entries into Postgres. Schema management
// is split out into EnsureSchema so deployments that migrate separately
// can skip it.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink wraps an existing database handle.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// Ping verifies connectivity to Postgres.
func (p *PostgresSink) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// EnsureSchema creates the audit table if it does not exist.
func (p *PostgresSink) EnsureSchema(ctx context.Context) error {
	q := `
        CREATE TABLE IF NOT EXISTS audit_entries (
            sequence BIGINT PRIMARY KEY,
            id TEXT NOT NULL UNIQUE,
            ts TIMESTAMPTZ NOT NULL,
            kind TEXT NOT NULL,
            actor TEXT,
            subject TEXT,
            payload JSONB NOT NULL,
            payload_hash TEXT NOT NULL,
            previous_hash TEXT NOT NULL,
            entry_hash TEXT NOT NULL
        )`
	if _, err := p.db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create audit_entries table: %w", err)
	}
	return nil
}

// Append inserts one entry.
func (p *PostgresSink) Append(ctx context.Context, e Entry) error {
	q := `
        INSERT INTO audit_entries
          (sequence, id, ts, kind, actor, subject, payload, payload_hash, previous_hash, entry_hash)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
    `
	_, err := p.db.ExecContext(ctx, q,
		int64(e.Sequence),
		e.ID,
		e.Timestamp.UTC(),
		string(e.Kind),
		e.Actor,
		e.Subject,
		[]byte(e.Payload),
		e.PayloadHash,
		e.PreviousHash,
		e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry %d: %w", e.Sequence, err)
	}
	return nil
}

// LastHash returns the entry hash at the stored chain head, or the
// genesis marker when the table is empty. Useful for consistency
// checks between the in-memory chain and the persisted one.
func (p *PostgresSink) LastHash(ctx context.Context) (string, error) {
	var h sql.NullString
	q := `SELECT entry_hash FROM audit_entries ORDER BY sequence DESC LIMIT 1`
	if err := p.db.QueryRowContext(ctx, q).Scan(&h); err != nil {
		if err == sql.ErrNoRows {
			return genesisHead, nil
		}
		return "", fmt.Errorf("query chain head: %w", err)
	}
	if !h.Valid {
		return genesisHead, nil
	}
	return h.String, nil
}

// Entries loads the full entry sequence back, in chain order.
func (p *PostgresSink) Entries(ctx context.Context) ([]Entry, error) {
	q := `
        SELECT sequence, id, ts, kind, actor, subject, payload, payload_hash, previous_hash, entry_hash
        FROM audit_entries
        ORDER BY sequence ASC
    `
	rows, err := p.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e       Entry
			seq     int64
			kind    string
			payload []byte
		)
		if err := rows.Scan(&seq, &e.ID, &e.Timestamp, &kind, &e.Actor, &e.Subject, &payload, &e.PayloadHash, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, err
		}
		e.Sequence = uint64(seq)
		e.Kind = Kind(kind)
		e.Payload = payload
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
