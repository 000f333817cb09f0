// Package audit implements the append-only, hash-chained audit trail
// behind the governance kernel. Every entry carries the SHA-256 digest
// of its predecessor, so any mutation of a committed entry breaks the
// chain and is detectable by VerifyChain. Entries can be fanned out to
// attached sinks (file, SQLite, Postgres, Kafka) and exported as
// self-verifying evidence bundles.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

var (
	ErrEntryNotFound = errors.New("audit entry not found")
	ErrChainBroken   = errors.New("audit hash chain is broken")
	ErrEmptyBundle   = errors.New("audit bundle is empty")
)

// genesisHead is the previous-hash value of the first entry in a chain.
const genesisHead = "genesis"

// Kind categorizes audit entries.
type Kind string

const (
	KindAssumptionUpdate Kind = "ASSUMPTION_UPDATE"
	KindActionRegistered Kind = "ACTION_REGISTERED"
	KindEvaluation       Kind = "EVALUATION"
	KindExecution        Kind = "EXECUTION"
	KindOutcome          Kind = "OUTCOME"
)

// Entry is a single immutable record in the audit trail.
type Entry struct {
	ID           string          `json:"id"`
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	Kind         Kind            `json:"kind"`
	Actor        string          `json:"actor"`
	Subject      string          `json:"subject"`
	Payload      json.RawMessage `json:"payload"`
	PayloadHash  string          `json:"payload_hash"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// Sink receives committed entries. Sinks are invoked synchronously in
// sequence order after an entry is committed to the in-memory chain; a
// failing sink is logged and skipped, it never corrupts the chain. A
// sink that must not block the caller should buffer internally.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Log is an append-only audit trail with hash chaining.
type Log struct {
	mu       sync.RWMutex
	fanout   sync.Mutex // serializes sink delivery in commit order; locked while mu is held
	entries  []Entry
	byID     map[string]int
	sequence uint64
	head     string
	sinks    []Sink
	logger   *slog.Logger
}

// Option configures a Log.
type Option func(*Log)

// WithSink attaches a sink that receives every committed entry.
func WithSink(s Sink) Option {
	return func(l *Log) { l.sinks = append(l.sinks, s) }
}

// AttachSink adds a sink after construction. Only entries committed
// after attachment are delivered.
func (l *Log) AttachSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

// WithLogger sets the logger used to report sink failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// NewLog creates an empty audit log.
func NewLog(opts ...Option) *Log {
	l := &Log{
		entries: make([]Entry, 0),
		byID:    make(map[string]int),
		head:    genesisHead,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// FromEntries reconstructs a log from a previously captured entry
// sequence, verifying the chain as it loads. The returned log continues
// the chain where the captured sequence left off.
func FromEntries(entries []Entry, opts ...Option) (*Log, error) {
	l := NewLog(opts...)
	expectedPrev := genesisHead
	for i, e := range entries {
		if e.PreviousHash != expectedPrev {
			return nil, fmt.Errorf("%w: entry %d has previous_hash %s, expected %s",
				ErrChainBroken, i, e.PreviousHash, expectedPrev)
		}
		if err := verifyEntry(e); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		l.entries = append(l.entries, e)
		l.byID[e.ID] = i
		expectedPrev = e.EntryHash
	}
	if n := len(entries); n > 0 {
		l.sequence = entries[n-1].Sequence
		l.head = entries[n-1].EntryHash
	}
	return l, nil
}

// Append commits a new entry to the chain and fans it out to sinks.
// The timestamp is caller-supplied so that callers owning a clock stay
// deterministic. Sink failures are logged, not returned.
func (l *Log) Append(kind Kind, actor, subject string, payload any, at time.Time) (Entry, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal audit payload: %w", err)
	}
	payloadHash, err := canonicalHash(payloadBytes)
	if err != nil {
		return Entry{}, fmt.Errorf("hash audit payload: %w", err)
	}

	l.mu.Lock()
	entry := Entry{
		ID:           uuid.New().String(),
		Sequence:     l.sequence + 1,
		Timestamp:    at.UTC(),
		Kind:         kind,
		Actor:        actor,
		Subject:      subject,
		Payload:      payloadBytes,
		PayloadHash:  payloadHash,
		PreviousHash: l.head,
	}
	entryHash, err := computeEntryHash(entry)
	if err != nil {
		l.mu.Unlock()
		return Entry{}, fmt.Errorf("hash audit entry: %w", err)
	}
	entry.EntryHash = entryHash

	l.sequence = entry.Sequence
	l.head = entry.EntryHash
	l.entries = append(l.entries, entry)
	l.byID[entry.ID] = len(l.entries) - 1
	sinks := l.sinks
	// Take the fan-out lock before releasing the commit lock so a
	// concurrent Append cannot deliver its entry to sinks first.
	l.fanout.Lock()
	l.mu.Unlock()
	defer l.fanout.Unlock()

	for _, s := range sinks {
		if serr := s.Append(context.Background(), entry); serr != nil {
			l.logger.Warn("audit sink append failed",
				"sink", fmt.Sprintf("%T", s),
				"sequence", entry.Sequence,
				"error", serr)
		}
	}
	return entry, nil
}

// Get retrieves an entry by ID.
func (l *Log) Get(id string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byID[id]
	if !ok {
		return Entry{}, ErrEntryNotFound
	}
	return l.entries[i], nil
}

// Head returns the current chain head hash.
func (l *Log) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.head
}

// Sequence returns the sequence number of the most recent entry.
func (l *Log) Sequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sequence
}

// Len returns the number of entries in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Snapshot returns a copy of the full entry sequence in commit order.
// Two snapshots taken without an intervening append are identical.
// Callers must treat entry payloads as read-only.
func (l *Log) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Filter selects entries from the log.
type Filter struct {
	Kind     Kind
	Subject  string
	Actor    string
	Since    *time.Time
	Until    *time.Time
	StartSeq uint64
	EndSeq   uint64
	Limit    int
}

func (f Filter) matches(e Entry) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	if f.StartSeq > 0 && e.Sequence < f.StartSeq {
		return false
	}
	if f.EndSeq > 0 && e.Sequence > f.EndSeq {
		return false
	}
	return true
}

// Query returns entries matching the filter, in commit order.
func (l *Log) Query(f Filter) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	results := make([]Entry, 0)
	for _, e := range l.entries {
		if f.matches(e) {
			results = append(results, e)
			if f.Limit > 0 && len(results) >= f.Limit {
				break
			}
		}
	}
	return results
}

// VerifyChain checks the integrity of the full chain: the previous-hash
// links, each entry's payload hash, and each entry's own hash.
func (l *Log) VerifyChain() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	expectedPrev := genesisHead
	for i, e := range l.entries {
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s, expected %s",
				ErrChainBroken, i, e.PreviousHash, expectedPrev)
		}
		if err := verifyEntry(e); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}

// VerifyEntries checks an arbitrary entry sequence for chain integrity
// without loading it into a log. The sequence must start at the chain
// genesis.
func VerifyEntries(entries []Entry) error {
	_, err := FromEntries(entries)
	return err
}

// verifyEntry recomputes the payload and entry hashes of a single entry.
func verifyEntry(e Entry) error {
	payloadHash, err := canonicalHash(e.Payload)
	if err != nil {
		return fmt.Errorf("%w: payload hash recomputation failed: %v", ErrChainBroken, err)
	}
	if payloadHash != e.PayloadHash {
		return fmt.Errorf("%w: payload hash mismatch (computed %s, stored %s)",
			ErrChainBroken, payloadHash, e.PayloadHash)
	}
	entryHash, err := computeEntryHash(e)
	if err != nil {
		return fmt.Errorf("%w: entry hash recomputation failed: %v", ErrChainBroken, err)
	}
	if entryHash != e.EntryHash {
		return fmt.Errorf("%w: entry hash mismatch (computed %s, stored %s)",
			ErrChainBroken, entryHash, e.EntryHash)
	}
	return nil
}

// computeEntryHash hashes the chained fields of an entry. The payload
// participates through its own hash so the entry hash stays stable no
// matter how the payload bytes are stored or re-encoded downstream.
func computeEntryHash(e Entry) (string, error) {
	hashable := struct {
		ID           string    `json:"id"`
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
		Kind         Kind      `json:"kind"`
		Actor        string    `json:"actor"`
		Subject      string    `json:"subject"`
		PayloadHash  string    `json:"payload_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{
		ID:           e.ID,
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp,
		Kind:         e.Kind,
		Actor:        e.Actor,
		Subject:      e.Subject,
		PayloadHash:  e.PayloadHash,
		PreviousHash: e.PreviousHash,
	}
	data, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("marshal entry for hashing: %w", err)
	}
	return canonicalHash(data)
}

// canonicalHash returns the SHA-256 digest of the RFC 8785 canonical
// form of a JSON document.
func canonicalHash(data []byte) (string, error) {
	canonical, err := jcs.Transform(data)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
