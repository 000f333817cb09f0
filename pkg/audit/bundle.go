package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Bundle is an exportable, self-verifying slice of the audit trail.
type Bundle struct {
	BundleID   string    `json:"bundle_id"`
	Version    string    `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	StartSeq   uint64    `json:"start_sequence"`
	EndSeq     uint64    `json:"end_sequence"`
	EntryCount int       `json:"entry_count"`
	Entries    []Entry   `json:"entries"`
	ChainHead  string    `json:"chain_head"`
	BundleHash string    `json:"bundle_hash"`
}

// bundleVersion identifies the bundle layout for downstream verifiers.
const bundleVersion = "1.0.0"

// ExportBundle exports the entries matching the filter as an evidence
// bundle. The bundle hash covers the canonical form of the entry
// sequence, so a verifier needs nothing beyond the bundle itself.
func (l *Log) ExportBundle(f Filter) (*Bundle, error) {
	entries := l.Query(f)
	if len(entries) == 0 {
		return nil, ErrEmptyBundle
	}

	b := &Bundle{
		BundleID:   uuid.New().String(),
		Version:    bundleVersion,
		CreatedAt:  time.Now().UTC(),
		StartSeq:   entries[0].Sequence,
		EndSeq:     entries[len(entries)-1].Sequence,
		EntryCount: len(entries),
		Entries:    entries,
		ChainHead:  entries[len(entries)-1].EntryHash,
	}

	data, err := json.Marshal(b.Entries)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle entries: %w", err)
	}
	b.BundleHash, err = canonicalHash(data)
	if err != nil {
		return nil, fmt.Errorf("hash bundle entries: %w", err)
	}
	return b, nil
}

// VerifyBundle checks a bundle's integrity: the bundle hash, each
// entry's hashes, and the internal previous-hash links. Bundles cut
// from the middle of a chain verify their internal links only.
func VerifyBundle(b *Bundle) error {
	if b == nil || len(b.Entries) == 0 {
		return ErrEmptyBundle
	}

	data, err := json.Marshal(b.Entries)
	if err != nil {
		return fmt.Errorf("marshal bundle entries: %w", err)
	}
	computed, err := canonicalHash(data)
	if err != nil {
		return fmt.Errorf("hash bundle entries: %w", err)
	}
	if computed != b.BundleHash {
		return fmt.Errorf("%w: bundle hash mismatch (computed %s, stored %s)",
			ErrChainBroken, computed, b.BundleHash)
	}

	for i, e := range b.Entries {
		if err := verifyEntry(e); err != nil {
			return fmt.Errorf("bundle entry %d: %w", i, err)
		}
		if i > 0 && e.PreviousHash != b.Entries[i-1].EntryHash {
			return fmt.Errorf("%w: bundle chain broken at entry %d", ErrChainBroken, i)
		}
	}

	if head := b.Entries[len(b.Entries)-1].EntryHash; head != b.ChainHead {
		return fmt.Errorf("%w: chain head mismatch (entries end at %s, bundle claims %s)",
			ErrChainBroken, head, b.ChainHead)
	}
	return nil
}
