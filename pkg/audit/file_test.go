package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := OpenFileSink(path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}

	l := NewLog(WithSink(sink))
	want := appendN(t, l, 5)
	if err := sink.Close(); err != nil {
		t.Fatalf("close sink: %v", err)
	}

	got, err := ReadLogFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(got))
	}
	for i := range got {
		if got[i].EntryHash != want[i].EntryHash {
			t.Errorf("entry %d hash mismatch after round trip", i)
		}
	}

	if err := VerifyEntries(got); err != nil {
		t.Errorf("file entries should verify as a chain: %v", err)
	}
}

func TestFileSinkAppendsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")

	sink, err := OpenFileSink(path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	first := Entry{ID: "a", Sequence: 1, Timestamp: testBase, Kind: KindOutcome, PreviousHash: "genesis"}
	if err := sink.Append(context.Background(), first); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = sink.Close()

	sink, err = OpenFileSink(path)
	if err != nil {
		t.Fatalf("reopen sink: %v", err)
	}
	second := Entry{ID: "b", Sequence: 2, Timestamp: testBase.Add(time.Minute), Kind: KindOutcome}
	if err := sink.Append(context.Background(), second); err != nil {
		t.Fatalf("append after reopen: %v", err)
	}
	_ = sink.Close()

	entries, err := ReadLogFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != "a" || entries[1].ID != "b" {
		t.Error("entries out of order after reopen")
	}
}
