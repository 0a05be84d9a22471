package store

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAndFetchRow(t *testing.T) {
	s := newTestStore(t)
	row := Row{ParsedAt: time.Now(), FeedName: "f1", UID: "u1", Hashsum: "h1", ClassName: "Item", AsJSON: `{"a":1}`}
	if err := s.Store([]Row{row}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok, err := s.FetchRow("u1", "")
	if err != nil || !ok {
		t.Fatalf("FetchRow: ok=%v err=%v", ok, err)
	}
	if got.AsJSON != row.AsJSON {
		t.Fatalf("expected %q, got %q", row.AsJSON, got.AsJSON)
	}
}

// Storing the same (uid, hashsum) twice must not create a second row.
func TestStoreIgnoresDuplicatePair(t *testing.T) {
	s := newTestStore(t)
	row := Row{ParsedAt: time.Now(), FeedName: "f1", UID: "u1", Hashsum: "h1", ClassName: "Item", AsJSON: "{}"}
	if err := s.Store([]Row{row}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Store([]Row{row}); err != nil {
		t.Fatalf("Store (dup): %v", err)
	}
	n, err := s.Size("")
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row after duplicate insert, got %d", n)
	}
}

// A new hashsum for the same uid is stored as a second row, not a
// replacement: content updates are versioned, not overwritten.
func TestStoreKeepsBothVersionsOnUpdate(t *testing.T) {
	s := newTestStore(t)
	if err := s.Store([]Row{{ParsedAt: time.Now(), FeedName: "f1", UID: "u1", Hashsum: "h1", ClassName: "Item", AsJSON: "{}"}}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Store([]Row{{ParsedAt: time.Now(), FeedName: "f1", UID: "u1", Hashsum: "h2", ClassName: "Item", AsJSON: `{"v":2}`}}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	exists, err := s.RowExists("u1", "")
	if err != nil || !exists {
		t.Fatalf("expected u1 to exist, ok=%v err=%v", exists, err)
	}
	existsOldHash, _ := s.RowExists("u1", "h1")
	existsNewHash, _ := s.RowExists("u1", "h2")
	if !existsOldHash || !existsNewHash {
		t.Fatalf("expected both hash versions to exist, old=%v new=%v", existsOldHash, existsNewHash)
	}
}

func TestFetchRowReturnsNewestByParsedAt(t *testing.T) {
	s := newTestStore(t)
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	if err := s.Store([]Row{{ParsedAt: older, FeedName: "f1", UID: "u1", Hashsum: "h1", ClassName: "Item", AsJSON: `{"v":1}`}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Store([]Row{{ParsedAt: newer, FeedName: "f1", UID: "u1", Hashsum: "h2", ClassName: "Item", AsJSON: `{"v":2}`}}); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.FetchRow("u1", "")
	if err != nil || !ok {
		t.Fatalf("FetchRow: ok=%v err=%v", ok, err)
	}
	if got.AsJSON != `{"v":2}` {
		t.Fatalf("expected newest row, got %q", got.AsJSON)
	}
}

func TestRowExistsFalseForUnknownUID(t *testing.T) {
	s := newTestStore(t)
	exists, err := s.RowExists("missing", "")
	if err != nil {
		t.Fatalf("RowExists: %v", err)
	}
	if exists {
		t.Fatal("expected RowExists to be false for an unknown uid")
	}
}

func TestSizeScopedByFeedName(t *testing.T) {
	s := newTestStore(t)
	if err := s.Store([]Row{
		{ParsedAt: time.Now(), FeedName: "f1", UID: "u1", Hashsum: "h1", ClassName: "Item", AsJSON: "{}"},
		{ParsedAt: time.Now(), FeedName: "f2", UID: "u2", Hashsum: "h2", ClassName: "Item", AsJSON: "{}"},
	}); err != nil {
		t.Fatal(err)
	}
	n, err := s.Size("f1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row for f1, got %d", n)
	}
}

func TestPruneRemovesOldVersionsButKeepsNewestPerUID(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().Add(-48 * time.Hour)
	recent := time.Now()

	if err := s.Store([]Row{
		{ParsedAt: old, FeedName: "f1", UID: "u1", Hashsum: "h1", ClassName: "Item", AsJSON: "{}"},
		{ParsedAt: recent, FeedName: "f1", UID: "u1", Hashsum: "h2", ClassName: "Item", AsJSON: "{}"},
		{ParsedAt: old, FeedName: "f1", UID: "u2", Hashsum: "h3", ClassName: "Item", AsJSON: "{}"},
	}); err != nil {
		t.Fatal(err)
	}

	n, err := s.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row pruned (u1's old version), got %d", n)
	}

	exists, err := s.RowExists("u1", "h1")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Fatal("expected u1's old version to be pruned")
	}

	exists, err = s.RowExists("u2", "h3")
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		t.Fatal("expected u2's only (and newest) row to survive pruning")
	}
}
