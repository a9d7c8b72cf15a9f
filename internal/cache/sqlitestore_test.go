package cache

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestSQLiteStore(t *testing.T, sink Sink) *SQLiteStore {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewSQLiteStore(db, sink)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	return s
}

func TestSQLiteStore_SetGetRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t, nil)
	if err := s.Set("k", map[string]any{"n": float64(42)}, 0, nil, ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	m, ok := v.(map[string]any)
	if !ok || m["n"] != float64(42) {
		t.Errorf("got %v", v)
	}
}

func TestSQLiteStore_MissingKeyNotOK(t *testing.T) {
	s := newTestSQLiteStore(t, nil)
	_, ok, err := s.Get("missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing key")
	}
}

func TestSQLiteStore_ExpiresAfterTTL(t *testing.T) {
	s := newTestSQLiteStore(t, nil)
	s.Set("k", "v", 5*time.Millisecond, nil, "")
	time.Sleep(30 * time.Millisecond)
	_, ok, _ := s.Get("k")
	if ok {
		t.Error("expected entry to have expired")
	}
}

func TestSQLiteStore_SetOverwritesExisting(t *testing.T) {
	s := newTestSQLiteStore(t, nil)
	s.Set("k", "first", 0, nil, "")
	s.Set("k", "second", 0, nil, "")
	v, _, _ := s.Get("k")
	if v != "second" {
		t.Errorf("got %v, want second", v)
	}
}

func TestSQLiteStore_DeleteAndClear(t *testing.T) {
	s := newTestSQLiteStore(t, nil)
	s.Set("a", 1, 0, nil, "")
	s.Set("b", 2, 0, nil, "")

	s.Delete("a")
	if _, ok, _ := s.Get("a"); ok {
		t.Error("expected a gone after Delete")
	}

	s.Clear()
	if _, ok, _ := s.Get("b"); ok {
		t.Error("expected b gone after Clear")
	}
}

func TestSQLiteStore_Sweep(t *testing.T) {
	s := newTestSQLiteStore(t, nil)
	s.Set("expired", "v", time.Millisecond, nil, "")
	s.Set("fresh", "v", 0, nil, "")
	time.Sleep(20 * time.Millisecond)

	n, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if _, ok, _ := s.Get("fresh"); !ok {
		t.Error("fresh entry should survive Sweep")
	}
}

func TestSQLiteStore_SweepDispatchesExpiryToOwner(t *testing.T) {
	sink := newFakeSink()
	s := newTestSQLiteStore(t, sink)
	s.Set("k", "payload", time.Millisecond, map[string]any{"tag": "x"}, "comp-a")
	time.Sleep(20 * time.Millisecond)

	s.Sweep()

	events := sink.events["comp-a"]
	if len(events) != 1 {
		t.Fatalf("got %d events for comp-a, want 1", len(events))
	}
	if events[0].Key != "k" || events[0].ExpiredData != "payload" || events[0].Metadata["tag"] != "x" {
		t.Errorf("got %+v, want key=k data=payload metadata.tag=x", events[0])
	}
}

func TestSQLiteStore_LazyExpiryOnGetDispatchesToOwner(t *testing.T) {
	sink := newFakeSink()
	s := newTestSQLiteStore(t, sink)
	s.Set("k", "payload", time.Millisecond, nil, "comp-a")
	time.Sleep(30 * time.Millisecond)

	if _, ok, _ := s.Get("k"); ok {
		t.Fatal("expected key to have expired")
	}
	if len(sink.events["comp-a"]) != 1 {
		t.Fatalf("got %d events for comp-a, want 1", len(sink.events["comp-a"]))
	}
}
