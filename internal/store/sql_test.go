package store

import (
	"context"
	"path/filepath"
	"testing"
)

func TestSQLStore_SQLiteRoundTrip(t *testing.T) {
	s, err := NewSQLStore(DialectSQLite, Config{Path: "sqlite://" + filepath.Join(t.TempDir(), "jobs.db")})
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty table, got %d rows", len(got))
	}

	want := sampleRecords()
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 2 || got[0].ID != want[0].ID || got[1].ID != want[1].ID {
		t.Fatalf("unexpected order/content: %+v", got)
	}
	if got[0].SessionName != want[0].SessionName || got[0].Status != want[0].Status || !got[0].CreatedAt.Equal(want[0].CreatedAt) {
		t.Fatalf("fields not preserved: %+v", got[0])
	}

	// full replace: saving a shorter collection drops the missing rows
	if err := s.Save(ctx, want[1:]); err != nil {
		t.Fatalf("Save shorter: %v", err)
	}
	got, _ = s.Load(ctx)
	if len(got) != 1 || got[0].ID != want[1].ID {
		t.Fatalf("full replace failed: %+v", got)
	}
}

func TestSQLStore_DuplicateSessionRollsBack(t *testing.T) {
	s, err := NewSQLStore(DialectSQLite, Config{Path: filepath.Join(t.TempDir(), "jobs.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()
	recs := sampleRecords()
	if err := s.Save(ctx, recs); err != nil {
		t.Fatal(err)
	}
	dup := append(sampleRecords(), recs[0])
	dup[2].ID = "cccc3333"
	if err := s.Save(ctx, dup); err == nil {
		t.Fatalf("expected unique violation on session_name")
	}
	got, _ := s.Load(ctx)
	if len(got) != 2 {
		t.Fatalf("failed save must leave previous collection, got %d rows", len(got))
	}
}

func TestNewSQLStore_RequiresLocation(t *testing.T) {
	if _, err := NewSQLStore(DialectSQLite, Config{}); err == nil {
		t.Fatalf("expected error for empty sqlite path")
	}
	if _, err := NewSQLStore(DialectPostgres, Config{}); err == nil {
		t.Fatalf("expected error for empty postgres dsn")
	}
}
