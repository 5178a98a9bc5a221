package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/loykin/relayr/internal/job"
	"github.com/loykin/relayr/internal/store"
)

func newFileRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(store.Config{Path: filepath.Join(t.TempDir(), "jobs.json")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

func TestUpdate_ConcurrentAppendsAreNotLost(t *testing.T) {
	r := newFileRegistry(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := r.Update(ctx, func(recs []job.Record) ([]job.Record, error) {
				id := fmt.Sprintf("id%04d", i)
				return append(recs, job.Record{ID: id, SessionName: "relay_" + id, Status: job.StatusStarting}), nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	recs, err := r.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != n {
		t.Fatalf("lost updates: expected %d records, got %d", n, len(recs))
	}
}

func TestUpdate_FnErrorWritesNothing(t *testing.T) {
	r := newFileRegistry(t)
	ctx := context.Background()
	if err := r.Update(ctx, func(recs []job.Record) ([]job.Record, error) {
		return append(recs, job.Record{ID: "keep", Status: job.StatusRunning}), nil
	}); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	err := r.Update(ctx, func(recs []job.Record) ([]job.Record, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	recs, _ := r.List(ctx)
	if len(recs) != 1 || recs[0].ID != "keep" {
		t.Fatalf("registry changed after failed update: %+v", recs)
	}
}

func TestGet(t *testing.T) {
	r := newFileRegistry(t)
	ctx := context.Background()
	_ = r.Update(ctx, func(recs []job.Record) ([]job.Record, error) {
		return append(recs, job.Record{ID: "a1", SessionName: "relay_a1", Status: job.StatusRunning}), nil
	})
	rec, ok, err := r.Get(ctx, "a1")
	if err != nil || !ok || rec.SessionName != "relay_a1" {
		t.Fatalf("Get(a1) = %+v %v %v", rec, ok, err)
	}
	if _, ok, _ := r.Get(ctx, "nope"); ok {
		t.Fatalf("expected missing record")
	}
}

type failingStore struct{ loadErr error }

func (f failingStore) Load(context.Context) ([]job.Record, error) { return nil, f.loadErr }
func (f failingStore) Save(context.Context, []job.Record) error   { return nil }
func (f failingStore) Close() error                               { return nil }

func TestUpdate_CorruptStorePropagates(t *testing.T) {
	ce := &store.CorruptError{Location: "x", Err: errors.New("bad json")}
	r := New(failingStore{loadErr: ce})
	called := false
	err := r.Update(context.Background(), func(recs []job.Record) ([]job.Record, error) {
		called = true
		return recs, nil
	})
	var got *store.CorruptError
	if !errors.As(err, &got) {
		t.Fatalf("expected CorruptError, got %v", err)
	}
	if called {
		t.Fatalf("mutation must not run on a corrupt registry")
	}
}
