// Package registry serializes read-modify-write cycles over the persisted job
// collection. It is the single source of truth for job metadata.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/loykin/relayr/internal/job"
	"github.com/loykin/relayr/internal/store"
)

// Registry guards a store.Store with a mutex so that load, mutate and save
// run as one unit. Callers must not hold the registry across backend calls.
type Registry struct {
	mu sync.Mutex
	st store.Store
}

// New wraps st.
func New(st store.Store) *Registry {
	return &Registry{st: st}
}

// Open builds the configured store and wraps it.
func Open(cfg store.Config) (*Registry, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(st), nil
}

// List returns a copy of the persisted collection.
func (r *Registry) List(ctx context.Context) ([]job.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.Load(ctx)
}

// Get returns the record with the given id.
func (r *Registry) Get(ctx context.Context, id string) (job.Record, bool, error) {
	recs, err := r.List(ctx)
	if err != nil {
		return job.Record{}, false, err
	}
	if i := job.Index(recs, id); i >= 0 {
		return recs[i], true, nil
	}
	return job.Record{}, false, nil
}

// Update runs fn on the current collection and persists its result. Nothing
// is written when fn fails. The lock is held for the whole cycle.
func (r *Registry) Update(ctx context.Context, fn func([]job.Record) ([]job.Record, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs, err := r.st.Load(ctx)
	if err != nil {
		return err
	}
	next, err := fn(recs)
	if err != nil {
		return err
	}
	if err := r.st.Save(ctx, next); err != nil {
		return fmt.Errorf("persist registry: %w", err)
	}
	return nil
}

// Close releases the underlying store.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.Close()
}
