package relay

import (
	"context"
	"time"

	"github.com/loykin/relayr/internal/backend"
	"github.com/loykin/relayr/internal/job"
	"github.com/loykin/relayr/internal/metrics"
)

// Reconcile refreshes every record's status from the backend. Backend
// queries run without the registry lock; a record is only updated if its
// status did not change in the meantime, so concurrent lifecycle operations
// win. A failed query leaves the record as it is, and so does a record that
// an Add is still settling.
func (m *Manager) Reconcile(ctx context.Context) error {
	snapshot, err := m.reg.List(ctx)
	if err != nil {
		return err
	}

	observed := make(map[string]job.Status, len(snapshot))
	seen := make(map[string]job.Status, len(snapshot))
	now := m.now()
	for _, rec := range snapshot {
		seen[rec.ID] = rec.Status
		if m.addInFlight(rec, now) {
			continue
		}
		st, err := m.backend.Status(ctx, rec.SessionName)
		if err != nil {
			m.logger.Warn("status query failed during reconcile", "job", rec.ID, "session", rec.SessionName, "error", err)
			continue
		}
		next := job.StatusStopped
		if st == backend.Active {
			next = job.StatusRunning
		}
		if next != rec.Status {
			observed[rec.ID] = next
		}
	}

	counts := map[string]int{}
	err = m.reg.Update(ctx, func(recs []job.Record) ([]job.Record, error) {
		clear(counts)
		for i := range recs {
			next, ok := observed[recs[i].ID]
			if ok && seen[recs[i].ID] == recs[i].Status {
				m.logger.Debug("reconciled relay job", "job", recs[i].ID, "from", recs[i].Status, "to", next)
				recs[i].Status = next
			}
			counts[string(recs[i].Status)]++
		}
		return recs, nil
	})
	if err != nil {
		return err
	}
	metrics.SetJobs(counts)
	return nil
}

// addInFlight reports whether rec may still be owned by a running Add. Such
// records are left to the Add; stale ones are reconciled like any other.
func (m *Manager) addInFlight(rec job.Record, now time.Time) bool {
	if rec.Status != job.StatusStarting {
		return false
	}
	return now.Sub(rec.CreatedAt) < m.settle+m.cleanup+time.Second
}

// RunReconciler reconciles every interval until ctx is cancelled. A
// non-positive interval returns immediately.
func (m *Manager) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.Reconcile(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("periodic reconcile failed", "error", err)
			}
		}
	}
}
