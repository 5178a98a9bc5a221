package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/relayr/internal/job"
)

func TestListReconcilesStatus(t *testing.T) {
	h := newHarness(t)
	old := time.Now().Add(-time.Hour).UTC()
	h.seed(t,
		job.Record{ID: "aaaa0001", SessionName: "relay_aaaa0001", Status: job.StatusRunning, CreatedAt: old},
		job.Record{ID: "aaaa0002", SessionName: "relay_aaaa0002", Status: job.StatusStopped, CreatedAt: old},
		job.Record{ID: "aaaa0003", SessionName: "relay_aaaa0003", Status: job.StatusStarting, CreatedAt: old},
	)
	h.fb.active["relay_aaaa0002"] = true

	recs, err := h.m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, job.StatusStopped, recs[0].Status)
	assert.Equal(t, job.StatusRunning, recs[1].Status)
	assert.Equal(t, job.StatusStopped, recs[2].Status, "stale starting record is reconciled")
}

func TestReconcileLeavesFreshStartingRecord(t *testing.T) {
	h := newHarness(t)
	h.seed(t, job.Record{ID: "dddd0001", SessionName: "relay_dddd0001", Status: job.StatusStarting, CreatedAt: time.Now().UTC()})

	require.NoError(t, h.m.Reconcile(context.Background()))
	assert.Equal(t, job.StatusStarting, h.records(t)[0].Status)
}

func TestReconcileStatusErrorLeavesRecord(t *testing.T) {
	h := newHarness(t)
	h.seed(t, job.Record{ID: "eeee0001", SessionName: "relay_eeee0001", Status: job.StatusRunning})
	h.fb.statusErr = errors.New("daemon unreachable")

	recs, err := h.m.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, recs[0].Status)
}

func TestReconcileConcurrentChangesWin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t,
		job.Record{ID: "ffff0001", SessionName: "relay_ffff0001", Status: job.StatusRunning},
		job.Record{ID: "ffff0002", SessionName: "relay_ffff0002", Status: job.StatusRunning},
	)
	// while the reconcile is querying the backend, one job is deleted and
	// the other changes status
	var once sync.Once
	h.fb.onStatus = func(string) {
		once.Do(func() {
			require.NoError(t, h.reg.Update(ctx, func(recs []job.Record) ([]job.Record, error) {
				recs = job.Remove(recs, "ffff0001")
				recs[job.Index(recs, "ffff0002")].Status = job.StatusStarting
				return recs, nil
			}))
		})
	}

	require.NoError(t, h.m.Reconcile(ctx))
	recs := h.records(t)
	require.Len(t, recs, 1, "deleted record must not come back")
	assert.Equal(t, "ffff0002", recs[0].ID)
	assert.Equal(t, job.StatusStarting, recs[0].Status)
}

func TestRunReconciler(t *testing.T) {
	h := newHarness(t)
	h.seed(t, job.Record{ID: "gggg0001", SessionName: "relay_gggg0001", Status: job.StatusRunning})

	// disabled
	h.m.RunReconciler(context.Background(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.m.RunReconciler(ctx, 10*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return h.records(t)[0].Status == job.StatusStopped
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
