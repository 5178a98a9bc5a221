package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func freshRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	regOK.Store(false)
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg
}

func TestRegisterIdempotentAndCountersWork(t *testing.T) {
	reg := freshRegistry(t)
	// idempotent: calling again should be no-op
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}

	IncAdd("supervisor")
	IncStartFailure("inactive")
	IncStop()
	IncDelete()
	IncCleanupWarning()
	ObserveSettle(1.25)
	IncFallback("start")
	SetJobs(map[string]int{"running": 2, "stopped": 1})

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	wantNames := map[string]bool{
		"relayr_job_adds_total":              false,
		"relayr_job_start_failures_total":    false,
		"relayr_job_stops_total":             false,
		"relayr_job_deletes_total":           false,
		"relayr_job_cleanup_warnings_total":  false,
		"relayr_job_settle_duration_seconds": false,
		"relayr_backend_fallbacks_total":     false,
		"relayr_jobs":                        false,
	}
	for _, mf := range mfs {
		n := mf.GetName()
		if _, ok := wantNames[n]; ok {
			wantNames[n] = true
			if len(mf.GetMetric()) == 0 {
				t.Fatalf("metric %s has no samples", n)
			}
		}
	}
	for n, ok := range wantNames {
		if !ok {
			t.Fatalf("expected to find metric %s", n)
		}
	}
}

func TestSetJobsReplacesStatuses(t *testing.T) {
	reg := freshRegistry(t)
	SetJobs(map[string]int{"running": 2, "starting": 1})
	SetJobs(map[string]int{"stopped": 3})

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "relayr_jobs" {
			continue
		}
		if len(mf.GetMetric()) != 1 {
			t.Fatalf("expected only the stopped series, got %d", len(mf.GetMetric()))
		}
		m := mf.GetMetric()[0]
		if m.GetLabel()[0].GetValue() != "stopped" || m.GetGauge().GetValue() != 3 {
			t.Fatalf("unexpected series: %v", m)
		}
		return
	}
	t.Fatal("relayr_jobs not gathered")
}

func TestHandlerServesMetrics(t *testing.T) {
	regOK.Store(false)
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	IncFallback("stop")

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	b, _ := io.ReadAll(resp.Body)
	s := string(b)
	if !strings.Contains(s, `relayr_backend_fallbacks_total{op="stop"}`) {
		t.Fatalf("metrics output missing fallbacks: %s", s[:min(200, len(s))])
	}
}

func TestConcurrentIncrements(t *testing.T) {
	reg := freshRegistry(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			IncAdd("tmux")
			IncFallback("status")
			IncStop()
		}()
	}
	wg.Wait()
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}

func TestMetricsBeforeRegister(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	// no-ops, must not panic
	IncAdd("x")
	IncStartFailure("x")
	IncStop()
	IncDelete()
	IncCleanupWarning()
	ObserveSettle(1)
	IncFallback("x")
	SetJobs(map[string]int{"running": 1})
}

func TestRegisterError(t *testing.T) {
	originalState := regOK.Load()
	regOK.Store(false)
	defer regOK.Store(originalState)

	err := Register(&errorRegisterer{})
	if err == nil {
		t.Fatal("Register should return error from failing registerer")
	}
	if err.Error() != "test registration error" {
		t.Fatalf("unexpected error: %v", err)
	}
}

type errorRegisterer struct{}

func (e *errorRegisterer) Register(prometheus.Collector) error {
	return errors.New("test registration error")
}

func (e *errorRegisterer) MustRegister(...prometheus.Collector) {}
func (e *errorRegisterer) Unregister(prometheus.Collector) bool { return false }
