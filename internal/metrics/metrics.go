package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	jobAdds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayr",
			Subsystem: "job",
			Name:      "adds_total",
			Help:      "Number of relay jobs that reached running.",
		}, []string{"backend"},
	)
	jobStartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayr",
			Subsystem: "job",
			Name:      "start_failures_total",
			Help:      "Number of adds that failed after the record was created.",
		}, []string{"reason"},
	)
	jobStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relayr",
			Subsystem: "job",
			Name:      "stops_total",
			Help:      "Number of stop requests carried out.",
		},
	)
	jobDeletes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relayr",
			Subsystem: "job",
			Name:      "deletes_total",
			Help:      "Number of deleted jobs.",
		},
	)
	cleanupWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "relayr",
			Subsystem: "job",
			Name:      "cleanup_warnings_total",
			Help:      "Number of deletes or failed adds that left residue behind.",
		},
	)
	settleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "relayr",
			Subsystem: "job",
			Name:      "settle_duration_seconds",
			Help:      "Time from backend start until the session was reported active.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	backendFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "relayr",
			Subsystem: "backend",
			Name:      "fallbacks_total",
			Help:      "Number of operations handed over to the secondary backend.",
		}, []string{"op"},
	)
	jobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "relayr",
			Name:      "jobs",
			Help:      "Registered jobs per status after the last reconcile.",
		}, []string{"status"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{jobAdds, jobStartFailures, jobStops, jobDeletes, cleanupWarnings, settleDuration, backendFallbacks, jobs}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered with the default registry
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves the metrics of a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has succeeded.

func IncAdd(backend string) {
	if regOK.Load() {
		jobAdds.WithLabelValues(backend).Inc()
	}
}

func IncStartFailure(reason string) {
	if regOK.Load() {
		jobStartFailures.WithLabelValues(reason).Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		jobStops.Inc()
	}
}

func IncDelete() {
	if regOK.Load() {
		jobDeletes.Inc()
	}
}

func IncCleanupWarning() {
	if regOK.Load() {
		cleanupWarnings.Inc()
	}
}

func ObserveSettle(seconds float64) {
	if regOK.Load() {
		settleDuration.Observe(seconds)
	}
}

func IncFallback(op string) {
	if regOK.Load() {
		backendFallbacks.WithLabelValues(op).Inc()
	}
}

// SetJobs replaces the per-status job gauge.
func SetJobs(counts map[string]int) {
	if !regOK.Load() {
		return
	}
	jobs.Reset()
	for status, n := range counts {
		jobs.WithLabelValues(status).Set(float64(n))
	}
}
