package relayr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/relayr/internal/backend"
	"github.com/loykin/relayr/internal/config"
	"github.com/loykin/relayr/internal/history"
	hfactory "github.com/loykin/relayr/internal/history/factory"
	"github.com/loykin/relayr/internal/job"
	"github.com/loykin/relayr/internal/metrics"
	"github.com/loykin/relayr/internal/registry"
	"github.com/loykin/relayr/internal/relay"
	"github.com/loykin/relayr/internal/server"
	rtls "github.com/loykin/relayr/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Manager = relay.Manager

type Options = relay.Options

type AddRequest = relay.AddRequest

type AddResult = relay.AddResult

type Record = job.Record

type Status = job.Status

type Config = config.Config

type HistorySink = history.Sink

type (
	ValidationError  = relay.ValidationError
	NotFoundError    = relay.NotFoundError
	StartFailedError = relay.StartFailedError
	UnavailableError = backend.UnavailableError
)

const (
	StatusStarting = job.StatusStarting
	StatusRunning  = job.StatusRunning
	StatusStopped  = job.StatusStopped
)

func NewManager(opts Options) (*Manager, error) { return relay.NewManager(opts) }

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// Service bundles a Manager with the resources it was built from, as the
// daemon runs it.
type Service struct {
	Manager *Manager

	cfg     *Config
	reg     *registry.Registry
	history *history.Fanout
	logger  *slog.Logger
}

// Open builds a Service from cfg: artifact directories, registry, backend,
// history sinks and metrics. The caller owns Close.
func Open(cfg *Config, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("relayr: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Artifacts.Ensure(); err != nil {
		return nil, err
	}
	be, err := backend.New(cfg.Backend, cfg.Artifacts, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	reg, err := registry.Open(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	var hist *history.Fanout
	if cfg.History.Enabled {
		hist, err = hfactory.NewFanout(cfg.History.Sinks, logger)
		if err != nil {
			_ = reg.Close()
			return nil, fmt.Errorf("history sinks: %w", err)
		}
		hist.SetTimeout(cfg.History.SendTimeout)
	}

	mgr, err := relay.NewManager(relay.Options{
		Registry:       reg,
		Backend:        be,
		Layout:         cfg.Artifacts,
		Relay:          cfg.Relay.FFmpeg,
		SessionPrefix:  cfg.Relay.SessionPrefix,
		DefaultSource:  cfg.Relay.DefaultSource,
		SettleTimeout:  cfg.Relay.SettleTimeout,
		PollInterval:   cfg.Relay.PollInterval,
		CleanupTimeout: cfg.Relay.CleanupTimeout,
		History:        hist,
		Logger:         logger,
	})
	if err != nil {
		_ = hist.Close()
		_ = reg.Close()
		return nil, err
	}
	logger.Info("relay service ready",
		"backend", be.Name(),
		"registry", cfg.Registry.Type,
		"history_sinks", hist.Len())
	return &Service{Manager: mgr, cfg: cfg, reg: reg, history: hist, logger: logger}, nil
}

// Run reconciles once and then keeps reconciling at the configured interval
// until ctx is done.
func (s *Service) Run(ctx context.Context) {
	if err := s.Manager.Reconcile(ctx); err != nil {
		s.logger.Warn("initial reconcile failed", "error", err)
	}
	s.Manager.RunReconciler(ctx, s.cfg.Relay.ReconcileInterval)
}

// Handler exposes the Manager over HTTP with the configured base path,
// rate limit and metrics endpoint.
func (s *Service) Handler() http.Handler {
	return s.router().Handler()
}

// NewHTTPServer returns an http.Server for the configured listen address.
// TLSConfig is set when [server.tls] is enabled; serve it with
// ListenAndServeTLS("", "").
func (s *Service) NewHTTPServer() (*http.Server, error) {
	srv := server.NewServer(s.cfg.Server.Listen, s.router(), s.cfg.Relay.SettleTimeout, s.cfg.Relay.CleanupTimeout)
	tc, err := rtls.Setup(s.cfg.Server.TLS)
	if err != nil {
		return nil, err
	}
	srv.TLSConfig = tc
	return srv, nil
}

func (s *Service) router() *server.Router {
	opts := server.Options{
		BasePath:  s.cfg.Server.BasePath,
		RateLimit: s.cfg.Server.RateLimit,
		RateBurst: s.cfg.Server.RateBurst,
		Logger:    s.logger,
	}
	if s.cfg.Metrics.Enabled {
		opts.MetricsPath = s.cfg.Metrics.Path
	}
	return server.NewRouter(s.Manager, opts)
}

// Close releases history sinks and the registry.
func (s *Service) Close() error {
	return errors.Join(s.history.Close(), s.reg.Close())
}
