// Package relay supervises media relay jobs: it registers them, renders their
// run artifacts, hands them to a process backend and keeps the registry in
// line with what the backend reports.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/relayr/internal/artifact"
	"github.com/loykin/relayr/internal/backend"
	"github.com/loykin/relayr/internal/history"
	"github.com/loykin/relayr/internal/job"
	"github.com/loykin/relayr/internal/metrics"
	"github.com/loykin/relayr/internal/registry"
)

const (
	DefaultSessionPrefix  = "relay"
	DefaultSettleTimeout  = 15 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultCleanupTimeout = 10 * time.Second

	// LogLines is the number of output lines returned by Logs.
	LogLines = 50
	// NoLogsAvailable is the single line returned when a job has no output.
	NoLogsAvailable = "no logs available"

	maxIDAttempts = 16
)

// Options wires a Manager. Registry and Backend are required.
type Options struct {
	Registry       *registry.Registry
	Backend        backend.Backend
	Layout         artifact.Layout
	Relay          artifact.Relay
	SessionPrefix  string
	DefaultSource  string
	SettleTimeout  time.Duration
	PollInterval   time.Duration
	CleanupTimeout time.Duration
	History        *history.Fanout
	Logger         *slog.Logger
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// Manager runs the job lifecycle. It is safe for concurrent use.
type Manager struct {
	reg     *registry.Registry
	backend backend.Backend
	layout  artifact.Layout
	relay   artifact.Relay
	prefix  string
	source  string
	settle  time.Duration
	poll    time.Duration
	cleanup time.Duration
	hist    *history.Fanout
	logger  *slog.Logger
	now     func() time.Time
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Registry == nil {
		return nil, errors.New("relay: registry is required")
	}
	if opts.Backend == nil {
		return nil, errors.New("relay: backend is required")
	}
	m := &Manager{
		reg:     opts.Registry,
		backend: opts.Backend,
		layout:  opts.Layout,
		relay:   opts.Relay,
		prefix:  opts.SessionPrefix,
		source:  strings.TrimSpace(opts.DefaultSource),
		settle:  opts.SettleTimeout,
		poll:    opts.PollInterval,
		cleanup: opts.CleanupTimeout,
		hist:    opts.History,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if m.prefix == "" {
		m.prefix = DefaultSessionPrefix
	}
	if m.settle <= 0 {
		m.settle = DefaultSettleTimeout
	}
	if m.poll <= 0 {
		m.poll = DefaultPollInterval
	}
	if m.cleanup <= 0 {
		m.cleanup = DefaultCleanupTimeout
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// AddRequest describes a new relay job. Credential is the destination
// (ingest URL with key) and is only ever written to the run script.
type AddRequest struct {
	SourceLocator string
	Credential    string
	DisplayName   string
}

type AddResult struct {
	ID          string
	SessionName string
	Status      job.Status
}

// Add registers, launches and confirms a relay job. On failure every trace
// of the job is removed before the error is returned.
func (m *Manager) Add(ctx context.Context, req AddRequest) (AddResult, error) {
	cred := strings.TrimSpace(req.Credential)
	if cred == "" {
		return AddResult{}, &ValidationError{Field: "stream_key", Reason: "must not be empty"}
	}
	source := strings.TrimSpace(req.SourceLocator)
	if source == "" {
		source = m.source
	}
	if source == "" {
		return AddResult{}, &ValidationError{Field: "source_url", Reason: "no source given and no default configured"}
	}
	name := strings.TrimSpace(req.DisplayName)
	now := m.now()
	if name == "" {
		name = job.DefaultDisplayName(now)
	}

	rec, err := m.register(ctx, job.Record{
		DisplayName:   name,
		Credential:    job.RedactCredential(cred),
		SourceLocator: source,
		CreatedAt:     now.UTC().Truncate(time.Second),
		Status:        job.StatusStarting,
	})
	if err != nil {
		return AddResult{}, err
	}
	log := m.logger.With("job", rec.ID, "session", rec.SessionName)
	log.Info("relay job registered", "name", rec.DisplayName, "source", rec.SourceLocator)
	m.emit(ctx, history.EventAdded, rec, "")

	fail := func(cause error) (AddResult, error) {
		m.abortAdd(rec, cause)
		return AddResult{}, cause
	}

	p := m.layout.Params(rec.SessionName, source, cred, m.relay)
	arts, err := artifact.Render(p)
	if err != nil {
		return fail(&StartFailedError{ID: rec.ID, Session: rec.SessionName, Reason: "render artifacts", Err: err})
	}
	if err := artifact.Write(arts, p.ScriptPath, m.layout.ConfigPath(rec.SessionName)); err != nil {
		return fail(&StartFailedError{ID: rec.ID, Session: rec.SessionName, Reason: "write artifacts", Err: err})
	}

	started := time.Now()
	if err := m.backend.Start(ctx, rec.SessionName, p.ScriptPath); err != nil {
		var ue *backend.UnavailableError
		if errors.As(err, &ue) {
			return fail(err)
		}
		return fail(&StartFailedError{ID: rec.ID, Session: rec.SessionName, Reason: "backend start", Err: err})
	}

	if err := m.awaitState(ctx, rec.SessionName, backend.Active); err != nil {
		var ue *backend.UnavailableError
		if errors.As(err, &ue) || ctx.Err() != nil {
			return fail(err)
		}
		return fail(&StartFailedError{ID: rec.ID, Session: rec.SessionName, Reason: "not active", Err: err})
	}
	metrics.ObserveSettle(time.Since(started).Seconds())

	err = m.reg.Update(ctx, func(recs []job.Record) ([]job.Record, error) {
		i := job.Index(recs, rec.ID)
		if i < 0 {
			return nil, &NotFoundError{ID: rec.ID}
		}
		recs[i].Status = job.StatusRunning
		return recs, nil
	})
	if err != nil {
		// deleted concurrently, or the registry failed; either way the
		// process must not outlive its record
		return fail(err)
	}

	rec.Status = job.StatusRunning
	log.Info("relay job running", "backend", m.backend.Name())
	metrics.IncAdd(m.backend.Name())
	m.emit(ctx, history.EventRunning, rec, "")
	return AddResult{ID: rec.ID, SessionName: rec.SessionName, Status: job.StatusRunning}, nil
}

// register allocates a unique id and session and appends rec.
func (m *Manager) register(ctx context.Context, rec job.Record) (job.Record, error) {
	err := m.reg.Update(ctx, func(recs []job.Record) ([]job.Record, error) {
		for attempt := 0; attempt < maxIDAttempts; attempt++ {
			id := job.NewID()
			session := job.SessionName(m.prefix, id)
			if !taken(recs, id, session) {
				rec.ID, rec.SessionName = id, session
				return append(recs, rec), nil
			}
		}
		return nil, fmt.Errorf("could not allocate a unique job id after %d attempts", maxIDAttempts)
	})
	if err != nil {
		return job.Record{}, err
	}
	return rec, nil
}

func taken(recs []job.Record, id, session string) bool {
	for _, r := range recs {
		if r.ID == id || r.SessionName == session {
			return true
		}
	}
	return false
}

// abortAdd tears down a job whose add failed. It runs on its own context so
// that a cancelled request still cleans up.
func (m *Manager) abortAdd(rec job.Record, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cleanup)
	defer cancel()

	log := m.logger.With("job", rec.ID, "session", rec.SessionName)
	log.Warn("relay job failed to start, cleaning up", "error", cause)
	metrics.IncStartFailure(failureReason(cause))
	m.emit(ctx, history.EventStartFailed, rec, cause.Error())

	var errs []error
	if err := m.backend.Stop(ctx, rec.SessionName); err != nil {
		errs = append(errs, fmt.Errorf("stop: %w", err))
	}
	if err := artifact.Remove(m.layout.ConfigPath(rec.SessionName), m.layout.ScriptPath(rec.SessionName)); err != nil {
		errs = append(errs, fmt.Errorf("remove artifacts: %w", err))
	}
	if err := m.backend.Forget(ctx, rec.SessionName); err != nil {
		errs = append(errs, fmt.Errorf("forget: %w", err))
	}
	if err := m.reg.Update(ctx, func(recs []job.Record) ([]job.Record, error) {
		return job.Remove(recs, rec.ID), nil
	}); err != nil {
		errs = append(errs, fmt.Errorf("remove record: %w", err))
	}
	m.warnCleanup(ctx, rec, errs)
}

func failureReason(err error) string {
	var ue *backend.UnavailableError
	var sf *StartFailedError
	var nf *NotFoundError
	switch {
	case errors.As(err, &ue):
		return "backend_unavailable"
	case errors.As(err, &sf):
		return strings.ReplaceAll(sf.Reason, " ", "_")
	case errors.As(err, &nf):
		return "deleted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "registry"
}

// warnCleanup reports residue left behind by a teardown.
func (m *Manager) warnCleanup(ctx context.Context, rec job.Record, errs []error) {
	if len(errs) == 0 {
		return
	}
	w := &PartialCleanupWarning{ID: rec.ID, Session: rec.SessionName, Errs: errs}
	m.logger.Warn("relay job cleanup incomplete", "job", rec.ID, "session", rec.SessionName, "error", w)
	metrics.IncCleanupWarning()
	m.emit(ctx, history.EventCleanupWarning, rec, w.Error())
}

// awaitState polls the backend until session reaches want or the settle
// timeout passes. It returns an *backend.UnavailableError when no poll got
// an answer at all.
func (m *Manager) awaitState(ctx context.Context, session string, want backend.State) error {
	deadline := time.NewTimer(m.settle)
	defer deadline.Stop()
	tick := time.NewTicker(m.poll)
	defer tick.Stop()

	answered := false
	var lastErr error
	for {
		st, err := m.backend.Status(ctx, session)
		switch {
		case err == nil && st == want:
			return nil
		case err == nil:
			answered = true
		default:
			lastErr = err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			if !answered && lastErr != nil {
				return lastErr
			}
			return fmt.Errorf("session %s not %s after %s", session, want, m.settle)
		case <-tick.C:
		}
	}
}

// Stop halts a job and marks it stopped. Stopping a stopped job succeeds.
// If the backend cannot stop the job the record is left as it was.
func (m *Manager) Stop(ctx context.Context, id string) error {
	rec, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	log := m.logger.With("job", rec.ID, "session", rec.SessionName)

	if err := m.backend.Stop(ctx, rec.SessionName); err != nil {
		return fmt.Errorf("stop relay job %s: %w", rec.ID, err)
	}
	if err := m.awaitState(ctx, rec.SessionName, backend.Inactive); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("relay job still reported active after stop", "error", err)
	}

	err = m.reg.Update(ctx, func(recs []job.Record) ([]job.Record, error) {
		i := job.Index(recs, rec.ID)
		if i < 0 {
			return nil, &NotFoundError{ID: rec.ID}
		}
		recs[i].Status = job.StatusStopped
		return recs, nil
	})
	if err != nil {
		return err
	}

	rec.Status = job.StatusStopped
	log.Info("relay job stopped")
	metrics.IncStop()
	m.emit(ctx, history.EventStopped, rec, "")
	return nil
}

// Delete stops a job if needed, removes its artifacts and unregisters it.
// Cleanup failures are reported as a warning; only a registry failure fails
// the call.
func (m *Manager) Delete(ctx context.Context, id string) error {
	rec, err := m.lookup(ctx, id)
	if err != nil {
		return err
	}
	log := m.logger.With("job", rec.ID, "session", rec.SessionName)

	var errs []error
	st, err := m.backend.Status(ctx, rec.SessionName)
	if err != nil || st == backend.Active {
		if err != nil {
			errs = append(errs, fmt.Errorf("status: %w", err))
		}
		if err := m.backend.Stop(ctx, rec.SessionName); err != nil {
			errs = append(errs, fmt.Errorf("stop: %w", err))
		}
	}
	if err := artifact.Remove(m.layout.ConfigPath(rec.SessionName), m.layout.ScriptPath(rec.SessionName)); err != nil {
		errs = append(errs, fmt.Errorf("remove artifacts: %w", err))
	}
	if err := m.backend.Forget(ctx, rec.SessionName); err != nil {
		errs = append(errs, fmt.Errorf("forget: %w", err))
	}

	if err := m.reg.Update(ctx, func(recs []job.Record) ([]job.Record, error) {
		return job.Remove(recs, rec.ID), nil
	}); err != nil {
		return err
	}

	m.warnCleanup(ctx, rec, errs)
	log.Info("relay job deleted")
	metrics.IncDelete()
	m.emit(ctx, history.EventDeleted, rec, "")
	return nil
}

// Logs returns up to LogLines recent output lines of a job. When the backend
// has nothing it returns the single line NoLogsAvailable.
func (m *Manager) Logs(ctx context.Context, id string) ([]string, error) {
	rec, err := m.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	lines, err := m.backend.Logs(ctx, rec.SessionName, LogLines)
	if err != nil {
		m.logger.Debug("no relay logs", "job", rec.ID, "session", rec.SessionName, "error", err)
		return []string{NoLogsAvailable}, nil
	}
	if len(lines) == 0 {
		return []string{NoLogsAvailable}, nil
	}
	return lines, nil
}

// List reconciles the registry with the backend and returns all jobs.
func (m *Manager) List(ctx context.Context) ([]job.Record, error) {
	if err := m.Reconcile(ctx); err != nil {
		return nil, err
	}
	return m.reg.List(ctx)
}

func (m *Manager) lookup(ctx context.Context, id string) (job.Record, error) {
	rec, ok, err := m.reg.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return job.Record{}, err
	}
	if !ok {
		return job.Record{}, &NotFoundError{ID: id}
	}
	return rec, nil
}

func (m *Manager) emit(ctx context.Context, typ history.EventType, rec job.Record, detail string) {
	if m.hist.Len() == 0 {
		return
	}
	m.hist.Emit(ctx, history.Event{
		Type:        typ,
		OccurredAt:  m.now().UTC(),
		JobID:       rec.ID,
		SessionName: rec.SessionName,
		DisplayName: rec.DisplayName,
		Status:      string(rec.Status),
		Detail:      detail,
	})
}
