package backend

import (
	"context"
	"errors"
	"log/slog"

	"github.com/loykin/relayr/internal/metrics"
)

// Fallback tries primary first and hands over to secondary on failure.
// A nil secondary gives single-variant behavior with the same error shape.
type Fallback struct {
	primary   Backend
	secondary Backend
	logger    *slog.Logger
}

func NewFallback(primary, secondary Backend, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Name() string {
	if f.secondary == nil {
		return f.primary.Name()
	}
	return f.primary.Name() + "+" + f.secondary.Name()
}

// do runs op against primary and, if that fails, against secondary.
func (f *Fallback) do(op, session string, call func(Backend) error) error {
	err := call(f.primary)
	if err == nil {
		return nil
	}
	errs := []error{&variantError{name: f.primary.Name(), err: err}}
	if f.secondary == nil {
		return &UnavailableError{Op: op, Session: session, Errs: errs}
	}
	f.logger.Warn("backend failed, falling back",
		"op", op, "session", session,
		"primary", f.primary.Name(), "secondary", f.secondary.Name(), "error", err)
	metrics.IncFallback(op)
	if err2 := call(f.secondary); err2 != nil {
		errs = append(errs, &variantError{name: f.secondary.Name(), err: err2})
		return &UnavailableError{Op: op, Session: session, Errs: errs}
	}
	return nil
}

// discarder is implemented by variants that can undo a partial start.
type discarder interface {
	Discard(ctx context.Context, session string) error
}

// Start launches session on primary. When primary fails after it may already
// have launched the program, that launch is undone before secondary takes
// over, so a session is never hosted twice.
func (f *Fallback) Start(ctx context.Context, session, script string) error {
	first := true
	return f.do("start", session, func(b Backend) error {
		if !first {
			f.undoStart(ctx, session)
		}
		first = false
		return b.Start(ctx, session, script)
	})
}

func (f *Fallback) undoStart(ctx context.Context, session string) {
	var err error
	if d, ok := f.primary.(discarder); ok {
		err = d.Discard(ctx, session)
	} else {
		err = errors.Join(f.primary.Stop(ctx, session), f.primary.Forget(ctx, session))
	}
	if err != nil && !errors.Is(err, ErrToolMissing) {
		f.logger.Warn("could not undo partial start",
			"session", session, "backend", f.primary.Name(), "error", err)
	}
}

// Stop halts session on every variant. A session started by secondary stays
// there while primary is healthy, so stopping primary alone is not enough.
// Secondary errors matter only once primary has stopped the session.
func (f *Fallback) Stop(ctx context.Context, session string) error {
	if f.secondary == nil {
		return f.do("stop", session, func(b Backend) error { return b.Stop(ctx, session) })
	}
	pErr := f.primary.Stop(ctx, session)
	sErr := f.secondary.Stop(ctx, session)
	if errors.Is(sErr, ErrToolMissing) && pErr == nil {
		sErr = nil
	}
	switch {
	case pErr == nil && sErr == nil:
		return nil
	case pErr != nil && sErr == nil:
		f.logger.Warn("backend failed, falling back",
			"op", "stop", "session", session,
			"primary", f.primary.Name(), "secondary", f.secondary.Name(), "error", pErr)
		metrics.IncFallback("stop")
		return nil
	}
	var errs []error
	if pErr != nil {
		errs = append(errs, &variantError{name: f.primary.Name(), err: pErr})
	}
	errs = append(errs, &variantError{name: f.secondary.Name(), err: sErr})
	return &UnavailableError{Op: "stop", Session: session, Errs: errs}
}

// Status reports Active if either variant hosts the session. A session may
// have been started by the secondary after the primary failed.
func (f *Fallback) Status(ctx context.Context, session string) (State, error) {
	st, err := f.primary.Status(ctx, session)
	if err == nil && (st == Active || f.secondary == nil) {
		return st, nil
	}
	errs := []error(nil)
	if err != nil {
		errs = append(errs, &variantError{name: f.primary.Name(), err: err})
		if f.secondary == nil {
			return Inactive, &UnavailableError{Op: "status", Session: session, Errs: errs}
		}
		f.logger.Warn("backend failed, falling back",
			"op", "status", "session", session,
			"primary", f.primary.Name(), "secondary", f.secondary.Name(), "error", err)
		metrics.IncFallback("status")
	}
	st2, err2 := f.secondary.Status(ctx, session)
	if err2 != nil {
		if err == nil {
			// primary answered Inactive; trust it
			return Inactive, nil
		}
		errs = append(errs, &variantError{name: f.secondary.Name(), err: err2})
		return Inactive, &UnavailableError{Op: "status", Session: session, Errs: errs}
	}
	return st2, nil
}

func (f *Fallback) Logs(ctx context.Context, session string, maxLines int) ([]string, error) {
	var lines []string
	err := f.do("logs", session, func(b Backend) error {
		l, err := b.Logs(ctx, session, maxLines)
		if err == nil {
			lines = l
		}
		return err
	})
	return lines, err
}

func (f *Fallback) Forget(ctx context.Context, session string) error {
	return f.do("forget", session, func(b Backend) error { return b.Forget(ctx, session) })
}
