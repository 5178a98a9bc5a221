// Package backend hosts relay processes in supervisord or tmux behind one
// interface. Fallback is the single place where a failed variant hands over
// to the other.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// State is the liveness of a session as reported by a backend.
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

// Backend controls the process behind a session name.
type Backend interface {
	Name() string
	// Start launches script under session. For supervisord the program
	// config must already be in the include directory.
	Start(ctx context.Context, session, script string) error
	// Stop is idempotent: stopping a stopped session succeeds.
	Stop(ctx context.Context, session string) error
	Status(ctx context.Context, session string) (State, error)
	// Logs returns at most maxLines of the most recent output.
	Logs(ctx context.Context, session string, maxLines int) ([]string, error)
	// Forget drops backend-side registration after the session's config
	// has been removed.
	Forget(ctx context.Context, session string) error
}

// ErrToolMissing is returned when the control binary is not installed.
var ErrToolMissing = errors.New("control tool not found")

// ExitError carries a non-zero exit of a control command.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Output)
}

// UnavailableError means no backend variant could carry out Op.
type UnavailableError struct {
	Op      string
	Session string
	Errs    []error
}

func (e *UnavailableError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("no backend available to %s %s: %s", e.Op, e.Session, strings.Join(msgs, "; "))
}

func (e *UnavailableError) Unwrap() []error { return e.Errs }

// variantError tags an error with the variant that produced it.
type variantError struct {
	name string
	err  error
}

func (e *variantError) Error() string { return e.name + ": " + e.err.Error() }
func (e *variantError) Unwrap() error { return e.err }
