package relay

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a rejected request field. Nothing was changed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NotFoundError means no job with ID is registered.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("relay job %s not found", e.ID) }

// StartFailedError means a job was launched but never became active, or its
// artifacts could not be prepared. The job has been cleaned up.
type StartFailedError struct {
	ID      string
	Session string
	Reason  string
	Err     error
}

func (e *StartFailedError) Error() string {
	msg := fmt.Sprintf("relay job %s (%s) failed to start: %s", e.ID, e.Session, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StartFailedError) Unwrap() error { return e.Err }

// PartialCleanupWarning collects the cleanup steps that failed while a job
// was torn down. It is logged, never returned to callers.
type PartialCleanupWarning struct {
	ID      string
	Session string
	Errs    []error
}

func (w *PartialCleanupWarning) Error() string {
	msgs := make([]string, 0, len(w.Errs))
	for _, err := range w.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("relay job %s (%s) left residue: %s", w.ID, w.Session, strings.Join(msgs, "; "))
}

func (w *PartialCleanupWarning) Unwrap() []error { return w.Errs }

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
