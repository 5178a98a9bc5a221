// Package history exports relay lifecycle events to audit destinations.
package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventAdded          EventType = "added"
	EventRunning        EventType = "running"
	EventStartFailed    EventType = "start_failed"
	EventStopped        EventType = "stopped"
	EventDeleted        EventType = "deleted"
	EventCleanupWarning EventType = "cleanup_warning"
)

// Event is one lifecycle transition of a relay job. It never carries the
// full credential.
type Event struct {
	Type        EventType `json:"type"`
	OccurredAt  time.Time `json:"occurred_at"`
	JobID       string    `json:"job_id"`
	SessionName string    `json:"session_name"`
	DisplayName string    `json:"name,omitempty"`
	Status      string    `json:"status,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds one delivery to one sink.
const DefaultSendTimeout = 2 * time.Second

// Fanout delivers each event to every sink. Delivery is best effort: a
// failing sink is logged and does not affect the others.
type Fanout struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
}

func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: append([]Sink(nil), sinks...), logger: logger, timeout: DefaultSendTimeout}
}

// SetTimeout bounds each delivery. d <= 0 restores DefaultSendTimeout.
func (f *Fanout) SetTimeout(d time.Duration) {
	if f == nil {
		return
	}
	if d <= 0 {
		d = DefaultSendTimeout
	}
	f.timeout = d
}

func (f *Fanout) Len() int {
	if f == nil {
		return 0
	}
	return len(f.sinks)
}

func (f *Fanout) Emit(ctx context.Context, e Event) {
	if f == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	// sinks run in parallel under one deadline; a cancelled caller still
	// gets its event recorded
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()
	var wg sync.WaitGroup
	for _, s := range f.sinks {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			if err := s.Send(ctx, e); err != nil {
				f.logger.Warn("history sink failed", "event", e.Type, "job", e.JobID, "error", err)
			}
		}(s)
	}
	wg.Wait()
}

// Close closes every sink that holds resources.
func (f *Fanout) Close() error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
