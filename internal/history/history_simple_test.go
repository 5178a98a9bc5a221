package history

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestFanoutBestEffort(t *testing.T) {
	bad := &memSink{err: errors.New("down")}
	good := &memSink{}
	f := NewFanout(nil, bad, good)
	assert.Equal(t, 2, f.Len())

	f.Emit(context.Background(), Event{Type: EventAdded, JobID: "ab12cd34"})
	require.Len(t, good.events, 1)
	assert.False(t, good.events[0].OccurredAt.IsZero())

	require.NoError(t, f.Close())
	assert.True(t, good.closed)
	assert.True(t, bad.closed)
}

// stallSink blocks until its context ends.
type stallSink struct{}

func (stallSink) Send(ctx context.Context, _ Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFanoutBoundsSlowSink(t *testing.T) {
	good := &memSink{}
	f := NewFanout(nil, stallSink{}, good)
	f.SetTimeout(50 * time.Millisecond)

	// the caller's own cancellation does not drop the event
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	f.Emit(ctx, Event{Type: EventStopped, JobID: "ab12cd34"})
	assert.Less(t, time.Since(start), time.Second)
	require.Len(t, good.events, 1)
	assert.Equal(t, EventStopped, good.events[0].Type)
}

func TestNilFanout(t *testing.T) {
	var f *Fanout
	f.Emit(context.Background(), Event{Type: EventStopped})
	assert.Equal(t, 0, f.Len())
	assert.NoError(t, f.Close())
}

func TestSQLSink_SQLite(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "history.db")
	s, err := NewSQLSinkFromDSN(dsn)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	for _, typ := range []EventType{EventAdded, EventRunning, EventStopped} {
		require.NoError(t, s.Send(ctx, Event{
			Type: typ, OccurredAt: now, JobID: "ab12cd34",
			SessionName: "relay_ab12cd34", DisplayName: "Relay 10:00:00", Status: "running",
		}))
	}
	require.NoError(t, s.Send(ctx, Event{Type: EventAdded, OccurredAt: now, JobID: "other"}))

	got, err := s.Events(ctx, "ab12cd34")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, EventAdded, got[0].Type)
	assert.Equal(t, EventStopped, got[2].Type)
	assert.Equal(t, "relay_ab12cd34", got[1].SessionName)
	assert.True(t, got[0].OccurredAt.Equal(now))
}

func TestSQLSink_InMemory(t *testing.T) {
	s, err := NewSQLSinkFromDSN(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	require.NoError(t, s.Send(context.Background(), Event{Type: EventDeleted, JobID: "x", OccurredAt: time.Now()}))
}

func TestSQLSink_EmptyDSN(t *testing.T) {
	_, err := NewSQLSinkFromDSN("  ")
	require.Error(t, err)
}

func TestSQLSink_ContextCancellation(t *testing.T) {
	s, err := NewSQLSinkFromDSN(":memory:")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, s.Send(ctx, Event{Type: EventAdded, JobID: "x", OccurredAt: time.Now()}))
}
