package relay

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/loykin/relayr/internal/backend"
)

// fakeBackend is an in-memory process backend.
type fakeBackend struct {
	mu          sync.Mutex
	active      map[string]bool
	neverActive bool
	startErr    error
	stopErr     error
	statusErr   error
	forgetErr   error
	logs        []string
	logsErr     error
	onStatus    func(session string)

	started      []string
	stopped      []string
	forgotten    []string
	scriptsFound int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{active: map[string]bool{}}
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Start(_ context.Context, session, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, session)
	if _, err := os.Stat(script); err == nil {
		f.scriptsFound++
	}
	if f.startErr != nil {
		return f.startErr
	}
	if !f.neverActive {
		f.active[session] = true
	}
	return nil
}

func (f *fakeBackend) Stop(_ context.Context, session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, session)
	if f.stopErr != nil {
		return f.stopErr
	}
	f.active[session] = false
	return nil
}

func (f *fakeBackend) Status(_ context.Context, session string) (backend.State, error) {
	f.mu.Lock()
	hook := f.onStatus
	f.mu.Unlock()
	if hook != nil {
		hook(session)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return backend.Inactive, f.statusErr
	}
	if f.active[session] {
		return backend.Active, nil
	}
	return backend.Inactive, nil
}

func (f *fakeBackend) Logs(context.Context, string, int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs, f.logsErr
}

func (f *fakeBackend) Forget(_ context.Context, session string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, session)
	return f.forgetErr
}

func (f *fakeBackend) set(fn func(f *fakeBackend)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeBackend) isActive(session string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[session]
}

func (f *fakeBackend) stopCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

func unavailable(op string) error {
	return &backend.UnavailableError{Op: op, Session: "x", Errs: []error{errors.New("supervisor: down"), errors.New("tmux: down")}}
}
