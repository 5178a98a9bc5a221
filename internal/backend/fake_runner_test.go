package backend

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
)

type reply struct {
	out string
	err error
}

// fakeRunner answers commands by their joined command line.
type fakeRunner struct {
	mu      sync.Mutex
	replies map[string]reply
	calls   []string
	missing map[string]bool
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{replies: map[string]reply{}, missing: map[string]bool{}}
}

func (f *fakeRunner) on(cmd, out string, err error) *fakeRunner {
	f.replies[cmd] = reply{out: out, err: err}
	return f
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)
	if f.missing[name] {
		return "", ErrToolMissing
	}
	r, ok := f.replies[line]
	if !ok {
		return "", nil
	}
	return r.out, r.err
}

func (f *fakeRunner) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func exit(code int, out string) error { return &ExitError{Code: code, Output: out} }

// testPaths places session files flat in dir.
type testPaths struct{ dir string }

func (p testPaths) ConfigPath(session string) string {
	return filepath.Join(p.dir, session+".conf")
}

func (p testPaths) StdoutLog(session string) string {
	return filepath.Join(p.dir, session+"_out.log")
}
