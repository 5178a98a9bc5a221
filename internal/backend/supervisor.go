package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
)

// supervisord process states as printed by `supervisorctl status`.
var supervisorStates = map[string]struct{}{
	"STOPPED": {}, "STARTING": {}, "RUNNING": {}, "BACKOFF": {},
	"STOPPING": {}, "EXITED": {}, "FATAL": {}, "UNKNOWN": {},
}

var errNoSuchProcess = errors.New("program not known to supervisord")

// Paths locates the per-session files supervisord reads and writes.
type Paths interface {
	ConfigPath(session string) string
	StdoutLog(session string) string
}

// Supervisor drives supervisord through supervisorctl. Programs are declared
// by config files in supervisord's include directory.
type Supervisor struct {
	ctl     string
	confArg []string
	runner  Runner
	paths   Paths
}

// NewSupervisor returns the supervisord variant. conf is passed as -c when
// set. paths may be nil, in which case Logs fails and Discard leaves the
// program config in place.
func NewSupervisor(ctl, conf string, runner Runner, paths Paths) *Supervisor {
	if ctl == "" {
		ctl = "supervisorctl"
	}
	s := &Supervisor{ctl: ctl, runner: runner, paths: paths}
	if conf != "" {
		s.confArg = []string{"-c", conf}
	}
	return s
}

func (s *Supervisor) Name() string { return "supervisor" }

func (s *Supervisor) run(ctx context.Context, args ...string) (string, error) {
	return s.runner.Run(ctx, s.ctl, append(append([]string(nil), s.confArg...), args...)...)
}

func (s *Supervisor) reload(ctx context.Context) error {
	if _, err := s.run(ctx, "reread"); err != nil {
		return fmt.Errorf("supervisorctl reread: %w", err)
	}
	if _, err := s.run(ctx, "update"); err != nil {
		return fmt.Errorf("supervisorctl update: %w", err)
	}
	return nil
}

func (s *Supervisor) Start(ctx context.Context, session, _ string) error {
	if err := s.reload(ctx); err != nil {
		return err
	}
	// update starts autostart programs; make sure this one got picked up
	if _, err := s.query(ctx, session); err != nil {
		return err
	}
	return nil
}

func (s *Supervisor) Stop(ctx context.Context, session string) error {
	out, err := s.run(ctx, "stop", session)
	switch {
	case strings.Contains(out, "no such process"):
		return fmt.Errorf("supervisorctl stop %s: %w", session, errNoSuchProcess)
	case strings.Contains(out, "not running"):
		return nil
	case err != nil:
		return fmt.Errorf("supervisorctl stop %s: %w", session, err)
	}
	return nil
}

func (s *Supervisor) Status(ctx context.Context, session string) (State, error) {
	st, err := s.query(ctx, session)
	if errors.Is(err, errNoSuchProcess) {
		return Inactive, nil
	}
	if err != nil {
		return Inactive, err
	}
	if st == "RUNNING" {
		return Active, nil
	}
	return Inactive, nil
}

// query returns the supervisord state word of session. supervisorctl exits
// non-zero for every state but RUNNING, so the output is parsed first.
func (s *Supervisor) query(ctx context.Context, session string) (string, error) {
	out, err := s.run(ctx, "status", session)
	if errors.Is(err, ErrToolMissing) {
		return "", err
	}
	if state, ok := parseSupervisorStatus(out, session); ok {
		return state, nil
	}
	if strings.Contains(out, "no such process") {
		return "", errNoSuchProcess
	}
	if err != nil {
		return "", fmt.Errorf("supervisorctl status %s: %w", session, err)
	}
	return "", fmt.Errorf("supervisorctl status %s: unexpected output %q", session, strings.TrimSpace(out))
}

func parseSupervisorStatus(out, session string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if len(f) < 2 || f[0] != session {
			continue
		}
		if _, ok := supervisorStates[f[1]]; ok {
			return f[1], true
		}
	}
	return "", false
}

func (s *Supervisor) Logs(_ context.Context, session string, maxLines int) ([]string, error) {
	if s.paths == nil {
		return nil, errors.New("no supervisor log path configured")
	}
	return tailFile(s.paths.StdoutLog(session), maxLines)
}

func (s *Supervisor) Forget(ctx context.Context, session string) error {
	out, err := s.run(ctx, "remove", session)
	if errors.Is(err, ErrToolMissing) {
		return err
	}
	if err != nil && !strings.Contains(out, "no such process") && !strings.Contains(out, "still running") {
		return fmt.Errorf("supervisorctl remove %s: %w", session, err)
	}
	return s.reload(ctx)
}

// Discard undoes a start that may have half happened: the program is
// stopped, its config file deleted and supervisord told to drop it, so a
// later reread cannot bring it back.
func (s *Supervisor) Discard(ctx context.Context, session string) error {
	var errs []error
	if err := s.Stop(ctx, session); err != nil && !errors.Is(err, errNoSuchProcess) {
		errs = append(errs, err)
	}
	if s.paths != nil {
		if err := os.Remove(s.paths.ConfigPath(session)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := s.Forget(ctx, session); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
