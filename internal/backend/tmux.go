package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Tmux hosts each relay script in a detached tmux session.
type Tmux struct {
	bin    string
	runner Runner
}

func NewTmux(bin string, runner Runner) *Tmux {
	if bin == "" {
		bin = "tmux"
	}
	return &Tmux{bin: bin, runner: runner}
}

func (t *Tmux) Name() string { return "tmux" }

func (t *Tmux) Start(ctx context.Context, session, script string) error {
	if _, err := t.runner.Run(ctx, t.bin, "new-session", "-d", "-s", session, script); err != nil {
		return fmt.Errorf("tmux new-session %s: %w", session, err)
	}
	return nil
}

func (t *Tmux) Stop(ctx context.Context, session string) error {
	out, err := t.runner.Run(ctx, t.bin, "kill-session", "-t", session)
	if err == nil {
		return nil
	}
	var ee *ExitError
	if errors.As(err, &ee) && sessionGone(out) {
		return nil
	}
	return fmt.Errorf("tmux kill-session %s: %w", session, err)
}

func sessionGone(out string) bool {
	for _, s := range []string{"can't find session", "no server running", "session not found", "error connecting to"} {
		if strings.Contains(out, s) {
			return true
		}
	}
	return false
}

func (t *Tmux) Status(ctx context.Context, session string) (State, error) {
	_, err := t.runner.Run(ctx, t.bin, "has-session", "-t", session)
	if err == nil {
		return Active, nil
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return Inactive, nil
	}
	return Inactive, fmt.Errorf("tmux has-session %s: %w", session, err)
}

func (t *Tmux) Logs(ctx context.Context, session string, maxLines int) ([]string, error) {
	out, err := t.runner.Run(ctx, t.bin, "capture-pane", "-t", session, "-p", "-S", "-"+strconv.Itoa(maxLines))
	if err != nil {
		return nil, fmt.Errorf("tmux capture-pane %s: %w", session, err)
	}
	return lastLines(out, maxLines), nil
}

func (t *Tmux) Forget(context.Context, string) error { return nil }
