package backend

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	ModeAuto       = "auto"
	ModeSupervisor = "supervisor"
	ModeTmux       = "tmux"
)

// Config selects and configures the backend variants.
type Config struct {
	Mode              string        `mapstructure:"mode"`
	SupervisorctlPath string        `mapstructure:"supervisorctl_path"`
	SupervisorConfig  string        `mapstructure:"supervisor_config"`
	TmuxPath          string        `mapstructure:"tmux_path"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
}

// New builds the backend for cfg.Mode. Every mode returns a *Fallback so
// that failures surface the same way; only auto has a secondary.
func New(cfg Config, paths Paths, logger *slog.Logger) (*Fallback, error) {
	return NewWithRunner(cfg, ExecRunner{Timeout: cfg.CommandTimeout}, paths, logger)
}

func NewWithRunner(cfg Config, runner Runner, paths Paths, logger *slog.Logger) (*Fallback, error) {
	sup := NewSupervisor(cfg.SupervisorctlPath, cfg.SupervisorConfig, runner, paths)
	tmx := NewTmux(cfg.TmuxPath, runner)
	switch cfg.Mode {
	case "", ModeAuto:
		return NewFallback(sup, tmx, logger), nil
	case ModeSupervisor:
		return NewFallback(sup, nil, logger), nil
	case ModeTmux:
		return NewFallback(tmx, nil, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend mode %q", cfg.Mode)
	}
}
