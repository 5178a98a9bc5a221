package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatColor Format = "color"
)

// Config describes the daemon logger. Without File.Path it logs to stderr.
type Config struct {
	Level  Level      `mapstructure:"level"`
	Format Format     `mapstructure:"format"`
	File   FileConfig `mapstructure:"file"`
}

// FileConfig enables a rotated log file. Rotation parameters follow
// lumberjack semantics.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`  // megabytes before rotation (default 10)
	MaxBackups int    `mapstructure:"max_backups"`  // number of backups to keep (default 3)
	MaxAgeDays int    `mapstructure:"max_age_days"` // days to keep (default 7)
	Compress   bool   `mapstructure:"compress"`     // gzip rotated files
}

func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatText,
		File: FileConfig{
			MaxSizeMB:  DefaultMaxSizeMB,
			MaxBackups: DefaultMaxBackups,
			MaxAgeDays: DefaultMaxAgeDays,
		},
	}
}

// ParseLevel maps a config level to slog. Empty means info.
func ParseLevel(l Level) (slog.Level, error) {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return slog.LevelDebug, nil
	case LevelInfo, "":
		return slog.LevelInfo, nil
	case LevelWarn, "warning":
		return slog.LevelWarn, nil
	case LevelError:
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", l)
}

// Validate checks level and format.
func (c Config) Validate() error {
	if _, err := ParseLevel(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case FormatText, FormatJSON, FormatColor, "":
		return nil
	}
	return fmt.Errorf("unknown log format %q", c.Format)
}

// Writer returns the destination for log output. The closer is a no-op for
// stderr.
func (c Config) Writer() io.WriteCloser {
	if c.File.Path == "" {
		return nopCloser{os.Stderr}
	}
	return &lj.Logger{
		Filename:   c.File.Path,
		MaxSize:    valOr(c.File.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.File.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.File.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.File.Compress,
	}
}

// NewHandler builds a slog handler writing to w.
func (c Config) NewHandler(w io.Writer) (slog.Handler, error) {
	lvl, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch c.Format {
	case FormatJSON:
		return slog.NewJSONHandler(w, opts), nil
	case FormatColor:
		return NewColorTextHandler(w, opts, true), nil
	case FormatText, "":
		return slog.NewTextHandler(w, opts), nil
	}
	return nil, fmt.Errorf("unknown log format %q", c.Format)
}

// New returns a logger for c and the closer of its destination.
func New(c Config) (*slog.Logger, io.Closer, error) {
	w := c.Writer()
	h, err := c.NewHandler(w)
	if err != nil {
		_ = w.Close()
		return nil, nil, err
	}
	return slog.New(h), w, nil
}

// Setup builds the logger and installs it as the slog default.
func Setup(c Config) (*slog.Logger, io.Closer, error) {
	l, closer, err := New(c)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(l)
	return l, closer, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
