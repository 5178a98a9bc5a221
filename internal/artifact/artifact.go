// Package artifact renders the per-job run script and supervisor program
// configuration. Rendering is pure; Write is the only step touching disk.
package artifact

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

// DefaultRetryDelay is the pause between relay restarts inside the run script.
const DefaultRetryDelay = 10 * time.Second

// Relay holds the opaque transcoding options passed through to the script.
type Relay struct {
	FFmpegPath string        `toml:"ffmpeg_path" mapstructure:"ffmpeg_path"`
	InputArgs  []string      `toml:"input_args" mapstructure:"input_args"`
	OutputArgs []string      `toml:"output_args" mapstructure:"output_args"`
	Format     string        `toml:"format" mapstructure:"format"`
	RetryDelay time.Duration `toml:"retry_delay" mapstructure:"retry_delay"`
}

// Params are the inputs of one job's artifacts. Credential is the full,
// unredacted destination and ends up only inside the run script.
type Params struct {
	SessionName   string
	SourceLocator string
	Credential    string
	ScriptPath    string
	StdoutLog     string
	StderrLog     string
	Relay         Relay
}

// Artifacts are the rendered documents of a job.
type Artifacts struct {
	Script []byte
	Config []byte
}

var reconnectArgs = []string{
	"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_at_eof", "1",
	"-reconnect_delay_max", "10",
	"-timeout", "30000000",
}

var scriptTmpl = template.Must(template.New("script").Parse(`#!/bin/bash
SOURCE={{.Source}}
DEST={{.Dest}}

while true; do
    echo "=========================================="
    echo "relay {{.Session}} starting: $(date)"
    echo "=========================================="

    {{.Command}}

    EXIT_CODE=$?
    echo "=========================================="
    echo "relay {{.Session}} exited: $(date) - exit code: $EXIT_CODE"
    echo "restarting in {{.Delay}} seconds..."
    echo "=========================================="
    sleep {{.Delay}}
done
`))

var configTmpl = template.Must(template.New("config").Parse(`[program:{{.Session}}]
command={{.Script}}
autostart=true
autorestart=true
stderr_logfile={{.Stderr}}
stdout_logfile={{.Stdout}}
`))

// Render builds both artifacts from p without side effects.
func Render(p Params) (Artifacts, error) {
	if err := validate(p); err != nil {
		return Artifacts{}, err
	}
	r := p.Relay
	ffmpeg := r.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	format := r.Format
	if format == "" {
		format = "flv"
	}
	delay := r.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	// one group per script line
	lines := [][]string{
		{ShellQuote(ffmpeg), "-hide_banner", "-loglevel", "error"},
		reconnectArgs,
		quoteAll(r.InputArgs),
		{"-i", `"$SOURCE"`},
		quoteAll(r.OutputArgs),
		{"-f", ShellQuote(format), `"$DEST"`},
	}
	cmd := make([]string, 0, len(lines))
	for _, l := range lines {
		if len(l) > 0 {
			cmd = append(cmd, strings.Join(l, " "))
		}
	}

	var script bytes.Buffer
	if err := scriptTmpl.Execute(&script, map[string]any{
		"Source":  ShellQuote(p.SourceLocator),
		"Dest":    ShellQuote(p.Credential),
		"Session": p.SessionName,
		"Command": strings.Join(cmd, " \\\n      "),
		"Delay":   int64(math.Ceil(delay.Seconds())),
	}); err != nil {
		return Artifacts{}, fmt.Errorf("render script: %w", err)
	}

	var conf bytes.Buffer
	if err := configTmpl.Execute(&conf, map[string]string{
		"Session": p.SessionName,
		"Script":  p.ScriptPath,
		"Stdout":  p.StdoutLog,
		"Stderr":  p.StderrLog,
	}); err != nil {
		return Artifacts{}, fmt.Errorf("render config: %w", err)
	}
	return Artifacts{Script: script.Bytes(), Config: conf.Bytes()}, nil
}

func validate(p Params) error {
	if !ValidSessionName(p.SessionName) {
		return fmt.Errorf("invalid session name %q: allowed [A-Za-z0-9._-]", p.SessionName)
	}
	if strings.TrimSpace(p.Credential) == "" {
		return errors.New("destination credential is required")
	}
	if p.ScriptPath == "" || p.StdoutLog == "" || p.StderrLog == "" {
		return errors.New("script and log paths are required")
	}
	for _, v := range []string{p.ScriptPath, p.StdoutLog, p.StderrLog} {
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("path %q contains a line break", v)
		}
	}
	return nil
}

// ValidSessionName reports whether s is safe as a file name and an INI
// section name.
func ValidSessionName(s string) bool {
	if s == "" || strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	return true
}

// ShellQuote wraps v in single quotes so bash reads it literally.
func ShellQuote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", `'\''`) + "'"
}

func quoteAll(vs []string) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, ShellQuote(v))
	}
	return out
}

// Write stores the artifacts. The script holds the credential and is written
// owner-only and executable; the config is world-readable for supervisord.
func Write(a Artifacts, scriptPath, configPath string) error {
	if err := writeFile(scriptPath, a.Script, 0o700); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	if err := writeFile(configPath, a.Config, 0o644); err != nil {
		return fmt.Errorf("write backend config: %w", err)
	}
	return nil
}

func writeFile(path string, b []byte, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	// chmod before any byte lands so the credential is never world-readable
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Remove deletes the given files. Missing files are not an error.
func Remove(paths ...string) error {
	var errs []error
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
