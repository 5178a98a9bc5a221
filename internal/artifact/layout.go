package artifact

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout fixes where per-session artifacts and logs live.
type Layout struct {
	ScriptDir string `toml:"script_dir" mapstructure:"script_dir"`
	ConfigDir string `toml:"config_dir" mapstructure:"config_dir"`
	LogDir    string `toml:"log_dir" mapstructure:"log_dir"`
}

func (l Layout) ScriptPath(session string) string {
	return filepath.Join(l.ScriptDir, session+".sh")
}

func (l Layout) ConfigPath(session string) string {
	return filepath.Join(l.ConfigDir, session+".conf")
}

func (l Layout) StdoutLog(session string) string {
	return filepath.Join(l.LogDir, session+"_out.log")
}

func (l Layout) StderrLog(session string) string {
	return filepath.Join(l.LogDir, session+"_err.log")
}

// Resolve returns l with relative directories joined to base. supervisord
// reads the rendered program config from its own working directory, so
// every path written into it must be absolute.
func (l Layout) Resolve(base string) (Layout, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return l, fmt.Errorf("resolve artifact base %s: %w", base, err)
	}
	for _, d := range []*string{&l.ScriptDir, &l.ConfigDir, &l.LogDir} {
		if *d != "" && !filepath.IsAbs(*d) {
			*d = filepath.Join(abs, *d)
		}
	}
	return l, nil
}

// Ensure creates the artifact directories.
func (l Layout) Ensure() error {
	for _, d := range []string{l.ScriptDir, l.ConfigDir, l.LogDir} {
		if d == "" {
			return fmt.Errorf("artifact layout has an empty directory: %+v", l)
		}
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}

// Params assembles generator inputs for a session placed in this layout.
func (l Layout) Params(session, source, credential string, relay Relay) Params {
	return Params{
		SessionName:   session,
		SourceLocator: source,
		Credential:    credential,
		ScriptPath:    l.ScriptPath(session),
		StdoutLog:     l.StdoutLog(session),
		StderrLog:     l.StderrLog(session),
		Relay:         relay,
	}
}
