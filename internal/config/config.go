package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/loykin/relayr/internal/artifact"
	"github.com/loykin/relayr/internal/backend"
	"github.com/loykin/relayr/internal/logger"
	"github.com/loykin/relayr/internal/store"
	rtls "github.com/loykin/relayr/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. RELAYR_SERVER_LISTEN.
const EnvPrefix = "RELAYR"

// Config is the daemon configuration as read from TOML.
type Config struct {
	// EnvFiles are .env files loaded into the process environment before
	// overrides are applied. Variables already set win.
	EnvFiles  []string        `toml:"env_files" mapstructure:"env_files"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Registry  store.Config    `toml:"registry" mapstructure:"registry"`
	Artifacts artifact.Layout `toml:"artifacts" mapstructure:"artifacts"`
	Relay     RelayConfig     `toml:"relay" mapstructure:"relay"`
	Backend   backend.Config  `toml:"backend" mapstructure:"backend"`
	Log       logger.Config   `toml:"log" mapstructure:"log"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
}

type ServerConfig struct {
	Listen          string        `toml:"listen" mapstructure:"listen"`
	BasePath        string        `toml:"base_path" mapstructure:"base_path"`
	RateLimit       float64       `toml:"rate_limit" mapstructure:"rate_limit"` // mutating requests per second, 0 disables
	RateBurst       int           `toml:"rate_burst" mapstructure:"rate_burst"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	TLS             rtls.Config   `toml:"tls" mapstructure:"tls"`
}

type RelayConfig struct {
	SessionPrefix     string         `toml:"session_prefix" mapstructure:"session_prefix"`
	DefaultSource     string         `toml:"default_source" mapstructure:"default_source"`
	SettleTimeout     time.Duration  `toml:"settle_timeout" mapstructure:"settle_timeout"`
	PollInterval      time.Duration  `toml:"poll_interval" mapstructure:"poll_interval"`
	CleanupTimeout    time.Duration  `toml:"cleanup_timeout" mapstructure:"cleanup_timeout"`
	ReconcileInterval time.Duration  `toml:"reconcile_interval" mapstructure:"reconcile_interval"`
	FFmpeg            artifact.Relay `toml:"ffmpeg" mapstructure:"ffmpeg"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Path    string `toml:"path" mapstructure:"path"`
}

type HistoryConfig struct {
	Enabled     bool          `toml:"enabled" mapstructure:"enabled"`
	Sinks       []string      `toml:"sinks" mapstructure:"sinks"` // DSNs, see history/factory
	SendTimeout time.Duration `toml:"send_timeout" mapstructure:"send_timeout"`
}

// Default transcoding options: 480p25 H.264 baseline with AAC stereo.
var (
	DefaultInputArgs = []string{
		"-fflags", "+genpts",
		"-analyzeduration", "5000000", "-probesize", "5000000",
	}
	DefaultOutputArgs = []string{
		"-c:v", "libx264", "-preset", "ultrafast", "-tune", "zerolatency",
		"-profile:v", "baseline", "-level", "3.1",
		"-vf", "scale=854:480:force_original_aspect_ratio=decrease,pad=854:480:(ow-iw)/2:(oh-ih)/2,fps=25",
		"-b:v", "1200k", "-maxrate", "1500k", "-bufsize", "2000k",
		"-g", "50", "-keyint_min", "25", "-sc_threshold", "0",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac", "-b:a", "64k", "-ar", "44100", "-ac", "2",
		"-af", "aresample=async=1",
		"-bsf:v", "h264_mp4toannexb",
	}
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)
	v.SetDefault("server.tls.min_version", "1.2")
	v.SetDefault("server.tls.hosts", []string{"localhost", "127.0.0.1"})
	v.SetDefault("server.tls.valid_days", 365)

	v.SetDefault("registry.type", "file")
	v.SetDefault("registry.path", "relay_jobs.json")
	v.SetDefault("registry.dsn", "")
	v.SetDefault("registry.max_open_conns", 0)
	v.SetDefault("registry.max_idle_conns", 0)
	v.SetDefault("registry.conn_max_age", "0s")

	v.SetDefault("artifacts.script_dir", "scripts")
	v.SetDefault("artifacts.config_dir", "supervisor_conf")
	v.SetDefault("artifacts.log_dir", "supervisor_logs")

	v.SetDefault("relay.session_prefix", "relay")
	v.SetDefault("relay.default_source", "")
	v.SetDefault("relay.settle_timeout", "15s")
	v.SetDefault("relay.poll_interval", "500ms")
	v.SetDefault("relay.cleanup_timeout", "10s")
	v.SetDefault("relay.reconcile_interval", "0s")
	v.SetDefault("relay.ffmpeg.ffmpeg_path", "ffmpeg")
	v.SetDefault("relay.ffmpeg.input_args", DefaultInputArgs)
	v.SetDefault("relay.ffmpeg.output_args", DefaultOutputArgs)
	v.SetDefault("relay.ffmpeg.format", "flv")
	v.SetDefault("relay.ffmpeg.retry_delay", "10s")

	v.SetDefault("backend.mode", backend.ModeAuto)
	v.SetDefault("backend.supervisorctl_path", "supervisorctl")
	v.SetDefault("backend.supervisor_config", "")
	v.SetDefault("backend.tmux_path", "tmux")
	v.SetDefault("backend.command_timeout", "10s")

	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.file.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.file.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.file.compress", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.sinks", []string{})
	v.SetDefault("history.send_timeout", "2s")

	v.SetDefault("env_files", []string{})
}

// Load reads the TOML file at path (optional) and applies environment
// overrides. An empty path yields defaults plus environment. Relative
// artifact directories are made absolute against the config file's
// directory, or the working directory when there is no file.
func Load(path string) (*Config, error) {
	base := "."
	if path != "" {
		base = filepath.Dir(path)
	}
	v := viper.New()
	setDefaults(v)
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		files := v.GetStringSlice("env_files")
		if err := applyEnvFiles(files, base); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	arts, err := cfg.Artifacts.Resolve(base)
	if err != nil {
		return nil, err
	}
	cfg.Artifacts = arts
	return &cfg, nil
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend.Mode {
	case "", backend.ModeAuto, backend.ModeSupervisor, backend.ModeTmux:
	default:
		errs = append(errs, fmt.Errorf("backend.mode: unknown mode %q", c.Backend.Mode))
	}
	switch strings.ToLower(c.Registry.Type) {
	case "", "file", "sqlite":
		if c.Registry.Path == "" {
			errs = append(errs, errors.New("registry.path: required"))
		}
	case "postgres", "postgresql":
		if c.Registry.DSN == "" {
			errs = append(errs, errors.New("registry.dsn: required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("registry.type: unsupported %q", c.Registry.Type))
	}
	if c.Relay.SettleTimeout <= 0 {
		errs = append(errs, errors.New("relay.settle_timeout: must be positive"))
	}
	if c.Relay.PollInterval <= 0 {
		errs = append(errs, errors.New("relay.poll_interval: must be positive"))
	}
	if c.Relay.ReconcileInterval < 0 {
		errs = append(errs, errors.New("relay.reconcile_interval: must not be negative"))
	}
	if c.Relay.FFmpeg.Format == "" {
		errs = append(errs, errors.New("relay.ffmpeg.format: required"))
	}
	if c.Artifacts.ScriptDir == "" || c.Artifacts.ConfigDir == "" || c.Artifacts.LogDir == "" {
		errs = append(errs, errors.New("artifacts: script_dir, config_dir and log_dir are required"))
	}
	if err := c.Server.TLS.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("server.tls: %w", err))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout: must be positive"))
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		errs = append(errs, errors.New("server.rate_limit and server.rate_burst must not be negative"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if c.History.SendTimeout < 0 {
		errs = append(errs, errors.New("history.send_timeout: must not be negative"))
	}
	if c.History.Enabled && len(c.History.Sinks) == 0 {
		errs = append(errs, errors.New("history.sinks: required when history is enabled"))
	}
	return errors.Join(errs...)
}

// applyEnvFiles loads .env files relative to the config directory. Variables
// already present in the environment are kept.
func applyEnvFiles(files []string, base string) error {
	for _, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(base, f)
		}
		pairs, err := loadEnvFile(f)
		if err != nil {
			return fmt.Errorf("env file %s: %w", f, err)
		}
		for k, val := range pairs {
			if _, ok := os.LookupEnv(k); ok {
				continue
			}
			if err := os.Setenv(k, val); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i >= 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.TrimSpace(line[i+1:])
			m[k] = v
		}
	}
	return m, nil
}
