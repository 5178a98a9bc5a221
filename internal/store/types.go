package store

import (
	"context"
	"fmt"
	"time"

	"github.com/loykin/relayr/internal/job"
)

// Config selects and configures the backing store of the job registry.
type Config struct {
	Type string `toml:"type" mapstructure:"type"` // "file" (default), "sqlite", "postgres"

	// File and SQLite specific
	Path string `toml:"path" mapstructure:"path"`

	// PostgreSQL specific
	DSN string `toml:"dsn" mapstructure:"dsn"`

	// Connection pooling (SQL stores)
	MaxOpenConns int           `toml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns int           `toml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxAge   time.Duration `toml:"conn_max_age" mapstructure:"conn_max_age"`
}

// Store persists the whole job collection. Save replaces the stored
// collection; there are no partial-record updates.
// Implementations are not required to serialize callers; the registry does.
type Store interface {
	Load(ctx context.Context) ([]job.Record, error)
	Save(ctx context.Context, records []job.Record) error
	Close() error
}

// CorruptError is returned when persisted registry state cannot be decoded.
// The stored data is left as found.
type CorruptError struct {
	Location string
	Err      error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("registry %s is corrupt: %v", e.Location, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }
