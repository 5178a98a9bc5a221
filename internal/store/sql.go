package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/loykin/relayr/internal/job"
)

// Dialect identifies the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore keeps the job collection in the relay_jobs table. The position
// column preserves collection order across Save/Load.
// SQLite uses modernc.org/sqlite (CGO-free), PostgreSQL uses pgx stdlib.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore opens the database described by config and ensures the schema.
func NewSQLStore(dialect Dialect, config Config) (*SQLStore, error) {
	var drv, dsn string
	switch dialect {
	case DialectSQLite:
		drv = "sqlite"
		dsn = strings.TrimPrefix(strings.TrimSpace(config.Path), "sqlite://")
		if dsn == "" {
			return nil, errors.New("empty sqlite path")
		}
	case DialectPostgres:
		drv = "pgx"
		dsn = strings.TrimSpace(config.DSN)
		if dsn == "" {
			return nil, errors.New("empty postgres DSN")
		}
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}

	db, err := sql.Open(drv, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else if dialect == DialectSQLite {
		db.SetMaxOpenConns(1) // SQLite works best with single connection
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxAge > 0 {
		db.SetConnMaxLifetime(config.ConnMaxAge)
	}

	s := &SQLStore{db: db, dialect: dialect}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if dialect == DialectSQLite {
		// busy timeout helps with short concurrent locks
		_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout=3000;")
	}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	ts := "TIMESTAMP"
	if s.dialect == DialectPostgres {
		ts = "TIMESTAMPTZ"
	}
	stmt := `CREATE TABLE IF NOT EXISTS relay_jobs(
		position INTEGER NOT NULL,
		id TEXT PRIMARY KEY,
		session_name TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		stream_key TEXT NOT NULL,
		source_url TEXT NOT NULL,
		created_at ` + ts + ` NOT NULL,
		status TEXT NOT NULL
	);`
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("ensure relay_jobs schema: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) ([]job.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_name, name, stream_key, source_url, created_at, status
		FROM relay_jobs ORDER BY position;`)
	if err != nil {
		return nil, fmt.Errorf("query relay_jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]job.Record, 0)
	for rows.Next() {
		var (
			r      job.Record
			status string
		)
		if err := rows.Scan(&r.ID, &r.SessionName, &r.DisplayName, &r.Credential, &r.SourceLocator, &r.CreatedAt, &status); err != nil {
			return nil, &CorruptError{Location: "relay_jobs", Err: err}
		}
		st, err := job.ParseStatus(status)
		if err != nil {
			return nil, &CorruptError{Location: "relay_jobs", Err: err}
		}
		r.Status = st
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relay_jobs: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Save(ctx context.Context, records []job.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM relay_jobs;`); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear relay_jobs: %w", err)
	}
	insert := `INSERT INTO relay_jobs(position, id, session_name, name, stream_key, source_url, created_at, status)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?);`
	if s.dialect == DialectPostgres {
		insert = `INSERT INTO relay_jobs(position, id, session_name, name, stream_key, source_url, created_at, status)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8);`
	}
	for i, r := range records {
		if _, err := tx.ExecContext(ctx, insert,
			i, r.ID, r.SessionName, r.DisplayName, r.Credential, r.SourceLocator, r.CreatedAt.UTC(), string(r.Status)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert job %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit relay_jobs: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
