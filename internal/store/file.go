package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/relayr/internal/job"
)

// FileStore keeps the job collection in a single JSON document.
// Every Save rewrites the whole document through a temp file and rename.
type FileStore struct {
	path string
}

// NewFileStore returns a store for the JSON document at path. The parent
// directory is created when missing.
func NewFileStore(path string) (*FileStore, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty registry file path")
	}
	p = filepath.Clean(p)
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	return &FileStore{path: p}, nil
}

// Path returns the location of the registry document.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context) ([]job.Record, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []job.Record{}, nil
		}
		return nil, fmt.Errorf("read registry: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return []job.Record{}, nil
	}

	var records []job.Record
	if err := json.Unmarshal(b, &records); err != nil {
		return nil, &CorruptError{Location: s.path, Err: err}
	}
	for i := range records {
		if !records[i].Status.Valid() {
			return nil, &CorruptError{Location: s.path, Err: fmt.Errorf("record %q has unknown status %q", records[i].ID, records[i].Status)}
		}
	}
	if records == nil {
		records = []job.Record{}
	}
	return records, nil
}

func (s *FileStore) Save(_ context.Context, records []job.Record) error {
	if records == nil {
		records = []job.Record{}
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal registry: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp registry file: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp registry file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("rename registry file: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
