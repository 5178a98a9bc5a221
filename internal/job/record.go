package job

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the cached lifecycle state of a relay job. It is refreshed against
// the process backend on reconciliation and is only a hint in between.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopped  Status = "stopped"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusStopped:
		return true
	}
	return false
}

// ParseStatus converts a persisted status string.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.TrimSpace(v))
	if !s.Valid() {
		return "", fmt.Errorf("unknown job status %q", v)
	}
	return s, nil
}

// Record is one registered relay job as persisted in the registry.
// The field names of the JSON document are part of the on-disk contract.
type Record struct {
	ID            string    `json:"id"`
	SessionName   string    `json:"session_name"`
	DisplayName   string    `json:"name"`
	Credential    string    `json:"stream_key"` // redacted, see RedactCredential
	SourceLocator string    `json:"source_url"`
	CreatedAt     time.Time `json:"created_at"`
	Status        Status    `json:"status"`
}

// Active reports whether the record claims a live process.
func (r Record) Active() bool {
	return r.Status == StatusStarting || r.Status == StatusRunning
}

const (
	idLength         = 8
	redactKeep       = 30
	redactionMarker  = "..."
	displayNameTitle = "Relay"
)

// NewID returns a short random identifier. Uniqueness within a registry is
// checked by the caller.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:idLength]
}

// SessionName derives the backend handle for a job id.
func SessionName(prefix, id string) string {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "_")
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// RedactCredential keeps the first 30 characters of a destination credential
// and appends a marker. The marker is appended even when nothing was cut.
func RedactCredential(cred string) string {
	r := []rune(cred)
	if len(r) > redactKeep {
		r = r[:redactKeep]
	}
	return string(r) + redactionMarker
}

// DefaultDisplayName is used when the operator does not name a job.
func DefaultDisplayName(now time.Time) string {
	return displayNameTitle + " " + now.Format("15:04:05")
}

// Index returns the position of the record with the given id, or -1.
func Index(records []Record, id string) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}

// Remove returns records without the entry for id.
func Remove(records []Record, id string) []Record {
	out := records[:0:0]
	for _, r := range records {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
