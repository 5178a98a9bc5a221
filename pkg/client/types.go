package client

import "time"

// Stream is one relay job as reported by GET /streams. StreamKey is the
// redacted destination.
type Stream struct {
	ID          string    `json:"id"`
	SessionName string    `json:"session_name"`
	Name        string    `json:"name"`
	StreamKey   string    `json:"stream_key"`
	SourceURL   string    `json:"source_url"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
}

// AddRequest is the body of POST /stream/add. Empty optional fields take
// the daemon's defaults.
type AddRequest struct {
	StreamKey  string `json:"stream_key"`
	StreamName string `json:"stream_name,omitempty"`
	SourceURL  string `json:"source_url,omitempty"`
}

type AddResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	StreamID    string `json:"stream_id"`
	SessionName string `json:"session_name"`
}

// Result is the body of stop and delete responses.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type listResponse struct {
	Streams []Stream `json:"streams"`
}

type logsResponse struct {
	Logs []string `json:"logs"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
