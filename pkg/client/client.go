package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client talks to a relayr daemon over its HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	CACert   string // PEM bundle used as the root CA set
	Insecure bool   // skip server certificate verification
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// APIError is a non-200 answer from the daemon.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string { return "API error: " + e.Message }

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// New creates a client. It fails only when the TLS settings cannot be loaded.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.CACert != "" || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

func (c *Client) ListStreams(ctx context.Context) ([]Stream, error) {
	var out listResponse
	if err := c.do(ctx, http.MethodGet, "/streams", nil, &out); err != nil {
		return nil, err
	}
	return out.Streams, nil
}

// AddStream starts a relay and returns once the daemon reports it running.
// Callers should allow for the daemon's settle timeout in Config.Timeout.
func (c *Client) AddStream(ctx context.Context, req AddRequest) (AddResponse, error) {
	c.logger.Debug("adding stream", "name", req.StreamName, "source", req.SourceURL)
	data, err := json.Marshal(req)
	if err != nil {
		return AddResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	var out AddResponse
	if err := c.do(ctx, http.MethodPost, "/stream/add", data, &out); err != nil {
		return AddResponse{}, err
	}
	return out, nil
}

func (c *Client) StopStream(ctx context.Context, id string) (Result, error) {
	var out Result
	err := c.do(ctx, http.MethodPost, "/stream/stop/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) DeleteStream(ctx context.Context, id string) (Result, error) {
	var out Result
	err := c.do(ctx, http.MethodDelete, "/stream/delete/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) StreamLogs(ctx context.Context, id string) ([]string, error) {
	var out logsResponse
	if err := c.do(ctx, http.MethodGet, "/stream/logs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicitly requested
		return tlsConfig, nil
	}
	if err := loadCACert(tlsConfig, config.CACert); err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}
	return tlsConfig, nil
}

func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return errors.New("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return nil
}

// do performs one request and decodes a 200 body into out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "method", method, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) errorFrom(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		return &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}
