package relayr

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	dir := t.TempDir()
	cfg.Registry.Path = filepath.Join(dir, "relay_jobs.json")
	cfg.Artifacts.ScriptDir = filepath.Join(dir, "scripts")
	cfg.Artifacts.ConfigDir = filepath.Join(dir, "conf")
	cfg.Artifacts.LogDir = filepath.Join(dir, "logs")
	cfg.Backend.Mode = "tmux"
	cfg.Backend.TmuxPath = filepath.Join(dir, "no-such-tmux")
	cfg.Metrics.Enabled = false
	cfg.Server.RateLimit = 0
	return cfg
}

func TestOpenServesEmptyRegistry(t *testing.T) {
	svc, err := Open(testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	ts := httptest.NewServer(svc.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/streams")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Streams []Record `json:"streams"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Empty(t, body.Streams)

	resp2, err := http.Post(ts.URL+"/api/stream/stop/missing", "application/json", nil)
	require.NoError(t, err)
	_ = resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestOpenCreatesArtifactDirs(t *testing.T) {
	cfg := testConfig(t)
	svc, err := Open(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	for _, d := range []string{cfg.Artifacts.ScriptDir, cfg.Artifacts.ConfigDir, cfg.Artifacts.LogDir} {
		assert.DirExists(t, d)
	}
}

func TestOpenRejectsBadHistorySink(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Enabled = true
	cfg.History.Sinks = []string{"ftp://nowhere"}
	_, err := Open(cfg, nil)
	require.Error(t, err)
}

func TestAddWithoutBackendIsUnavailable(t *testing.T) {
	svc, err := Open(testConfig(t), nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = svc.Manager.Add(ctx, AddRequest{
		SourceLocator: "rtmp://src/live",
		Credential:    "rtmp://dst/app/secretkey",
	})
	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)

	recs, err := svc.Manager.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRunReturnsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Relay.ReconcileInterval = 10 * time.Millisecond
	svc, err := Open(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewHTTPServerTLS(t *testing.T) {
	cfg := testConfig(t)
	svc, err := Open(cfg, nil)
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	srv, err := svc.NewHTTPServer()
	require.NoError(t, err)
	assert.Nil(t, srv.TLSConfig)
	assert.Equal(t, cfg.Server.Listen, srv.Addr)
	assert.GreaterOrEqual(t, srv.WriteTimeout, cfg.Relay.SettleTimeout+cfg.Relay.CleanupTimeout)

	cfg.Server.TLS.Enabled = true
	cfg.Server.TLS.Dir = filepath.Join(t.TempDir(), "tls")
	cfg.Server.TLS.AutoGenerate = true
	srv, err = svc.NewHTTPServer()
	require.NoError(t, err)
	require.NotNil(t, srv.TLSConfig)
	assert.FileExists(t, filepath.Join(cfg.Server.TLS.Dir, "tls.crt"))
}
