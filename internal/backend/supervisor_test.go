package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorStartReloadsAndChecks(t *testing.T) {
	r := newFakeRunner().
		on("supervisorctl status relay_ab12cd34", "relay_ab12cd34   RUNNING   pid 42, uptime 0:00:01\n", nil)
	s := NewSupervisor("", "", r, nil)

	require.NoError(t, s.Start(context.Background(), "relay_ab12cd34", "/tmp/x.sh"))
	assert.Equal(t, []string{
		"supervisorctl reread",
		"supervisorctl update",
		"supervisorctl status relay_ab12cd34",
	}, r.called())
}

func TestSupervisorStartUnknownProgram(t *testing.T) {
	r := newFakeRunner().
		on("supervisorctl status relay_x", "relay_x: ERROR (no such process)\n", exit(4, "relay_x: ERROR (no such process)"))
	s := NewSupervisor("", "", r, nil)
	require.Error(t, s.Start(context.Background(), "relay_x", "/tmp/x.sh"))
}

func TestSupervisorStartDaemonDown(t *testing.T) {
	r := newFakeRunner().
		on("supervisorctl reread", "unix:///var/run/supervisor.sock no such file", exit(7, "unix:///var/run/supervisor.sock no such file"))
	s := NewSupervisor("", "", r, nil)
	require.Error(t, s.Start(context.Background(), "relay_x", "/tmp/x.sh"))
}

func TestSupervisorConfigFlag(t *testing.T) {
	r := newFakeRunner()
	s := NewSupervisor("/usr/bin/supervisorctl", "/etc/supervisord.conf", r, nil)
	require.NoError(t, s.Stop(context.Background(), "relay_a"))
	assert.Equal(t, []string{"/usr/bin/supervisorctl -c /etc/supervisord.conf stop relay_a"}, r.called())
}

func TestSupervisorStatus(t *testing.T) {
	cases := []struct {
		name  string
		out   string
		err   error
		want  State
		isErr bool
	}{
		{"running", "relay_a  RUNNING  pid 1, uptime 0:01:00", nil, Active, false},
		{"stopped exit 3", "relay_a  STOPPED  Oct 19 10:00 AM", exit(3, ""), Inactive, false},
		{"backoff", "relay_a  BACKOFF  Exited too quickly", exit(3, ""), Inactive, false},
		{"fatal", "relay_a  FATAL  can't find command", exit(3, ""), Inactive, false},
		{"no such process", "relay_a: ERROR (no such process)", exit(4, ""), Inactive, false},
		{"garbage", "what is this", nil, Inactive, true},
		{"unreachable", "unix:///tmp/supervisor.sock refused connection", exit(7, ""), Inactive, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newFakeRunner().on("supervisorctl status relay_a", tc.out, tc.err)
			st, err := NewSupervisor("", "", r, nil).Status(context.Background(), "relay_a")
			if tc.isErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, st)
		})
	}
}

func TestSupervisorStatusToolMissing(t *testing.T) {
	r := newFakeRunner()
	r.missing["supervisorctl"] = true
	_, err := NewSupervisor("", "", r, nil).Status(context.Background(), "relay_a")
	require.ErrorIs(t, err, ErrToolMissing)
}

func TestSupervisorStopIdempotent(t *testing.T) {
	r := newFakeRunner().on("supervisorctl stop relay_a", "relay_a: ERROR (not running)", exit(7, ""))
	require.NoError(t, NewSupervisor("", "", r, nil).Stop(context.Background(), "relay_a"))

	r = newFakeRunner().on("supervisorctl stop relay_a", "relay_a: ERROR (no such process)", exit(7, ""))
	require.Error(t, NewSupervisor("", "", r, nil).Stop(context.Background(), "relay_a"))
}

func TestSupervisorForgetToleratesUnknown(t *testing.T) {
	r := newFakeRunner().on("supervisorctl remove relay_a", "ERROR: no such process/group: relay_a", exit(2, ""))
	require.NoError(t, NewSupervisor("", "", r, nil).Forget(context.Background(), "relay_a"))
	assert.Equal(t, []string{
		"supervisorctl remove relay_a",
		"supervisorctl reread",
		"supervisorctl update",
	}, r.called())
}

func TestSupervisorLogsTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "relay_a_out.log")
	var content string
	for i := 0; i < 80; i++ {
		content += "line\n"
	}
	content += "last\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s := NewSupervisor("", "", newFakeRunner(), testPaths{dir: dir})
	lines, err := s.Logs(context.Background(), "relay_a", 50)
	require.NoError(t, err)
	assert.Len(t, lines, 50)
	assert.Equal(t, "last", lines[49])

	s = NewSupervisor("", "", newFakeRunner(), testPaths{dir: filepath.Join(dir, "missing")})
	_, err = s.Logs(context.Background(), "relay_a", 50)
	require.Error(t, err)
}

func TestSupervisorDiscard(t *testing.T) {
	dir := t.TempDir()
	paths := testPaths{dir: dir}
	require.NoError(t, os.WriteFile(paths.ConfigPath("relay_a"), []byte("[program:relay_a]\n"), 0o600))

	r := newFakeRunner().on("supervisorctl stop relay_a", "relay_a: ERROR (no such process)", exit(7, ""))
	require.NoError(t, NewSupervisor("", "", r, paths).Discard(context.Background(), "relay_a"))
	assert.NoFileExists(t, paths.ConfigPath("relay_a"))
	assert.Equal(t, []string{
		"supervisorctl stop relay_a",
		"supervisorctl remove relay_a",
		"supervisorctl reread",
		"supervisorctl update",
	}, r.called())
}
