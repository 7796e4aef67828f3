package daemon

import (
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/xvrun/internal/display"
)

func testPaths(t *testing.T) display.Paths {
	t.Helper()
	dir := t.TempDir()
	p := display.Paths{SocketDir: filepath.Join(dir, "x11"), LockDir: dir}
	require.NoError(t, os.MkdirAll(p.SocketDir, 0755))
	return p
}

// acceptOn makes d accept connections. It may be called from any goroutine.
func acceptOn(t *testing.T, p display.Paths, d display.Display) net.Listener {
	t.Helper()
	l, err := net.Listen("unix", p.Socket(d))
	if err != nil {
		t.Errorf("listen %s: %v", d, err)
		return nil
	}
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	return l
}

func deadPID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

func TestHealthWatcher_CheckHealthy(t *testing.T) {
	p := testPaths(t)
	d := display.New(7)
	acceptOn(t, p, d)

	w := NewHealthWatcher(p, d, os.Getpid(), nil)
	assert.NoError(t, w.Check())
}

func TestHealthWatcher_CheckServerDied(t *testing.T) {
	p := testPaths(t)
	d := display.New(7)
	acceptOn(t, p, d)

	w := NewHealthWatcher(p, d, deadPID(t), nil)
	assert.ErrorIs(t, w.Check(), ErrServerDied)
}

func TestHealthWatcher_CheckSocketTolerance(t *testing.T) {
	p := testPaths(t)
	d := display.New(7)

	w := NewHealthWatcher(p, d, 0, nil)
	w.SetMaxFailures(2)

	assert.NoError(t, w.Check(), "first refusal is tolerated")
	assert.ErrorIs(t, w.Check(), ErrSocketRefused)
}

func TestHealthWatcher_CheckResetsFailures(t *testing.T) {
	p := testPaths(t)
	d := display.New(7)

	w := NewHealthWatcher(p, d, 0, nil)
	w.SetMaxFailures(2)
	assert.NoError(t, w.Check())

	l := acceptOn(t, p, d)
	assert.NoError(t, w.Check())

	require.NoError(t, l.Close())
	assert.NoError(t, w.Check(), "counter restarted after a good check")
	assert.ErrorIs(t, w.Check(), ErrSocketRefused)
}

func TestHealthWatcher_CallbackOnce(t *testing.T) {
	p := testPaths(t)
	d := display.New(7)

	w := NewHealthWatcher(p, d, 0, nil)
	w.SetPollInterval(10 * time.Millisecond)
	w.SetMaxFailures(1)

	errs := make(chan error, 4)
	w.SetUnhealthyCallback(func(err error) { errs <- err })

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrSocketRefused)
	case <-time.After(2 * time.Second):
		t.Fatal("callback not invoked")
	}

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not exit")
	}
	assert.Empty(t, errs)
}

func TestHealthWatcher_StopIdempotent(t *testing.T) {
	p := testPaths(t)
	d := display.New(7)
	acceptOn(t, p, d)

	w := NewHealthWatcher(p, d, os.Getpid(), nil)
	w.SetPollInterval(10 * time.Millisecond)

	called := make(chan struct{}, 1)
	w.SetUnhealthyCallback(func(error) { called <- struct{}{} })

	require.NoError(t, w.Start(context.Background()))
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	w.Stop()

	assert.Empty(t, called)
}

func TestHealthWatcher_ContextCancel(t *testing.T) {
	p := testPaths(t)
	d := display.New(7)
	acceptOn(t, p, d)

	w := NewHealthWatcher(p, d, os.Getpid(), nil)
	w.SetPollInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case <-w.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop ignored context")
	}
	w.Stop()
}
