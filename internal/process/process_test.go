package process

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startSleeper(t *testing.T) (*exec.Cmd, chan struct{}) {
	t.Helper()

	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = GroupAttr()
	require.NoError(t, cmd.Start())

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	return cmd, done
}

func TestAlive(t *testing.T) {
	assert.True(t, Alive(os.Getpid()))
	assert.False(t, Alive(0))
	assert.False(t, Alive(-1))
}

func TestStopChild(t *testing.T) {
	cmd, done := startSleeper(t)

	require.NoError(t, StopChild(cmd, done, 2*time.Second))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("child still running after StopChild")
	}
}

func TestStopChild_AlreadyExited(t *testing.T) {
	cmd := exec.Command("true")
	cmd.SysProcAttr = GroupAttr()
	require.NoError(t, cmd.Start())

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()
	<-done

	assert.NoError(t, StopChild(cmd, done, time.Second))
}

func TestStopChild_NilCommand(t *testing.T) {
	assert.NoError(t, StopChild(nil, nil, time.Second))
}

func TestTerminate_DeadPID(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	assert.NoError(t, Terminate(cmd.Process.Pid, 100*time.Millisecond))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))

	err := exec.Command("sh", "-c", "exit 3").Run()
	assert.Equal(t, 3, ExitCode(err))

	err = exec.Command("sh", "-c", "kill -TERM $$").Run()
	assert.Equal(t, 128+15, ExitCode(err))

	assert.Equal(t, -1, ExitCode(assert.AnError))
}

func TestForegroundAttr(t *testing.T) {
	attr := ForegroundAttr(0)
	assert.True(t, attr.Setpgid)
	assert.True(t, attr.Foreground)
	assert.Equal(t, 0, attr.Ctty)
}

func TestReclaimForeground_NotATerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	require.NoError(t, err)
	defer f.Close()

	assert.Error(t, ReclaimForeground(int(f.Fd())))
}
