// Package process holds the small amount of process-group plumbing shared
// by the display server, the front-end supervisor and the job monitor.
package process

import (
	"errors"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval is how often Terminate re-checks liveness while waiting
// for a process to exit.
const pollInterval = 50 * time.Millisecond

// GroupAttr returns the SysProcAttr that puts a child in its own process
// group. The child then survives a terminal hang-up aimed at the parent's
// group, and the whole group can be signalled with a negative PID.
func GroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// ForegroundAttr is GroupAttr for a child that shares our terminal: the
// child's group becomes the foreground group of tty, so it can read from
// the terminal and receives keyboard signals directly.
func ForegroundAttr(tty int) *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Foreground: true, Ctty: tty}
}

// ReclaimForeground makes our process group the foreground group of tty
// again after a child started with ForegroundAttr is done with it.
func ReclaimForeground(tty int) error {
	// A background group changing the foreground group gets SIGTTOU.
	signal.Ignore(unix.SIGTTOU)
	defer signal.Reset(unix.SIGTTOU)
	return unix.IoctlSetPointerInt(tty, unix.TIOCSPGRP, unix.Getpgrp())
}

// Alive reports whether a process with the given PID exists. A process
// owned by another user counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// SignalGroup sends sig to the process group led by pid, falling back to
// the single process when no such group exists.
func SignalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return unix.ESRCH
	}
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}

// Terminate sends SIGTERM to pid's process group, waits up to grace for it
// to go away and then sends SIGKILL. It is meant for processes that are
// not our children (e.g. a display server left behind by an exec hand-off);
// for children use StopChild so the exit status is reaped.
func Terminate(pid int, grace time.Duration) error {
	if !Alive(pid) {
		return nil
	}
	if err := SignalGroup(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return nil
		}
		return err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return nil
		}
		time.Sleep(pollInterval)
	}

	if err := SignalGroup(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}

// StopChild terminates a child started with GroupAttr. done must be closed
// by whoever calls cmd.Wait. SIGTERM goes to the group first, SIGKILL after
// grace.
func StopChild(cmd *exec.Cmd, done <-chan struct{}, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	default:
	}

	pid := cmd.Process.Pid
	if err := SignalGroup(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	if err := SignalGroup(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	<-done
	return nil
}

// ExitCode extracts a process exit code from the error returned by
// cmd.Wait. A nil error is 0; a signal death maps to 128+signal like a
// shell would report it; anything else is -1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		return 128 + int(status.Signal())
	}
	return exitErr.ExitCode()
}
