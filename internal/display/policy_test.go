package display

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	for _, p := range ValidPolicies() {
		got, err := ParsePolicy(string(p))
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParsePolicy("steal")
	assert.Error(t, err)
}

func TestPaths_InUse(t *testing.T) {
	p := testPaths(t)

	assert.False(t, p.InUse(New(1)), "nothing there")

	listen(t, p, New(2))
	assert.True(t, p.InUse(New(2)), "socket accepting")

	writeLock(t, p, New(3), os.Getpid())
	assert.True(t, p.InUse(New(3)), "lock held by live process")

	dead := exec.Command("true")
	require.NoError(t, dead.Run())
	writeLock(t, p, New(4), dead.Process.Pid)
	assert.False(t, p.InUse(New(4)), "stale lock")
}

func TestAllocate_Free(t *testing.T) {
	p := testPaths(t)

	for _, policy := range ValidPolicies() {
		a, err := p.Allocate(New(99), policy, DefaultScan)
		require.NoError(t, err)
		assert.Equal(t, New(99), a.Display)
		assert.False(t, a.Reused)
	}
}

func TestAllocate_Fail(t *testing.T) {
	p := testPaths(t)
	listen(t, p, New(99))

	_, err := p.Allocate(New(99), PolicyFail, DefaultScan)
	assert.ErrorIs(t, err, ErrDisplayInUse)
}

func TestAllocate_Next(t *testing.T) {
	p := testPaths(t)
	listen(t, p, New(99))
	writeLock(t, p, New(100), os.Getpid())

	a, err := p.Allocate(New(99), PolicyNext, DefaultScan)
	require.NoError(t, err)
	assert.Equal(t, New(101), a.Display)
	assert.False(t, a.Reused)
}

func TestAllocate_NextExhausted(t *testing.T) {
	p := testPaths(t)
	listen(t, p, New(10))
	listen(t, p, New(11))

	_, err := p.Allocate(New(10), PolicyNext, 2)
	assert.ErrorIs(t, err, ErrNoFreeDisplay)
}

func TestAllocate_Reuse(t *testing.T) {
	p := testPaths(t)
	listen(t, p, New(99))

	a, err := p.Allocate(New(99), PolicyReuse, DefaultScan)
	require.NoError(t, err)
	assert.Equal(t, New(99), a.Display)
	assert.True(t, a.Reused)
}

func TestAllocate_InvalidDisplay(t *testing.T) {
	p := testPaths(t)
	_, err := p.Allocate(New(-5), PolicyFail, DefaultScan)
	assert.ErrorIs(t, err, ErrInvalidDisplay)
}
