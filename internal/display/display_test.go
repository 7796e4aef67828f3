package display

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Display
		wantErr bool
	}{
		{"plain", ":99", Display{Number: 99}, false},
		{"zero", ":0", Display{Number: 0}, false},
		{"with_screen", ":99.1", Display{Number: 99, Screen: 1}, false},
		{"unix_prefix", "unix:5", Display{Number: 5}, false},
		{"whitespace", "  :7 ", Display{Number: 7}, false},

		{"empty", "", Display{}, true},
		{"no_colon", "99", Display{}, true},
		{"remote_host", "example.com:0", Display{}, true},
		{"negative", ":-1", Display{}, true},
		{"not_a_number", ":abc", Display{}, true},
		{"bad_screen", ":1.x", Display{}, true},
		{"too_large", ":70000", Display{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidDisplay)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDisplay_String(t *testing.T) {
	assert.Equal(t, ":99", New(99).String())
	assert.Equal(t, ":3.2", Display{Number: 3, Screen: 2}.String())
	assert.Equal(t, "DISPLAY=:99", New(99).Env())

	// String and Parse agree, so the value the server binds and the value
	// published to clients cannot drift apart.
	for _, n := range []int{0, 1, 99, 1024} {
		d, err := Parse(New(n).String())
		require.NoError(t, err)
		assert.Equal(t, New(n), d)
	}
}

func TestDisplay_Validate(t *testing.T) {
	assert.NoError(t, New(99).Validate())
	assert.ErrorIs(t, New(-1).Validate(), ErrInvalidDisplay)
	assert.ErrorIs(t, New(MaxNumber+1).Validate(), ErrInvalidDisplay)
	assert.ErrorIs(t, Display{Number: 1, Screen: -1}.Validate(), ErrInvalidDisplay)
}

func TestWithEnv(t *testing.T) {
	env := []string{"HOME=/root", "DISPLAY=:0", "PATH=/bin"}
	got := WithEnv(env, New(99))

	assert.Equal(t, []string{"HOME=/root", "PATH=/bin", "DISPLAY=:99"}, got)
	// Input must not be modified.
	assert.Equal(t, "DISPLAY=:0", env[1])
}

func TestSetEnv(t *testing.T) {
	t.Setenv(EnvVar, ":0")
	require.NoError(t, SetEnv(New(42)))
	assert.Equal(t, ":42", os.Getenv(EnvVar))
}

func TestPaths(t *testing.T) {
	p := DefaultPaths()
	assert.Equal(t, "/tmp/.X11-unix/X99", p.Socket(New(99)))
	assert.Equal(t, "/tmp/.X99-lock", p.Lock(New(99)))
}

func TestPaths_LockPID(t *testing.T) {
	p := testPaths(t)

	assert.Equal(t, 0, p.LockPID(New(5)), "missing lock")

	require.NoError(t, os.WriteFile(p.Lock(New(5)), []byte("      1234\n"), 0644))
	assert.Equal(t, 1234, p.LockPID(New(5)))

	require.NoError(t, os.WriteFile(p.Lock(New(6)), []byte("garbage"), 0644))
	assert.Equal(t, 0, p.LockPID(New(6)))
}

// testPaths returns Paths rooted in a fresh temporary directory.
func testPaths(t *testing.T) Paths {
	t.Helper()
	root := t.TempDir()
	p := Paths{
		SocketDir: filepath.Join(root, "sock"),
		LockDir:   filepath.Join(root, "lock"),
	}
	require.NoError(t, os.MkdirAll(p.SocketDir, 0755))
	require.NoError(t, os.MkdirAll(p.LockDir, 0755))
	return p
}

// listen binds a Unix socket where a server for d would, standing in for
// a live X server.
func listen(t *testing.T, p Paths, d Display) net.Listener {
	t.Helper()
	l, err := net.Listen("unix", p.Socket(d))
	require.NoError(t, err)
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

// writeLock writes an X-style lock file naming pid.
func writeLock(t *testing.T, p Paths, d Display, pid int) {
	t.Helper()
	data := []byte(padPID(pid) + "\n")
	require.NoError(t, os.WriteFile(p.Lock(d), data, 0644))
}

func padPID(pid int) string {
	s := strconv.Itoa(pid)
	for len(s) < 10 {
		s = " " + s
	}
	return s
}
