package display

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EnvVar is the environment variable X clients read to find their display.
const EnvVar = "DISPLAY"

// Default locations used by X servers for sockets and lock files.
const (
	DefaultSocketDir = "/tmp/.X11-unix"
	DefaultLockDir   = "/tmp"
)

// MaxNumber is the highest display number accepted. X servers listen on
// TCP port 6000+N, which caps N below the port range.
const MaxNumber = 65535 - 6000

// DefaultNumber is the display number used when none is configured.
const DefaultNumber = 99

// Validation errors.
var (
	ErrInvalidDisplay  = errors.New("invalid display identifier")
	ErrInvalidGeometry = errors.New("invalid screen geometry")
)

// Display identifies a local X display and screen, e.g. ":99" or ":99.1".
type Display struct {
	Number int
	Screen int
}

// New returns the display with the given number on screen 0.
func New(number int) Display {
	return Display{Number: number}
}

// Parse parses a DISPLAY value. Only local displays are accepted:
// ":N", ":N.S" and "unix:N[.S]".
func Parse(s string) (Display, error) {
	raw := s
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "unix")
	if !strings.HasPrefix(s, ":") {
		return Display{}, fmt.Errorf("%w: %q (want \":N\")", ErrInvalidDisplay, raw)
	}
	s = s[1:]

	numPart, screenPart, hasScreen := strings.Cut(s, ".")
	number, err := strconv.Atoi(numPart)
	if err != nil || number < 0 || number > MaxNumber {
		return Display{}, fmt.Errorf("%w: %q", ErrInvalidDisplay, raw)
	}

	d := Display{Number: number}
	if hasScreen {
		screen, err := strconv.Atoi(screenPart)
		if err != nil || screen < 0 {
			return Display{}, fmt.Errorf("%w: %q", ErrInvalidDisplay, raw)
		}
		d.Screen = screen
	}
	return d, nil
}

// String returns the DISPLAY value for d.
func (d Display) String() string {
	if d.Screen != 0 {
		return fmt.Sprintf(":%d.%d", d.Number, d.Screen)
	}
	return fmt.Sprintf(":%d", d.Number)
}

// Validate checks the display number range.
func (d Display) Validate() error {
	if d.Number < 0 || d.Number > MaxNumber {
		return fmt.Errorf("%w: display number %d out of range 0-%d", ErrInvalidDisplay, d.Number, MaxNumber)
	}
	if d.Screen < 0 {
		return fmt.Errorf("%w: negative screen %d", ErrInvalidDisplay, d.Screen)
	}
	return nil
}

// Env returns the "DISPLAY=..." entry for an exec environment.
func (d Display) Env() string {
	return EnvVar + "=" + d.String()
}

// Paths locates the per-display socket and lock files. Tests point it at
// temporary directories.
type Paths struct {
	SocketDir string
	LockDir   string
}

// DefaultPaths returns the conventional X11 locations.
func DefaultPaths() Paths {
	return Paths{
		SocketDir: DefaultSocketDir,
		LockDir:   DefaultLockDir,
	}
}

// Socket returns the Unix socket path for d, e.g. /tmp/.X11-unix/X99.
func (p Paths) Socket(d Display) string {
	return filepath.Join(p.SocketDir, "X"+strconv.Itoa(d.Number))
}

// Lock returns the lock file path for d, e.g. /tmp/.X99-lock.
func (p Paths) Lock(d Display) string {
	return filepath.Join(p.LockDir, fmt.Sprintf(".X%d-lock", d.Number))
}

// LockPID reads the PID recorded in d's lock file. X servers write it as
// a space-padded decimal. Returns 0 when there is no readable lock.
func (p Paths) LockPID(d Display) int {
	data, err := os.ReadFile(p.Lock(d))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// SetEnv publishes d as this process's DISPLAY, inherited by every child
// started afterwards.
func SetEnv(d Display) error {
	return os.Setenv(EnvVar, d.String())
}

// WithEnv returns env with any DISPLAY entry replaced by d.
func WithEnv(env []string, d Display) []string {
	out := make([]string, 0, len(env)+1)
	prefix := EnvVar + "="
	for _, kv := range env {
		if strings.HasPrefix(kv, prefix) {
			continue
		}
		out = append(out, kv)
	}
	return append(out, d.Env())
}
