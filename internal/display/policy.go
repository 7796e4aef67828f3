package display

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jmylchreest/xvrun/internal/process"
)

// Policy decides what happens when the requested display is already taken.
type Policy string

const (
	// PolicyFail refuses to start and returns ErrDisplayInUse.
	PolicyFail Policy = "fail"
	// PolicyNext moves on to the first free display number.
	PolicyNext Policy = "next"
	// PolicyReuse connects to the server that already owns the display.
	PolicyReuse Policy = "reuse"
)

// DefaultScan is how many display numbers PolicyNext tries.
const DefaultScan = 10

// Allocation errors.
var (
	ErrDisplayInUse  = errors.New("display already in use")
	ErrNoFreeDisplay = errors.New("no free display number")
)

// ValidPolicies returns all valid policy values.
func ValidPolicies() []Policy {
	return []Policy{PolicyFail, PolicyNext, PolicyReuse}
}

// ParsePolicy validates a policy name.
func ParsePolicy(s string) (Policy, error) {
	for _, p := range ValidPolicies() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("invalid display policy %q, must be one of: %v", s, ValidPolicies())
}

// acceptTimeout bounds the dial used to test whether a socket is live.
const acceptTimeout = 200 * time.Millisecond

// Accepting reports whether something accepts connections on d's socket.
func (p Paths) Accepting(d Display) bool {
	conn, err := net.DialTimeout("unix", p.Socket(d), acceptTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// InUse reports whether d is owned by a running server: either its lock
// file names a live process or its socket accepts connections. Stale
// locks and dead sockets do not count.
func (p Paths) InUse(d Display) bool {
	if pid := p.LockPID(d); pid > 0 && process.Alive(pid) {
		return true
	}
	return p.Accepting(d)
}

// Allocation is the outcome of Allocate.
type Allocation struct {
	Display Display
	// Reused is true when an existing server already owns Display and no
	// new server should be started.
	Reused bool
}

// Allocate picks the display to use for want according to policy. scan
// bounds how many numbers PolicyNext tries, starting at want.Number.
func (p Paths) Allocate(want Display, policy Policy, scan int) (Allocation, error) {
	if err := want.Validate(); err != nil {
		return Allocation{}, err
	}
	if !p.InUse(want) {
		return Allocation{Display: want}, nil
	}

	switch policy {
	case PolicyReuse:
		return Allocation{Display: want, Reused: true}, nil

	case PolicyNext:
		if scan < 1 {
			scan = 1
		}
		for n := want.Number + 1; n < want.Number+scan && n <= MaxNumber; n++ {
			candidate := Display{Number: n, Screen: want.Screen}
			if !p.InUse(candidate) {
				return Allocation{Display: candidate}, nil
			}
		}
		return Allocation{}, fmt.Errorf("%w: tried %d from %s", ErrNoFreeDisplay, scan, want)

	default:
		return Allocation{}, fmt.Errorf("%w: %s", ErrDisplayInUse, want)
	}
}
