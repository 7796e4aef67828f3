package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/jmylchreest/xvrun/internal/display"
	"github.com/jmylchreest/xvrun/internal/process"
)

// ErrNoSession is returned by Load when no session record exists.
var ErrNoSession = errors.New("no active session")

// Owner values say which program started the display server.
const (
	OwnerLauncher = "xvrun"
	OwnerDaemon   = "xvrund"
	OwnerExternal = "external" // Reused a display someone else started
)

// Session is the runtime record of a managed display.
type Session struct {
	RunID       string    `cbor:"run_id"`
	Display     string    `cbor:"display"`
	Geometry    string    `cbor:"geometry"`
	ServerPID   int       `cbor:"server_pid,omitempty"`
	Owner       string    `cbor:"owner"`
	FrontendPID int       `cbor:"frontend_pid,omitempty"`
	Argv        []string  `cbor:"argv,omitempty"`
	Mode        string    `cbor:"mode"`
	Phase       string    `cbor:"phase"`
	StartedAt   time.Time `cbor:"started_at"`
}

// ParsedDisplay returns the session's display identifier.
func (s *Session) ParsedDisplay() (display.Display, error) {
	return display.Parse(s.Display)
}

// OwnsServer reports whether the server was started by xvrun or xvrund,
// and so may be stopped by them.
func (s *Session) OwnsServer() bool {
	return s.ServerPID > 0 && s.Owner != OwnerExternal
}

// ServerAlive reports whether the recorded server process still exists.
func (s *Session) ServerAlive() bool {
	return s.ServerPID > 0 && process.Alive(s.ServerPID)
}

// FrontendAlive reports whether the recorded front-end process still exists.
// In exec mode the front-end runs under the launcher's PID.
func (s *Session) FrontendAlive() bool {
	return s.FrontendPID > 0 && process.Alive(s.FrontendPID)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}
}

// filePrefix and fileSuffix frame the display number in a record's name.
const (
	filePrefix = "display-"
	fileSuffix = ".cbor"
)

// Path returns the record path for display d under dir. Each display has
// its own record so concurrent launches on different displays do not
// overwrite each other.
func Path(dir string, d display.Display) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", filePrefix, d.Number, fileSuffix))
}

// List returns the readable records under dir, ordered by display number.
// A missing dir yields no sessions.
func List(dir string) ([]*Session, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session directory: %w", err)
	}

	type numbered struct {
		number  int
		session *Session
	}
	var found []numbered
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		s, err := Load(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		d, err := s.ParsedDisplay()
		if err != nil {
			continue
		}
		found = append(found, numbered{number: d.Number, session: s})
	}

	sort.Slice(found, func(i, j int) bool { return found[i].number < found[j].number })
	sessions := make([]*Session, len(found))
	for i, f := range found {
		sessions[i] = f.session
	}
	return sessions, nil
}

// Save writes s to path atomically (temp file + rename).
func Save(path string, s *Session) error {
	data, err := encMode.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating session directory: %w", err)
	}

	tmpPath := path + ".tmp"
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary session file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temporary session file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temporary session file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing temporary session file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming session file into place: %w", err)
	}
	return nil
}

// Load reads the session at path. Returns ErrNoSession if there is none.
func Load(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var s Session
	if err := decMode.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", path, err)
	}
	return &s, nil
}

// Clear removes the session at path. Idempotent.
func Clear(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ClearIf removes the session at path only if it still belongs to runID,
// so a launcher exiting late does not erase a newer launcher's record.
func ClearIf(path, runID string) error {
	s, err := Load(path)
	if errors.Is(err, ErrNoSession) {
		return nil
	}
	if err != nil {
		// Unreadable records are not worth keeping.
		return Clear(path)
	}
	if s.RunID != runID {
		return nil
	}
	return Clear(path)
}
