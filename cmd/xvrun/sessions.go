package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmylchreest/xvrun/internal/config"
	"github.com/jmylchreest/xvrun/internal/display"
	"github.com/jmylchreest/xvrun/internal/session"
)

// errManySessions is returned when a command needs one session, more than
// one is recorded and no display was named.
var errManySessions = errors.New("more than one display is managed")

// sessionPath returns the record path for display number n.
func sessionPath(n int) string {
	return session.Path(config.SessionDir(), display.New(n))
}

// pickSession returns the session for display n when named is set, or the
// only recorded session otherwise. session.ErrNoSession means none
// matched.
func pickSession(named bool, n int) (*session.Session, string, error) {
	if named {
		path := sessionPath(n)
		s, err := session.Load(path)
		return s, path, err
	}

	sessions, err := session.List(config.SessionDir())
	if err != nil {
		return nil, "", err
	}
	switch len(sessions) {
	case 0:
		return nil, "", session.ErrNoSession
	case 1:
		d, err := sessions[0].ParsedDisplay()
		if err != nil {
			return nil, "", err
		}
		return sessions[0], sessionPath(d.Number), nil
	default:
		names := make([]string, len(sessions))
		for i, s := range sessions {
			names[i] = s.Display
		}
		return nil, "", fmt.Errorf("%w (%s), pass --display", errManySessions, strings.Join(names, ", "))
	}
}

// sessionDisplay returns the display of the only recorded session.
func sessionDisplay() (display.Display, bool) {
	s, _, err := pickSession(false, 0)
	if err != nil {
		if !errors.Is(err, session.ErrNoSession) {
			logger.Debug("no single session to take the display from", "error", err)
		}
		return display.Display{}, false
	}
	d, err := s.ParsedDisplay()
	if err != nil {
		logger.Warn("ignoring session with bad display", "display", s.Display, "error", err)
		return display.Display{}, false
	}
	return d, true
}
