package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/xvrun/internal/adapter/output"
	"github.com/jmylchreest/xvrun/internal/config"
	"github.com/jmylchreest/xvrun/internal/session"
)

var statusOpts struct {
	check   bool
	display int
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current sessions",
	Long: `Show the displays and front-ends recorded by running xvrun and xvrund
processes, with a liveness check of each process. Every managed display
has its own session; --display shows just one.

The output format follows --format:

  xvrun status --format json

With --check, exits 1 when there is no session or a display server is
gone, which suits shell health checks.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusOpts.check, "check", false,
		"Exit 1 unless a session with a live display server exists")
	statusCmd.Flags().IntVarP(&statusOpts.display, "display", "d", 0,
		"Only show the session for this display number")
}

func runStatus(cmd *cobra.Command, args []string) error {
	var sessions []*session.Session
	if cmd.Flags().Changed("display") {
		s, err := session.Load(sessionPath(statusOpts.display))
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			return err
		}
		if s != nil {
			sessions = append(sessions, s)
		}
	} else {
		var err error
		sessions, err = session.List(config.SessionDir())
		if err != nil {
			return err
		}
	}

	formatter := newFormatter(false)
	if len(sessions) == 0 {
		if err := formatter.FormatSession(os.Stdout, output.NewSessionView(nil)); err != nil {
			return err
		}
		if statusOpts.check {
			return &exitError{code: 1}
		}
		return nil
	}

	allHealthy := true
	for _, s := range sessions {
		view := output.NewSessionView(s)
		if err := formatter.FormatSession(os.Stdout, view); err != nil {
			return err
		}
		allHealthy = allHealthy && healthy(view)
	}

	if statusOpts.check && !allHealthy {
		return &exitError{code: 1}
	}
	return nil
}

// healthy reports whether the session's display server is running. A
// reused display without a known pid counts as healthy.
func healthy(v output.SessionView) bool {
	if !v.Active {
		return false
	}
	return v.ServerPID == 0 || v.ServerAlive
}
