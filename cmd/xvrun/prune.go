package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/xvrun/internal/core"
)

var pruneOpts struct {
	olderThan string
	keep      int
	dryRun    bool
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove old runs from history",
	Long: `Remove old runs from the persistent history.

Without flags the [history] older_than and keep settings from the config
file are used (30 days, newest 100 kept).

Examples:
  # Remove runs older than 7 days
  xvrun prune --older-than 7d

  # Keep only the 20 most recent runs
  xvrun prune --keep 20

  # Preview what would be removed (dry run)
  xvrun prune --older-than 48h --dry-run`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)

	pruneCmd.Flags().StringVar(&pruneOpts.olderThan, "older-than", "",
		"Remove runs older than this duration (e.g., 48h, 7d, 1w)")
	pruneCmd.Flags().IntVar(&pruneOpts.keep, "keep", 0,
		"Keep only the N most recent runs (0=unlimited)")
	pruneCmd.Flags().BoolVar(&pruneOpts.dryRun, "dry-run", false,
		"Show what would be removed without actually removing")
}

func runPrune(cmd *cobra.Command, args []string) error {
	olderThan, keep := pruneOpts.olderThan, pruneOpts.keep
	if !cmd.Flags().Changed("older-than") && !cmd.Flags().Changed("keep") {
		olderThan, keep = cfg.History.OlderThan, cfg.History.Keep
	}

	age, err := core.ParseDuration(olderThan)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	if age <= 0 && keep <= 0 {
		return fmt.Errorf("specify --older-than or --keep")
	}

	if historyStore.Count() == 0 {
		fmt.Println("No runs in history")
		return nil
	}

	candidates := historyStore.PruneCandidates(age, keep)
	if len(candidates) == 0 {
		fmt.Println("No runs to remove")
		return nil
	}

	if pruneOpts.dryRun {
		fmt.Fprintf(os.Stderr, "Would remove %d run(s):\n", len(candidates))
		return newFormatter(false).FormatRuns(os.Stdout, candidates)
	}

	removed, err := historyStore.Prune(age, keep)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	fmt.Printf("Removed %d run(s)\n", removed)
	return nil
}
