package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/xvrun/internal/core"
	"github.com/jmylchreest/xvrun/internal/model"
	"github.com/jmylchreest/xvrun/internal/store"
	"github.com/jmylchreest/xvrun/internal/tui"
)

var historyOpts struct {
	// Filter options
	since   string
	status  string
	display string
	filter  string
	limit   int

	// Sort options
	sortBy    string
	sortOrder string

	follow bool
	tui    bool
}

var historyCmd = &cobra.Command{
	Use:     "history [index|id]",
	Aliases: []string{"ls"},
	Short:   "List past launches",
	Long: `List launches recorded in the history file, newest first.

With an index (1-based, after filtering and sorting) or an ID or unique ID
prefix, prints that run only.

Filter expressions combine conditions with commas:
  display=:99         exact match
  command~streamlit   argv contains
  exit!=0             non-zero exit
  started>1h          started within the last hour

Examples:
  # Failed runs from the last day
  xvrun history --since 1d --status failed

  # One run as YAML
  xvrun history 01J9ZQ --format yaml

  # Stream new and finished runs as they happen
  xvrun history --follow`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	// Filter flags
	historyCmd.Flags().StringVar(&historyOpts.since, "since", "",
		"Show runs from the last duration (e.g., 1h, 7d, 1w)")
	historyCmd.Flags().StringVar(&historyOpts.status, "status", "",
		"Filter by status (running, exited, failed, exec)")
	historyCmd.Flags().StringVar(&historyOpts.display, "display", "",
		"Filter by display (e.g. :99)")
	historyCmd.Flags().StringVar(&historyOpts.filter, "filter", "",
		"Filter expression (e.g. \"exit!=0,command~streamlit\")")
	historyCmd.Flags().IntVarP(&historyOpts.limit, "limit", "n", 0,
		"Maximum number of runs to show (0=unlimited)")

	// Sort flags
	historyCmd.Flags().StringVar(&historyOpts.sortBy, "sort", string(core.SortByStarted),
		"Sort by field (started, duration, exit)")
	historyCmd.Flags().StringVar(&historyOpts.sortOrder, "order", string(core.SortDesc),
		"Sort order (asc, desc)")

	historyCmd.Flags().BoolVar(&historyOpts.follow, "follow", false,
		"Keep running and print runs as they start and finish")
	historyCmd.Flags().BoolVar(&historyOpts.tui, "tui", false,
		"Browse history interactively")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyOpts.tui {
		_, err := tui.Run(tui.RunOptions{
			Store:       historyStore,
			PersistPath: historyPath(),
			Logger:      logger,
		})
		return err
	}

	runs, err := selectRuns(historyStore.List())
	if err != nil {
		return err
	}

	if len(args) > 0 {
		r, err := lookupRun(runs, args[0])
		if err != nil {
			return err
		}
		return newFormatter(false).FormatRuns(os.Stdout, []model.Run{*r})
	}

	if err := newFormatter(false).FormatRuns(os.Stdout, runs); err != nil {
		return err
	}

	if historyOpts.follow {
		return followHistory(cmd.Context(), runs)
	}
	return nil
}

// selectRuns applies the filter and sort flags, falling back to the
// configured history defaults.
func selectRuns(runs []model.Run) ([]model.Run, error) {
	since := historyOpts.since
	if since == "" {
		since = cfg.History.Since
	}
	limit := historyOpts.limit
	if limit == 0 {
		limit = cfg.History.Limit
	}

	opts := core.FilterOptions{
		Status:  historyOpts.status,
		Display: historyOpts.display,
	}
	d, err := core.ParseDuration(since)
	if err != nil {
		return nil, fmt.Errorf("invalid --since: %w", err)
	}
	opts.Since = d

	runs = core.Filter(runs, opts)

	if historyOpts.filter != "" {
		expr, err := core.ParseFilter(historyOpts.filter)
		if err != nil {
			return nil, fmt.Errorf("invalid --filter: %w", err)
		}
		runs = core.FilterWithExpr(runs, expr)
	}

	field, err := core.ParseSortField(historyOpts.sortBy)
	if err != nil {
		return nil, err
	}
	order, err := core.ParseSortOrder(historyOpts.sortOrder)
	if err != nil {
		return nil, err
	}
	core.Sort(runs, core.SortOptions{Field: field, Order: order})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// lookupRun resolves a 1-based index or an ID prefix.
func lookupRun(runs []model.Run, arg string) (*model.Run, error) {
	if idx, err := strconv.Atoi(arg); err == nil && idx > 0 {
		if r := core.LookupByIndex(runs, idx); r != nil {
			return r, nil
		}
		return nil, fmt.Errorf("run at index %d not found", idx)
	}

	r, err := core.LookupByID(runs, arg)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("run with ID %s not found", arg)
	}
	return r, nil
}

// followHistory prints runs that appear or change state until interrupted.
func followHistory(ctx context.Context, printed []model.Run) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	seen := make(map[string]string, len(printed))
	for _, r := range historyStore.List() {
		seen[r.ID] = r.Status
	}

	watcher, err := store.NewFileWatcher(historyStore, historyPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to watch history: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to watch history: %w", err)
	}
	defer watcher.Stop()

	events := historyStore.Subscribe()
	defer historyStore.Unsubscribe(events)

	formatter := newFormatter(false)
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
			var changed []model.Run
			for _, r := range historyStore.List() {
				if status, ok := seen[r.ID]; ok && status == r.Status {
					continue
				}
				seen[r.ID] = r.Status
				changed = append(changed, r)
			}
			if len(changed) == 0 {
				continue
			}
			// Oldest first, so the stream reads in order.
			core.Sort(changed, core.SortOptions{Field: core.SortByStarted, Order: core.SortAsc})
			if err := formatter.FormatRuns(os.Stdout, changed); err != nil {
				return err
			}
		}
	}
}
