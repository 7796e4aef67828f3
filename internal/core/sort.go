package core

import (
	"sort"
	"strings"

	"github.com/jmylchreest/xvrun/internal/model"
)

// SortField represents a field to sort by.
type SortField string

const (
	SortByStarted  SortField = "started"
	SortByDuration SortField = "duration"
	SortByExit     SortField = "exit"
)

// SortOrder represents ascending or descending order.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// SortOptions specifies sorting criteria.
type SortOptions struct {
	Field SortField
	Order SortOrder
}

// DefaultSortOptions returns default sort options (newest first).
func DefaultSortOptions() SortOptions {
	return SortOptions{
		Field: SortByStarted,
		Order: SortDesc,
	}
}

// Sort sorts runs in place based on the provided options.
func Sort(runs []model.Run, opts SortOptions) {
	if len(runs) == 0 {
		return
	}

	sort.SliceStable(runs, func(i, j int) bool {
		var less bool

		switch opts.Field {
		case SortByDuration:
			less = runs[i].Elapsed() < runs[j].Elapsed()
		case SortByExit:
			less = runs[i].ExitCode < runs[j].ExitCode
		default:
			// Same-second starts fall back to the ULID, which is time ordered.
			if runs[i].StartedAt == runs[j].StartedAt {
				less = runs[i].ID < runs[j].ID
			} else {
				less = runs[i].StartedAt < runs[j].StartedAt
			}
		}

		if opts.Order == SortDesc {
			return !less
		}
		return less
	})
}

// ParseSortField parses a sort field string.
func ParseSortField(s string) (SortField, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "duration", "elapsed", "d":
		return SortByDuration, nil
	case "exit", "code", "e":
		return SortByExit, nil
	default:
		return SortByStarted, nil
	}
}

// ParseSortOrder parses a sort order string.
func ParseSortOrder(s string) (SortOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asc", "ascending", "a":
		return SortAsc, nil
	default:
		return SortDesc, nil
	}
}
