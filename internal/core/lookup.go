package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jmylchreest/xvrun/internal/model"
)

// ErrAmbiguousID is returned when an ID prefix matches more than one run.
var ErrAmbiguousID = errors.New("ambiguous run id")

// LookupByID finds a run by its full ID, or by a unique case-insensitive
// prefix of it. Returns nil and no error if nothing matches.
func LookupByID(runs []model.Run, id string) (*model.Run, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return nil, nil
	}

	var found *model.Run
	for i := range runs {
		if runs[i].ID == id {
			return &runs[i], nil
		}
		if strings.HasPrefix(runs[i].ID, id) {
			if found != nil {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
			}
			found = &runs[i]
		}
	}
	return found, nil
}

// LookupByIndex finds a run by its index (1-based for user-friendliness).
// Returns nil if index is out of bounds.
func LookupByIndex(runs []model.Run, index int) *model.Run {
	idx := index - 1
	if idx < 0 || idx >= len(runs) {
		return nil
	}
	return &runs[idx]
}

// UniqueDisplays returns the distinct displays used, in first-seen order.
func UniqueDisplays(runs []model.Run) []string {
	seen := make(map[string]bool)
	var displays []string

	for _, r := range runs {
		if r.Display != "" && !seen[r.Display] {
			seen[r.Display] = true
			displays = append(displays, r.Display)
		}
	}
	return displays
}
