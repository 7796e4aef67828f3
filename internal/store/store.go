// Package store provides the run history store.
package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmylchreest/xvrun/internal/core"
	"github.com/jmylchreest/xvrun/internal/model"
)

// ChangeType indicates the type of store change.
type ChangeType int

const (
	// ChangeTypeAdd indicates runs were added.
	ChangeTypeAdd ChangeType = iota
	// ChangeTypeUpdate indicates a run changed state.
	ChangeTypeUpdate
	// ChangeTypePrune indicates runs were pruned.
	ChangeTypePrune
	// ChangeTypeClear indicates all runs were cleared.
	ChangeTypeClear
)

// ChangeEvent signals store content changes.
type ChangeEvent struct {
	Type  ChangeType
	Count int
	RunID string // Set for single-run changes
}

// Errors
var (
	ErrStoreClosed = errors.New("store is closed")
	ErrRunExists   = errors.New("run already exists")
	ErrRunNotFound = errors.New("run not found")
)

// Store manages the run history with thread-safe operations.
type Store struct {
	mu    sync.RWMutex
	runs  []model.Run
	index map[string]int // run id -> slice index

	persistence Persistence

	subscribers []chan ChangeEvent
	closed      bool
}

// NewStore creates a new Store.
// If persistence is not nil, it will be used to persist runs.
func NewStore(persistence Persistence) *Store {
	return &Store{
		index:       make(map[string]int),
		persistence: persistence,
	}
}

// Add records a new run.
func (s *Store) Add(r model.Run) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.index[r.ID]; exists {
		return fmt.Errorf("%w: %s", ErrRunExists, r.ID)
	}

	r = *r.Clone()
	s.index[r.ID] = len(s.runs)
	s.runs = append(s.runs, r)

	if s.persistence != nil {
		if err := s.persistence.Append(r); err != nil {
			return err
		}
	}

	s.notifyChange(ChangeEvent{Type: ChangeTypeAdd, Count: 1, RunID: r.ID})
	return nil
}

// Update replaces a stored run with r, matched by ID.
func (s *Store) Update(r model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	idx, exists := s.index[r.ID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, r.ID)
	}

	r = *r.Clone()
	s.runs[idx] = r

	if s.persistence != nil {
		if err := s.persistence.Append(r); err != nil {
			return err
		}
	}

	s.notifyChange(ChangeEvent{Type: ChangeTypeUpdate, Count: 1, RunID: r.ID})
	return nil
}

// Finish records the outcome of the run with the given ID.
func (s *Store) Finish(id string, exitCode int, runErr error) error {
	r := s.Get(id)
	if r == nil {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	r.Finish(exitCode, runErr)
	return s.Update(*r)
}

// Get returns a copy of the run with the given ID, or nil.
func (s *Store) Get(id string) *model.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if idx, exists := s.index[id]; exists {
		return s.runs[idx].Clone()
	}
	return nil
}

// Lookup finds a run by full ID or unique ID prefix.
func (s *Store) Lookup(id string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := core.LookupByID(s.runs, id)
	if err != nil || r == nil {
		return nil, err
	}
	return r.Clone(), nil
}

// List returns all runs, newest first.
func (s *Store) List() []model.Run {
	s.mu.RLock()
	result := make([]model.Run, len(s.runs))
	for i := range s.runs {
		result[i] = *s.runs[i].Clone()
	}
	s.mu.RUnlock()

	core.Sort(result, core.DefaultSortOptions())
	return result
}

// Count returns the total number of runs.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// PruneCandidates returns the runs Prune would remove, newest first.
// A run is a candidate when it started more than olderThan ago
// (olderThan > 0), or when it falls outside the newest keep runs (keep > 0).
func (s *Store) PruneCandidates(olderThan time.Duration, keep int) []model.Run {
	runs := s.List()

	var cutoff time.Time
	if olderThan > 0 {
		cutoff = time.Now().Add(-olderThan)
	}

	var out []model.Run
	for i, r := range runs {
		tooOld := olderThan > 0 && r.StartedTime().Before(cutoff)
		beyondKeep := keep > 0 && i >= keep
		if tooOld || beyondKeep {
			out = append(out, r)
		}
	}
	return out
}

// Prune removes runs selected by PruneCandidates and rewrites persistence.
// Returns the number of runs removed.
func (s *Store) Prune(olderThan time.Duration, keep int) (int, error) {
	if olderThan <= 0 && keep <= 0 {
		return 0, nil
	}

	remove := make(map[string]bool)
	for _, r := range s.PruneCandidates(olderThan, keep) {
		remove[r.ID] = true
	}
	if len(remove) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}

	kept := make([]model.Run, 0, len(s.runs))
	for _, r := range s.runs {
		if !remove[r.ID] {
			kept = append(kept, r)
		}
	}

	if s.persistence != nil {
		if err := s.persistence.Rewrite(kept); err != nil {
			return 0, err
		}
	}

	removed := len(s.runs) - len(kept)
	s.replace(kept)

	s.notifyChange(ChangeEvent{Type: ChangeTypePrune, Count: removed})
	return removed, nil
}

// Clear removes all runs from the store.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	count := len(s.runs)
	if s.persistence != nil {
		if err := s.persistence.Clear(); err != nil {
			return err
		}
	}
	s.replace(nil)

	s.notifyChange(ChangeEvent{Type: ChangeTypeClear, Count: count})
	return nil
}

// Hydrate reloads runs from persistence, picking up records written by
// other xvrun processes.
func (s *Store) Hydrate() error {
	if s.persistence == nil {
		return nil
	}

	runs, err := s.persistence.Load()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	added, updated := 0, 0
	for _, r := range runs {
		idx, exists := s.index[r.ID]
		switch {
		case !exists:
			added++
		case s.runs[idx].Status != r.Status || s.runs[idx].Phase != r.Phase:
			updated++
		}
	}
	s.replace(runs)

	if added > 0 {
		s.notifyChange(ChangeEvent{Type: ChangeTypeAdd, Count: added})
	}
	if updated > 0 {
		s.notifyChange(ChangeEvent{Type: ChangeTypeUpdate, Count: updated})
	}
	return nil
}

// Subscribe returns a channel that receives change events.
func (s *Store) Subscribe() <-chan ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan ChangeEvent, 10)
	if s.closed {
		close(ch)
		return ch
	}
	s.subscribers = append(s.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscription.
func (s *Store) Unsubscribe(ch <-chan ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close releases resources and closes all subscriber channels.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil

	if s.persistence != nil {
		return s.persistence.Close()
	}
	return nil
}

// replace swaps the in-memory contents. Callers hold s.mu.
func (s *Store) replace(runs []model.Run) {
	s.runs = runs
	s.index = make(map[string]int, len(runs))
	for i, r := range runs {
		s.index[r.ID] = i
	}
}

// notifyChange sends a change event to all subscribers (non-blocking).
func (s *Store) notifyChange(event ChangeEvent) {
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}
