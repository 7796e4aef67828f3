package store

import (
	"errors"
	"fmt"
	"log/slog"
)

// OpenHistory opens the JSONL history at path and hydrates a store from
// it. A file that cannot be read back is moved aside with
// RecoverFromCorruption and the store starts from the records that still
// decode. Files from a newer schema are left alone.
func OpenHistory(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	persistence, err := NewJSONLPersistence(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize persistence: %w", err)
	}
	s := NewStore(persistence)

	err = s.Hydrate()
	if err == nil {
		return s, nil
	}
	if errors.Is(err, ErrUnsupportedSchema) {
		logger.Warn("history file written by a newer version, not loading it", "path", path, "error", err)
		return s, nil
	}

	logger.Warn("history file unreadable, recovering", "path", path, "error", err)
	if closeErr := s.Close(); closeErr != nil {
		logger.Warn("failed to close history store", "error", closeErr)
	}
	if err := RecoverFromCorruption(path); err != nil {
		return nil, fmt.Errorf("recovering %s: %w", path, err)
	}

	persistence, err = NewJSONLPersistence(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize persistence: %w", err)
	}
	s = NewStore(persistence)
	if err := s.Hydrate(); err != nil {
		logger.Warn("failed to hydrate store from disk", "error", err)
	}
	return s, nil
}
