package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jmylchreest/xvrun/internal/model"
)

// SchemaVersion is the current persistence schema version.
const SchemaVersion = 1

// ErrUnsupportedSchema is returned when a history file was written by a
// newer version.
var ErrUnsupportedSchema = errors.New("unsupported schema version")

// Persistence defines the interface for run history storage.
type Persistence interface {
	// Load reads all runs from storage. A run appended more than once
	// (started, then finished) is returned once, in its latest state.
	Load() ([]model.Run, error)

	// Append adds a run record to storage.
	Append(r model.Run) error

	// Rewrite replaces the entire storage file (used after prune).
	Rewrite(rs []model.Run) error

	// Clear removes all stored runs.
	Clear() error

	// Close releases file handles and resources.
	Close() error
}

// schemaHeader is the first line of the JSONL file.
type schemaHeader struct {
	XvrunSchemaVersion int   `json:"xvrun_schema_version"`
	CreatedAt          int64 `json:"created_at"`
}

// JSONLPersistence implements Persistence using JSONL files.
// Each xvrun process opens the file in append mode, so concurrent
// launchers interleave whole lines.
type JSONLPersistence struct {
	mu     sync.RWMutex
	path   string
	file   *os.File
	closed bool
}

// ErrPersistenceClosed is returned when operations are attempted on a closed persistence.
var ErrPersistenceClosed = errors.New("persistence is closed")

// NewJSONLPersistence creates a new JSONLPersistence.
// Creates the file if it doesn't exist.
func NewJSONLPersistence(path string) (*JSONLPersistence, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	p := &JSONLPersistence{
		path: path,
		file: file,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := p.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
	}

	return p, nil
}

// Path returns the file backing this persistence.
func (p *JSONLPersistence) Path() string {
	return p.path
}

func (p *JSONLPersistence) writeHeader() error {
	header := schemaHeader{
		XvrunSchemaVersion: SchemaVersion,
		CreatedAt:          time.Now().Unix(),
	}

	data, err := json.Marshal(header)
	if err != nil {
		return err
	}

	_, err = p.file.Write(append(data, '\n'))
	return err
}

// Load reads all runs from storage.
func (p *JSONLPersistence) Load() ([]model.Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.file == nil {
		return nil, ErrPersistenceClosed
	}

	// Read through a fresh handle; another process may have rewritten the file.
	file, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p.path, err)
	}
	defer file.Close()

	return decodeRuns(file)
}

// decodeRuns reads a history stream, skipping the header and malformed
// lines, and collapses repeated records by ID keeping the last one.
func decodeRuns(r io.Reader) ([]model.Run, error) {
	var runs []model.Run
	index := make(map[string]int)

	scanner := bufio.NewScanner(r)
	const maxLineSize = 1024 * 1024 // 1MB
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if lineNum == 1 {
			var header schemaHeader
			if err := json.Unmarshal(line, &header); err == nil && header.XvrunSchemaVersion > 0 {
				if header.XvrunSchemaVersion > SchemaVersion {
					return nil, fmt.Errorf("%w %d (max: %d)", ErrUnsupportedSchema,
						header.XvrunSchemaVersion, SchemaVersion)
				}
				continue
			}
		}

		var run model.Run
		if err := json.Unmarshal(line, &run); err != nil || run.ID == "" {
			continue
		}

		if idx, ok := index[run.ID]; ok {
			runs[idx] = run
			continue
		}
		index[run.ID] = len(runs)
		runs = append(runs, run)
	}

	if err := scanner.Err(); err != nil {
		return runs, fmt.Errorf("error reading file: %w", err)
	}
	return runs, nil
}

// Append adds a run record to storage.
func (p *JSONLPersistence) Append(r model.Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.file == nil {
		return ErrPersistenceClosed
	}

	if err := p.reopenIfReplaced(); err != nil {
		return err
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	if _, err := p.file.Write(append(data, '\n')); err != nil {
		return err
	}
	return p.file.Sync()
}

// reopenIfReplaced switches to the current file when another process has
// rewritten the history since we opened it.
func (p *JSONLPersistence) reopenIfReplaced() error {
	onDisk, err := os.Stat(p.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	open, err := p.file.Stat()
	if err != nil {
		return err
	}
	if onDisk != nil && os.SameFile(onDisk, open) {
		return nil
	}

	file, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to reopen file %s: %w", p.path, err)
	}
	p.file.Close()
	p.file = file

	if onDisk == nil {
		return p.writeHeader()
	}
	return nil
}

// Rewrite replaces the entire storage file (used after prune).
func (p *JSONLPersistence) Rewrite(rs []model.Run) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPersistenceClosed
	}

	if p.file != nil {
		if err := p.file.Close(); err != nil {
			return err
		}
		p.file = nil
	}

	backupPath := p.path + ".bak"
	if err := os.Rename(p.path, backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	file, err := os.OpenFile(p.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0600)
	if err != nil {
		os.Rename(backupPath, p.path)
		return fmt.Errorf("failed to create new file: %w", err)
	}
	p.file = file

	if err := p.writeHeader(); err != nil {
		return err
	}

	for _, r := range rs {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := p.file.Write(append(data, '\n')); err != nil {
			return err
		}
	}

	if err := p.file.Sync(); err != nil {
		return err
	}

	os.Remove(backupPath)
	return nil
}

// Clear removes all stored runs.
func (p *JSONLPersistence) Clear() error {
	return p.Rewrite(nil)
}

// Close releases file handles and resources.
func (p *JSONLPersistence) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.file != nil {
		err := p.file.Close()
		p.file = nil
		return err
	}
	return nil
}

// RecoverFromCorruption rewrites path keeping only the records that still
// decode. The original file is kept alongside with a ".corrupted.<time>" suffix.
func RecoverFromCorruption(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	valid, _ := decodeRuns(file)
	file.Close()

	backupPath := path + ".corrupted." + time.Now().Format("20060102-150405")
	if err := os.Rename(path, backupPath); err != nil {
		return fmt.Errorf("failed to backup corrupted file: %w", err)
	}

	p, err := NewJSONLPersistence(path)
	if err != nil {
		return err
	}
	defer p.Close()

	return p.Rewrite(valid)
}
