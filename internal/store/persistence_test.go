package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/xvrun/internal/model"
)

func TestNewJSONLPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.jsonl")

	p, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	defer p.Close()

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "xvrun_schema_version")
	assert.Equal(t, path, p.Path())
}

func TestNewJSONLPersistence_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "nested", "test.jsonl")

	p, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	defer p.Close()

	_, err = os.Stat(filepath.Dir(path))
	require.NoError(t, err)
}

func TestJSONLPersistence_AppendAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")

	p, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Append(testRun("run1", 100)))
	require.NoError(t, p.Append(testRun("run2", 200)))

	runs, err := p.Load()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run1", runs[0].ID)
	assert.Equal(t, "run2", runs[1].ID)
}

func TestJSONLPersistence_LoadKeepsLatestRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")

	p, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	defer p.Close()

	r := testRun("run1", 100)
	require.NoError(t, p.Append(r))
	require.NoError(t, p.Append(testRun("run2", 200)))

	r.Finish(3, nil)
	require.NoError(t, p.Append(r))

	runs, err := p.Load()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run1", runs[0].ID, "first-seen order is kept")
	assert.Equal(t, model.StatusExited, runs[0].Status)
	assert.Equal(t, 3, runs[0].ExitCode)
}

func TestJSONLPersistence_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")

	p, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	require.NoError(t, p.Append(testRun("good1", 100)))
	require.NoError(t, p.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n{\"display\":\":1\"}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	p, err = NewJSONLPersistence(path)
	require.NoError(t, err)
	defer p.Close()
	require.NoError(t, p.Append(testRun("good2", 200)))

	runs, err := p.Load()
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestJSONLPersistence_FutureSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"xvrun_schema_version":99,"created_at":1}`+"\n"), 0600))

	p, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Load()
	assert.Error(t, err)
}

func TestJSONLPersistence_Rewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")

	p, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	defer p.Close()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, p.Append(testRun(id, 100)))
	}

	require.NoError(t, p.Rewrite([]model.Run{testRun("b", 100)}))

	runs, err := p.Load()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)

	// Appends continue after a rewrite
	require.NoError(t, p.Append(testRun("d", 100)))
	runs, err = p.Load()
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	_, err = os.Stat(path + ".bak")
	assert.True(t, os.IsNotExist(err))
}

func TestJSONLPersistence_AppendAfterExternalRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")

	writer, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	defer writer.Close()
	require.NoError(t, writer.Append(testRun("a", 100)))

	pruner, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	require.NoError(t, pruner.Rewrite(nil))
	require.NoError(t, pruner.Close())

	require.NoError(t, writer.Append(testRun("b", 200)))

	runs, err := writer.Load()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)
}

func TestJSONLPersistence_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")

	p, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Append(testRun("a", 100)))
	require.NoError(t, p.Clear())

	runs, err := p.Load()
	require.NoError(t, err)
	assert.Empty(t, runs)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "xvrun_schema_version")
}

func TestJSONLPersistence_Closed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.jsonl")

	p, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err = p.Load()
	assert.ErrorIs(t, err, ErrPersistenceClosed)
	assert.ErrorIs(t, p.Append(testRun("a", 1)), ErrPersistenceClosed)
	assert.ErrorIs(t, p.Rewrite(nil), ErrPersistenceClosed)
}

func TestRecoverFromCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.jsonl")

	p, err := NewJSONLPersistence(path)
	require.NoError(t, err)
	require.NoError(t, p.Append(testRun("keep", 100)))
	require.NoError(t, p.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("\x00\x01garbage\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, RecoverFromCorruption(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(content), "garbage")
	assert.Contains(t, string(content), "keep")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var backups int
	for _, e := range entries {
		if strings.Contains(e.Name(), ".corrupted.") {
			backups++
		}
	}
	assert.Equal(t, 1, backups)
}

func testRun(id string, startedAt int64) model.Run {
	return model.Run{
		ID:        id,
		Display:   ":99",
		Mode:      "supervise",
		Argv:      []string{"streamlit", "run", "app.py"},
		StartedAt: startedAt,
		Status:    model.StatusRunning,
	}
}

func recentRun(id string, age time.Duration) model.Run {
	return testRun(id, time.Now().Add(-age).Unix())
}
