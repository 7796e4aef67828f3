package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRun(t *testing.T) {
	argv := []string{"streamlit", "run", "app.py"}
	r, err := NewRun(":99", argv)
	require.NoError(t, err)

	assert.Len(t, r.ID, 26, "ULID should be 26 characters")
	assert.Equal(t, ":99", r.Display)
	assert.Equal(t, argv, r.Argv)
	assert.Greater(t, r.StartedAt, int64(0))
	assert.Equal(t, StatusRunning, r.Status)
	assert.False(t, r.IsFinished())

	argv[0] = "changed"
	assert.Equal(t, "streamlit", r.Argv[0])
}

func TestRun_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Run)
		wantErr error
	}{
		{"valid run", func(r *Run) {}, nil},
		{"empty id", func(r *Run) { r.ID = "" }, ErrEmptyID},
		{"empty display", func(r *Run) { r.Display = "" }, ErrEmptyDisplay},
		{"empty argv", func(r *Run) { r.Argv = nil }, ErrEmptyArgv},
		{"zero start", func(r *Run) { r.StartedAt = 0 }, ErrInvalidStarted},
		{"bad status", func(r *Run) { r.Status = "paused" }, ErrInvalidStatus},
		{"exec status", func(r *Run) { r.Status = StatusExecuted }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRun()
			tt.modify(r)
			err := r.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestRun_Finish(t *testing.T) {
	r := validRun()
	r.Finish(0, nil)
	assert.Equal(t, StatusExited, r.Status)
	assert.Equal(t, 0, r.ExitCode)
	assert.Empty(t, r.Error)
	assert.GreaterOrEqual(t, r.EndedAt, r.StartedAt)
	assert.True(t, r.IsFinished())

	r = validRun()
	r.Finish(1, errors.New("display :99 not ready"))
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, 1, r.ExitCode)
	assert.Equal(t, "display :99 not ready", r.Error)
}

func TestRun_Elapsed(t *testing.T) {
	r := validRun()
	r.StartedAt = 1000
	r.EndedAt = 1090
	assert.Equal(t, 90*time.Second, r.Elapsed())

	r.EndedAt = 10
	assert.Equal(t, time.Duration(0), r.Elapsed())
}

func TestRun_RelativeTime(t *testing.T) {
	r := validRun()
	r.StartedAt = time.Now().Add(-3 * time.Hour).Unix()
	assert.Equal(t, "3 hours ago", r.RelativeTime())
}

func TestRun_Command(t *testing.T) {
	r := validRun()
	assert.Equal(t, "streamlit run app.py", r.Command(0))
	assert.Equal(t, "streamlit run app.py", r.Command(100))
	assert.Equal(t, "streaml...", r.Command(10))
	assert.Equal(t, "str", r.Command(3))
}

func TestRun_Clone(t *testing.T) {
	r := validRun()
	clone := r.Clone()
	clone.Argv[0] = "other"
	clone.Status = StatusFailed

	assert.Equal(t, "streamlit", r.Argv[0])
	assert.Equal(t, StatusRunning, r.Status)
}

func validRun() *Run {
	return &Run{
		ID:        "01HQGXK5P00000000000000000",
		Display:   ":99",
		Geometry:  "1920x1080x24",
		Mode:      "supervise",
		Strategy:  "probe",
		Argv:      []string{"streamlit", "run", "app.py"},
		StartedAt: time.Now().Unix(),
		Status:    StatusRunning,
	}
}
