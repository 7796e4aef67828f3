package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/xvrun/internal/model"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"0", 0, false},
		{"", 0, false},
		{"1h", time.Hour, false},
		{"48h", 48 * time.Hour, false},
		{"30m", 30 * time.Minute, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1w", 7 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"xd", 0, true},
		{"invalid", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expected, got)
			}
		})
	}
}

func TestFilter(t *testing.T) {
	now := time.Now()
	runs := []model.Run{
		{ID: "A", Display: ":99", Status: model.StatusExited, StartedAt: now.Add(-10 * time.Minute).Unix()},
		{ID: "B", Display: ":100", Status: model.StatusFailed, StartedAt: now.Add(-2 * time.Hour).Unix()},
		{ID: "C", Display: ":99", Status: model.StatusFailed, StartedAt: now.Add(-72 * time.Hour).Unix()},
	}

	tests := []struct {
		name string
		opts FilterOptions
		want []string
	}{
		{"no filter", FilterOptions{}, []string{"A", "B", "C"}},
		{"since 1h", FilterOptions{Since: time.Hour}, []string{"A"}},
		{"since 1d", FilterOptions{Since: 24 * time.Hour}, []string{"A", "B"}},
		{"status", FilterOptions{Status: model.StatusFailed}, []string{"B", "C"}},
		{"display", FilterOptions{Display: ":99"}, []string{"A", "C"}},
		{"limit", FilterOptions{Limit: 2}, []string{"A", "B"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Filter(runs, tt.opts)))
		})
	}
}

func TestParseFilter(t *testing.T) {
	expr, err := ParseFilter("status=failed, exit!=0 ,command~stream")
	require.NoError(t, err)
	require.Len(t, expr.Conditions, 3)
	assert.Equal(t, "status", expr.Conditions[0].Field)
	assert.Equal(t, FilterOpNotEqual, expr.Conditions[1].Operator)
	assert.Equal(t, FilterOpContains, expr.Conditions[2].Operator)

	empty, err := ParseFilter("")
	require.NoError(t, err)
	assert.Empty(t, empty.Conditions)

	_, err = ParseFilter("colour=red")
	assert.Error(t, err)
	_, err = ParseFilter("exit=abc")
	assert.Error(t, err)
	_, err = ParseFilter("command~=[")
	assert.Error(t, err)
	_, err = ParseFilter("justtext")
	assert.Error(t, err)
}

func TestFilterWithExpr(t *testing.T) {
	now := time.Now()
	runs := []model.Run{
		{ID: "A", Mode: "exec", Status: model.StatusExecuted, Argv: []string{"streamlit", "run"}, StartedAt: now.Unix()},
		{ID: "B", Mode: "supervise", Status: model.StatusFailed, ExitCode: 1, Argv: []string{"python", "app.py"}, StartedAt: now.Add(-3 * time.Hour).Unix()},
		{ID: "C", Mode: "supervise", Status: model.StatusExited, ExitCode: 143, Argv: []string{"Streamlit"}, StartedAt: now.Add(-time.Minute).Unix()},
	}

	tests := []struct {
		expr string
		want []string
	}{
		{"", []string{"A", "B", "C"}},
		{"mode=supervise", []string{"B", "C"}},
		{"exit>0", []string{"B", "C"}},
		{"exit>=100", []string{"C"}},
		{"command~streamlit", []string{"A", "C"}},
		{"command~=^python", []string{"B"}},
		{"started>1h", []string{"A", "C"}},
		{"started<1h", []string{"B"}},
		{"mode=supervise,exit<10", []string{"B"}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			expr, err := ParseFilter(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(FilterWithExpr(runs, expr)))
		})
	}
}

func ids(runs []model.Run) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}
