// Package core provides filtering, sorting, and lookup over run history.
package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/xvrun/internal/model"
)

// FilterOp represents a comparison operator.
type FilterOp string

const (
	FilterOpEqual     FilterOp = "="  // Exact match
	FilterOpNotEqual  FilterOp = "!=" // Not equal
	FilterOpContains  FilterOp = "~"  // Contains substring
	FilterOpRegex     FilterOp = "~=" // Regex match
	FilterOpGreater   FilterOp = ">"  // Greater than
	FilterOpLess      FilterOp = "<"  // Less than
	FilterOpGreaterEq FilterOp = ">=" // Greater than or equal
	FilterOpLessEq    FilterOp = "<=" // Less than or equal
)

// FilterCondition represents a single filter condition.
type FilterCondition struct {
	Field    string   // display, status, mode, command, exit, started
	Operator FilterOp // Comparison operator
	Value    string   // Value to compare against

	regex   *regexp.Regexp // Compiled regex for ~= operator
	intVal  int            // Parsed exit code
	started time.Time      // Parsed cutoff for started comparisons
}

// FilterExpr represents a compound filter expression.
// Multiple conditions are ANDed together.
type FilterExpr struct {
	Conditions []FilterCondition
}

// FilterOptions specifies criteria for filtering runs.
type FilterOptions struct {
	Since   time.Duration // Runs started after now-since (0=all)
	Status  string        // Exact match on status
	Display string        // Exact match on display
	Limit   int           // Maximum results (0=unlimited)
}

// Filter filters runs based on the provided options.
func Filter(runs []model.Run, opts FilterOptions) []model.Run {
	now := time.Now()
	result := make([]model.Run, 0, len(runs))

	for _, r := range runs {
		if opts.Since > 0 && r.StartedTime().Before(now.Add(-opts.Since)) {
			continue
		}
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if opts.Display != "" && r.Display != opts.Display {
			continue
		}
		result = append(result, r)
	}

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result
}

// ParseDuration parses a duration string with extended formats.
// Supports: 48h, 7d, 1w, 0 (all time)
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if s == "0" || s == "" {
		return 0, nil
	}

	// 7d -> 168h
	if daysStr, found := strings.CutSuffix(s, "d"); found {
		days, err := strconv.Atoi(daysStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}

	// 1w -> 168h
	if weeksStr, found := strings.CutSuffix(s, "w"); found {
		weeks, err := strconv.Atoi(weeksStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		return time.Duration(weeks) * 7 * 24 * time.Hour, nil
	}

	return time.ParseDuration(s)
}

// ParseFilter parses a filter expression string into a FilterExpr.
// Format: "field=value,field2~value2,field3>value3"
//
// Supported fields: display, status, mode, command, exit, started
// Supported operators: = (equal), != (not equal), ~ (contains), ~= (regex), >, <, >=, <=
//
// Examples:
//   - "status=failed" - runs that failed
//   - "command~streamlit" - argv contains "streamlit"
//   - "exit!=0" - non-zero exit codes
//   - "started>1h" - runs from the last hour
func ParseFilter(expr string) (*FilterExpr, error) {
	filter := &FilterExpr{}
	if expr == "" {
		return filter, nil
	}

	for part := range strings.SplitSeq(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		cond, err := parseCondition(part)
		if err != nil {
			return nil, err
		}
		filter.Conditions = append(filter.Conditions, cond)
	}

	return filter, nil
}

func parseCondition(s string) (FilterCondition, error) {
	// Longest operators first
	operators := []FilterOp{
		FilterOpNotEqual,
		FilterOpGreaterEq,
		FilterOpLessEq,
		FilterOpRegex,
		FilterOpEqual,
		FilterOpContains,
		FilterOpGreater,
		FilterOpLess,
	}

	for _, op := range operators {
		idx := strings.Index(s, string(op))
		if idx > 0 {
			cond := FilterCondition{
				Field:    strings.ToLower(strings.TrimSpace(s[:idx])),
				Operator: op,
				Value:    strings.TrimSpace(s[idx+len(op):]),
			}
			if err := cond.init(); err != nil {
				return FilterCondition{}, err
			}
			return cond, nil
		}
	}

	return FilterCondition{}, fmt.Errorf("invalid filter condition: %s (missing operator)", s)
}

func (c *FilterCondition) init() error {
	switch c.Field {
	case "display", "dpy":
		c.Field = "display"
	case "status", "state":
		c.Field = "status"
	case "mode":
	case "command", "cmd", "argv":
		c.Field = "command"
	case "exit", "exit_code", "code":
		c.Field = "exit"
		n, err := strconv.Atoi(c.Value)
		if err != nil {
			return fmt.Errorf("invalid exit code: %s", c.Value)
		}
		c.intVal = n
	case "started", "time", "ts":
		c.Field = "started"
		dur, err := ParseDuration(c.Value)
		if err != nil {
			return fmt.Errorf("invalid started value: %w", err)
		}
		c.started = time.Now().Add(-dur)
	default:
		return fmt.Errorf("unknown filter field: %s", c.Field)
	}

	if c.Operator == FilterOpRegex {
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return fmt.Errorf("invalid regex: %w", err)
		}
		c.regex = re
	}

	return nil
}

// Match tests if a run matches the filter expression.
func (f *FilterExpr) Match(r model.Run) bool {
	for _, cond := range f.Conditions {
		if !cond.Match(r) {
			return false
		}
	}
	return true
}

// Match tests if a run matches this single condition.
func (c *FilterCondition) Match(r model.Run) bool {
	switch c.Field {
	case "display":
		return c.matchString(r.Display)
	case "status":
		return c.matchString(r.Status)
	case "mode":
		return c.matchString(r.Mode)
	case "command":
		return c.matchString(strings.Join(r.Argv, " "))
	case "exit":
		return c.matchInt(r.ExitCode)
	case "started":
		return c.matchTime(r.StartedTime())
	default:
		return false
	}
}

func (c *FilterCondition) matchString(v string) bool {
	switch c.Operator {
	case FilterOpEqual:
		return v == c.Value
	case FilterOpNotEqual:
		return v != c.Value
	case FilterOpContains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(c.Value))
	case FilterOpRegex:
		return c.regex != nil && c.regex.MatchString(v)
	default:
		return false
	}
}

func (c *FilterCondition) matchInt(v int) bool {
	switch c.Operator {
	case FilterOpEqual:
		return v == c.intVal
	case FilterOpNotEqual:
		return v != c.intVal
	case FilterOpGreater:
		return v > c.intVal
	case FilterOpLess:
		return v < c.intVal
	case FilterOpGreaterEq:
		return v >= c.intVal
	case FilterOpLessEq:
		return v <= c.intVal
	default:
		return false
	}
}

// matchTime treats "started>1h" as "started within the last hour".
func (c *FilterCondition) matchTime(v time.Time) bool {
	switch c.Operator {
	case FilterOpGreater:
		return v.After(c.started)
	case FilterOpLess:
		return v.Before(c.started)
	case FilterOpGreaterEq:
		return !v.Before(c.started)
	case FilterOpLessEq:
		return !v.After(c.started)
	default:
		return false
	}
}

// FilterWithExpr filters runs using a filter expression.
func FilterWithExpr(runs []model.Run, expr *FilterExpr) []model.Run {
	if expr == nil || len(expr.Conditions) == 0 {
		return runs
	}

	result := make([]model.Run, 0, len(runs))
	for _, r := range runs {
		if expr.Match(r) {
			result = append(result, r)
		}
	}
	return result
}
