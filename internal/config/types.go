package config

import (
	"fmt"
	"strconv"
	"time"
)

// Duration is a time.Duration that can be unmarshaled from human-readable strings.
// Supports formats like "5s", "10s", "1m", "1h30m", or integer milliseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)

	// Plain integers are milliseconds
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: must be like '5s', '1m', '1h30m' or milliseconds: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Mode is what the launcher does once the display is ready.
type Mode string

const (
	// ModeSupervise runs the front-end as a child and stays resident.
	ModeSupervise Mode = "supervise"
	// ModeExec replaces the launcher process with the front-end.
	ModeExec Mode = "exec"
)

// ValidModes returns all valid launch modes.
func ValidModes() []Mode {
	return []Mode{ModeSupervise, ModeExec}
}

// ParseMode validates a launch mode name.
func ParseMode(s string) (Mode, error) {
	for _, m := range ValidModes() {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("invalid launch mode %q, must be one of: %v", s, ValidModes())
}

// Strategy is how the launcher decides the display is ready.
type Strategy string

const (
	// StrategyProbe polls the display socket until it accepts connections.
	StrategyProbe Strategy = "probe"
	// StrategyDelay sleeps a fixed interval and assumes the display is up.
	StrategyDelay Strategy = "delay"
)

// ValidStrategies returns all valid readiness strategies.
func ValidStrategies() []Strategy {
	return []Strategy{StrategyProbe, StrategyDelay}
}

// ParseStrategy validates a readiness strategy name.
func ParseStrategy(s string) (Strategy, error) {
	for _, st := range ValidStrategies() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid readiness strategy %q, must be one of: %v", s, ValidStrategies())
}
