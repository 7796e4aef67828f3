package monitor

import "time"

// DefaultDuration is the job time budget when none is configured.
const DefaultDuration = time.Hour

// Snapshot is how far a job is through its time budget.
type Snapshot struct {
	Ratio     float64 // Elapsed/duration clamped to [0,1]
	Elapsed   time.Duration
	Remaining time.Duration // Never negative
	Complete  bool          // Elapsed has reached the duration
}

// Progress computes the snapshot at now for a job started at start with
// the given budget. A non-positive duration counts as already complete.
func Progress(start, now time.Time, duration time.Duration) Snapshot {
	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	if duration <= 0 {
		return Snapshot{Ratio: 1, Elapsed: elapsed, Complete: true}
	}

	ratio := float64(elapsed) / float64(duration)
	if ratio > 1 {
		ratio = 1
	}
	remaining := duration - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		Ratio:     ratio,
		Elapsed:   elapsed,
		Remaining: remaining,
		Complete:  elapsed >= duration,
	}
}
