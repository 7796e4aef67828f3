package launcher

// Phase is a step of the launch sequence.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDisplayStarting
	PhaseDelayWait
	PhaseFrontendRunning
	PhaseExited
	PhaseFailed
)

// String returns the phase name used in logs, the session record and
// run history.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDisplayStarting:
		return "display-starting"
	case PhaseDelayWait:
		return "delay-wait"
	case PhaseFrontendRunning:
		return "frontend-running"
	case PhaseExited:
		return "exited"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
