package monitor

// StopReason says why a job stopped.
type StopReason int

const (
	ReasonNone StopReason = iota
	ReasonManual
	ReasonDuration
	ReasonLogError
	ReasonExited // The job exited on its own
)

// String returns a short name for the reason.
func (r StopReason) String() string {
	switch r {
	case ReasonManual:
		return "manual"
	case ReasonDuration:
		return "duration"
	case ReasonLogError:
		return "log-error"
	case ReasonExited:
		return "exited"
	default:
		return "none"
	}
}

// Message returns the line shown to the user when the job stops.
func (r StopReason) Message() string {
	switch r {
	case ReasonManual:
		return "Stopped manually by user."
	case ReasonDuration:
		return "Duration reached, job completed."
	case ReasonLogError:
		return "Job stopped due to an ERROR in logs."
	case ReasonExited:
		return "Job exited."
	default:
		return ""
	}
}

// IsError reports whether the stop was caused by an error in the logs.
func (r StopReason) IsError() bool {
	return r == ReasonLogError
}

// MarshalText implements encoding.TextMarshaler.
func (r StopReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}
