package types

// ReadinessState is the backend readiness as seen by the core.
// Transitions only move forward; Ready and Failed are absorbing.
type ReadinessState string

const (
	ReadinessInit     ReadinessState = "init"
	ReadinessStarting ReadinessState = "starting"
	ReadinessReady    ReadinessState = "ready"
	ReadinessFailed   ReadinessState = "failed"
)

func (s ReadinessState) rank() int {
	switch s {
	case ReadinessInit:
		return 0
	case ReadinessStarting:
		return 1
	case ReadinessReady, ReadinessFailed:
		return 2
	default:
		return -1
	}
}

// IsTerminal returns true for Ready and Failed.
func (s ReadinessState) IsTerminal() bool {
	return s == ReadinessReady || s == ReadinessFailed
}

// CanTransition reports whether moving from s to next is a valid forward step.
func (s ReadinessState) CanTransition(next ReadinessState) bool {
	if s.IsTerminal() || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// ReadySignal names the evidence that moved readiness to Ready.
type ReadySignal string

const (
	SignalNone   ReadySignal = ""
	SignalMarker ReadySignal = "marker"
	SignalHealth ReadySignal = "health"
)
