package controller

// State is the lifecycle position of a branch controller.
type State int32

const (
	// StateIdle is a branch that has never run.
	StateIdle State = iota
	// StateRunning is a branch whose runtime is delivering messages.
	StateRunning
	// StatePaused is a branch stopped at an event boundary.
	StatePaused
	// StateReseeding is a branch whose agents are being restored.
	StateReseeding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateReseeding:
		return "reseeding"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
