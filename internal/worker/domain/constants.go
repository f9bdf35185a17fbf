package domain

// Run status constants
const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
	RunStatusCanceled  = "CANCELED"
)

// DispatcherState is the lifecycle phase of a dispatcher run
type DispatcherState int32

const (
	StateStarting DispatcherState = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s DispatcherState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
