package relay

// State is where the loop is in its run.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateProcessing
	StateCommitting
	StateClosing
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateProcessing:
		return "processing"
	case StateCommitting:
		return "committing"
	case StateClosing:
		return "closing"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
