package clock

// Phase is the engine's position in the frame state machine:
// Idle -> Accumulating -> (Snapshotting -> Stepping -> Swapping)* -> Idle.
type Phase uint32

const (
	PhaseIdle Phase = iota
	PhaseAccumulating
	PhaseSnapshotting
	PhaseStepping
	PhaseSwapping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAccumulating:
		return "accumulating"
	case PhaseSnapshotting:
		return "snapshotting"
	case PhaseStepping:
		return "stepping"
	case PhaseSwapping:
		return "swapping"
	default:
		return "unknown"
	}
}
