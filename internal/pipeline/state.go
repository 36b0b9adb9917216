package pipeline

// State is a step of a transformation run.
type State int

const (
	StateNew State = iota
	StateStaged
	StateDisassembled
	StatePatched
	StateReassembled
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateStaged:
		return "Staged"
	case StateDisassembled:
		return "Disassembled"
	case StatePatched:
		return "Patched"
	case StateReassembled:
		return "Reassembled"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }
