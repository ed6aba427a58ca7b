package workflow

// State is the workflow lifecycle state. The legal-transition table below is
// the single source of truth; every component that mutates workflow state
// (the executor, the pause/resume controller) goes through ValidTransition
// rather than re-deriving the rules locally.
type State string

const (
	Queued    State = "Queued"
	Running   State = "Running"
	Paused    State = "Paused"
	Completed State = "Completed"
	Failed    State = "Failed"
	Cancelled State = "Cancelled"
)

var legalTransitions = map[State]map[State]bool{
	Queued:  {Running: true, Cancelled: true},
	Running: {Paused: true, Completed: true, Failed: true, Cancelled: true},
	Paused:  {Running: true, Failed: true, Cancelled: true},
}

// IsTerminal reports whether s admits no further transitions.
func (s State) IsTerminal() bool {
	_, known := legalTransitions[s]
	return !known
}

// ValidTransition reports whether moving from `from` to `to` is permitted by
// the table in §3/§6.2 of the control-plane contract.
func ValidTransition(from, to State) bool {
	return legalTransitions[from][to]
}
