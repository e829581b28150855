package model

// State is the position of one requirement in the prepare state machine.
type State string

const (
	StatePending          State = "pending"
	StateChecking         State = "checking"
	StateAlreadySatisfied State = "already_satisfied"
	StateAttempting       State = "attempting"
	StateSatisfied        State = "satisfied"
	StateFailed           State = "failed"
	StateAwaitingInput    State = "awaiting_input"
)

var transitions = map[State][]State{
	StatePending:    {StateChecking},
	StateChecking:   {StateAlreadySatisfied, StateAttempting, StateFailed},
	StateAttempting: {StateSatisfied, StateFailed, StateAwaitingInput},
}

// CanTransition reports whether a requirement may move from one state to the next.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case StateAlreadySatisfied, StateSatisfied, StateFailed, StateAwaitingInput:
		return true
	default:
		return false
	}
}

// Met reports whether s counts as the requirement holding.
func (s State) Met() bool {
	return s == StateAlreadySatisfied || s == StateSatisfied
}
