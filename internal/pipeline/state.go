package pipeline

import (
	apperrors "voicemart/internal/common/errors"
)

// State is a step of the per-request state machine. The terminal states
// double as the outcome status.
type State string

const (
	StateReceived           State = "received"
	StateNormalized         State = "normalized"
	StateExtracted          State = "extracted"
	StateBuilt              State = "built"
	StateNeedsClarification State = "needs_clarification"
	StateResolving          State = "resolving"
	StateRanked             State = "ranked"
	StateDegraded           State = "degraded"
	StateAllSourcesFailed   State = "all_sources_failed"
	StateFailed             State = "failed"
)

var transitions = map[State][]State{
	StateReceived:   {StateNormalized, StateNeedsClarification, StateFailed},
	StateNormalized: {StateExtracted, StateFailed},
	StateExtracted:  {StateBuilt, StateNeedsClarification, StateFailed},
	StateBuilt:      {StateResolving, StateFailed},
	StateResolving:  {StateRanked, StateDegraded, StateAllSourcesFailed, StateFailed},
}

// Transition validates a move between states.
func Transition(from, to State) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return apperrors.NewIllegalTransitionError(string(from), string(to))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}
