// Package challenge is a pure, I/O-free closed-set transition table. It
// has no spontaneous transitions and no storage: every edge is driven
// by an explicit Orchestrator call, and every write to a Challenge's
// state column goes through recordstore.UpdateChallengeState, which
// calls Validate before it issues the guarded SQL UPDATE. The one
// exception is recordstore's MarkExpired sweep, which writes EXPIRED
// directly and limits itself to PENDING rows in its WHERE clause.
package challenge

import "fmt"

// ChallengeState is the closed set of states a Challenge moves through.
// Modeled as a tagged variant (a distinct string type with named
// constants plus a validator) rather than bare strings passed around
// after parsing.
type ChallengeState string

const (
	StatePending         ChallengeState = "PENDING"
	StateNotifying       ChallengeState = "NOTIFYING"
	StateWaitingResponse ChallengeState = "WAITING_RESPONSE"
	StateActive          ChallengeState = "ACTIVE"
	StateDeclined        ChallengeState = "DECLINED"
	StateTimeout         ChallengeState = "TIMEOUT"
	StateExpired         ChallengeState = "EXPIRED"
)

// Terminal reports whether a state has no outgoing transitions.
func (s ChallengeState) Terminal() bool {
	switch s {
	case StateActive, StateDeclined, StateTimeout, StateExpired:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a recognized state.
func (s ChallengeState) Valid() bool {
	switch s {
	case StatePending, StateNotifying, StateWaitingResponse, StateActive, StateDeclined, StateTimeout, StateExpired:
		return true
	default:
		return false
	}
}

var transitions = map[ChallengeState][]ChallengeState{
	StatePending:         {StateNotifying, StateDeclined, StateExpired},
	StateNotifying:       {StateWaitingResponse},
	StateWaitingResponse: {StateActive, StateDeclined, StateTimeout},
	StateActive:          {},
	StateDeclined:        {},
	StateTimeout:         {},
	StateExpired:         {},
}

// Allowed reports whether the transition from -> to is a permitted edge
// of the closed transition graph. Any non-listed transition, including
// one out of a terminal state, is rejected.
func Allowed(from, to ChallengeState) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Validate returns an error describing why from -> to is illegal, or nil
// if the transition is permitted.
func Validate(from, to ChallengeState) error {
	if !from.Valid() {
		return fmt.Errorf("challenge: unknown source state %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("challenge: unknown target state %q", to)
	}
	if from.Terminal() {
		return fmt.Errorf("challenge: %q is terminal, no further transitions allowed", from)
	}
	if !Allowed(from, to) {
		return fmt.Errorf("challenge: illegal transition %s -> %s", from, to)
	}
	return nil
}
