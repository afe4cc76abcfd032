package challenge_test

import (
	"testing"

	"github.com/handshake/coordinator/internal/challenge"
	"github.com/handshake/coordinator/internal/recordstore"
)

func TestAllowed_HappyPathEdges(t *testing.T) {
	cases := []struct {
		from, to recordstore.ChallengeState
	}{
		{recordstore.StatePending, recordstore.StateNotifying},
		{recordstore.StatePending, recordstore.StateExpired},
		{recordstore.StatePending, recordstore.StateDeclined},
		{recordstore.StateNotifying, recordstore.StateWaitingResponse},
		{recordstore.StateWaitingResponse, recordstore.StateActive},
		{recordstore.StateWaitingResponse, recordstore.StateDeclined},
		{recordstore.StateWaitingResponse, recordstore.StateTimeout},
	}
	for _, c := range cases {
		if !challenge.Allowed(c.from, c.to) {
			t.Errorf("expected %s -> %s to be allowed", c.from, c.to)
		}
	}
}

func TestAllowed_RejectsIllegalEdges(t *testing.T) {
	cases := []struct {
		from, to recordstore.ChallengeState
	}{
		{recordstore.StatePending, recordstore.StateActive},
		{recordstore.StatePending, recordstore.StateWaitingResponse},
		{recordstore.StateNotifying, recordstore.StateActive},
		{recordstore.StateWaitingResponse, recordstore.StatePending},
		{recordstore.StateActive, recordstore.StateWaitingResponse},
	}
	for _, c := range cases {
		if challenge.Allowed(c.from, c.to) {
			t.Errorf("expected %s -> %s to be rejected", c.from, c.to)
		}
	}
}

func TestAllowed_TerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	for _, s := range []recordstore.ChallengeState{
		recordstore.StateActive, recordstore.StateDeclined,
		recordstore.StateTimeout, recordstore.StateExpired,
	} {
		if !s.Terminal() {
			t.Errorf("%s should report Terminal() == true", s)
		}
		if err := challenge.Validate(s, recordstore.StateNotifying); err == nil {
			t.Errorf("expected transition out of terminal state %s to fail", s)
		}
	}
}

func TestValidate_UnknownStates(t *testing.T) {
	if err := challenge.Validate("BOGUS", recordstore.StateNotifying); err == nil {
		t.Error("expected error for unknown source state")
	}
	if err := challenge.Validate(recordstore.StatePending, "BOGUS"); err == nil {
		t.Error("expected error for unknown target state")
	}
}
