package session

import (
	"context"

	"github.com/looplab/fsm"

	fsmutil "github.com/glowlink-io/glowlink/internal/pkg/util/fsm"
)

// Session states. Armed and Validating are internal refinements; the status
// register mirrors them as idle and in_progress respectively.
const (
	StateIdle       = "idle"
	StateArmed      = "armed"
	StateInProgress = "in_progress"
	StateValidating = "validating"
	StateSuccess    = "success"
	StateError      = "error"
)

// Session events.
const (
	// EventArm records the expected digest and opens a new session.
	EventArm = "event_arm"
	// EventBegin starts streaming into the inactive slot.
	EventBegin = "event_begin"
	// EventCommit closes the stream and enters verification.
	EventCommit = "event_commit"
	// EventVerified reports a digest match and a flipped boot pointer.
	EventVerified = "event_verified"
	// EventFail records a failed session.
	EventFail = "event_fail"
	// EventAbort resets the session to idle.
	EventAbort = "event_abort"
)

type FiniteStateMachine struct {
	*fsm.FSM
}

// NewFiniteStateMachine builds the session machine. Side effects live on the
// Controller; enter callbacks are injected so the machine itself stays
// declarative.
func NewFiniteStateMachine(initial string, enterState func(state string)) *FiniteStateMachine {
	f := &FiniteStateMachine{}

	events := fsm.Events{
		// A new digest may be armed from any settled state, including a
		// re-arm before Begin.
		{Name: EventArm, Src: []string{StateIdle, StateArmed, StateSuccess, StateError}, Dst: StateArmed},

		{Name: EventBegin, Src: []string{StateArmed}, Dst: StateInProgress},
		{Name: EventCommit, Src: []string{StateInProgress}, Dst: StateValidating},
		{Name: EventVerified, Src: []string{StateValidating}, Dst: StateSuccess},

		{Name: EventFail, Src: []string{StateInProgress, StateValidating}, Dst: StateError},

		{Name: EventAbort, Src: []string{StateArmed, StateInProgress, StateValidating, StateError}, Dst: StateIdle},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
			enterState(e.Dst)
			return nil
		}),
	}

	f.FSM = fsm.NewFSM(initial, events, callbacks)
	return f
}
