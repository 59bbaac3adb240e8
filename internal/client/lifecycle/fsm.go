package lifecycle

import (
	"context"

	"github.com/looplab/fsm"

	fsmutil "github.com/glowlink-io/glowlink/internal/pkg/util/fsm"
)

// Lifecycle events.
const (
	// EventDial starts a connection attempt.
	EventDial = "event_dial"
	// EventLinkUp reports a successful attempt.
	EventLinkUp = "event_link_up"
	// EventBreak reports a failed or lost link; any known config is kept.
	EventBreak = "event_break"
	// EventClose is the explicit user disconnect.
	EventClose = "event_close"
)

type FiniteStateMachine struct {
	*fsm.FSM
}

// NewFiniteStateMachine builds the connection lifecycle machine. Connected is
// only reachable through Connecting, and Disconnected is only reachable
// through an explicit close; every failure path lands in Broken.
func NewFiniteStateMachine(enterState func(state State)) *FiniteStateMachine {
	f := &FiniteStateMachine{}

	events := fsm.Events{
		{Name: EventDial, Src: []string{string(StateDisconnected), string(StateBroken)}, Dst: string(StateConnecting)},
		{Name: EventLinkUp, Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
		{Name: EventBreak, Src: []string{string(StateConnecting), string(StateConnected)}, Dst: string(StateBroken)},
		{Name: EventClose, Src: []string{string(StateConnected), string(StateBroken)}, Dst: string(StateDisconnected)},
	}

	callbacks := fsm.Callbacks{
		"enter_state": fsmutil.WrapEvent(func(ctx context.Context, e *fsm.Event) error {
			enterState(State(e.Dst))
			return nil
		}),
	}

	f.FSM = fsm.NewFSM(string(StateDisconnected), events, callbacks)
	return f
}
