package lifecycle

import (
	"errors"
	"time"
)

// ErrBusy reports an operation attempted while another one holds the
// manager.
var ErrBusy = errors.New("another operation is in progress")

// State is the connection lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateBroken       State = "broken"
)

// Event is an immutable lifecycle snapshot delivered on the event channel.
// Config is a private copy; consumers may hold it as long as they like.
type Event struct {
	State  State
	Config []byte
	Err    error
	At     time.Time
}
