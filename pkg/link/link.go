// Package link provides the transport layer for the glowlamp update protocol.
// It defines the endpoint surface both sides program against and ships two
// implementations: an MQTT bridge for real deployments and an in-memory
// loopback pair for tests and demos.
package link

import (
	"context"
	"errors"
	"fmt"

	"github.com/glowlink-io/glowlink/pkg/wire"
)

// Sentinel transport errors. Operation failures wrap them in a *Error.
var (
	// ErrNotConnected reports an endpoint operation on a link that is not
	// currently connected.
	ErrNotConnected = errors.New("link not connected")

	// ErrAckTimeout reports a write whose acknowledgement did not arrive in
	// time. The write may or may not have been applied.
	ErrAckTimeout = errors.New("write acknowledgement timed out")
)

// Error reports a transport-level failure on the update link. It is distinct
// from the register taxonomy in package wire: a nacked write returns the
// taxonomy error, a failed delivery returns *Error.
type Error struct {
	Endpoint wire.Endpoint
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("link %s endpoint: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsLinkError reports whether err is a transport failure as opposed to a
// device-side rejection.
func IsLinkError(err error) bool {
	var le *Error
	return errors.As(err, &le)
}

// Client is the application side of an update link. Writes block until the
// device has applied the payload and acknowledged it; a nacked write returns
// the corresponding wire taxonomy error.
type Client interface {
	// Connect establishes the link. It blocks until the device endpoints
	// are reachable or ctx expires.
	Connect(ctx context.Context) error

	// Close tears the link down. Safe to call on a link that never
	// connected.
	Close(ctx context.Context) error

	// WriteCommand writes the one-byte control register.
	WriteCommand(ctx context.Context, cmd wire.Command) error

	// WriteHash writes the expected-digest register.
	WriteHash(ctx context.Context, digest [wire.HashSize]byte) error

	// WriteData writes one image chunk to the data endpoint.
	WriteData(ctx context.Context, chunk []byte) error

	// ReadStatus performs an acknowledged read of the status register.
	// It doubles as the link liveness probe.
	ReadStatus(ctx context.Context) (wire.Status, error)

	// SubscribeStatus registers fn for status change notifications.
	// fn must not block.
	SubscribeStatus(ctx context.Context, fn func(wire.Status)) error

	// ReadConfig performs an acknowledged read of the config register.
	ReadConfig(ctx context.Context) ([]byte, error)

	// WriteConfig writes the config register.
	WriteConfig(ctx context.Context, cfg []byte) error
}

// Handler is implemented by the device-side transport adapter. The bridge
// acknowledges each endpoint write only after the handler method returns, so
// handlers must fully apply a write before returning.
type Handler interface {
	WriteCommand(ctx context.Context, cmd wire.Command) error
	WriteHash(ctx context.Context, digest [wire.HashSize]byte) error
	WriteData(ctx context.Context, chunk []byte) error
	ReadStatus(ctx context.Context) wire.Status
	ReadConfig(ctx context.Context) []byte
	WriteConfig(ctx context.Context, cfg []byte) error

	// LinkLost is invoked when the client side of the link goes away for
	// any reason.
	LinkLost()
}

// Device is the device-side binding of the endpoint surface.
type Device interface {
	// Start binds the endpoints and begins dispatching writes to h.
	Start(ctx context.Context, h Handler) error

	// Notify publishes a status register change to any subscribed client.
	Notify(ctx context.Context, status wire.Status) error

	// Stop unbinds the endpoints.
	Stop(ctx context.Context)
}
