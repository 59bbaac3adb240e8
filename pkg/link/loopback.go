package link

import (
	"context"
	"sync"

	"github.com/glowlink-io/glowlink/pkg/wire"
)

// loopbackCore is the shared state of a loopback pair.
type loopbackCore struct {
	mu      sync.Mutex
	handler Handler
	started bool
	up      bool
	failing bool

	statusFns []func(wire.Status)

	// ops serializes endpoint writes so the device sees one at a time,
	// matching the real bridge where the client awaits each ack.
	ops sync.Mutex
}

// LoopbackClient is the application side of an in-memory link pair.
type LoopbackClient struct {
	core *loopbackCore
}

// LoopbackDevice is the device side of an in-memory link pair.
type LoopbackDevice struct {
	core *loopbackCore
}

var (
	_ Client = (*LoopbackClient)(nil)
	_ Device = (*LoopbackDevice)(nil)
)

// NewLoopback returns a connected in-memory client/device pair. It backs
// tests and the demo mode; endpoint writes are delivered synchronously to the
// device handler and the handler's return value stands in for the ack.
func NewLoopback() (*LoopbackClient, *LoopbackDevice) {
	core := &loopbackCore{}
	return &LoopbackClient{core: core}, &LoopbackDevice{core: core}
}

// SetFailing makes every subsequent client operation fail with a transport
// error, simulating a dead radio without tearing the pair down.
func (c *LoopbackClient) SetFailing(failing bool) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	c.core.failing = failing
}

// DropLink simulates an ungraceful link loss: the client goes down and the
// device observes it.
func (c *LoopbackClient) DropLink() {
	c.core.mu.Lock()
	h := c.core.handler
	wasUp := c.core.up
	c.core.up = false
	c.core.mu.Unlock()

	if wasUp && h != nil {
		h.LinkLost()
	}
}

func (c *LoopbackClient) Connect(ctx context.Context) error {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()

	if c.core.failing || !c.core.started {
		return &Error{Endpoint: wire.EndpointCommand, Err: ErrNotConnected}
	}
	c.core.up = true
	return nil
}

func (c *LoopbackClient) Close(ctx context.Context) error {
	c.core.mu.Lock()
	h := c.core.handler
	wasUp := c.core.up
	c.core.up = false
	c.core.mu.Unlock()

	// Any departure, graceful or not, is a link loss to the device.
	if wasUp && h != nil {
		h.LinkLost()
	}
	return nil
}

// endpoint returns the device handler if the link can carry an operation.
func (c *LoopbackClient) endpoint(ep wire.Endpoint) (Handler, error) {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()

	if c.core.failing || !c.core.up || c.core.handler == nil {
		return nil, &Error{Endpoint: ep, Err: ErrNotConnected}
	}
	return c.core.handler, nil
}

func (c *LoopbackClient) WriteCommand(ctx context.Context, cmd wire.Command) error {
	h, err := c.endpoint(wire.EndpointCommand)
	if err != nil {
		return err
	}
	c.core.ops.Lock()
	defer c.core.ops.Unlock()
	return h.WriteCommand(ctx, cmd)
}

func (c *LoopbackClient) WriteHash(ctx context.Context, digest [wire.HashSize]byte) error {
	h, err := c.endpoint(wire.EndpointHash)
	if err != nil {
		return err
	}
	c.core.ops.Lock()
	defer c.core.ops.Unlock()
	return h.WriteHash(ctx, digest)
}

func (c *LoopbackClient) WriteData(ctx context.Context, chunk []byte) error {
	h, err := c.endpoint(wire.EndpointData)
	if err != nil {
		return err
	}
	c.core.ops.Lock()
	defer c.core.ops.Unlock()
	return h.WriteData(ctx, chunk)
}

func (c *LoopbackClient) ReadStatus(ctx context.Context) (wire.Status, error) {
	h, err := c.endpoint(wire.EndpointStatus)
	if err != nil {
		return 0, err
	}
	c.core.ops.Lock()
	defer c.core.ops.Unlock()
	return h.ReadStatus(ctx), nil
}

func (c *LoopbackClient) SubscribeStatus(ctx context.Context, fn func(wire.Status)) error {
	c.core.mu.Lock()
	defer c.core.mu.Unlock()
	c.core.statusFns = append(c.core.statusFns, fn)
	return nil
}

func (c *LoopbackClient) ReadConfig(ctx context.Context) ([]byte, error) {
	h, err := c.endpoint(wire.EndpointConfig)
	if err != nil {
		return nil, err
	}
	c.core.ops.Lock()
	defer c.core.ops.Unlock()
	return h.ReadConfig(ctx), nil
}

func (c *LoopbackClient) WriteConfig(ctx context.Context, cfg []byte) error {
	h, err := c.endpoint(wire.EndpointConfig)
	if err != nil {
		return err
	}
	c.core.ops.Lock()
	defer c.core.ops.Unlock()
	return h.WriteConfig(ctx, cfg)
}

func (d *LoopbackDevice) Start(ctx context.Context, h Handler) error {
	d.core.mu.Lock()
	defer d.core.mu.Unlock()
	d.core.handler = h
	d.core.started = true
	return nil
}

func (d *LoopbackDevice) Notify(ctx context.Context, status wire.Status) error {
	d.core.mu.Lock()
	fns := make([]func(wire.Status), len(d.core.statusFns))
	copy(fns, d.core.statusFns)
	d.core.mu.Unlock()

	for _, fn := range fns {
		fn(status)
	}
	return nil
}

func (d *LoopbackDevice) Stop(ctx context.Context) {
	d.core.mu.Lock()
	defer d.core.mu.Unlock()
	d.core.started = false
	d.core.up = false
	d.core.handler = nil
}
