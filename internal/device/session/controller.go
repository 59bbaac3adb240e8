// Package session implements the device-side update session: a single state
// machine that owns the expected digest, the streaming hash, and the flash
// write cursor for one firmware transfer.
package session

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/glowlink-io/glowlink/internal/device/flash"
	"github.com/glowlink-io/glowlink/pkg/log"
	"github.com/glowlink-io/glowlink/pkg/wire"
)

// DefaultRebootDelay leaves the final commit acknowledgement time to drain
// before the device restarts into the new image.
const DefaultRebootDelay = 100 * time.Millisecond

// Controller drives one update session at a time. Callers are expected to
// serialize operations; the internal lock only protects against stray
// concurrent use.
type Controller struct {
	mu sync.Mutex

	fsm   *FiniteStateMachine
	flash *flash.Manager

	expected [wire.HashSize]byte
	hasher   hash.Hash
	received int64

	chunkLimit  int
	rebootFn    func()
	rebootDelay time.Duration

	mirror    wire.Status
	statusFns []func(wire.Status)
	lastErr   error

	logger log.Logger
}

// New creates a Controller over the given flash manager.
func New(fm *flash.Manager, opts ...Option) *Controller {
	c := &Controller{
		flash:       fm,
		hasher:      sha256.New(),
		chunkLimit:  wire.DefaultChunkSize,
		rebootDelay: DefaultRebootDelay,
		mirror:      wire.StatusIdle,
		logger:      log.Std().WithName("session"),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.fsm = NewFiniteStateMachine(StateIdle, c.enterState)
	return c
}

// enterState mirrors internal states onto the four-valued status register and
// fans the change out to listeners. Runs under the controller lock.
func (c *Controller) enterState(state string) {
	var mirror wire.Status
	switch state {
	case StateIdle, StateArmed:
		mirror = wire.StatusIdle
	case StateInProgress, StateValidating:
		mirror = wire.StatusInProgress
	case StateSuccess:
		mirror = wire.StatusSuccess
	case StateError:
		mirror = wire.StatusError
	}

	if mirror == c.mirror {
		return
	}
	c.mirror = mirror
	for _, fn := range c.statusFns {
		fn(mirror)
	}
}

// AddStatusListener registers fn for status register changes after
// construction. fn runs under the controller lock and must not call back into
// the controller.
func (c *Controller) AddStatusListener(fn func(wire.Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFns = append(c.statusFns, fn)
}

// Status returns the value of the status register.
func (c *Controller) Status() wire.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mirror
}

// Received returns the byte count streamed in the open session.
func (c *Controller) Received() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

// LastError returns the error that moved the last session to the error
// state, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SetHash arms the expected image digest and opens a new session. It is
// rejected while a transfer is running; the running session must finish or be
// aborted first.
func (c *Controller) SetHash(ctx context.Context, digest [wire.HashSize]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.fsm.Current() {
	case StateInProgress, StateValidating:
		return fmt.Errorf("hash write during transfer: %w", wire.ErrSequence)
	}

	if err := c.fsm.Event(ctx, EventArm); err != nil {
		return err
	}
	c.expected = digest
	c.lastErr = nil
	c.logger.Info("Session armed", "digest", fmt.Sprintf("%x", digest[:4]))
	return nil
}

// Begin opens the flash write session and starts accepting chunks. The
// expected digest must have been armed.
func (c *Controller) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.fsm.Current() {
	case StateIdle, StateSuccess, StateError:
		return fmt.Errorf("begin without armed digest: %w", wire.ErrNotArmed)
	case StateInProgress, StateValidating:
		return fmt.Errorf("begin during transfer: %w", wire.ErrSequence)
	}

	target, err := c.flash.BeginWrite()
	if err != nil {
		return err
	}

	if err := c.fsm.Event(ctx, EventBegin); err != nil {
		c.flash.Discard()
		return err
	}

	c.hasher = sha256.New()
	c.received = 0
	c.logger.Info("Transfer started", "target", target)
	return nil
}

// Data streams one chunk into the inactive slot. A chunk over the ceiling or
// past slot capacity fails the whole session, not just the write.
func (c *Controller) Data(ctx context.Context, chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fsm.Current() != StateInProgress {
		return fmt.Errorf("data outside transfer: %w", wire.ErrSequence)
	}

	if len(chunk) > c.chunkLimit {
		err := fmt.Errorf("chunk of %d bytes exceeds %d-byte ceiling: %w", len(chunk), c.chunkLimit, wire.ErrCapacity)
		c.fail(ctx, err)
		return err
	}

	if err := c.flash.Append(chunk); err != nil {
		c.fail(ctx, err)
		return err
	}

	c.hasher.Write(chunk)
	c.received += int64(len(chunk))
	return nil
}

// Commit verifies the streamed image against the armed digest and, on a
// match, flips the boot pointer. The reboot hook fires only after a
// successful flip, leaving the acknowledgement path clear.
func (c *Controller) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fsm.Current() != StateInProgress {
		return fmt.Errorf("commit outside transfer: %w", wire.ErrSequence)
	}

	if err := c.fsm.Event(ctx, EventCommit); err != nil {
		return err
	}

	sum := c.hasher.Sum(nil)
	if subtle.ConstantTimeCompare(sum, c.expected[:]) != 1 {
		err := fmt.Errorf("received %d bytes hashing to %x: %w", c.received, sum[:4], wire.ErrIntegrity)
		c.fail(ctx, err)
		return err
	}

	if err := c.flash.MarkBootable(); err != nil {
		c.fail(ctx, err)
		return err
	}

	if err := c.fsm.Event(ctx, EventVerified); err != nil {
		return err
	}

	c.logger.Info("Update committed", "bytes", c.received)

	if c.rebootFn != nil {
		time.AfterFunc(c.rebootDelay, c.rebootFn)
	}
	return nil
}

// Abort resets the session to idle from any state. Aborting an idle or
// already committed session is a harmless no-op.
func (c *Controller) Abort(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.fsm.Current() {
	case StateIdle, StateSuccess:
		return nil
	}

	c.flash.Discard()
	if err := c.fsm.Event(ctx, EventAbort); err != nil {
		return err
	}
	c.logger.Info("Session aborted")
	return nil
}

// LinkLost discards any session that was mid-flight when the link went away.
// A committed session is left alone; the link is expected to drop while the
// device reboots.
func (c *Controller) LinkLost() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.fsm.Current() {
	case StateArmed, StateInProgress, StateValidating:
		c.flash.Discard()
		if err := c.fsm.Event(context.Background(), EventAbort); err != nil {
			c.logger.Error(err, "Failed to abort on link loss")
			return
		}
		c.logger.Info("Link lost, session aborted")
	}
}

// fail discards the open flash session and moves to the error state. Runs
// under the controller lock.
func (c *Controller) fail(ctx context.Context, cause error) {
	c.lastErr = cause
	c.flash.Discard()
	if err := c.fsm.Event(ctx, EventFail); err != nil {
		c.logger.Error(err, "Failed to enter error state")
	}
	c.logger.Error(cause, "Session failed")
}
