package session

import (
	"time"

	"github.com/glowlink-io/glowlink/pkg/log"
	"github.com/glowlink-io/glowlink/pkg/wire"
)

// Option configures a Controller.
type Option func(*Controller)

// WithChunkLimit overrides the per-write payload ceiling on the data
// endpoint.
func WithChunkLimit(limit int) Option {
	return func(c *Controller) {
		if limit > 0 {
			c.chunkLimit = limit
		}
	}
}

// WithRebootFunc installs the function invoked after a committed update. The
// default is a no-op, which suits hosts where an external supervisor watches
// the boot pointer.
func WithRebootFunc(fn func()) Option {
	return func(c *Controller) {
		c.rebootFn = fn
	}
}

// WithRebootDelay sets how long after a successful commit the reboot function
// fires. The delay leaves room for the final acknowledgement to drain.
func WithRebootDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.rebootDelay = d
		}
	}
}

// WithStatusListener registers fn for status register changes. fn must not
// block; it runs under the controller lock.
func WithStatusListener(fn func(wire.Status)) Option {
	return func(c *Controller) {
		c.statusFns = append(c.statusFns, fn)
	}
}

// WithLogger overrides the controller logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}
