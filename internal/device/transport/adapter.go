// Package transport binds the update session controller to a link.Device.
// It is the device-side glue: endpoint writes arrive here, are applied one at
// a time, and are acknowledged only after the controller has fully applied
// them.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/glowlink-io/glowlink/internal/device/session"
	"github.com/glowlink-io/glowlink/internal/pkg/metrics"
	"github.com/glowlink-io/glowlink/pkg/link"
	"github.com/glowlink-io/glowlink/pkg/log"
	"github.com/glowlink-io/glowlink/pkg/wire"
)

// ConfigStore persists the device configuration register. The payload is
// opaque at this layer.
type ConfigStore interface {
	Load() []byte
	Save([]byte) error
}

// Adapter implements link.Handler over a session controller. A single mutex
// serializes all endpoint writes, so the controller sees one operation at a
// time regardless of what the bridge delivers.
type Adapter struct {
	mu sync.Mutex

	ctrl *session.Controller
	cfg  ConfigStore
	dev  link.Device

	logger log.Logger
}

var _ link.Handler = (*Adapter)(nil)

// New creates an Adapter for the given controller and config store.
func New(ctrl *session.Controller, cfg ConfigStore) *Adapter {
	return &Adapter{
		ctrl:   ctrl,
		cfg:    cfg,
		logger: log.Std().WithName("transport"),
	}
}

// Bind wires the adapter to a device binding: session status changes flow out
// as notifications and endpoint writes flow in through the Handler methods.
// Notifications are published by a single goroutine so their order matches
// the order of state changes.
func (a *Adapter) Bind(ctx context.Context, dev link.Device) error {
	a.dev = dev

	notifyCh := make(chan wire.Status, 16)
	go func() {
		for {
			select {
			case status := <-notifyCh:
				if err := dev.Notify(ctx, status); err != nil {
					a.logger.Error(err, "Failed to publish status notification", "status", status)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	a.ctrl.AddStatusListener(func(status wire.Status) {
		switch status {
		case wire.StatusSuccess:
			metrics.SessionsTotal.WithLabelValues("success").Inc()
		case wire.StatusError:
			metrics.SessionsTotal.WithLabelValues("error").Inc()
		}

		// The listener runs under the controller lock; hand off to the
		// publisher goroutine instead of publishing inline.
		select {
		case notifyCh <- status:
		default:
			a.logger.Warn("Dropping status notification, publisher backlogged", "status", status)
		}
	})

	return dev.Start(ctx, a)
}

func (a *Adapter) WriteCommand(ctx context.Context, cmd wire.Command) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.touch()

	switch cmd {
	case wire.CmdBegin:
		return a.ctrl.Begin(ctx)
	case wire.CmdCommit:
		start := time.Now()
		err := a.ctrl.Commit(ctx)
		metrics.CommitLatency.Observe(time.Since(start).Seconds())
		return err
	case wire.CmdAbort:
		if a.ctrl.Status() == wire.StatusInProgress {
			metrics.SessionsTotal.WithLabelValues("aborted").Inc()
		}
		return a.ctrl.Abort(ctx)
	default:
		return wire.ErrSequence
	}
}

func (a *Adapter) WriteHash(ctx context.Context, digest [wire.HashSize]byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.touch()
	return a.ctrl.SetHash(ctx, digest)
}

func (a *Adapter) WriteData(ctx context.Context, chunk []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.touch()

	if err := a.ctrl.Data(ctx, chunk); err != nil {
		return err
	}
	metrics.ChunksTotal.Inc()
	metrics.BytesReceivedTotal.Add(float64(len(chunk)))
	return nil
}

// ReadStatus bypasses the write mutex: the controller guards its own state,
// and a status probe must stay answerable while a flash write is mid-apply.
func (a *Adapter) ReadStatus(ctx context.Context) wire.Status {
	a.touch()
	return a.ctrl.Status()
}

func (a *Adapter) ReadConfig(ctx context.Context) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.touch()
	return a.cfg.Load()
}

func (a *Adapter) WriteConfig(ctx context.Context, cfg []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.touch()
	return a.cfg.Save(cfg)
}

// LinkLost aborts any mid-flight session unconditionally. It takes the same
// lock as the write path, so a command being applied finishes first.
func (a *Adapter) LinkLost() {
	a.mu.Lock()
	defer a.mu.Unlock()

	metrics.LinkUp.Set(0)
	if a.ctrl.Status() == wire.StatusInProgress {
		metrics.SessionsTotal.WithLabelValues("aborted").Inc()
	}
	a.ctrl.LinkLost()
}

// touch marks the link as held by a client.
func (a *Adapter) touch() {
	metrics.LinkUp.Set(1)
}
