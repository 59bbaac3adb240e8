package device

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/glowlink-io/glowlink/internal/device/flash"
	"github.com/glowlink-io/glowlink/internal/device/server"
	"github.com/glowlink-io/glowlink/internal/device/session"
	"github.com/glowlink-io/glowlink/internal/device/transport"
	"github.com/glowlink-io/glowlink/pkg/link"
	"github.com/glowlink-io/glowlink/pkg/log"
)

// Service is the running device: endpoints bound, session controller live,
// debug server up.
type Service struct {
	cfg     *Config
	flash   *flash.Manager
	ctrl    *session.Controller
	adapter *transport.Adapter
	dev     link.Device
	http    *server.Server
}

// Controller exposes the session controller for in-process demos.
func (s *Service) Controller() *session.Controller {
	return s.ctrl
}

// Run binds the endpoints and blocks until ctx is cancelled or a component
// fails.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	if err := s.adapter.Bind(ctx, s.dev); err != nil {
		return err
	}
	defer s.dev.Stop(context.Background())

	active, err := s.flash.ActiveSlot()
	if err != nil {
		return err
	}
	log.Info("Device service ready", "device", s.cfg.DeviceID, "activeSlot", active)

	if s.http != nil {
		g.Go(func() error {
			return s.http.Start(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		return ctx.Err()
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
