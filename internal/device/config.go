// Package device assembles the device service: flash manager, session
// controller, transport adapter, link binding, and the debug HTTP server.
package device

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/glowlink-io/glowlink/internal/device/flash"
	"github.com/glowlink-io/glowlink/internal/device/server"
	"github.com/glowlink-io/glowlink/internal/device/session"
	"github.com/glowlink-io/glowlink/internal/device/transport"
	"github.com/glowlink-io/glowlink/pkg/link"
	"github.com/glowlink-io/glowlink/pkg/log"
	"github.com/glowlink-io/glowlink/pkg/options"
)

// Config collects everything needed to build a Service.
type Config struct {
	DeviceID     string
	DataDir      string
	SlotCapacity int64
	ChunkLimit   int

	// RebootDelay is how long after a committed update the reboot hook
	// fires.
	RebootDelay time.Duration

	// RebootCommand, when set, is run through the shell after a committed
	// update. When empty the service only logs the pending restart.
	RebootCommand string

	LinkOptions *options.LinkOptions
	HttpOptions *options.HttpOptions

	// Device overrides the link binding. The in-process demo injects a
	// loopback device here; when nil the MQTT bridge is used.
	Device link.Device
}

// NewService wires a Service from the configuration.
func (cfg *Config) NewService() (*Service, error) {
	if cfg.DeviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}

	store, err := flash.NewFileStore(filepath.Join(cfg.DataDir, "flash"), cfg.SlotCapacity)
	if err != nil {
		return nil, err
	}
	fm := flash.NewManager(store)

	ctrl := session.New(fm,
		session.WithChunkLimit(cfg.ChunkLimit),
		session.WithRebootDelay(cfg.RebootDelay),
		session.WithRebootFunc(cfg.rebootFunc()),
	)

	cfgStore, err := newFileConfigStore(filepath.Join(cfg.DataDir, "config.json"))
	if err != nil {
		return nil, err
	}

	dev := cfg.Device
	if dev == nil {
		bridgeCfg := cfg.LinkOptions.ToBridgeConfig()
		if bridgeCfg.ClientID == "" {
			bridgeCfg.ClientID = fmt.Sprintf("glowd-%s", cfg.DeviceID)
		}
		bridgeCfg.DeviceID = cfg.DeviceID

		dev, err = link.NewMQTTDevice(bridgeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to init link bridge: %w", err)
		}
	}

	svc := &Service{
		cfg:     cfg,
		flash:   fm,
		ctrl:    ctrl,
		adapter: transport.New(ctrl, cfgStore),
		dev:     dev,
	}
	if cfg.HttpOptions != nil {
		svc.http = server.NewServer(cfg.HttpOptions, fm, ctrl)
	}
	return svc, nil
}

// rebootFunc builds the hook run after a committed update.
func (cfg *Config) rebootFunc() func() {
	command := cfg.RebootCommand
	return func() {
		if command == "" {
			log.Info("Update committed, restart pending", "device", cfg.DeviceID)
			return
		}
		log.Info("Update committed, restarting", "command", command)
		if err := exec.Command("/bin/sh", "-c", command).Run(); err != nil {
			log.Error(err, "Reboot command failed")
		}
	}
}
