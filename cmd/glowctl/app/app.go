// Package app implements the glowctl command tree.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glowlink-io/glowlink/cmd/glowctl/app/options"
	"github.com/glowlink-io/glowlink/internal/device"
	"github.com/glowlink-io/glowlink/pkg/link"
	"github.com/glowlink-io/glowlink/pkg/log"
)

const commandDesc = `glowctl talks to a glowlink device over the bridged update link: flash
firmware images, inspect the update session, and edit the device
configuration. With --loopback it runs a complete demo device in-process, no
broker or hardware required.`

// glowctl carries the state shared by all subcommands.
type glowctl struct {
	opts       *options.ClientOptions
	configFile string
	loopback   bool
}

func NewGlowctlCommand(ctx context.Context) *cobra.Command {
	c := &glowctl{opts: options.NewClientOptions()}

	cmd := &cobra.Command{
		Use:          "glowctl",
		Short:        "Control a glowlink device",
		Long:         commandDesc,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.loadConfigFile(cmd); err != nil {
				return err
			}
			log.Init(c.opts.Log)
			return nil
		},
	}

	fs := cmd.PersistentFlags()
	c.opts.AddFlags(fs)
	fs.StringVarP(&c.configFile, "config", "c", "", "Path to the glowctl configuration file.")
	fs.BoolVar(&c.loopback, "loopback", false, "Run against an in-process demo device instead of the bridged link.")

	cmd.AddCommand(
		c.newFlashCommand(ctx),
		c.newStatusCommand(ctx),
		c.newSlotsCommand(ctx),
		c.newConfigCommand(ctx),
	)

	return cmd
}

// loadConfigFile merges a configuration file under the flag values.
func (c *glowctl) loadConfigFile(cmd *cobra.Command) error {
	v := viper.New()
	if err := v.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return err
	}
	if c.configFile != "" {
		v.SetConfigFile(c.configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v.Unmarshal(c.opts)
}

// dial returns an unconnected client for the target device plus a cleanup
// func the caller must run once it is done with the link.
func (c *glowctl) dial(ctx context.Context) (link.Client, func(), error) {
	if c.loopback {
		return c.dialLoopback(ctx)
	}

	if errs := c.opts.LinkOptions.Validate(); len(errs) > 0 {
		return nil, nil, errors.Join(errs...)
	}
	cl, err := link.NewMQTTClient(c.opts.LinkOptions.ToBridgeConfig())
	if err != nil {
		return nil, nil, err
	}
	return cl, func() {}, nil
}

// dialLoopback boots a complete device service in-process and returns the
// client half of a loopback pair wired to it.
func (c *glowctl) dialLoopback(ctx context.Context) (link.Client, func(), error) {
	dataDir, err := os.MkdirTemp("", "glowctl-demo-")
	if err != nil {
		return nil, nil, err
	}

	client, dev := link.NewLoopback()
	cfg := &device.Config{
		DeviceID:     "demo",
		DataDir:      dataDir,
		SlotCapacity: 4 << 20,
		ChunkLimit:   4096,
		Device:       dev,
	}
	svc, err := cfg.NewService()
	if err != nil {
		os.RemoveAll(dataDir)
		return nil, nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- svc.Run(runCtx)
	}()

	// Wait for the demo device to bind its endpoints.
	ready := false
	for i := 0; i < 50; i++ {
		if err := client.Connect(runCtx); err == nil {
			ready = true
			client.Close(runCtx)
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	cleanup := func() {
		cancel()
		if err := <-done; err != nil {
			log.Warn("Demo device exited with error", "err", err)
		}
		os.RemoveAll(dataDir)
	}
	if !ready {
		cleanup()
		return nil, nil, fmt.Errorf("demo device never came up")
	}

	log.Info("Running against an in-process demo device", "dataDir", dataDir)
	return client, cleanup, nil
}
