// Package options holds the flag and configuration surface of glowd.
package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/glowlink-io/glowlink/internal/device"
	"github.com/glowlink-io/glowlink/pkg/log"
	"github.com/glowlink-io/glowlink/pkg/options"
)

type ServerOptions struct {
	// DeviceID identifies this device on the link. Endpoint topics are
	// derived from it.
	DeviceID string `json:"id" mapstructure:"id"`

	// DataDir holds the slot images, the active-slot pointer and the
	// device configuration.
	DataDir string `json:"data-dir" mapstructure:"data-dir"`

	// SlotCapacity is the size of each firmware slot in bytes.
	SlotCapacity int64 `json:"slot-capacity" mapstructure:"slot-capacity"`

	// ChunkLimit is the largest data write the device accepts.
	ChunkLimit int `json:"chunk-limit" mapstructure:"chunk-limit"`

	RebootDelay   time.Duration `json:"reboot-delay" mapstructure:"reboot-delay"`
	RebootCommand string        `json:"reboot-command" mapstructure:"reboot-command"`

	LinkOptions *options.LinkOptions `json:"link" mapstructure:"link"`
	HttpOptions *options.HttpOptions `json:"http" mapstructure:"http"`
	Log         *log.Options         `json:"log" mapstructure:"log"`
}

func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		DataDir:      "/var/lib/glowd",
		SlotCapacity: 4 << 20,
		ChunkLimit:   4096,
		RebootDelay:  100 * time.Millisecond,
		LinkOptions:  options.NewLinkOptions(),
		HttpOptions:  options.NewHttpOptions(),
		Log:          log.NewOptions(),
	}
}

// AddFlags binds the glowd flags to the given flag set.
func (o *ServerOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.DeviceID, "id", o.DeviceID, "The ID this device announces on the link.")
	fs.StringVar(&o.DataDir, "data-dir", o.DataDir, "Directory for the slot images and device configuration.")
	fs.Int64Var(&o.SlotCapacity, "slot-capacity", o.SlotCapacity, "Capacity of each firmware slot in bytes.")
	fs.IntVar(&o.ChunkLimit, "chunk-limit", o.ChunkLimit, "Largest accepted data write in bytes.")
	fs.DurationVar(&o.RebootDelay, "reboot-delay", o.RebootDelay, "Delay between committing an update and running the reboot hook.")
	fs.StringVar(&o.RebootCommand, "reboot-command", o.RebootCommand, "Shell command run after a committed update. Empty logs instead.")

	o.LinkOptions.AddFlags(fs)
	o.HttpOptions.AddFlags(fs)
	o.Log.AddFlags(fs)
}

// Complete fills in derived defaults.
func (o *ServerOptions) Complete() error {
	if o.LinkOptions.DeviceID == "" {
		o.LinkOptions.DeviceID = o.DeviceID
	}
	return nil
}

func (o *ServerOptions) Validate() error {
	errs := []error{}

	if o.DeviceID == "" {
		errs = append(errs, fmt.Errorf("device id must not be empty"))
	}
	if o.SlotCapacity <= 0 {
		errs = append(errs, fmt.Errorf("slot capacity must be positive"))
	}
	if o.ChunkLimit <= 0 {
		errs = append(errs, fmt.Errorf("chunk limit must be positive"))
	}
	errs = append(errs, o.LinkOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	return errors.Join(errs...)
}

// Config builds the device service configuration from the options.
func (o *ServerOptions) Config() (*device.Config, error) {
	return &device.Config{
		DeviceID:      o.DeviceID,
		DataDir:       o.DataDir,
		SlotCapacity:  o.SlotCapacity,
		ChunkLimit:    o.ChunkLimit,
		RebootDelay:   o.RebootDelay,
		RebootCommand: o.RebootCommand,
		LinkOptions:   o.LinkOptions,
		HttpOptions:   o.HttpOptions,
	}, nil
}
