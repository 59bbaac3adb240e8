// Package options holds the shared flag surface of the glowctl subcommands.
package options

import (
	"errors"

	"github.com/spf13/pflag"

	"github.com/glowlink-io/glowlink/pkg/log"
	"github.com/glowlink-io/glowlink/pkg/options"
)

type ClientOptions struct {
	LinkOptions *options.LinkOptions `json:"link" mapstructure:"link"`
	S3Options   *options.S3Options   `json:"s3" mapstructure:"s3"`
	Log         *log.Options         `json:"log" mapstructure:"log"`
}

func NewClientOptions() *ClientOptions {
	logOpts := log.NewOptions()
	// glowctl output is for humans; keep log lines free of caller noise.
	logOpts.DisableCaller = true

	return &ClientOptions{
		LinkOptions: options.NewLinkOptions(),
		S3Options:   options.NewS3Options(),
		Log:         logOpts,
	}
}

// AddFlags binds the shared flags to the given flag set.
func (o *ClientOptions) AddFlags(fs *pflag.FlagSet) {
	o.LinkOptions.AddFlags(fs)
	o.S3Options.AddFlags(fs)
	o.Log.AddFlags(fs)
}

func (o *ClientOptions) Validate() error {
	errs := []error{}

	errs = append(errs, o.LinkOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)

	return errors.Join(errs...)
}
