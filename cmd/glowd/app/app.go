package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/glowlink-io/glowlink/cmd/glowd/app/options"
	"github.com/glowlink-io/glowlink/pkg/log"
)

const commandDesc = `The glowlink device daemon. It owns the dual firmware slots, accepts
update sessions over the bridged link, verifies each image before making it
bootable, and serves a small debug HTTP surface.`

func NewServerCommand(ctx context.Context) *cobra.Command {
	opts := options.NewServerOptions()
	var configFile string

	cmd := &cobra.Command{
		Use:          "glowd",
		Short:        "Launch the glowlink device daemon",
		Long:         commandDesc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFile(configFile, cmd.Flags(), opts); err != nil {
				return err
			}
			log.Init(opts.Log)

			if err := opts.Complete(); err != nil {
				return err
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			svc, err := cfg.NewService()
			if err != nil {
				return fmt.Errorf("failed to create service: %w", err)
			}

			return svc.Run(ctx)
		},
	}

	fs := cmd.Flags()
	opts.AddFlags(fs)
	fs.StringVarP(&configFile, "config", "c", "", "Path to the glowd configuration file.")

	return cmd
}

// loadConfigFile merges a configuration file under the flag values. Flags set
// explicitly on the command line win over the file, the file wins over flag
// defaults.
func loadConfigFile(path string, fs *pflag.FlagSet, opts *options.ServerOptions) error {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v.Unmarshal(opts)
}
