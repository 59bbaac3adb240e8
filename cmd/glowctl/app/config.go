package app

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/glowlink-io/glowlink/internal/client/lifecycle"
)

func (c *glowctl) newConfigCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or write the device configuration",
	}
	cmd.AddCommand(c.newConfigGetCommand(ctx), c.newConfigSetCommand(ctx))
	return cmd
}

func (c *glowctl) newConfigGetCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the device configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, cleanup, err := c.connect(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			fmt.Println(strings.TrimSpace(string(m.Config())))
			return nil
		},
	}
}

func (c *glowctl) newConfigSetCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "set CONFIG",
		Short: "Replace the device configuration",
		Long: `Set pushes a new configuration document to the device. CONFIG is the
document itself, or @path to read it from a file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc := []byte(args[0])
			if strings.HasPrefix(args[0], "@") {
				var err error
				if doc, err = os.ReadFile(args[0][1:]); err != nil {
					return err
				}
			}

			m, cleanup, err := c.connect(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			return m.UpdateConfig(ctx, doc)
		},
	}
}

// connect dials the device and brings a lifecycle manager up over the link.
// The returned cleanup disconnects and releases the link.
func (c *glowctl) connect(ctx context.Context) (*lifecycle.Manager, func(), error) {
	cl, cleanup, err := c.dial(ctx)
	if err != nil {
		return nil, nil, err
	}

	m := lifecycle.New(cl)
	if err := m.Connect(ctx); err != nil {
		cleanup()
		return nil, nil, err
	}

	return m, func() {
		m.Disconnect(context.Background())
		cleanup()
	}, nil
}
