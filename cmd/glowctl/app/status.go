package app

import (
	"context"
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

func (c *glowctl) newStatusCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Read the device's update status register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, cleanup, err := c.dial(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := cl.Connect(ctx); err != nil {
				return err
			}
			defer cl.Close(context.Background())

			status, err := cl.ReadStatus(ctx)
			if err != nil {
				return err
			}

			table := uitable.New()
			table.AddRow("DEVICE:", c.deviceName())
			table.AddRow("STATUS:", status.String())
			fmt.Println(table)
			return nil
		},
	}
}

// deviceName labels output rows with the target device.
func (c *glowctl) deviceName() string {
	if c.loopback {
		return "demo"
	}
	return c.opts.LinkOptions.DeviceID
}
