package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/glowlink-io/glowlink/internal/device/flash"
)

func (c *glowctl) newSlotsCommand(ctx context.Context) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Show the device's firmware slots",
		Long: `Slots queries the device's debug HTTP surface and shows both firmware
slots, their sizes, and which one is bootable.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, addr+"/api/v1/slots", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("device returned %s", resp.Status)
			}

			var infos []flash.SlotInfo
			if err := json.NewDecoder(resp.Body).Decode(&infos); err != nil {
				return fmt.Errorf("failed to decode slot listing: %w", err)
			}

			table := uitable.New()
			table.AddRow("SLOT", "ACTIVE", "SIZE")
			for _, info := range infos {
				table.AddRow(info.Slot, fmt.Sprintf("%t", info.Active), fmt.Sprintf("%d", info.Size))
			}
			fmt.Println(table)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:9800", "Base URL of the device's debug HTTP server.")

	return cmd
}
