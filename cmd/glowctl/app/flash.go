package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/glowlink-io/glowlink/internal/client/lifecycle"
	"github.com/glowlink-io/glowlink/internal/client/source"
	"github.com/glowlink-io/glowlink/internal/client/updater"
	"github.com/glowlink-io/glowlink/pkg/log"
)

func (c *glowctl) newFlashCommand(ctx context.Context) *cobra.Command {
	var (
		fromS3    bool
		chunkSize int
		pollEvery int
		watch     bool
	)

	cmd := &cobra.Command{
		Use:   "flash IMAGE",
		Short: "Flash a firmware image onto the device",
		Long: `Flash streams a firmware image to the device's inactive slot and commits
it once the device has verified the digest. IMAGE is a local file path, or an
object key in the configured bucket with --from-s3. With --watch the link
stays up and the image is reflashed every time the file changes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if watch && fromS3 {
				return fmt.Errorf("--watch only works with local image files")
			}

			var src source.Source
			if fromS3 {
				var err error
				if src, err = source.NewS3Source(c.opts.S3Options); err != nil {
					return err
				}
			} else {
				src = source.NewFileSource()
			}

			img, err := src.Load(ctx, args[0])
			if err != nil {
				return err
			}

			cl, cleanup, err := c.dial(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			m := lifecycle.New(cl)
			if err := m.Connect(ctx); err != nil {
				return err
			}
			defer m.Disconnect(context.Background())

			updOpts := []updater.Option{
				updater.WithChunkSize(chunkSize),
				updater.WithStatusPollEvery(pollEvery),
				updater.WithProgressCallback(printProgress),
			}

			if err := flashImage(ctx, m, img, updOpts); err != nil {
				return err
			}
			if !watch {
				return nil
			}

			log.Info("Watching for image changes", "path", args[0])
			return source.Watch(ctx, args[0], func(img *source.Image) {
				if err := flashImage(ctx, m, img, updOpts); err != nil {
					log.Error(err, "Reflash failed", "image", img.Name)
				}
			})
		},
	}

	fs := cmd.Flags()
	fs.BoolVar(&fromS3, "from-s3", false, "Treat IMAGE as an object key in the configured S3 bucket.")
	fs.IntVar(&chunkSize, "chunk-size", 0, "Data write payload size in bytes (0 uses the default).")
	fs.IntVar(&pollEvery, "poll-every", 20, "Chunks sent between status polls (0 disables polling).")
	fs.BoolVar(&watch, "watch", false, "Keep running and reflash whenever the image file changes.")

	return cmd
}

func flashImage(ctx context.Context, m *lifecycle.Manager, img *source.Image, opts []updater.Option) error {
	fmt.Printf("Flashing %s (%d bytes, sha256 %x)\n", img.Name, len(img.Data), img.Digest[:8])

	if err := m.RunUpdate(ctx, img.Data, opts...); err != nil {
		fmt.Println()
		return err
	}

	fmt.Println("\nUpdate committed.")
	return nil
}

func printProgress(p updater.Progress) {
	fmt.Fprintf(os.Stdout, "\r%-13s %5.1f%%  %d/%d chunks",
		p.Phase, p.Percentage, p.ChunksSent, p.TotalChunks)
}
