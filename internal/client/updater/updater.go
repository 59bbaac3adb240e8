// Package updater drives one firmware update over an established link: arm
// the digest, begin, stream chunks strictly in order, commit. Exactly one
// write is in flight at any time; each chunk is sent only after the previous
// one was acknowledged.
package updater

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/glowlink-io/glowlink/pkg/link"
	"github.com/glowlink-io/glowlink/pkg/wire"
)

// Updater performs firmware updates over a link.Client.
type Updater struct {
	link   link.Client
	config Config
}

// New creates an Updater over an already connected link.
func New(l link.Client, opts ...Option) *Updater {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Updater{
		link:   l,
		config: cfg,
	}
}

// Update runs the complete update sequence for image. A session left behind
// by a previous client is aborted first. Any failure before commit aborts the
// device session so the device returns to idle; the returned error then wraps
// the cause.
func (u *Updater) Update(ctx context.Context, image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("empty image")
	}

	start := time.Now()
	totalChunks := (len(image) + u.config.ChunkSize - 1) / u.config.ChunkSize

	u.report(Progress{Phase: PhaseArming, TotalBytes: len(image), TotalChunks: totalChunks})

	if err := u.clearStaleSession(ctx); err != nil {
		return fmt.Errorf("clear stale session: %w", err)
	}

	digest := sha256.Sum256(image)
	if err := u.link.WriteHash(ctx, digest); err != nil {
		return fmt.Errorf("arm digest: %w", err)
	}
	if err := u.link.WriteCommand(ctx, wire.CmdBegin); err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	u.config.Logger.Info("Transfer started", "bytes", len(image), "chunks", totalChunks, "chunkSize", u.config.ChunkSize)

	sent := 0
	for i := 0; i < totalChunks; i++ {
		if err := ctx.Err(); err != nil {
			u.abort(fmt.Errorf("cancelled: %w", err))
			return fmt.Errorf("cancelled after %d chunks: %w", i, err)
		}

		end := sent + u.config.ChunkSize
		if end > len(image) {
			end = len(image)
		}
		chunk := image[sent:end]

		// WriteData blocks until the device acknowledges this chunk, so
		// the next iteration never overtakes it.
		if err := u.link.WriteData(ctx, chunk); err != nil {
			u.abort(err)
			return fmt.Errorf("chunk %d/%d: %w", i+1, totalChunks, err)
		}
		sent = end

		if u.config.StatusPollEvery > 0 && (i+1)%u.config.StatusPollEvery == 0 {
			if err := u.checkInProgress(ctx); err != nil {
				u.abort(err)
				return fmt.Errorf("after chunk %d/%d: %w", i+1, totalChunks, err)
			}
		}

		u.report(Progress{
			Phase:       PhaseTransferring,
			SentBytes:   sent,
			TotalBytes:  len(image),
			ChunksSent:  i + 1,
			TotalChunks: totalChunks,
			Percentage:  float64(sent) / float64(len(image)) * 95,
			Elapsed:     time.Since(start),
		})
	}

	u.report(Progress{
		Phase:       PhaseCommitting,
		SentBytes:   sent,
		TotalBytes:  len(image),
		ChunksSent:  totalChunks,
		TotalChunks: totalChunks,
		Percentage:  97,
		Elapsed:     time.Since(start),
	})

	if err := u.link.WriteCommand(ctx, wire.CmdCommit); err != nil {
		// The device reboots into the new image shortly after applying a
		// commit; losing the link right here usually means the commit
		// landed but the ack did not make it out.
		if link.IsLinkError(err) {
			u.config.Logger.Warn("Link dropped during commit, assuming device is rebooting", "err", err)
		} else {
			u.abort(err)
			return fmt.Errorf("commit rejected: %w", err)
		}
	}

	u.report(Progress{
		Phase:       PhaseComplete,
		SentBytes:   sent,
		TotalBytes:  len(image),
		ChunksSent:  totalChunks,
		TotalChunks: totalChunks,
		Percentage:  100,
		Elapsed:     time.Since(start),
	})

	u.config.Logger.Info("Update complete", "bytes", sent, "elapsed", time.Since(start).String())
	return nil
}

// clearStaleSession aborts whatever a previous client left behind so the
// device starts this update from idle.
func (u *Updater) clearStaleSession(ctx context.Context) error {
	status, err := u.link.ReadStatus(ctx)
	if err != nil {
		return err
	}

	switch status {
	case wire.StatusInProgress, wire.StatusError:
		u.config.Logger.Info("Aborting stale session", "status", status)
		return u.link.WriteCommand(ctx, wire.CmdAbort)
	default:
		return nil
	}
}

// checkInProgress polls the status register mid-transfer; anything other than
// in_progress means the device dropped the session under us.
func (u *Updater) checkInProgress(ctx context.Context) error {
	status, err := u.link.ReadStatus(ctx)
	if err != nil {
		return err
	}
	if status != wire.StatusInProgress {
		return fmt.Errorf("device left transfer, status %s: %w", status, wire.ErrSequence)
	}
	return nil
}

// abort tells the device to drop the session after a failed update. Best
// effort; the link may already be gone.
func (u *Updater) abort(cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := u.link.WriteCommand(ctx, wire.CmdAbort); err != nil {
		u.config.Logger.Warn("Failed to abort session after error", "cause", cause, "err", err)
	}
}

// report calls the progress callback if configured.
func (u *Updater) report(p Progress) {
	if u.config.ProgressCallback != nil {
		u.config.ProgressCallback(p)
	}
}
