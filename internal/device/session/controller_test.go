package session

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"testing"
	"time"

	"github.com/glowlink-io/glowlink/internal/device/flash"
	"github.com/glowlink-io/glowlink/pkg/wire"
)

func newTestController(t *testing.T, opts ...Option) (*Controller, *flash.Manager) {
	t.Helper()
	store, err := flash.NewFileStore(t.TempDir(), 8192)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	fm := flash.NewManager(store)
	return New(fm, opts...), fm
}

// chunksOf splits an image the way the update driver would.
func chunksOf(image []byte, size int) [][]byte {
	var chunks [][]byte
	for len(image) > 0 {
		n := size
		if n > len(image) {
			n = len(image)
		}
		chunks = append(chunks, image[:n])
		image = image[n:]
	}
	return chunks
}

func runTransfer(t *testing.T, c *Controller, image []byte, chunkSize int) error {
	t.Helper()
	ctx := context.Background()

	if err := c.SetHash(ctx, sha256.Sum256(image)); err != nil {
		return err
	}
	if err := c.Begin(ctx); err != nil {
		return err
	}
	for _, chunk := range chunksOf(image, chunkSize) {
		if err := c.Data(ctx, chunk); err != nil {
			return err
		}
	}
	return c.Commit(ctx)
}

func TestTenChunkTransferFlipsSlot(t *testing.T) {
	c, fm := newTestController(t)

	image := bytes.Repeat([]byte{0x5a}, 10*512)
	if err := runTransfer(t, c, image, 512); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := c.Status(); got != wire.StatusSuccess {
		t.Errorf("status = %s, want success", got)
	}
	active, err := fm.ActiveSlot()
	if err != nil {
		t.Fatalf("ActiveSlot: %v", err)
	}
	if active != flash.SlotB {
		t.Errorf("active slot = %s, want b", active)
	}
	if got := c.Received(); got != int64(len(image)) {
		t.Errorf("received = %d, want %d", got, len(image))
	}
}

func TestDigestMismatchKeepsPointer(t *testing.T) {
	c, fm := newTestController(t)
	ctx := context.Background()

	image := bytes.Repeat([]byte{0x11}, 3*512)
	digest := sha256.Sum256(image)
	digest[0] ^= 0xff

	if err := c.SetHash(ctx, digest); err != nil {
		t.Fatalf("SetHash: %v", err)
	}
	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for _, chunk := range chunksOf(image, 512) {
		if err := c.Data(ctx, chunk); err != nil {
			t.Fatalf("Data: %v", err)
		}
	}

	err := c.Commit(ctx)
	if !errors.Is(err, wire.ErrIntegrity) {
		t.Fatalf("Commit = %v, want integrity error", err)
	}
	if got := c.Status(); got != wire.StatusError {
		t.Errorf("status = %s, want error", got)
	}

	active, ferr := fm.ActiveSlot()
	if ferr != nil {
		t.Fatalf("ActiveSlot: %v", ferr)
	}
	if active != flash.SlotA {
		t.Errorf("active slot = %s after failed commit, want a", active)
	}
}

func TestRecoveryAfterFailedCommit(t *testing.T) {
	c, fm := newTestController(t)
	ctx := context.Background()

	image := []byte("good image")
	bad := sha256.Sum256(image)
	bad[5] ^= 0x01

	if err := c.SetHash(ctx, bad); err != nil {
		t.Fatalf("SetHash: %v", err)
	}
	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Data(ctx, image); err != nil {
		t.Fatalf("Data: %v", err)
	}
	if err := c.Commit(ctx); !errors.Is(err, wire.ErrIntegrity) {
		t.Fatalf("Commit = %v, want integrity error", err)
	}

	// The failed session must not poison the next one.
	if err := runTransfer(t, c, image, 4); err != nil {
		t.Fatalf("retry transfer: %v", err)
	}
	active, err := fm.ActiveSlot()
	if err != nil {
		t.Fatalf("ActiveSlot: %v", err)
	}
	if active != flash.SlotB {
		t.Errorf("active slot = %s after retry, want b", active)
	}
}

func TestSetHashDuringTransferRejected(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()

	image := []byte("payload")
	if err := c.SetHash(ctx, sha256.Sum256(image)); err != nil {
		t.Fatalf("SetHash: %v", err)
	}
	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	err := c.SetHash(ctx, sha256.Sum256([]byte("other")))
	if !errors.Is(err, wire.ErrSequence) {
		t.Errorf("SetHash mid-transfer = %v, want sequence error", err)
	}

	// The transfer keeps going against the original digest.
	if err := c.Data(ctx, image); err != nil {
		t.Fatalf("Data: %v", err)
	}
	if err := c.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestBeginWithoutHash(t *testing.T) {
	c, _ := newTestController(t)

	err := c.Begin(context.Background())
	if !errors.Is(err, wire.ErrNotArmed) {
		t.Errorf("Begin without hash = %v, want not-armed error", err)
	}
}

func TestDataOutsideTransfer(t *testing.T) {
	c, _ := newTestController(t)

	err := c.Data(context.Background(), []byte("stray"))
	if !errors.Is(err, wire.ErrSequence) {
		t.Errorf("Data before begin = %v, want sequence error", err)
	}
}

func TestOversizeChunkFailsSession(t *testing.T) {
	c, _ := newTestController(t, WithChunkLimit(64))
	ctx := context.Background()

	image := bytes.Repeat([]byte{0x22}, 256)
	if err := c.SetHash(ctx, sha256.Sum256(image)); err != nil {
		t.Fatalf("SetHash: %v", err)
	}
	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	err := c.Data(ctx, make([]byte, 65))
	if !errors.Is(err, wire.ErrCapacity) {
		t.Fatalf("oversize chunk = %v, want capacity error", err)
	}
	if got := c.Status(); got != wire.StatusError {
		t.Errorf("status = %s after oversize chunk, want error", got)
	}

	// The session is dead but the controller is not: arming again works.
	if err := runTransfer(t, c, image, 64); err != nil {
		t.Fatalf("transfer after oversize chunk: %v", err)
	}
}

func TestAbortIsIdempotent(t *testing.T) {
	c, fm := newTestController(t)
	ctx := context.Background()

	if err := c.Abort(ctx); err != nil {
		t.Fatalf("Abort while idle: %v", err)
	}

	image := []byte("half sent")
	if err := c.SetHash(ctx, sha256.Sum256(image)); err != nil {
		t.Fatalf("SetHash: %v", err)
	}
	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Data(ctx, image[:4]); err != nil {
		t.Fatalf("Data: %v", err)
	}

	if err := c.Abort(ctx); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := c.Abort(ctx); err != nil {
		t.Fatalf("second Abort: %v", err)
	}
	if got := c.Status(); got != wire.StatusIdle {
		t.Errorf("status = %s after abort, want idle", got)
	}

	active, err := fm.ActiveSlot()
	if err != nil {
		t.Fatalf("ActiveSlot: %v", err)
	}
	if active != flash.SlotA {
		t.Errorf("active slot = %s after abort, want a", active)
	}
}

func TestLinkLossAbortsTransfer(t *testing.T) {
	c, fm := newTestController(t)
	ctx := context.Background()

	image := bytes.Repeat([]byte{0x33}, 1024)
	if err := c.SetHash(ctx, sha256.Sum256(image)); err != nil {
		t.Fatalf("SetHash: %v", err)
	}
	if err := c.Begin(ctx); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := c.Data(ctx, image[:512]); err != nil {
		t.Fatalf("Data: %v", err)
	}

	c.LinkLost()

	if got := c.Status(); got != wire.StatusIdle {
		t.Errorf("status = %s after link loss, want idle", got)
	}
	active, err := fm.ActiveSlot()
	if err != nil {
		t.Fatalf("ActiveSlot: %v", err)
	}
	if active != flash.SlotA {
		t.Errorf("active slot = %s after link loss, want a", active)
	}

	// A reconnecting client can start over.
	if err := runTransfer(t, c, image, 512); err != nil {
		t.Fatalf("transfer after link loss: %v", err)
	}
}

func TestLinkLossAfterCommitKeepsSuccess(t *testing.T) {
	c, fm := newTestController(t)

	image := []byte("committed image")
	if err := runTransfer(t, c, image, 8); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// The device reboots after commit; the resulting link drop must not
	// roll anything back.
	c.LinkLost()

	if got := c.Status(); got != wire.StatusSuccess {
		t.Errorf("status = %s after post-commit link loss, want success", got)
	}
	active, err := fm.ActiveSlot()
	if err != nil {
		t.Fatalf("ActiveSlot: %v", err)
	}
	if active != flash.SlotB {
		t.Errorf("active slot = %s, want b", active)
	}
}

func TestRebootHookFiresAfterCommit(t *testing.T) {
	rebooted := make(chan struct{})
	c, _ := newTestController(t,
		WithRebootDelay(time.Millisecond),
		WithRebootFunc(func() { close(rebooted) }),
	)

	if err := runTransfer(t, c, []byte("image"), 8); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	select {
	case <-rebooted:
	case <-time.After(time.Second):
		t.Fatal("reboot hook did not fire")
	}
}

func TestStatusListenerSeesLifecycle(t *testing.T) {
	var seen []wire.Status
	c, _ := newTestController(t, WithStatusListener(func(s wire.Status) {
		seen = append(seen, s)
	}))

	if err := runTransfer(t, c, []byte("image"), 8); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	want := []wire.Status{wire.StatusInProgress, wire.StatusSuccess}
	if len(seen) != len(want) {
		t.Fatalf("status changes = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("change %d = %s, want %s", i, seen[i], want[i])
		}
	}
}
