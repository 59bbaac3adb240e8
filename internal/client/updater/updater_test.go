package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glowlink-io/glowlink/internal/device/flash"
	"github.com/glowlink-io/glowlink/internal/device/session"
	"github.com/glowlink-io/glowlink/internal/device/transport"
	"github.com/glowlink-io/glowlink/pkg/link"
	"github.com/glowlink-io/glowlink/pkg/wire"
)

// fakeLink records the exact operation sequence the updater performs.
type fakeLink struct {
	ops    []string
	status wire.Status

	failDataAt int   // 1-based chunk index to reject, 0 = never
	dataErr    error // error returned at failDataAt
	commitErr  error

	// statusAfter flips the reported status once this many data writes
	// happened, 0 = never.
	statusAfter int
	statusThen  wire.Status

	dataWrites int
	inFlight   atomic.Int32
	overlapped atomic.Bool
}

var _ link.Client = (*fakeLink)(nil)

func (f *fakeLink) enter() func() {
	if f.inFlight.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	return func() { f.inFlight.Add(-1) }
}

func (f *fakeLink) Connect(ctx context.Context) error { return nil }
func (f *fakeLink) Close(ctx context.Context) error   { return nil }

func (f *fakeLink) WriteCommand(ctx context.Context, cmd wire.Command) error {
	defer f.enter()()
	f.ops = append(f.ops, "command_"+cmd.String())
	if cmd == wire.CmdCommit && f.commitErr != nil {
		return f.commitErr
	}
	if cmd == wire.CmdAbort {
		f.status = wire.StatusIdle
	}
	return nil
}

func (f *fakeLink) WriteHash(ctx context.Context, digest [wire.HashSize]byte) error {
	defer f.enter()()
	f.ops = append(f.ops, "hash")
	return nil
}

func (f *fakeLink) WriteData(ctx context.Context, chunk []byte) error {
	defer f.enter()()
	f.dataWrites++
	f.ops = append(f.ops, fmt.Sprintf("data_%d", len(chunk)))

	// Hold the write open briefly so an overlapping write would be seen.
	time.Sleep(time.Millisecond)

	if f.failDataAt > 0 && f.dataWrites == f.failDataAt {
		return f.dataErr
	}
	f.status = f.statusOr(wire.StatusInProgress)
	return nil
}

func (f *fakeLink) statusOr(s wire.Status) wire.Status {
	if f.statusAfter > 0 && f.dataWrites >= f.statusAfter {
		return f.statusThen
	}
	return s
}

func (f *fakeLink) ReadStatus(ctx context.Context) (wire.Status, error) {
	defer f.enter()()
	f.ops = append(f.ops, "read_status")
	return f.status, nil
}

func (f *fakeLink) SubscribeStatus(ctx context.Context, fn func(wire.Status)) error { return nil }
func (f *fakeLink) ReadConfig(ctx context.Context) ([]byte, error)                  { return nil, nil }
func (f *fakeLink) WriteConfig(ctx context.Context, cfg []byte) error               { return nil }

func TestUpdateSequence(t *testing.T) {
	f := &fakeLink{status: wire.StatusIdle}
	u := New(f, WithChunkSize(4), WithStatusPollEvery(0))

	if err := u.Update(context.Background(), []byte("ten bytes!")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	want := []string{"read_status", "hash", "command_begin", "data_4", "data_4", "data_2", "command_commit"}
	if len(f.ops) != len(want) {
		t.Fatalf("ops = %v, want %v", f.ops, want)
	}
	for i := range want {
		if f.ops[i] != want[i] {
			t.Errorf("op %d = %s, want %s", i, f.ops[i], want[i])
		}
	}
	if f.overlapped.Load() {
		t.Error("writes overlapped; updater must keep exactly one write in flight")
	}
}

func TestStaleSessionAbortedFirst(t *testing.T) {
	f := &fakeLink{status: wire.StatusInProgress}
	u := New(f, WithChunkSize(8), WithStatusPollEvery(0))

	if err := u.Update(context.Background(), []byte("image")); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if len(f.ops) < 3 || f.ops[0] != "read_status" || f.ops[1] != "command_abort" || f.ops[2] != "hash" {
		t.Errorf("ops = %v, want stale abort before arming", f.ops)
	}
}

func TestChunkRejectionAborts(t *testing.T) {
	f := &fakeLink{
		status:     wire.StatusIdle,
		failDataAt: 2,
		dataErr:    fmt.Errorf("chunk too large: %w", wire.ErrCapacity),
	}
	u := New(f, WithChunkSize(4), WithStatusPollEvery(0))

	err := u.Update(context.Background(), bytes.Repeat([]byte{0x1}, 16))
	if !errors.Is(err, wire.ErrCapacity) {
		t.Fatalf("Update = %v, want capacity error", err)
	}

	if f.ops[len(f.ops)-1] != "command_abort" {
		t.Errorf("last op = %s, want command_abort", f.ops[len(f.ops)-1])
	}
}

func TestStatusPollDetectsDroppedSession(t *testing.T) {
	f := &fakeLink{
		status:      wire.StatusIdle,
		statusAfter: 2,
		statusThen:  wire.StatusIdle,
	}
	u := New(f, WithChunkSize(4), WithStatusPollEvery(2))

	err := u.Update(context.Background(), bytes.Repeat([]byte{0x2}, 32))
	if !errors.Is(err, wire.ErrSequence) {
		t.Fatalf("Update = %v, want sequence error from poll", err)
	}
	if f.ops[len(f.ops)-1] != "command_abort" {
		t.Errorf("last op = %s, want command_abort", f.ops[len(f.ops)-1])
	}
}

func TestCommitLinkDropAssumedApplied(t *testing.T) {
	f := &fakeLink{
		status:    wire.StatusIdle,
		commitErr: &link.Error{Endpoint: wire.EndpointCommand, Err: link.ErrAckTimeout},
	}
	u := New(f, WithChunkSize(8), WithStatusPollEvery(0))

	if err := u.Update(context.Background(), []byte("image")); err != nil {
		t.Fatalf("Update = %v, want success on post-commit link drop", err)
	}
}

func TestCommitRejectionFails(t *testing.T) {
	f := &fakeLink{
		status:    wire.StatusIdle,
		commitErr: fmt.Errorf("digest mismatch: %w", wire.ErrIntegrity),
	}
	u := New(f, WithChunkSize(8), WithStatusPollEvery(0))

	err := u.Update(context.Background(), []byte("image"))
	if !errors.Is(err, wire.ErrIntegrity) {
		t.Fatalf("Update = %v, want integrity error", err)
	}
}

type nopConfigStore struct{}

func (nopConfigStore) Load() []byte      { return nil }
func (nopConfigStore) Save([]byte) error { return nil }

func TestUpdateAgainstDeviceStack(t *testing.T) {
	store, err := flash.NewFileStore(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	fm := flash.NewManager(store)
	adapter := transport.New(session.New(fm), nopConfigStore{})

	client, dev := link.NewLoopback()
	if err := adapter.Bind(context.Background(), dev); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var last Progress
	u := New(client,
		WithChunkSize(512),
		WithStatusPollEvery(3),
		WithProgressCallback(func(p Progress) {
			if p.SentBytes < last.SentBytes {
				t.Errorf("progress went backwards: %d after %d", p.SentBytes, last.SentBytes)
			}
			last = p
		}),
	)

	image := bytes.Repeat([]byte{0xfe, 0xed}, 5*512) // 10 chunks
	if err := u.Update(context.Background(), image); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if last.Phase != PhaseComplete || last.Percentage != 100 {
		t.Errorf("final progress = %+v, want complete at 100%%", last)
	}

	active, err := fm.ActiveSlot()
	if err != nil {
		t.Fatalf("ActiveSlot: %v", err)
	}
	if active != flash.SlotB {
		t.Errorf("active slot = %s after update, want b", active)
	}
}
