package flash

import (
	"bytes"
	"errors"
	"testing"

	"github.com/glowlink-io/glowlink/pkg/wire"
)

func newTestManager(t *testing.T, capacity int64) *Manager {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), capacity)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return NewManager(store)
}

func TestFreshStoreDefaultsToSlotA(t *testing.T) {
	m := newTestManager(t, 1024)

	active, err := m.ActiveSlot()
	if err != nil {
		t.Fatalf("ActiveSlot: %v", err)
	}
	if active != SlotA {
		t.Errorf("active = %s, want a", active)
	}
}

func TestWriteSessionFlipsPointer(t *testing.T) {
	m := newTestManager(t, 1024)

	target, err := m.BeginWrite()
	if err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if target != SlotB {
		t.Errorf("target = %s, want b", target)
	}

	image := []byte("new firmware image")
	if err := m.Append(image[:8]); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m.Append(image[8:]); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if got := m.BytesWritten(); got != int64(len(image)) {
		t.Errorf("BytesWritten = %d, want %d", got, len(image))
	}

	if err := m.MarkBootable(); err != nil {
		t.Fatalf("MarkBootable: %v", err)
	}

	active, err := m.ActiveSlot()
	if err != nil {
		t.Fatalf("ActiveSlot: %v", err)
	}
	if active != SlotB {
		t.Errorf("active = %s after commit, want b", active)
	}

	data, err := m.store.ReadSlot(SlotB)
	if err != nil {
		t.Fatalf("ReadSlot: %v", err)
	}
	if !bytes.Equal(data, image) {
		t.Errorf("slot b holds %q, want %q", data, image)
	}
}

func TestDiscardKeepsPointer(t *testing.T) {
	m := newTestManager(t, 1024)

	if _, err := m.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := m.Append([]byte("partial")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	m.Discard()

	active, err := m.ActiveSlot()
	if err != nil {
		t.Fatalf("ActiveSlot: %v", err)
	}
	if active != SlotA {
		t.Errorf("active = %s after discard, want a", active)
	}

	// A new session is allowed and starts clean.
	if _, err := m.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite after discard: %v", err)
	}
	if got := m.BytesWritten(); got != 0 {
		t.Errorf("BytesWritten = %d after fresh session, want 0", got)
	}
}

func TestAppendSequenceErrors(t *testing.T) {
	m := newTestManager(t, 1024)

	if err := m.Append([]byte("x")); !errors.Is(err, wire.ErrSequence) {
		t.Errorf("Append without session = %v, want sequence error", err)
	}
	if err := m.MarkBootable(); !errors.Is(err, wire.ErrSequence) {
		t.Errorf("MarkBootable without session = %v, want sequence error", err)
	}

	if _, err := m.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if _, err := m.BeginWrite(); !errors.Is(err, wire.ErrSequence) {
		t.Errorf("second BeginWrite = %v, want sequence error", err)
	}
}

func TestAppendOverflowIsWhole(t *testing.T) {
	m := newTestManager(t, 16)

	if _, err := m.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := m.Append(make([]byte, 10)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Ten more bytes would overflow; the cursor must not move.
	err := m.Append(make([]byte, 10))
	if !errors.Is(err, wire.ErrCapacity) {
		t.Fatalf("overflow append = %v, want capacity error", err)
	}
	if got := m.BytesWritten(); got != 10 {
		t.Errorf("BytesWritten = %d after rejected append, want 10", got)
	}

	// An append that exactly fills the slot still fits.
	if err := m.Append(make([]byte, 6)); err != nil {
		t.Errorf("exact-fit append = %v, want nil", err)
	}
}

func TestPointerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir, 1024)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	m := NewManager(store)

	if _, err := m.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := m.Append([]byte("image")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := m.MarkBootable(); err != nil {
		t.Fatalf("MarkBootable: %v", err)
	}

	reopened, err := NewFileStore(dir, 1024)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	active, err := reopened.ReadPointer()
	if err != nil {
		t.Fatalf("ReadPointer: %v", err)
	}
	if active != SlotB {
		t.Errorf("active = %s after reopen, want b", active)
	}
}

func TestSlots(t *testing.T) {
	m := newTestManager(t, 1024)

	if _, err := m.BeginWrite(); err != nil {
		t.Fatalf("BeginWrite: %v", err)
	}
	if err := m.Append([]byte("abcdef")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	infos, err := m.Slots()
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d slot infos, want 2", len(infos))
	}
	if !infos[0].Active || infos[1].Active {
		t.Errorf("active flags = %v/%v, want a active", infos[0].Active, infos[1].Active)
	}
	if infos[1].Size != 6 {
		t.Errorf("slot b size = %d, want 6", infos[1].Size)
	}
}
