// Package flash manages the dual-slot firmware layout: two equally sized
// image slots and a durable pointer naming the slot the device boots from.
// Exactly one slot is active at any time; updates stream into the inactive
// slot and the pointer flips only after the image has been verified.
package flash

import (
	"fmt"
	"os"
	"path/filepath"
)

// Slot identifies one of the two firmware slots.
type Slot uint8

const (
	SlotA Slot = iota
	SlotB
)

func (s Slot) String() string {
	switch s {
	case SlotA:
		return "a"
	case SlotB:
		return "b"
	default:
		return fmt.Sprintf("slot(%d)", uint8(s))
	}
}

// Other returns the counterpart slot.
func (s Slot) Other() Slot {
	if s == SlotA {
		return SlotB
	}
	return SlotA
}

// ParseSlot is the inverse of Slot.String.
func ParseSlot(s string) (Slot, error) {
	switch s {
	case "a":
		return SlotA, nil
	case "b":
		return SlotB, nil
	default:
		return 0, fmt.Errorf("unknown slot %q", s)
	}
}

// BlockStore abstracts the persistent medium backing the slot pair and the
// active-slot pointer. Implementations must make WritePointer atomic: a crash
// mid-flip leaves the old pointer intact.
type BlockStore interface {
	// ReadPointer returns the currently active slot.
	ReadPointer() (Slot, error)

	// WritePointer durably flips the active slot.
	WritePointer(Slot) error

	// EraseSlot discards the contents of a slot.
	EraseSlot(Slot) error

	// WriteAt appends image bytes at the given offset within a slot.
	WriteAt(slot Slot, off int64, p []byte) error

	// ReadSlot returns the full contents of a slot.
	ReadSlot(Slot) ([]byte, error)

	// SlotSize returns the length in bytes of the image held by a slot.
	SlotSize(Slot) (int64, error)

	// Capacity returns the size of one slot in bytes.
	Capacity() int64
}

const pointerFile = "active"

// fileStore implements BlockStore on a directory: one file per slot and a
// pointer file flipped with an atomic rename.
type fileStore struct {
	dir      string
	capacity int64
}

var _ BlockStore = (*fileStore)(nil)

// NewFileStore opens (or initializes) a BlockStore rooted at dir. A missing
// pointer file defaults to slot A, matching a factory image flashed there.
func NewFileStore(dir string, capacity int64) (BlockStore, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("slot capacity must be positive, got %d", capacity)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create flash dir: %w", err)
	}

	s := &fileStore{dir: dir, capacity: capacity}

	if _, err := os.Stat(s.pointerPath()); os.IsNotExist(err) {
		if err := s.WritePointer(SlotA); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *fileStore) pointerPath() string {
	return filepath.Join(s.dir, pointerFile)
}

func (s *fileStore) slotPath(slot Slot) string {
	return filepath.Join(s.dir, "slot_"+slot.String()+".bin")
}

func (s *fileStore) ReadPointer() (Slot, error) {
	data, err := os.ReadFile(s.pointerPath())
	if err != nil {
		return 0, fmt.Errorf("read active-slot pointer: %w", err)
	}
	slot, err := ParseSlot(string(data))
	if err != nil {
		return 0, fmt.Errorf("corrupt active-slot pointer: %w", err)
	}
	return slot, nil
}

func (s *fileStore) WritePointer(slot Slot) error {
	tmp := s.pointerPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(slot.String()), 0o644); err != nil {
		return fmt.Errorf("stage active-slot pointer: %w", err)
	}
	// Rename is the atomicity boundary.
	if err := os.Rename(tmp, s.pointerPath()); err != nil {
		return fmt.Errorf("flip active-slot pointer: %w", err)
	}
	return nil
}

func (s *fileStore) EraseSlot(slot Slot) error {
	if err := os.Remove(s.slotPath(slot)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("erase slot %s: %w", slot, err)
	}
	return nil
}

func (s *fileStore) WriteAt(slot Slot, off int64, p []byte) error {
	f, err := os.OpenFile(s.slotPath(slot), os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open slot %s: %w", slot, err)
	}
	defer f.Close()

	if _, err := f.WriteAt(p, off); err != nil {
		return fmt.Errorf("write slot %s at %d: %w", slot, off, err)
	}
	return f.Sync()
}

func (s *fileStore) ReadSlot(slot Slot) ([]byte, error) {
	data, err := os.ReadFile(s.slotPath(slot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read slot %s: %w", slot, err)
	}
	return data, nil
}

func (s *fileStore) SlotSize(slot Slot) (int64, error) {
	info, err := os.Stat(s.slotPath(slot))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return info.Size(), nil
}

func (s *fileStore) Capacity() int64 {
	return s.capacity
}
