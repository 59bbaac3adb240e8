package flash

import (
	"fmt"
	"sync"

	"github.com/glowlink-io/glowlink/pkg/wire"
)

// Manager owns the slot pair. It exposes a single append-only write cursor
// into the inactive slot; the active slot is never written. All methods are
// safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	store BlockStore

	writing bool
	target  Slot
	written int64
}

// NewManager creates a Manager over the given store.
func NewManager(store BlockStore) *Manager {
	return &Manager{store: store}
}

// ActiveSlot returns the slot the device currently boots from.
func (m *Manager) ActiveSlot() (Slot, error) {
	return m.store.ReadPointer()
}

// Capacity returns the size of one slot in bytes.
func (m *Manager) Capacity() int64 {
	return m.store.Capacity()
}

// BeginWrite erases the inactive slot and opens the write cursor into it.
// Only one write session may be open at a time.
func (m *Manager) BeginWrite() (Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.writing {
		return 0, fmt.Errorf("write session already open on slot %s: %w", m.target, wire.ErrSequence)
	}

	active, err := m.store.ReadPointer()
	if err != nil {
		return 0, err
	}

	target := active.Other()
	if err := m.store.EraseSlot(target); err != nil {
		return 0, err
	}

	m.writing = true
	m.target = target
	m.written = 0
	return target, nil
}

// Append writes the next image bytes at the cursor. A write that would
// overflow the slot fails whole; no partial append happens.
func (m *Manager) Append(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.writing {
		return fmt.Errorf("no open write session: %w", wire.ErrSequence)
	}
	if m.written+int64(len(p)) > m.store.Capacity() {
		return fmt.Errorf("image exceeds slot capacity %d: %w", m.store.Capacity(), wire.ErrCapacity)
	}

	if err := m.store.WriteAt(m.target, m.written, p); err != nil {
		return err
	}
	m.written += int64(len(p))
	return nil
}

// BytesWritten returns the cursor position of the open write session.
func (m *Manager) BytesWritten() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.written
}

// MarkBootable closes the write session and atomically flips the active-slot
// pointer to the freshly written slot. Callers must have verified the image
// first; after this returns the old image is no longer the boot target.
func (m *Manager) MarkBootable() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.writing {
		return fmt.Errorf("no open write session: %w", wire.ErrSequence)
	}

	if err := m.store.WritePointer(m.target); err != nil {
		return err
	}
	m.writing = false
	m.written = 0
	return nil
}

// Discard abandons the open write session, if any. The active-slot pointer is
// untouched and the partial image is left for the next BeginWrite to erase.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writing = false
	m.written = 0
}

// SlotInfo describes one slot for inspection surfaces.
type SlotInfo struct {
	Slot   string `json:"slot"`
	Active bool   `json:"active"`
	Size   int64  `json:"size"`
}

// Slots reports both slots and which one is active.
func (m *Manager) Slots() ([]SlotInfo, error) {
	active, err := m.store.ReadPointer()
	if err != nil {
		return nil, err
	}

	infos := make([]SlotInfo, 0, 2)
	for _, s := range []Slot{SlotA, SlotB} {
		size, err := m.store.SlotSize(s)
		if err != nil {
			return nil, err
		}
		infos = append(infos, SlotInfo{Slot: s.String(), Active: s == active, Size: size})
	}
	return infos, nil
}
