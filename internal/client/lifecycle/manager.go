// Package lifecycle manages the client's connection to a device: explicit
// connect and disconnect, a background keepalive with one inline reconnect,
// and a broken state that keeps the last known device configuration so the
// user never watches their settings vanish.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glowlink-io/glowlink/internal/client/updater"
	"github.com/glowlink-io/glowlink/pkg/link"
	"github.com/glowlink-io/glowlink/pkg/log"
)

const (
	defaultKeepAliveInterval = 5 * time.Second
	defaultOpTimeout         = 10 * time.Second
	defaultEventBuffer       = 16
)

// Manager owns one link.Client and serializes every operation on it. At most
// one operation runs at a time; a second caller gets ErrBusy instead of
// queueing.
type Manager struct {
	mu sync.Mutex

	fsm  *FiniteStateMachine
	link link.Client

	config  []byte
	dirty   bool
	lastErr error

	busy   bool
	events chan Event

	keepAliveInterval time.Duration
	opTimeout         time.Duration
	cancelKeepalive   context.CancelFunc

	logger log.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithKeepAliveInterval sets the probe period while connected.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.keepAliveInterval = d
		}
	}
}

// WithOpTimeout bounds individual link operations issued by the manager.
func WithOpTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.opTimeout = d
		}
	}
}

// WithEventBuffer sets the event channel depth.
func WithEventBuffer(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.events = make(chan Event, n)
		}
	}
}

// WithLogger overrides the manager logger.
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// New creates a Manager over l. The manager starts disconnected; nothing
// touches the link until Connect.
func New(l link.Client, opts ...Option) *Manager {
	m := &Manager{
		link:              l,
		keepAliveInterval: defaultKeepAliveInterval,
		opTimeout:         defaultOpTimeout,
		logger:            log.Std().WithName("lifecycle"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.events == nil {
		m.events = make(chan Event, defaultEventBuffer)
	}

	m.fsm = NewFiniteStateMachine(m.emit)
	return m
}

// Events returns the lifecycle event channel. It is meant for a single
// consumer; when the consumer lags, the oldest events are dropped so the
// channel always converges on the current state.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.fsm.Current())
}

// Config returns a copy of the last known device configuration.
func (m *Manager) Config() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.config...)
}

// LastError returns the error behind the most recent broken or failed state.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Connect establishes the link and loads the device configuration. A failure
// lands in the broken state with any known config preserved. From the broken
// state Connect doubles as the reconnect operation: a local config edit made
// while broken is pushed to the device instead of being overwritten by the
// device's copy.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.acquire(); err != nil {
		return err
	}
	defer m.release()

	m.mu.Lock()
	if State(m.fsm.Current()) == StateConnected {
		m.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	if err := m.fsm.Event(ctx, EventDial); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	err := m.link.Connect(ctx)
	if err == nil {
		err = m.syncConfig(ctx)
		if err != nil {
			_ = m.link.Close(context.Background())
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.lastErr = err
		// Every connect failure lands in broken, whatever config is known
		// preserved; disconnected is reserved for explicit user action.
		if ferr := m.fsm.Event(ctx, EventBreak); ferr != nil {
			m.logger.Error(ferr, "Lifecycle transition failed")
		}
		return fmt.Errorf("connect: %w", err)
	}

	m.lastErr = nil
	if ferr := m.fsm.Event(ctx, EventLinkUp); ferr != nil {
		return ferr
	}
	m.startKeepaliveLocked()
	return nil
}

// Reconnect re-establishes a broken link. It is Connect under a name that
// matches what the user is doing.
func (m *Manager) Reconnect(ctx context.Context) error {
	return m.Connect(ctx)
}

// Disconnect tears the link down and forgets the device configuration. It is
// the only path to the disconnected state once a connection has existed.
func (m *Manager) Disconnect(ctx context.Context) error {
	if err := m.acquire(); err != nil {
		return err
	}
	defer m.release()

	m.mu.Lock()
	if State(m.fsm.Current()) == StateDisconnected {
		m.mu.Unlock()
		return nil
	}
	m.stopKeepaliveLocked()
	m.mu.Unlock()

	if err := m.link.Close(ctx); err != nil {
		m.logger.Warn("Link close failed during disconnect", "err", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = nil
	m.dirty = false
	m.lastErr = nil
	return m.fsm.Event(ctx, EventClose)
}

// UpdateConfig stores a new device configuration. While connected it is
// pushed immediately; while broken it is kept locally and pushed on
// reconnect. Either way the local copy wins until the device has it.
func (m *Manager) UpdateConfig(ctx context.Context, cfg []byte) error {
	if err := m.acquire(); err != nil {
		return err
	}
	defer m.release()

	m.mu.Lock()
	cur := State(m.fsm.Current())
	switch cur {
	case StateDisconnected, StateConnecting:
		m.mu.Unlock()
		return fmt.Errorf("no device configuration in state %s", cur)
	}

	m.config = append([]byte(nil), cfg...)
	m.dirty = true
	m.mu.Unlock()

	if cur == StateBroken {
		return nil
	}

	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()
	if err := m.link.WriteConfig(opCtx, cfg); err != nil {
		return fmt.Errorf("config kept locally, push failed: %w", err)
	}

	m.mu.Lock()
	m.dirty = false
	m.mu.Unlock()
	return nil
}

// RunUpdate performs a firmware update over the managed link. The manager is
// busy for the whole transfer; lifecycle operations and config edits get
// ErrBusy until it finishes.
func (m *Manager) RunUpdate(ctx context.Context, image []byte, opts ...updater.Option) error {
	if err := m.acquire(); err != nil {
		return err
	}
	defer m.release()

	m.mu.Lock()
	if State(m.fsm.Current()) != StateConnected {
		cur := m.fsm.Current()
		m.mu.Unlock()
		return fmt.Errorf("cannot update in state %s", cur)
	}
	m.mu.Unlock()

	return updater.New(m.link, opts...).Update(ctx, image)
}

// acquire takes the busy flag.
func (m *Manager) acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy {
		return ErrBusy
	}
	m.busy = true
	return nil
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busy = false
}

// syncConfig reconciles configuration after a link comes up: a pending local
// edit is pushed, otherwise the device snapshot is adopted.
func (m *Manager) syncConfig(ctx context.Context) error {
	m.mu.Lock()
	dirty := m.dirty
	local := append([]byte(nil), m.config...)
	m.mu.Unlock()

	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	defer cancel()

	if dirty {
		if err := m.link.WriteConfig(opCtx, local); err != nil {
			return fmt.Errorf("push local config: %w", err)
		}
		m.mu.Lock()
		m.dirty = false
		m.mu.Unlock()
		return nil
	}

	cfg, err := m.link.ReadConfig(opCtx)
	if err != nil {
		return fmt.Errorf("read device config: %w", err)
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// startKeepaliveLocked replaces any previous keepalive goroutine. Caller
// holds m.mu.
func (m *Manager) startKeepaliveLocked() {
	m.stopKeepaliveLocked()
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelKeepalive = cancel
	go m.keepalive(ctx)
}

func (m *Manager) stopKeepaliveLocked() {
	if m.cancelKeepalive != nil {
		m.cancelKeepalive()
		m.cancelKeepalive = nil
	}
}

// keepalive probes the status register while connected. On a failed probe it
// makes exactly one inline reconnect attempt; if that fails too the manager
// goes broken and the keepalive retires until the user reconnects.
func (m *Manager) keepalive(ctx context.Context) {
	ticker := time.NewTicker(m.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		skip := m.busy || State(m.fsm.Current()) != StateConnected
		m.mu.Unlock()
		if skip {
			continue
		}

		probeCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
		_, err := m.link.ReadStatus(probeCtx)
		cancel()
		if err == nil {
			continue
		}

		m.logger.Warn("Keepalive probe failed, attempting inline reconnect", "err", err)

		// Hold the busy flag so no user operation runs mid-reconnect.
		if aerr := m.acquire(); aerr != nil {
			continue
		}

		reCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
		_ = m.link.Close(reCtx)
		rerr := m.link.Connect(reCtx)
		if rerr == nil {
			rerr = m.syncConfig(reCtx)
		}
		cancel()

		m.mu.Lock()
		m.busy = false
		if State(m.fsm.Current()) != StateConnected {
			// Raced with an explicit disconnect.
			m.mu.Unlock()
			return
		}
		if rerr != nil {
			m.lastErr = fmt.Errorf("keepalive lost link: %w", err)
			if ferr := m.fsm.Event(context.Background(), EventBreak); ferr != nil {
				m.logger.Error(ferr, "Lifecycle transition failed")
			}
			m.cancelKeepalive = nil
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		m.logger.Info("Inline reconnect succeeded")
	}
}

// emit publishes a lifecycle event. Runs with m.mu held, from inside a state
// transition. The channel never blocks the manager: when full, the oldest
// event is dropped.
func (m *Manager) emit(state State) {
	ev := Event{
		State:  state,
		Config: append([]byte(nil), m.config...),
		Err:    m.lastErr,
		At:     time.Now(),
	}

	for {
		select {
		case m.events <- ev:
			return
		default:
		}
		select {
		case <-m.events:
		default:
		}
	}
}
