package calls

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/RenatoCabral2022/callstream/internal/streaming"
)

var (
	ErrCallNotFound = errors.New("call not found")
	ErrCallEnded    = errors.New("call already disconnected")
	ErrInvalidCall  = errors.New("invalid call")
)

// Listener observes call lifecycle events. Callbacks run on the goroutine
// that made the change, after the Manager released its lock.
type Listener interface {
	OnCallStateChanged(call streaming.Call, oldState, newState streaming.CallState)
	OnCallRemoved(call streaming.Call)
}

type entry struct {
	call  *Call
	state streaming.CallState
}

// Manager tracks calls and fans their changes out to listeners.
type Manager struct {
	logger *zap.Logger

	mu        sync.RWMutex
	calls     map[string]*entry
	listeners []Listener
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger: logger,
		calls:  make(map[string]*entry),
	}
}

// AddListener registers l for every later change.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Add creates a call in the new state.
func (m *Manager) Add(nc NewCall) (*Call, error) {
	if nc.Handle == "" || nc.Owner == "" {
		return nil, fmt.Errorf("%w: handle and owner are required", ErrInvalidCall)
	}
	c := &Call{
		id:          uuid.NewString(),
		handle:      nc.Handle,
		displayName: nc.DisplayName,
		user:        nc.User,
		owner:       nc.Owner,
	}

	m.mu.Lock()
	m.calls[c.id] = &entry{call: c, state: streaming.CallStateNew}
	m.mu.Unlock()

	m.logger.Info("call added", zap.String("call", c.id), zap.String("owner", c.owner))
	return c, nil
}

// Get returns a call and its current state.
func (m *Manager) Get(id string) (*Call, streaming.CallState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.calls[id]
	if !ok {
		return nil, 0, ErrCallNotFound
	}
	return e.call, e.state, nil
}

// Info returns a view of one call.
func (m *Manager) Info(id string) (Info, error) {
	c, state, err := m.Get(id)
	if err != nil {
		return Info{}, err
	}
	return info(c, state), nil
}

// List returns every call ordered by ID.
func (m *Manager) List() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.calls))
	for _, e := range m.calls {
		out = append(out, info(e.call, e.state))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetState moves a call to state. Setting the current state again is a
// no-op; a disconnected call cannot change state.
func (m *Manager) SetState(id string, state streaming.CallState) error {
	m.mu.Lock()
	e, ok := m.calls[id]
	if !ok {
		m.mu.Unlock()
		return ErrCallNotFound
	}
	old := e.state
	if old == state {
		m.mu.Unlock()
		return nil
	}
	if old == streaming.CallStateDisconnected {
		m.mu.Unlock()
		return ErrCallEnded
	}
	e.state = state
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	m.logger.Info("call state changed",
		zap.String("call", id),
		zap.Stringer("from", old),
		zap.Stringer("to", state),
	)
	for _, l := range listeners {
		l.OnCallStateChanged(e.call, old, state)
	}
	return nil
}

// Remove drops a call and tells listeners.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	e, ok := m.calls[id]
	if !ok {
		m.mu.Unlock()
		return ErrCallNotFound
	}
	delete(m.calls, id)
	listeners := m.snapshotListeners()
	m.mu.Unlock()

	m.logger.Info("call removed", zap.String("call", id))
	for _, l := range listeners {
		l.OnCallRemoved(e.call)
	}
	return nil
}

func (m *Manager) snapshotListeners() []Listener {
	return append([]Listener(nil), m.listeners...)
}
