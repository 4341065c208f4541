package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Run statuses
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// RunState records the progress of one script run
type RunState struct {
	Script            string    `json:"script"`
	Status            string    `json:"status"`
	StatementsApplied int       `json:"statements_applied"`
	TotalStatements   int       `json:"total_statements"`
	LastStatement     string    `json:"last_statement,omitempty"`
	Error             string    `json:"error,omitempty"`
	StartedAt         time.Time `json:"started_at"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Manager defines the interface for run state storage
type Manager interface {
	// GetState retrieves the state of a script, or nil if none was recorded
	GetState(ctx context.Context, script string) (*RunState, error)

	// SaveState creates or replaces the state of a script
	SaveState(ctx context.Context, state *RunState) error

	// DeleteState removes the state of a script
	DeleteState(ctx context.Context, script string) error

	// ListStates retrieves every recorded state
	ListStates(ctx context.Context) ([]*RunState, error)

	// LockState acquires a lock on a script until ttl elapses or UnlockState
	// is called. On success it returns the owner token of the new lock.
	LockState(ctx context.Context, script string, ttl time.Duration) (owner string, acquired bool, err error)

	// UnlockState releases the lock on a script if owner still holds it. A
	// lock that was taken over after expiring is left alone.
	UnlockState(ctx context.Context, script, owner string) error
}

// Backends accepted by NewManager
const (
	BackendMemory     = "memory"
	BackendFile       = "file"
	BackendKubernetes = "kubernetes"
)

// NewManager creates the manager for backend. dir is used by the file
// backend and namespace by the kubernetes backend.
func NewManager(backend, dir, namespace string) (Manager, error) {
	switch backend {
	case "", BackendMemory:
		return NewMemoryManager(), nil
	case BackendFile:
		m, err := NewFileManager(dir)
		if err != nil {
			return nil, err
		}
		return m, nil
	case BackendKubernetes:
		m, err := NewKubernetesManager(namespace)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported state backend: %s", backend)
	}
}

// MemoryManager implements the Manager interface using in-memory storage.
// Nothing survives the process; this is the default.
type MemoryManager struct {
	mu     sync.RWMutex
	states map[string]RunState
	locks  map[string]lock
}

// lock is the record every backend keeps for a held lock
type lock struct {
	Owner   string    `json:"owner"`
	Expires time.Time `json:"expires"`
}

func newOwner() string {
	return uuid.NewString()
}

// NewMemoryManager creates a new in-memory state manager
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		states: make(map[string]RunState),
		locks:  make(map[string]lock),
	}
}

func (m *MemoryManager) GetState(ctx context.Context, script string) (*RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if state, exists := m.states[script]; exists {
		return &state, nil
	}
	return nil, nil
}

func (m *MemoryManager) SaveState(ctx context.Context, state *RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[state.Script] = *state
	return nil
}

func (m *MemoryManager) DeleteState(ctx context.Context, script string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, script)
	return nil
}

func (m *MemoryManager) ListStates(ctx context.Context) ([]*RunState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]*RunState, 0, len(m.states))
	for _, state := range m.states {
		state := state
		states = append(states, &state)
	}
	sortStates(states)
	return states, nil
}

func (m *MemoryManager) LockState(ctx context.Context, script string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, exists := m.locks[script]; exists && time.Now().Before(l.Expires) {
		return "", false, nil
	}
	owner := newOwner()
	m.locks[script] = lock{Owner: owner, Expires: time.Now().Add(ttl)}
	return owner, true, nil
}

func (m *MemoryManager) UnlockState(ctx context.Context, script, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, exists := m.locks[script]; exists && l.Owner == owner {
		delete(m.locks, script)
	}
	return nil
}

func sortStates(states []*RunState) {
	sort.Slice(states, func(i, j int) bool {
		return states[i].Script < states[j].Script
	})
}
