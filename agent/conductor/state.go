package conductor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/muchaco/council/internal/cache"
	"github.com/muchaco/council/types"
)

// State is the observable conductor state of one session.
type State string

const (
	StateIdle          State = "idle"
	StateProcessing    State = "processing"
	StateAwaitingInput State = "awaiting_input"
	StateBlocked       State = "blocked"
	StateManualPaused  State = "manual_paused"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateProcessing, StateAwaitingInput, StateBlocked, StateManualPaused:
		return true
	}
	return false
}

// transitions lists the allowed edges. Pause is allowed from every state
// and handled separately.
var transitions = map[State][]State{
	StateIdle:          {StateProcessing},
	StateAwaitingInput: {StateProcessing, StateIdle},
	StateBlocked:       {StateProcessing, StateIdle},
	StateProcessing:    {StateBlocked, StateIdle, StateAwaitingInput},
	StateManualPaused:  {StateIdle},
}

// CanTransition reports whether from → to is a legal edge.
func CanTransition(from, to State) bool {
	if to == StateManualPaused {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func invalidTransition(from, to State) *types.Error {
	return types.NewError(types.ErrInvalidTransition, fmt.Sprintf("cannot move conductor from %s to %s", from, to))
}

// StateStore keeps conductor states. Sessions without a stored state are idle.
type StateStore interface {
	Get(ctx context.Context, sessionID string) (State, error)
	Set(ctx context.Context, sessionID string, state State) error
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStateStore is a process-local StateStore.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemoryStateStore creates an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]State)}
}

func (m *MemoryStateStore) Get(_ context.Context, sessionID string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.states[sessionID]; ok {
		return s, nil
	}
	return StateIdle, nil
}

func (m *MemoryStateStore) Set(_ context.Context, sessionID string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state == StateIdle {
		delete(m.states, sessionID)
		return nil
	}
	m.states[sessionID] = state
	return nil
}

func (m *MemoryStateStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, sessionID)
	return nil
}

// RedisStateStore keeps states in Redis so they survive restarts.
type RedisStateStore struct {
	cache *cache.Manager
	ttl   time.Duration
}

// NewRedisStateStore creates a store on top of the cache manager. Entries
// expire after ttl without activity; expired sessions read as idle.
func NewRedisStateStore(m *cache.Manager, ttl time.Duration) *RedisStateStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStateStore{cache: m, ttl: ttl}
}

func stateKey(sessionID string) string {
	return "conductor:state:" + sessionID
}

func (r *RedisStateStore) Get(ctx context.Context, sessionID string) (State, error) {
	v, err := r.cache.Get(ctx, stateKey(sessionID))
	if errors.Is(err, cache.ErrCacheMiss) {
		return StateIdle, nil
	}
	if err != nil {
		return "", types.NewPersistenceError("read conductor state", err)
	}
	s := State(v)
	if !s.Valid() {
		return StateIdle, nil
	}
	return s, nil
}

func (r *RedisStateStore) Set(ctx context.Context, sessionID string, state State) error {
	if err := r.cache.Set(ctx, stateKey(sessionID), string(state), r.ttl); err != nil {
		return types.NewPersistenceError("write conductor state", err)
	}
	return nil
}

func (r *RedisStateStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.cache.Delete(ctx, stateKey(sessionID)); err != nil {
		return types.NewPersistenceError("delete conductor state", err)
	}
	return nil
}

var (
	_ StateStore = (*MemoryStateStore)(nil)
	_ StateStore = (*RedisStateStore)(nil)
)
