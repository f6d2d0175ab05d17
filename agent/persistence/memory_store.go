package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/muchaco/council/types"
)

type participant struct {
	personaID string
	hush      types.HushState
}

type memoryState struct {
	sessions     map[string]*types.Session
	personas     map[string]*types.Persona
	participants map[string][]participant
	messages     map[string][]types.Message
}

func newMemoryState() *memoryState {
	return &memoryState{
		sessions:     make(map[string]*types.Session),
		personas:     make(map[string]*types.Persona),
		participants: make(map[string][]participant),
		messages:     make(map[string][]types.Message),
	}
}

func (st *memoryState) clone() *memoryState {
	c := newMemoryState()
	for id, s := range st.sessions {
		c.sessions[id] = s.Clone()
	}
	for id, p := range st.personas {
		cp := *p
		c.personas[id] = &cp
	}
	for id, ps := range st.participants {
		c.participants[id] = append([]participant(nil), ps...)
	}
	for id, ms := range st.messages {
		c.messages[id] = append([]types.Message(nil), ms...)
	}
	return c
}

// MemoryStore is an in-memory Store for development and tests.
// Transactions hold the store's write lock for their whole duration.
type MemoryStore struct {
	mu     sync.RWMutex
	state  *memoryState
	closed bool
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState(), now: time.Now}
}

func (s *MemoryStore) read(fn func(st *memoryState) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errStoreClosed()
	}
	return fn(s.state)
}

func (s *MemoryStore) write(fn func(st *memoryState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}
	return fn(s.state)
}

func errStoreClosed() error {
	return types.NewError(types.ErrPersistence, "store is closed")
}

// WithTx runs fn with the write lock held and restores a snapshot on error.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed()
	}

	snapshot := s.state.clone()
	tx := &memoryTx{state: s.state, now: s.now}
	if err := fn(tx); err != nil {
		s.state = snapshot
		return err
	}
	if err := ctx.Err(); err != nil {
		s.state = snapshot
		return types.NewPersistenceError("commit", err)
	}
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.read(func(*memoryState) error { return nil })
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, in *types.Session) (out *types.Session, err error) {
	err = s.write(func(st *memoryState) error {
		out, err = createSession(st, in, s.now())
		return err
	})
	return out, err
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (out *types.Session, err error) {
	err = s.read(func(st *memoryState) error {
		out, err = getSession(st, id)
		return err
	})
	return out, err
}

func (s *MemoryStore) UpdateSession(ctx context.Context, id string, patch types.SessionPatch) (out *types.Session, err error) {
	err = s.write(func(st *memoryState) error {
		out, err = updateSession(st, id, patch, s.now())
		return err
	})
	return out, err
}

func (s *MemoryStore) ListSessions(ctx context.Context, opts ListOptions) (out []types.Session, err error) {
	err = s.read(func(st *memoryState) error {
		out = listSessions(st, opts)
		return nil
	})
	return out, err
}

func (s *MemoryStore) CreatePersona(ctx context.Context, p *types.Persona) (out *types.Persona, err error) {
	err = s.write(func(st *memoryState) error {
		out, err = createPersona(st, p)
		return err
	})
	return out, err
}

func (s *MemoryStore) AddSessionPersona(ctx context.Context, sessionID, personaID string) error {
	return s.write(func(st *memoryState) error {
		return addSessionPersona(st, sessionID, personaID)
	})
}

func (s *MemoryStore) GetSessionPersonas(ctx context.Context, sessionID string) (out []types.Persona, err error) {
	err = s.read(func(st *memoryState) error {
		out, err = sessionPersonas(st, sessionID)
		return err
	})
	return out, err
}

func (s *MemoryStore) GetLastMessages(ctx context.Context, sessionID string, limit int) (out []types.Message, err error) {
	err = s.read(func(st *memoryState) error {
		out = lastMessages(st, sessionID, limit)
		return nil
	})
	return out, err
}

func (s *MemoryStore) ListMessages(ctx context.Context, sessionID string) (out []types.Message, err error) {
	err = s.read(func(st *memoryState) error {
		out = lastMessages(st, sessionID, 0)
		return nil
	})
	return out, err
}

func (s *MemoryStore) GetNextTurnNumber(ctx context.Context, sessionID string) (n int, err error) {
	err = s.read(func(st *memoryState) error {
		n = nextTurn(st, sessionID)
		return nil
	})
	return n, err
}

func (s *MemoryStore) CreateMessage(ctx context.Context, m *types.Message) (out *types.Message, err error) {
	err = s.write(func(st *memoryState) error {
		out, err = createMessage(st, m, s.now())
		return err
	})
	return out, err
}

func (s *MemoryStore) GetHush(ctx context.Context, sessionID, personaID string) (h types.HushState, err error) {
	err = s.read(func(st *memoryState) error {
		h, err = getHush(st, sessionID, personaID)
		return err
	})
	return h, err
}

func (s *MemoryStore) SetHush(ctx context.Context, sessionID, personaID string, turns int, at time.Time) error {
	return s.write(func(st *memoryState) error {
		return setHush(st, sessionID, personaID, types.HushState{TurnsRemaining: turns, HushedAt: &at})
	})
}

func (s *MemoryStore) ClearHush(ctx context.Context, sessionID, personaID string) error {
	return s.write(func(st *memoryState) error {
		return setHush(st, sessionID, personaID, types.HushState{})
	})
}

func (s *MemoryStore) DecrementAllHush(ctx context.Context, sessionID string) error {
	return s.write(func(st *memoryState) error {
		decrementHush(st, sessionID)
		return nil
	})
}

// -----------------------------------------------------------------------------
// memoryTx runs the same operations against the locked state.
// -----------------------------------------------------------------------------

type memoryTx struct {
	state *memoryState
	now   func() time.Time
}

func (t *memoryTx) CreateSession(_ context.Context, in *types.Session) (*types.Session, error) {
	return createSession(t.state, in, t.now())
}

func (t *memoryTx) GetSession(_ context.Context, id string) (*types.Session, error) {
	return getSession(t.state, id)
}

func (t *memoryTx) UpdateSession(_ context.Context, id string, patch types.SessionPatch) (*types.Session, error) {
	return updateSession(t.state, id, patch, t.now())
}

func (t *memoryTx) ListSessions(_ context.Context, opts ListOptions) ([]types.Session, error) {
	return listSessions(t.state, opts), nil
}

func (t *memoryTx) CreatePersona(_ context.Context, p *types.Persona) (*types.Persona, error) {
	return createPersona(t.state, p)
}

func (t *memoryTx) AddSessionPersona(_ context.Context, sessionID, personaID string) error {
	return addSessionPersona(t.state, sessionID, personaID)
}

func (t *memoryTx) GetSessionPersonas(_ context.Context, sessionID string) ([]types.Persona, error) {
	return sessionPersonas(t.state, sessionID)
}

func (t *memoryTx) GetLastMessages(_ context.Context, sessionID string, limit int) ([]types.Message, error) {
	return lastMessages(t.state, sessionID, limit), nil
}

func (t *memoryTx) ListMessages(_ context.Context, sessionID string) ([]types.Message, error) {
	return lastMessages(t.state, sessionID, 0), nil
}

func (t *memoryTx) GetNextTurnNumber(_ context.Context, sessionID string) (int, error) {
	return nextTurn(t.state, sessionID), nil
}

func (t *memoryTx) CreateMessage(_ context.Context, m *types.Message) (*types.Message, error) {
	return createMessage(t.state, m, t.now())
}

func (t *memoryTx) GetHush(_ context.Context, sessionID, personaID string) (types.HushState, error) {
	return getHush(t.state, sessionID, personaID)
}

func (t *memoryTx) SetHush(_ context.Context, sessionID, personaID string, turns int, at time.Time) error {
	return setHush(t.state, sessionID, personaID, types.HushState{TurnsRemaining: turns, HushedAt: &at})
}

func (t *memoryTx) ClearHush(_ context.Context, sessionID, personaID string) error {
	return setHush(t.state, sessionID, personaID, types.HushState{})
}

func (t *memoryTx) DecrementAllHush(_ context.Context, sessionID string) error {
	decrementHush(t.state, sessionID)
	return nil
}

// WithTx nests by running fn in the enclosing transaction.
func (t *memoryTx) WithTx(_ context.Context, fn func(tx Store) error) error {
	return fn(t)
}

func (t *memoryTx) Ping(context.Context) error { return nil }
func (t *memoryTx) Close() error               { return nil }

// -----------------------------------------------------------------------------
// state operations, callers hold the lock
// -----------------------------------------------------------------------------

func createSession(st *memoryState, in *types.Session, now time.Time) (*types.Session, error) {
	s, err := prepareSession(in)
	if err != nil {
		return nil, err
	}
	if _, exists := st.sessions[s.ID]; exists {
		return nil, types.NewError(types.ErrPersistence, "session "+s.ID+" already exists")
	}
	s.CreatedAt, s.UpdatedAt = now, now
	st.sessions[s.ID] = s
	return s.Clone(), nil
}

func getSession(st *memoryState, id string) (*types.Session, error) {
	s, ok := st.sessions[id]
	if !ok {
		return nil, types.NewNotFoundError("session", id)
	}
	return s.Clone(), nil
}

func updateSession(st *memoryState, id string, patch types.SessionPatch, now time.Time) (*types.Session, error) {
	s, ok := st.sessions[id]
	if !ok {
		return nil, types.NewNotFoundError("session", id)
	}
	next := s.Clone()
	patch.Apply(next)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.UpdatedAt = now
	st.sessions[id] = next
	return next.Clone(), nil
}

func listSessions(st *memoryState, opts ListOptions) []types.Session {
	out := make([]types.Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return []types.Session{}
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func createPersona(st *memoryState, in *types.Persona) (*types.Persona, error) {
	if in == nil {
		return nil, types.NewValidationError("persona is nil")
	}
	p := *in
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, exists := st.personas[p.ID]; exists {
		return nil, types.NewError(types.ErrPersistence, "persona "+p.ID+" already exists")
	}
	p.HushTurnsRemaining, p.HushedAt = 0, nil
	st.personas[p.ID] = &p
	out := p
	return &out, nil
}

func addSessionPersona(st *memoryState, sessionID, personaID string) error {
	if _, ok := st.sessions[sessionID]; !ok {
		return types.NewNotFoundError("session", sessionID)
	}
	if _, ok := st.personas[personaID]; !ok {
		return types.NewNotFoundError("persona", personaID)
	}
	for _, p := range st.participants[sessionID] {
		if p.personaID == personaID {
			return nil
		}
	}
	st.participants[sessionID] = append(st.participants[sessionID], participant{personaID: personaID})
	return nil
}

func sessionPersonas(st *memoryState, sessionID string) ([]types.Persona, error) {
	if _, ok := st.sessions[sessionID]; !ok {
		return nil, types.NewNotFoundError("session", sessionID)
	}
	parts := st.participants[sessionID]
	out := make([]types.Persona, 0, len(parts))
	for _, part := range parts {
		p := *st.personas[part.personaID]
		p.HushTurnsRemaining = part.hush.TurnsRemaining
		if part.hush.HushedAt != nil {
			at := *part.hush.HushedAt
			p.HushedAt = &at
		}
		out = append(out, p)
	}
	return out, nil
}

func lastMessages(st *memoryState, sessionID string, limit int) []types.Message {
	msgs := append([]types.Message(nil), st.messages[sessionID]...)
	types.SortForReplay(msgs)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for i := range msgs {
		msgs[i] = cloneMessage(msgs[i])
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	return msgs
}

func nextTurn(st *memoryState, sessionID string) int {
	maxTurn := 0
	for _, m := range st.messages[sessionID] {
		if m.TurnNumber > maxTurn {
			maxTurn = m.TurnNumber
		}
	}
	return maxTurn + 1
}

func createMessage(st *memoryState, in *types.Message, now time.Time) (*types.Message, error) {
	if err := validateNewMessage(in); err != nil {
		return nil, err
	}
	if _, ok := st.sessions[in.SessionID]; !ok {
		return nil, types.NewNotFoundError("session", in.SessionID)
	}
	for _, m := range st.messages[in.SessionID] {
		if m.TurnNumber == in.TurnNumber {
			return nil, errTurnTaken(in.SessionID, in.TurnNumber)
		}
	}
	m := cloneMessage(*in)
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	st.messages[in.SessionID] = append(st.messages[in.SessionID], m)
	out := cloneMessage(m)
	return &out, nil
}

func findParticipant(st *memoryState, sessionID, personaID string) (*participant, error) {
	if _, ok := st.sessions[sessionID]; !ok {
		return nil, types.NewNotFoundError("session", sessionID)
	}
	parts := st.participants[sessionID]
	for i := range parts {
		if parts[i].personaID == personaID {
			return &parts[i], nil
		}
	}
	return nil, types.NewNotFoundError("session persona", personaID)
}

func getHush(st *memoryState, sessionID, personaID string) (types.HushState, error) {
	p, err := findParticipant(st, sessionID, personaID)
	if err != nil {
		return types.HushState{}, err
	}
	return p.hush, nil
}

func setHush(st *memoryState, sessionID, personaID string, h types.HushState) error {
	p, err := findParticipant(st, sessionID, personaID)
	if err != nil {
		return err
	}
	p.hush = h
	return nil
}

func decrementHush(st *memoryState, sessionID string) {
	parts := st.participants[sessionID]
	for i := range parts {
		if parts[i].hush.TurnsRemaining <= 0 {
			continue
		}
		parts[i].hush.TurnsRemaining--
		if parts[i].hush.TurnsRemaining == 0 {
			parts[i].hush.HushedAt = nil
		}
	}
}

func cloneMessage(m types.Message) types.Message {
	if m.PersonaID != nil {
		id := *m.PersonaID
		m.PersonaID = &id
	}
	if m.Metadata != nil {
		md := *m.Metadata
		m.Metadata = &md
	}
	return m
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*memoryTx)(nil)
)
