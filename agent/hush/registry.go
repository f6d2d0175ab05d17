package hush

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/muchaco/council/agent/persistence"
	"github.com/muchaco/council/types"
	"go.uber.org/zap"
)

// DefaultPresets are the hush durations offered to users, in turns.
var DefaultPresets = []int{1, 3, 5}

// HushStore is the persistence subset the registry needs.
type HushStore interface {
	GetHush(ctx context.Context, sessionID, personaID string) (types.HushState, error)
	SetHush(ctx context.Context, sessionID, personaID string, turns int, at time.Time) error
	ClearHush(ctx context.Context, sessionID, personaID string) error
	DecrementAllHush(ctx context.Context, sessionID string) error
}

var _ HushStore = (persistence.Store)(nil)

// Registry tracks temporary mutes of personas within a session.
type Registry struct {
	store  HushStore
	logger *zap.Logger
	now    func() time.Time

	mu      sync.RWMutex
	presets []int
}

// NewRegistry creates a registry backed by store.
func NewRegistry(store HushStore, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		store:   store,
		logger:  logger.With(zap.String("component", "hush")),
		now:     time.Now,
		presets: append([]int(nil), DefaultPresets...),
	}
}

// WithStore returns a registry sharing configuration but writing through store.
// The conductor uses it to hush inside a transaction.
func (r *Registry) WithStore(store HushStore) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &Registry{
		store:   store,
		logger:  r.logger,
		now:     r.now,
		presets: r.presets,
	}
}

// Hush mutes personaID for the given number of completed cycles.
func (r *Registry) Hush(ctx context.Context, sessionID, personaID string, turns int) (types.HushState, error) {
	if turns < 1 {
		return types.HushState{}, types.NewValidationError("hush turns must be at least 1, got %d", turns)
	}
	at := r.now().UTC()
	if err := r.store.SetHush(ctx, sessionID, personaID, turns, at); err != nil {
		return types.HushState{}, err
	}
	r.logger.Info("persona hushed",
		zap.String("session_id", sessionID),
		zap.String("persona_id", personaID),
		zap.Int("turns", turns))
	return types.HushState{TurnsRemaining: turns, HushedAt: &at}, nil
}

// Unhush clears any remaining mute.
func (r *Registry) Unhush(ctx context.Context, sessionID, personaID string) error {
	if err := r.store.ClearHush(ctx, sessionID, personaID); err != nil {
		return err
	}
	r.logger.Info("persona unhushed",
		zap.String("session_id", sessionID),
		zap.String("persona_id", personaID))
	return nil
}

// DecrementAll counts one completed cycle against every muted persona.
func (r *Registry) DecrementAll(ctx context.Context, sessionID string) error {
	return r.store.DecrementAllHush(ctx, sessionID)
}

// Remaining returns the number of cycles personaID stays muted.
func (r *Registry) Remaining(ctx context.Context, sessionID, personaID string) (int, error) {
	h, err := r.store.GetHush(ctx, sessionID, personaID)
	if err != nil {
		return 0, err
	}
	return h.TurnsRemaining, nil
}

// EnsureSpeakable fails with PERSONA_HUSHED while personaID is muted.
func (r *Registry) EnsureSpeakable(ctx context.Context, sessionID, personaID string) error {
	remaining, err := r.Remaining(ctx, sessionID, personaID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return types.NewError(types.ErrPersonaHushed,
			fmt.Sprintf("persona %s is hushed for %d more turn(s)", personaID, remaining)).
			WithHTTPStatus(http.StatusConflict)
	}
	return nil
}

// Presets returns the configured hush durations.
func (r *Registry) Presets() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int(nil), r.presets...)
}

// SetPresets replaces the presets. Non-positive values are dropped and
// the rest sorted; an empty result restores the defaults.
func (r *Registry) SetPresets(presets []int) {
	cleaned := make([]int, 0, len(presets))
	seen := make(map[int]bool, len(presets))
	for _, p := range presets {
		if p >= 1 && !seen[p] {
			seen[p] = true
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultPresets...)
	}
	sort.Ints(cleaned)

	r.mu.Lock()
	r.presets = cleaned
	r.mu.Unlock()
}

// Eligible filters the roster down to personas that may be selected:
// not muted and not excludeID (the conductor persona).
func Eligible(personas []types.Persona, excludeID string) []types.Persona {
	out := make([]types.Persona, 0, len(personas))
	for _, p := range personas {
		if p.ID == excludeID || p.IsHushed() {
			continue
		}
		out = append(out, p)
	}
	return out
}
