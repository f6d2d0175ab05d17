// Package persistence provides the session store used by the conductor.
//
// Supported backends:
// - Memory: For development and testing (default)
// - Gorm: SQLite, PostgreSQL or MySQL through gorm
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/muchaco/council/types"
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeGorm   StoreType = "gorm"
)

// ListOptions filters ListSessions.
type ListOptions struct {
	Status types.SessionStatus
	Limit  int
	Offset int
}

// Store is the read/write contract consumed by the conductor core.
// All errors are *types.Error with NOT_FOUND, VALIDATION_ERROR or
// PERSISTENCE_ERROR codes.
type Store interface {
	CreateSession(ctx context.Context, s *types.Session) (*types.Session, error)
	GetSession(ctx context.Context, id string) (*types.Session, error)
	// UpdateSession applies a partial patch and returns the stored session.
	UpdateSession(ctx context.Context, id string, patch types.SessionPatch) (*types.Session, error)
	ListSessions(ctx context.Context, opts ListOptions) ([]types.Session, error)

	CreatePersona(ctx context.Context, p *types.Persona) (*types.Persona, error)
	AddSessionPersona(ctx context.Context, sessionID, personaID string) error
	// GetSessionPersonas returns participants including their hush state.
	GetSessionPersonas(ctx context.Context, sessionID string) ([]types.Persona, error)

	// GetLastMessages returns the newest limit messages in replay order.
	GetLastMessages(ctx context.Context, sessionID string, limit int) ([]types.Message, error)
	ListMessages(ctx context.Context, sessionID string) ([]types.Message, error)
	GetNextTurnNumber(ctx context.Context, sessionID string) (int, error)
	// CreateMessage persists m. The turn number must already be assigned;
	// ID and CreatedAt are filled in when empty.
	CreateMessage(ctx context.Context, m *types.Message) (*types.Message, error)

	GetHush(ctx context.Context, sessionID, personaID string) (types.HushState, error)
	SetHush(ctx context.Context, sessionID, personaID string, turns int, at time.Time) error
	ClearHush(ctx context.Context, sessionID, personaID string) error
	// DecrementAllHush lowers every participant's remaining hush turns by one, floored at zero.
	DecrementAllHush(ctx context.Context, sessionID string) error

	// WithTx runs fn against a transaction-scoped store. Any error rolls back every write made through tx.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	Ping(ctx context.Context) error
	Close() error
}

// prepareSession copies in, assigns an id and default status, then validates it.
func prepareSession(in *types.Session) (*types.Session, error) {
	if in == nil {
		return nil, types.NewValidationError("session is nil")
	}
	s := in.Clone()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if err := validateNewSession(s); err != nil {
		return nil, err
	}
	return s, nil
}

func validateNewSession(s *types.Session) error {
	if s.Problem == "" {
		return types.NewValidationError("problem description is required")
	}
	if s.Status == "" {
		s.Status = types.SessionActive
	}
	return s.Validate()
}

func validateNewMessage(m *types.Message) error {
	if m == nil {
		return types.NewValidationError("message is nil")
	}
	if m.SessionID == "" {
		return types.NewValidationError("message session id is required")
	}
	if m.TurnNumber <= 0 {
		return types.NewValidationError("turn number must be positive, got %d", m.TurnNumber)
	}
	if m.TokenCount < 0 {
		return types.NewValidationError("token count must be non-negative")
	}
	return nil
}

// ErrTurnTaken is the cause attached when a turn number is already used.
var ErrTurnTaken = errors.New("turn number already allocated")

func errTurnTaken(sessionID string, turn int) *types.Error {
	return types.NewError(types.ErrPersistence, fmt.Sprintf("session %s already has turn %d", sessionID, turn)).
		WithCause(ErrTurnTaken)
}
