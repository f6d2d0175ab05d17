package turn

import (
	"context"
	"errors"

	"github.com/muchaco/council/agent/persistence"
	"github.com/muchaco/council/internal/sessionlock"
	"github.com/muchaco/council/types"
	"go.uber.org/zap"
)

// maxAllocAttempts bounds retries when another process takes the same number.
const maxAllocAttempts = 3

// Entry is a transcript entry before it has a turn number.
type Entry struct {
	SessionID  string
	PersonaID  *string
	Content    string
	TokenCount int
	Metadata   *types.MessageMetadata
}

// Sequencer assigns strictly increasing turn numbers per session.
type Sequencer struct {
	store  persistence.Store
	locks  *sessionlock.Locker
	logger *zap.Logger
}

// NewSequencer creates a sequencer. locks may be shared with other
// components that serialize per session; nil creates a private one.
func NewSequencer(store persistence.Store, locks *sessionlock.Locker, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = sessionlock.New()
	}
	return &Sequencer{
		store:  store,
		locks:  locks,
		logger: logger.With(zap.String("component", "turn_sequencer")),
	}
}

// NextTurnNumber returns the number the next entry would receive.
func (s *Sequencer) NextTurnNumber(ctx context.Context, sessionID string) (int, error) {
	return s.store.GetNextTurnNumber(ctx, sessionID)
}

// Step runs inside the recording transaction before the turn number is
// allocated. An error aborts the entry.
type Step func(ctx context.Context, tx persistence.Store, e Entry) error

// Record persists e under the session lock and returns the stored message.
// steps run in order, in the same transaction as the insert.
func (s *Sequencer) Record(ctx context.Context, e Entry, steps ...Step) (*types.Message, error) {
	if e.SessionID == "" {
		return nil, types.NewValidationError("session id is required")
	}
	unlock, err := s.locks.Lock(ctx, e.SessionID)
	if err != nil {
		return nil, types.NewError(types.ErrTimeout, "waiting for session lock").WithCause(err)
	}
	defer unlock()

	var msg *types.Message
	for attempt := 1; ; attempt++ {
		err = s.store.WithTx(ctx, func(tx persistence.Store) error {
			for _, step := range steps {
				if err := step(ctx, tx, e); err != nil {
					return err
				}
			}
			m, err := s.RecordWith(ctx, tx, e)
			msg = m
			return err
		})
		if err == nil || !errors.Is(err, persistence.ErrTurnTaken) || attempt == maxAllocAttempts {
			break
		}
		s.logger.Warn("turn number taken, retrying",
			zap.String("session_id", e.SessionID),
			zap.Int("attempt", attempt))
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// RecordWith allocates and persists through tx. The caller must already
// serialize the session, typically by holding its lock inside a transaction.
func (s *Sequencer) RecordWith(ctx context.Context, tx persistence.Store, e Entry) (*types.Message, error) {
	if e.SessionID == "" {
		return nil, types.NewValidationError("session id is required")
	}
	n, err := tx.GetNextTurnNumber(ctx, e.SessionID)
	if err != nil {
		return nil, err
	}
	msg, err := tx.CreateMessage(ctx, &types.Message{
		SessionID:  e.SessionID,
		PersonaID:  e.PersonaID,
		Content:    e.Content,
		TurnNumber: n,
		TokenCount: e.TokenCount,
		Metadata:   e.Metadata,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("turn recorded",
		zap.String("session_id", e.SessionID),
		zap.Int("turn", n),
		zap.Bool("user", e.PersonaID == nil))
	return msg, nil
}

// RecordUser records a message written by the human user.
func (s *Sequencer) RecordUser(ctx context.Context, sessionID, content string, tokens int, steps ...Step) (*types.Message, error) {
	return s.Record(ctx, Entry{SessionID: sessionID, Content: content, TokenCount: tokens}, steps...)
}

// RecordPersona records a persona's response.
func (s *Sequencer) RecordPersona(ctx context.Context, sessionID, personaID, content string, tokens int, steps ...Step) (*types.Message, error) {
	return s.Record(ctx, Entry{SessionID: sessionID, PersonaID: &personaID, Content: content, TokenCount: tokens}, steps...)
}

// InterventionEntry builds the entry for a conductor intervention.
func InterventionEntry(sessionID, conductorID, content, reasoning string, drift bool) Entry {
	return Entry{
		SessionID: sessionID,
		PersonaID: &conductorID,
		Content:   content,
		Metadata: &types.MessageMetadata{
			IsIntervention:    true,
			SelectorReasoning: reasoning,
			DriftDetected:     drift,
		},
	}
}
