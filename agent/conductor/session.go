package conductor

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/muchaco/council/agent/persistence"
	"github.com/muchaco/council/agent/turn"
	"github.com/muchaco/council/types"
)

// =============================================================================
// 会话生命周期
// =============================================================================

// CreateSession stores a new debate session. Conductor fields are ignored;
// use EnableConductor after adding personas.
func (c *Conductor) CreateSession(ctx context.Context, s *types.Session) (*types.Session, error) {
	if s == nil {
		return nil, types.NewValidationError("session is nil")
	}
	in := s.Clone()
	in.Problem = strings.TrimSpace(in.Problem)
	in.Status = types.SessionActive
	in.ConductorEnabled = false
	in.ConductorPersonaID = nil
	in.AutoReplyCount = 0
	in.TokenCount = 0
	in.ArchivedAt = nil
	if in.TokenBudget == 0 {
		in.TokenBudget = c.breaker.Limits().TokenBudget
	}

	created, err := c.store.CreateSession(ctx, in)
	if err != nil {
		return nil, err
	}
	c.logger.Info("session created", zap.String("session_id", created.ID), zap.Int("token_budget", created.TokenBudget))
	return created, nil
}

// AddPersona creates p and adds it to the session.
func (c *Conductor) AddPersona(ctx context.Context, sessionID string, p *types.Persona) (*types.Persona, error) {
	if p == nil {
		return nil, types.NewValidationError("persona is nil")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := c.activeSession(ctx, sessionID); err != nil {
		return nil, err
	}

	var created *types.Persona
	err = c.store.WithTx(ctx, func(tx persistence.Store) error {
		var err error
		created, err = tx.CreatePersona(ctx, p)
		if err != nil {
			return err
		}
		return tx.AddSessionPersona(ctx, sessionID, created.ID)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// GetSession returns a session by id.
func (c *Conductor) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return c.store.GetSession(ctx, sessionID)
}

// ListSessions lists sessions, newest first.
func (c *Conductor) ListSessions(ctx context.Context, opts persistence.ListOptions) ([]types.Session, error) {
	return c.store.ListSessions(ctx, opts)
}

// Personas returns the session participants with their hush state.
func (c *Conductor) Personas(ctx context.Context, sessionID string) ([]types.Persona, error) {
	if _, err := c.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.store.GetSessionPersonas(ctx, sessionID)
}

// Transcript returns every message of the session in turn order.
func (c *Conductor) Transcript(ctx context.Context, sessionID string) ([]types.Message, error) {
	if _, err := c.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.store.ListMessages(ctx, sessionID)
}

// CompleteSession marks the debate finished. Completed sessions may still
// be archived.
func (c *Conductor) CompleteSession(ctx context.Context, sessionID string) (*types.Session, error) {
	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := c.activeSession(ctx, sessionID); err != nil {
		return nil, err
	}
	status := types.SessionCompleted
	return c.store.UpdateSession(ctx, sessionID, types.SessionPatch{Status: &status})
}

// ArchiveSession archives the session and exports it to the archive sink.
// It does not wait for a running cycle; that cycle still commits its
// counters, and later cycles fail with SESSION_ARCHIVED.
func (c *Conductor) ArchiveSession(ctx context.Context, sessionID string) (*types.Session, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsArchived() {
		return sess, nil
	}

	now := c.now().UTC()
	status := types.SessionArchived
	updated, err := c.store.UpdateSession(ctx, sessionID, types.SessionPatch{Status: &status, ArchivedAt: &now})
	if err != nil {
		return nil, err
	}
	if err := c.states.Delete(ctx, sessionID); err != nil {
		c.logger.Warn("failed to clear conductor state", zap.String("session_id", sessionID), zap.Error(err))
	}
	c.hub.Publish(Event{Type: EventArchived, SessionID: sessionID})

	personas, err := c.store.GetSessionPersonas(ctx, sessionID)
	if err != nil {
		c.logger.Warn("archive export skipped", zap.String("session_id", sessionID), zap.Error(err))
		return updated, nil
	}
	transcript, err := c.store.ListMessages(ctx, sessionID)
	if err != nil {
		c.logger.Warn("archive export skipped", zap.String("session_id", sessionID), zap.Error(err))
		return updated, nil
	}
	export := &ArchivedSession{Session: updated, Personas: personas, Transcript: transcript, ArchivedAt: now}
	if err := c.archive.Export(ctx, export); err != nil {
		// 导出失败不影响归档状态
		c.logger.Warn("archive export failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	c.logger.Info("session archived", zap.String("session_id", sessionID), zap.Int("messages", len(transcript)))
	return updated, nil
}

// =============================================================================
// 直接发言
// =============================================================================

// AskPersona checks that personaID may speak now and returns it. The
// returned persona carries its hidden agenda for prompt construction.
func (c *Conductor) AskPersona(ctx context.Context, sessionID, personaID string) (*types.Persona, error) {
	if _, err := c.activeSession(ctx, sessionID); err != nil {
		return nil, err
	}
	p, err := c.participant(ctx, sessionID, personaID)
	if err != nil {
		return nil, err
	}
	if err := c.hush.EnsureSpeakable(ctx, sessionID, personaID); err != nil {
		return nil, err
	}
	return p, nil
}

// RecordPersonaResponse stores a persona's reply and adds its tokens to the
// session total.
func (c *Conductor) RecordPersonaResponse(ctx context.Context, sessionID, personaID, content string, tokens int) (*types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, types.NewValidationError("response content is required")
	}
	msg, err := c.turns.RecordPersona(ctx, sessionID, personaID, content, c.estimate(content, tokens),
		requireActive, requireParticipant, addSessionTokens)
	if err != nil {
		return nil, err
	}
	c.hub.Publish(Event{Type: EventMessage, SessionID: sessionID, PersonaID: personaID, Message: msg})
	return msg, nil
}

// RecordUserMessage stores a user message. A conductor waiting for input
// returns to idle.
func (c *Conductor) RecordUserMessage(ctx context.Context, sessionID, content string) (*types.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, types.NewValidationError("message content is required")
	}
	msg, err := c.turns.RecordUser(ctx, sessionID, content, c.estimate(content, 0),
		requireActive, addSessionTokens)
	if err != nil {
		return nil, err
	}
	c.hub.Publish(Event{Type: EventMessage, SessionID: sessionID, Message: msg})

	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return msg, err
	}
	defer unlock()

	c.stateMu.Lock()
	cur, err := c.states.Get(ctx, sessionID)
	c.stateMu.Unlock()
	if err != nil {
		return msg, err
	}
	if cur == StateAwaitingInput {
		if _, err := c.setState(ctx, sessionID, StateIdle, false); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// 以下步骤在记录事务内、轮次分配之前执行

func requireActive(ctx context.Context, tx persistence.Store, e turn.Entry) error {
	_, err := activeSessionIn(ctx, tx, e.SessionID)
	return err
}

func requireParticipant(ctx context.Context, tx persistence.Store, e turn.Entry) error {
	if e.PersonaID == nil {
		return nil
	}
	personas, err := tx.GetSessionPersonas(ctx, e.SessionID)
	if err != nil {
		return err
	}
	if _, ok := types.FindPersona(personas, *e.PersonaID); !ok {
		return types.NewNotFoundError("session persona", *e.PersonaID)
	}
	return nil
}

// addSessionTokens adds the entry's tokens to the session total.
func addSessionTokens(ctx context.Context, tx persistence.Store, e turn.Entry) error {
	if e.TokenCount == 0 {
		return nil
	}
	sess, err := tx.GetSession(ctx, e.SessionID)
	if err != nil {
		return err
	}
	_, err = tx.UpdateSession(ctx, e.SessionID, types.SessionPatch{TokenCount: types.IntPtr(sess.TokenCount + e.TokenCount)})
	return err
}

func (c *Conductor) participant(ctx context.Context, sessionID, personaID string) (*types.Persona, error) {
	personas, err := c.store.GetSessionPersonas(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p, ok := types.FindPersona(personas, personaID)
	if !ok {
		return nil, types.NewNotFoundError("session persona", personaID)
	}
	return &p, nil
}

// estimate keeps a reported count and estimates one otherwise.
func (c *Conductor) estimate(content string, reported int) int {
	if reported > 0 {
		return reported
	}
	n, err := c.counter.CountTokens(content)
	if err != nil {
		c.logger.Debug("token estimate failed", zap.Error(err))
		return 0
	}
	return n
}
