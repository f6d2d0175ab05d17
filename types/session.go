package types

import "time"

// SessionStatus is the lifecycle status of a debate session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionArchived  SessionStatus = "archived"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionCompleted, SessionArchived:
		return true
	}
	return false
}

// Session is a debate between personas about one problem.
type Session struct {
	ID                 string           `json:"id"`
	Title              string           `json:"title"`
	Problem            string           `json:"problemDescription"`
	OutputGoal         string           `json:"outputGoal"`
	Status             SessionStatus    `json:"status"`
	ConductorEnabled   bool             `json:"conductorEnabled"`
	ConductorPersonaID *string          `json:"conductorPersonaId,omitempty"`
	Blackboard         *BlackboardState `json:"blackboard,omitempty"`
	AutoReplyCount     int              `json:"autoReplyCount"`
	TokenCount         int              `json:"tokenCount"`
	TokenBudget        int              `json:"tokenBudget"`
	ArchivedAt         *time.Time       `json:"archivedAt,omitempty"`
	CreatedAt          time.Time        `json:"createdAt"`
	UpdatedAt          time.Time        `json:"updatedAt"`
}

// Validate checks the conductor invariant and counter ranges.
func (s *Session) Validate() error {
	if s.ID == "" {
		return NewValidationError("session id is required")
	}
	if !s.Status.Valid() {
		return NewValidationError("invalid session status %q", s.Status)
	}
	if s.ConductorEnabled != (s.ConductorPersonaID != nil && *s.ConductorPersonaID != "") {
		return NewValidationError("conductor persona must be set iff the conductor is enabled")
	}
	if s.AutoReplyCount < 0 || s.TokenCount < 0 || s.TokenBudget < 0 {
		return NewValidationError("session counters must be non-negative")
	}
	return nil
}

// IsArchived reports whether the session no longer accepts conductor cycles.
func (s *Session) IsArchived() bool {
	return s.Status == SessionArchived || s.ArchivedAt != nil
}

// IsConductor reports whether personaID is the session's conductor persona.
func (s *Session) IsConductor(personaID string) bool {
	return s.ConductorPersonaID != nil && *s.ConductorPersonaID == personaID
}

// BlackboardOrEmpty returns the blackboard, or the zero state when unset.
func (s *Session) BlackboardOrEmpty() BlackboardState {
	if s.Blackboard == nil {
		return BlackboardState{}
	}
	return *s.Blackboard
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.ConductorPersonaID != nil {
		id := *s.ConductorPersonaID
		c.ConductorPersonaID = &id
	}
	if s.Blackboard != nil {
		bb := *s.Blackboard
		c.Blackboard = &bb
	}
	if s.ArchivedAt != nil {
		at := *s.ArchivedAt
		c.ArchivedAt = &at
	}
	return &c
}

// SessionPatch is a partial update of a session. Nil fields are left untouched.
type SessionPatch struct {
	Status             *SessionStatus
	ConductorEnabled   *bool
	ConductorPersonaID *string
	// ClearConductorPersona sets the conductor persona to NULL. It wins over ConductorPersonaID.
	ClearConductorPersona bool
	Blackboard            *BlackboardState
	AutoReplyCount        *int
	TokenCount            *int
	TokenBudget           *int
	ArchivedAt            *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p SessionPatch) IsEmpty() bool {
	return p.Status == nil && p.ConductorEnabled == nil && p.ConductorPersonaID == nil &&
		!p.ClearConductorPersona && p.Blackboard == nil && p.AutoReplyCount == nil &&
		p.TokenCount == nil && p.TokenBudget == nil && p.ArchivedAt == nil
}

// Apply writes the patch onto s.
func (p SessionPatch) Apply(s *Session) {
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.ConductorEnabled != nil {
		s.ConductorEnabled = *p.ConductorEnabled
	}
	if p.ConductorPersonaID != nil {
		id := *p.ConductorPersonaID
		s.ConductorPersonaID = &id
	}
	if p.ClearConductorPersona {
		s.ConductorPersonaID = nil
	}
	if p.Blackboard != nil {
		bb := *p.Blackboard
		s.Blackboard = &bb
	}
	if p.AutoReplyCount != nil {
		s.AutoReplyCount = *p.AutoReplyCount
	}
	if p.TokenCount != nil {
		s.TokenCount = *p.TokenCount
	}
	if p.TokenBudget != nil {
		s.TokenBudget = *p.TokenBudget
	}
	if p.ArchivedAt != nil {
		at := *p.ArchivedAt
		s.ArchivedAt = &at
	}
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
