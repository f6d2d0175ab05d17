package persistence

import (
	"encoding/json"
	"time"

	"github.com/muchaco/council/types"
)

// sessionRecord 对应 sessions 表
type sessionRecord struct {
	ID                 string     `gorm:"primaryKey;size:36"`
	Title              string     `gorm:"size:255;not null;default:''"`
	ProblemDescription string     `gorm:"type:text;not null"`
	OutputGoal         string     `gorm:"type:text;not null;default:''"`
	Status             string     `gorm:"size:16;not null;default:active;index:idx_sessions_status"`
	ConductorEnabled   bool       `gorm:"not null;default:false"`
	ConductorPersonaID *string    `gorm:"size:36"`
	Blackboard         *string    `gorm:"type:text"` // JSON 编码的 BlackboardState
	AutoReplyCount     int        `gorm:"not null;default:0"`
	TokenCount         int        `gorm:"not null;default:0"`
	TokenBudget        int        `gorm:"not null;default:0"`
	ArchivedAt         *time.Time
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (sessionRecord) TableName() string { return "sessions" }

// personaRecord 对应 personas 表
type personaRecord struct {
	ID           string  `gorm:"primaryKey;size:36"`
	Name         string  `gorm:"size:100;not null"`
	Role         string  `gorm:"type:text;not null;default:''"`
	ModelID      string  `gorm:"column:model_id;size:100;not null"`
	Temperature  float64 `gorm:"not null"`
	Color        string  `gorm:"size:16;not null;default:''"`
	HiddenAgenda string  `gorm:"type:text;not null;default:''"`
	CreatedAt    time.Time
}

func (personaRecord) TableName() string { return "personas" }

// sessionPersonaRecord 记录会话参与者及其禁言状态
type sessionPersonaRecord struct {
	SessionID          string `gorm:"primaryKey;size:36"`
	PersonaID          string `gorm:"primaryKey;size:36"`
	HushTurnsRemaining int    `gorm:"not null;default:0"`
	HushedAt           *time.Time
	CreatedAt          time.Time
}

func (sessionPersonaRecord) TableName() string { return "session_personas" }

// messageRecord 对应 messages 表，(session_id, turn_number) 唯一
type messageRecord struct {
	ID         string    `gorm:"primaryKey;size:36"`
	SessionID  string    `gorm:"size:36;not null;uniqueIndex:idx_messages_session_turn"`
	PersonaID  *string   `gorm:"size:36"`
	Content    string    `gorm:"type:text;not null"`
	TurnNumber int       `gorm:"not null;uniqueIndex:idx_messages_session_turn"`
	TokenCount int       `gorm:"not null;default:0"`
	Metadata   *string   `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (messageRecord) TableName() string { return "messages" }

// allModels lists the tables in creation order.
func allModels() []any {
	return []any{&sessionRecord{}, &personaRecord{}, &sessionPersonaRecord{}, &messageRecord{}}
}

// =============================================================================
// 转换
// =============================================================================

func encodeJSON(v any) (*string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

func sessionToRecord(s *types.Session) (*sessionRecord, error) {
	rec := &sessionRecord{
		ID:                 s.ID,
		Title:              s.Title,
		ProblemDescription: s.Problem,
		OutputGoal:         s.OutputGoal,
		Status:             string(s.Status),
		ConductorEnabled:   s.ConductorEnabled,
		ConductorPersonaID: s.ConductorPersonaID,
		AutoReplyCount:     s.AutoReplyCount,
		TokenCount:         s.TokenCount,
		TokenBudget:        s.TokenBudget,
		ArchivedAt:         s.ArchivedAt,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
	if s.Blackboard != nil {
		bb, err := encodeJSON(s.Blackboard)
		if err != nil {
			return nil, err
		}
		rec.Blackboard = bb
	}
	return rec, nil
}

func (r *sessionRecord) toSession() (*types.Session, error) {
	s := &types.Session{
		ID:                 r.ID,
		Title:              r.Title,
		Problem:            r.ProblemDescription,
		OutputGoal:         r.OutputGoal,
		Status:             types.SessionStatus(r.Status),
		ConductorEnabled:   r.ConductorEnabled,
		ConductorPersonaID: r.ConductorPersonaID,
		AutoReplyCount:     r.AutoReplyCount,
		TokenCount:         r.TokenCount,
		TokenBudget:        r.TokenBudget,
		ArchivedAt:         r.ArchivedAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if r.Blackboard != nil && *r.Blackboard != "" {
		var bb types.BlackboardState
		if err := json.Unmarshal([]byte(*r.Blackboard), &bb); err != nil {
			return nil, types.NewPersistenceError("decode blackboard", err)
		}
		s.Blackboard = &bb
	}
	return s, nil
}

func personaToRecord(p *types.Persona) *personaRecord {
	return &personaRecord{
		ID:           p.ID,
		Name:         p.Name,
		Role:         p.Role,
		ModelID:      p.ModelID,
		Temperature:  p.Temperature,
		Color:        p.Color,
		HiddenAgenda: p.HiddenAgenda,
	}
}

func (r *personaRecord) toPersona() types.Persona {
	return types.Persona{
		ID:           r.ID,
		Name:         r.Name,
		Role:         r.Role,
		ModelID:      r.ModelID,
		Temperature:  r.Temperature,
		Color:        r.Color,
		HiddenAgenda: r.HiddenAgenda,
	}
}

func messageToRecord(m *types.Message) (*messageRecord, error) {
	rec := &messageRecord{
		ID:         m.ID,
		SessionID:  m.SessionID,
		PersonaID:  m.PersonaID,
		Content:    m.Content,
		TurnNumber: m.TurnNumber,
		TokenCount: m.TokenCount,
		CreatedAt:  m.CreatedAt,
	}
	if m.Metadata != nil {
		md, err := encodeJSON(m.Metadata)
		if err != nil {
			return nil, err
		}
		rec.Metadata = md
	}
	return rec, nil
}

func (r *messageRecord) toMessage() (types.Message, error) {
	m := types.Message{
		ID:         r.ID,
		SessionID:  r.SessionID,
		PersonaID:  r.PersonaID,
		Content:    r.Content,
		TurnNumber: r.TurnNumber,
		TokenCount: r.TokenCount,
		CreatedAt:  r.CreatedAt,
	}
	if r.Metadata != nil && *r.Metadata != "" {
		var md types.MessageMetadata
		if err := json.Unmarshal([]byte(*r.Metadata), &md); err != nil {
			return types.Message{}, types.NewPersistenceError("decode message metadata", err)
		}
		m.Metadata = &md
	}
	return m, nil
}
