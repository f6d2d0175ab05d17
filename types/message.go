package types

import (
	"sort"
	"time"
)

// MessageMetadata carries conductor annotations on a transcript entry.
type MessageMetadata struct {
	IsIntervention    bool   `json:"isIntervention,omitempty"`
	SelectorReasoning string `json:"selectorReasoning,omitempty"`
	DriftDetected     bool   `json:"driftDetected,omitempty"`
}

// Message is one transcript entry. A nil PersonaID means the user wrote it.
type Message struct {
	ID         string           `json:"id"`
	SessionID  string           `json:"sessionId"`
	PersonaID  *string          `json:"personaId,omitempty"`
	Content    string           `json:"content"`
	TurnNumber int              `json:"turnNumber"`
	TokenCount int              `json:"tokenCount"`
	Metadata   *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// IsUser reports whether the message was authored by the human user.
func (m Message) IsUser() bool {
	return m.PersonaID == nil
}

// IsIntervention reports whether the message is a conductor intervention.
func (m Message) IsIntervention() bool {
	return m.Metadata != nil && m.Metadata.IsIntervention
}

// SortForReplay orders messages by turn number, then creation time.
func SortForReplay(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].TurnNumber != msgs[j].TurnNumber {
			return msgs[i].TurnNumber < msgs[j].TurnNumber
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}
