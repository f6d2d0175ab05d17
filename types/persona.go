package types

import "time"

// Persona is the session-scoped view of a debate participant.
// Hush state belongs to the session participation, not the persona definition.
type Persona struct {
	ID                 string     `json:"id"`
	Name               string     `json:"name"`
	Role               string     `json:"role"`
	ModelID            string     `json:"geminiModel"`
	Temperature        float64    `json:"temperature"`
	Color              string     `json:"color"`
	HiddenAgenda       string     `json:"-"`
	HushTurnsRemaining int        `json:"hushTurnsRemaining"`
	HushedAt           *time.Time `json:"hushedAt,omitempty"`
}

// IsHushed reports whether the persona is currently excluded from speaking.
func (p Persona) IsHushed() bool {
	return p.HushTurnsRemaining > 0
}

// Validate checks required persona fields.
func (p Persona) Validate() error {
	if p.Name == "" {
		return NewValidationError("persona name is required")
	}
	if p.ModelID == "" {
		return NewValidationError("persona %q has no model", p.Name)
	}
	if p.Temperature < 0 || p.Temperature > 2 {
		return NewValidationError("persona %q temperature %.2f out of range [0,2]", p.Name, p.Temperature)
	}
	if p.HushTurnsRemaining < 0 {
		return NewValidationError("persona %q hush turns must be non-negative", p.Name)
	}
	return nil
}

// HushState is the hush countdown of one persona within one session.
type HushState struct {
	TurnsRemaining int        `json:"turnsRemaining"`
	HushedAt       *time.Time `json:"hushedAt,omitempty"`
}

// FindPersona returns the persona with the given id.
func FindPersona(personas []Persona, id string) (Persona, bool) {
	for _, p := range personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}
