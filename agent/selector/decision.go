package selector

import (
	"errors"

	"github.com/muchaco/council/types"
)

// WaitForUserSentinel is the wire value meaning "no persona, ask the user".
// It never leaves this package: callers see WaitForUser.
const WaitForUserSentinel = "WAIT_FOR_USER"

// Action is what the selector decided to do next. It is either
// TriggerPersona or WaitForUser.
type Action interface {
	isAction()
}

// TriggerPersona asks the caller to let PersonaID speak next.
type TriggerPersona struct {
	PersonaID string
}

// WaitForUser hands the floor back to the human user.
type WaitForUser struct{}

func (TriggerPersona) isAction() {}
func (WaitForUser) isAction()    {}

// Decision is a validated selector response.
type Decision struct {
	Action              Action
	Reasoning           string
	IsIntervention      bool
	InterventionMessage string
	DriftDetected       bool
	BlackboardUpdate    types.BlackboardUpdate
}

// SelectedPersona returns the persona id when the action triggers one.
func (d Decision) SelectedPersona() (string, bool) {
	if t, ok := d.Action.(TriggerPersona); ok {
		return t.PersonaID, true
	}
	return "", false
}

// wireDecision is the JSON object the model is asked to produce.
type wireDecision struct {
	SelectedPersonaID   string                 `json:"selectedPersonaId"`
	Reasoning           string                 `json:"reasoning"`
	IsIntervention      bool                   `json:"isIntervention"`
	InterventionMessage string                 `json:"interventionMessage"`
	DriftDetected       bool                   `json:"driftDetected"`
	BlackboardUpdate    types.BlackboardUpdate `json:"blackboardUpdate"`
}

func (w wireDecision) toDecision() Decision {
	var action Action = TriggerPersona{PersonaID: w.SelectedPersonaID}
	if w.SelectedPersonaID == WaitForUserSentinel {
		action = WaitForUser{}
	}
	return Decision{
		Action:              action,
		Reasoning:           w.Reasoning,
		IsIntervention:      w.IsIntervention,
		InterventionMessage: w.InterventionMessage,
		DriftDetected:       w.DriftDetected,
		BlackboardUpdate:    w.BlackboardUpdate,
	}
}

var (
	// ErrMalformedDecision is the cause when the response has no valid decision object.
	ErrMalformedDecision = errors.New("malformed selector decision")
	// ErrUnknownPersona is the cause when the decision names a persona outside the roster.
	ErrUnknownPersona = errors.New("selected persona not in roster")
)

func malformed(format string, args ...any) *types.Error {
	return types.NewValidationError(format, args...).WithCause(ErrMalformedDecision)
}

// IsMalformed reports whether err came from an unparseable selector response.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedDecision)
}

// IsUnknownPersona reports whether err came from an out-of-roster selection.
func IsUnknownPersona(err error) bool {
	return errors.Is(err, ErrUnknownPersona)
}
