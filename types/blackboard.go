package types

// BlackboardState is the shared record of a debate, visible to every persona prompt.
type BlackboardState struct {
	Consensus string `json:"consensus"`
	Conflicts string `json:"conflicts"`
	NextStep  string `json:"nextStep"`
	Facts     string `json:"facts"`
}

// BlackboardUpdate is a partial update. A nil field is absent and keeps the
// prior value; a pointer to "" explicitly blanks the field.
type BlackboardUpdate struct {
	Consensus *string `json:"consensus,omitempty"`
	Conflicts *string `json:"conflicts,omitempty"`
	NextStep  *string `json:"nextStep,omitempty"`
	Facts     *string `json:"facts,omitempty"`
}

// IsEmpty reports whether the update carries no fields.
func (u BlackboardUpdate) IsEmpty() bool {
	return u.Consensus == nil && u.Conflicts == nil && u.NextStep == nil && u.Facts == nil
}

// FullUpdate returns an update that replaces every field with the values of s.
func (s BlackboardState) FullUpdate() BlackboardUpdate {
	return BlackboardUpdate{
		Consensus: StringPtr(s.Consensus),
		Conflicts: StringPtr(s.Conflicts),
		NextStep:  StringPtr(s.NextStep),
		Facts:     StringPtr(s.Facts),
	}
}

// IsZero reports whether all four fields are empty.
func (s BlackboardState) IsZero() bool {
	return s == BlackboardState{}
}

// MergeBlackboard applies the fields present in update over current.
// A nil current is treated as the empty blackboard.
func MergeBlackboard(current *BlackboardState, update BlackboardUpdate) BlackboardState {
	var next BlackboardState
	if current != nil {
		next = *current
	}
	if update.Consensus != nil {
		next.Consensus = *update.Consensus
	}
	if update.Conflicts != nil {
		next.Conflicts = *update.Conflicts
	}
	if update.NextStep != nil {
		next.NextStep = *update.NextStep
	}
	if update.Facts != nil {
		next.Facts = *update.Facts
	}
	return next
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
