package conductor

import (
	"strings"

	"github.com/muchaco/council/agent/selector"
	"github.com/muchaco/council/types"
)

// Snapshot is the pre-cycle view Decide works from.
type Snapshot struct {
	Session     *types.Session
	ConductorID string
	// SelectorTokens is what the selector call cost.
	SelectorTokens int
}

// Effect is one state change of a successful cycle.
type Effect interface {
	effect()
}

// MergeBlackboard merges a partial update into the session blackboard.
type MergeBlackboard struct {
	Update types.BlackboardUpdate
}

// PersistIntervention records a message authored by the conductor persona.
type PersistIntervention struct {
	ConductorID string
	Content     string
	Reasoning   string
	Drift       bool
}

// DecrementHush counts the cycle against every muted persona.
type DecrementHush struct{}

// IncrementAutoReply counts one automatic persona turn.
type IncrementAutoReply struct{}

// AddTokens adds selector usage to the session token count.
type AddTokens struct {
	N int
}

func (MergeBlackboard) effect()     {}
func (PersistIntervention) effect() {}
func (DecrementHush) effect()       {}
func (IncrementAutoReply) effect()  {}
func (AddTokens) effect()           {}

// Plan is the outcome of a cycle before it is applied.
type Plan struct {
	Effects []Effect
	Result  TurnResult
	Next    State
}

// Decide turns a validated selector decision into ordered effects.
// It performs no I/O.
func Decide(snap Snapshot, d selector.Decision) Plan {
	var effects []Effect

	if !d.BlackboardUpdate.IsEmpty() {
		effects = append(effects, MergeBlackboard{Update: d.BlackboardUpdate})
	}
	if d.IsIntervention {
		content := strings.TrimSpace(d.InterventionMessage)
		if content == "" {
			content = strings.TrimSpace(d.Reasoning)
		}
		if content != "" {
			effects = append(effects, PersistIntervention{
				ConductorID: snap.ConductorID,
				Content:     content,
				Reasoning:   d.Reasoning,
				Drift:       d.DriftDetected,
			})
		}
	}
	effects = append(effects, DecrementHush{})

	plan := Plan{}
	switch a := d.Action.(type) {
	case selector.TriggerPersona:
		effects = append(effects, IncrementAutoReply{})
		plan.Result = TurnResult{Kind: ResultTriggerPersona, PersonaID: a.PersonaID, Reasoning: d.Reasoning}
		plan.Next = StateIdle
	default:
		plan.Result = TurnResult{Kind: ResultWaitForUser, Reasoning: d.Reasoning}
		plan.Next = StateAwaitingInput
	}

	if snap.SelectorTokens > 0 {
		effects = append(effects, AddTokens{N: snap.SelectorTokens})
	}
	plan.Effects = effects
	plan.Result.DriftDetected = d.DriftDetected
	plan.Result.TokensUsed = snap.SelectorTokens
	plan.Result.State = plan.Next
	return plan
}

// patchFor folds the counter and blackboard effects into one session patch.
func patchFor(current *types.Session, effects []Effect) types.SessionPatch {
	var patch types.SessionPatch
	bb := current.BlackboardOrEmpty()
	auto := current.AutoReplyCount
	tokens := current.TokenCount

	for _, e := range effects {
		switch v := e.(type) {
		case MergeBlackboard:
			bb = types.MergeBlackboard(&bb, v.Update)
			merged := bb
			patch.Blackboard = &merged
		case IncrementAutoReply:
			auto++
			patch.AutoReplyCount = types.IntPtr(auto)
		case AddTokens:
			tokens += v.N
			patch.TokenCount = types.IntPtr(tokens)
		}
	}
	return patch
}
