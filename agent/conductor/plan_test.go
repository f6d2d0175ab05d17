package conductor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muchaco/council/agent/selector"
	"github.com/muchaco/council/types"
)

func snapshot(auto, tokens int) Snapshot {
	return Snapshot{
		Session: &types.Session{
			ID:             "s1",
			AutoReplyCount: auto,
			TokenCount:     tokens,
			Blackboard:     &types.BlackboardState{Consensus: "c0", Facts: "f0"},
		},
		ConductorID:    "cond",
		SelectorTokens: 120,
	}
}

func effectNames(effects []Effect) []string {
	out := make([]string, 0, len(effects))
	for _, e := range effects {
		switch e.(type) {
		case MergeBlackboard:
			out = append(out, "merge")
		case PersistIntervention:
			out = append(out, "intervention")
		case DecrementHush:
			out = append(out, "hush")
		case IncrementAutoReply:
			out = append(out, "auto")
		case AddTokens:
			out = append(out, "tokens")
		}
	}
	return out
}

func TestDecide_EffectOrder(t *testing.T) {
	tests := []struct {
		name     string
		decision selector.Decision
		want     []string
		kind     ResultKind
		next     State
	}{
		{
			name:     "trigger persona",
			decision: selector.Decision{Action: selector.TriggerPersona{PersonaID: "p1"}, Reasoning: "r"},
			want:     []string{"hush", "auto", "tokens"},
			kind:     ResultTriggerPersona,
			next:     StateIdle,
		},
		{
			name:     "wait for user",
			decision: selector.Decision{Action: selector.WaitForUser{}, Reasoning: "r"},
			want:     []string{"hush", "tokens"},
			kind:     ResultWaitForUser,
			next:     StateAwaitingInput,
		},
		{
			name: "everything",
			decision: selector.Decision{
				Action:              selector.TriggerPersona{PersonaID: "p1"},
				Reasoning:           "r",
				IsIntervention:      true,
				InterventionMessage: "focus please",
				BlackboardUpdate:    types.BlackboardUpdate{NextStep: types.StringPtr("vote")},
			},
			want: []string{"merge", "intervention", "hush", "auto", "tokens"},
			kind: ResultTriggerPersona,
			next: StateIdle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Decide(snapshot(2, 100), tt.decision)
			assert.Equal(t, tt.want, effectNames(plan.Effects))
			assert.Equal(t, tt.kind, plan.Result.Kind)
			assert.Equal(t, tt.next, plan.Next)
			assert.Equal(t, tt.next, plan.Result.State)
			assert.Equal(t, 120, plan.Result.TokensUsed)
		})
	}
}

func TestDecide_TriggerCarriesPersona(t *testing.T) {
	plan := Decide(snapshot(0, 0), selector.Decision{
		Action:        selector.TriggerPersona{PersonaID: "p2"},
		Reasoning:     "p2 has not spoken",
		DriftDetected: true,
	})
	assert.Equal(t, "p2", plan.Result.PersonaID)
	assert.Equal(t, "p2 has not spoken", plan.Result.Reasoning)
	assert.True(t, plan.Result.DriftDetected)
}

func TestDecide_InterventionFallsBackToReasoning(t *testing.T) {
	plan := Decide(snapshot(0, 0), selector.Decision{
		Action:         selector.WaitForUser{},
		Reasoning:      "stay on topic",
		IsIntervention: true,
		DriftDetected:  true,
	})
	require.Len(t, plan.Effects, 3)
	iv, ok := plan.Effects[0].(PersistIntervention)
	require.True(t, ok)
	assert.Equal(t, "stay on topic", iv.Content)
	assert.Equal(t, "cond", iv.ConductorID)
	assert.True(t, iv.Drift)
}

// ParseDecision 已拒绝空干预；Decide 收到时不生成消息
func TestDecide_EmptyInterventionSkipped(t *testing.T) {
	plan := Decide(snapshot(0, 0), selector.Decision{
		Action:         selector.WaitForUser{},
		IsIntervention: true,
	})
	assert.Equal(t, []string{"hush", "tokens"}, effectNames(plan.Effects))
}

func TestDecide_NoTokensNoAddEffect(t *testing.T) {
	snap := snapshot(0, 0)
	snap.SelectorTokens = 0
	plan := Decide(snap, selector.Decision{Action: selector.WaitForUser{}})
	assert.Equal(t, []string{"hush"}, effectNames(plan.Effects))
}

// =============================================================================
// patchFor
// =============================================================================

func TestPatchFor(t *testing.T) {
	snap := snapshot(3, 1000)
	plan := Decide(snap, selector.Decision{
		Action:           selector.TriggerPersona{PersonaID: "p1"},
		BlackboardUpdate: types.BlackboardUpdate{Conflicts: types.StringPtr("x vs y")},
	})

	patch := patchFor(snap.Session, plan.Effects)
	require.NotNil(t, patch.AutoReplyCount)
	require.NotNil(t, patch.TokenCount)
	require.NotNil(t, patch.Blackboard)
	assert.Equal(t, 4, *patch.AutoReplyCount)
	assert.Equal(t, 1120, *patch.TokenCount)
	assert.Equal(t, types.BlackboardState{Consensus: "c0", Conflicts: "x vs y", Facts: "f0"}, *patch.Blackboard)
	assert.Nil(t, patch.ConductorEnabled)
	assert.False(t, patch.ClearConductorPersona)

	// 原快照不被修改
	assert.Equal(t, 3, snap.Session.AutoReplyCount)
	assert.Equal(t, "", snap.Session.Blackboard.Conflicts)
}

func TestPatchFor_WaitLeavesAutoReply(t *testing.T) {
	snap := snapshot(5, 10)
	plan := Decide(snap, selector.Decision{Action: selector.WaitForUser{}})
	patch := patchFor(snap.Session, plan.Effects)
	assert.Nil(t, patch.AutoReplyCount)
	assert.Nil(t, patch.Blackboard)
	require.NotNil(t, patch.TokenCount)
	assert.Equal(t, 130, *patch.TokenCount)
}
