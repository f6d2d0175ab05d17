package selector

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muchaco/council/llm"
	"github.com/muchaco/council/llm/tokenizer"
	"github.com/muchaco/council/testutil/fixtures"
	"github.com/muchaco/council/testutil/mocks"
	"github.com/muchaco/council/types"
)

// =============================================================================
// ExtractObject
// =============================================================================

func TestExtractObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"prose around", "here: {\"a\":{\"b\":2}} done", `{"a":{"b":2}}`, true},
		{"brace in string", `{"a":"x}y{"}`, `{"a":"x}y{"}`, true},
		{"escaped quote", `{"a":"say \"}\" now"}`, `{"a":"say \"}\" now"}`, true},
		{"first of two", `{"a":1} {"b":2}`, `{"a":1}`, true},
		{"unbalanced then balanced", `{ oops {"a":1}`, `{"a":1}`, true},
		{"none", "no json here", "", false},
		{"only closing", "}}", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractObject(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// ParseDecision
// =============================================================================

func TestParseDecision_TriggerPersona(t *testing.T) {
	d, err := ParseDecision(fixtures.WrappedInProse(fixtures.DecisionJSON("p1", "p1 has not spoken")))
	require.NoError(t, err)
	assert.Equal(t, TriggerPersona{PersonaID: "p1"}, d.Action)
	assert.Equal(t, "p1 has not spoken", d.Reasoning)
	id, ok := d.SelectedPersona()
	assert.True(t, ok)
	assert.Equal(t, "p1", id)
}

func TestParseDecision_WaitForUser(t *testing.T) {
	d, err := ParseDecision(fixtures.WaitForUserJSON("need budget numbers"))
	require.NoError(t, err)
	assert.Equal(t, WaitForUser{}, d.Action)
	_, ok := d.SelectedPersona()
	assert.False(t, ok)
}

func TestParseDecision_FullObject(t *testing.T) {
	raw := fixtures.DecisionWithBlackboardJSON("p2", types.BlackboardUpdate{
		Consensus: types.StringPtr("tiered pricing"),
		Facts:     types.StringPtr(""),
	})
	d, err := ParseDecision(raw)
	require.NoError(t, err)
	require.NotNil(t, d.BlackboardUpdate.Consensus)
	assert.Equal(t, "tiered pricing", *d.BlackboardUpdate.Consensus)
	require.NotNil(t, d.BlackboardUpdate.Facts, "explicit blank is kept")
	assert.Equal(t, "", *d.BlackboardUpdate.Facts)
	assert.Nil(t, d.BlackboardUpdate.Conflicts)

	d, err = ParseDecision(fixtures.InterventionJSON("p1", "back to pricing", true))
	require.NoError(t, err)
	assert.True(t, d.IsIntervention)
	assert.True(t, d.DriftDetected)
	assert.Equal(t, "back to pricing", d.InterventionMessage)

	// 只有 reasoning 的干预仍然有效，内容回退到 reasoning
	d, err = ParseDecision(fixtures.InterventionJSON("p1", "", false))
	require.NoError(t, err)
	assert.True(t, d.IsIntervention)
	assert.Empty(t, d.InterventionMessage)
}

func TestParseDecision_Malformed(t *testing.T) {
	cases := map[string]string{
		"no object":               fixtures.NoObjectResponse(),
		"wrong type":              fixtures.WrongTypeResponse(),
		"unknown field":           fixtures.UnknownFieldResponse("p1"),
		"missing required":        `{"reasoning":"x"}`,
		"empty persona":           `{"selectedPersonaId":"","reasoning":"x"}`,
		"bad blackboard":          `{"selectedPersonaId":"p1","reasoning":"x","blackboardUpdate":{"consensus":3}}`,
		"truncated":               `{"selectedPersonaId":"p1","reasoning":"x"`,
		"blank intervention":      fixtures.BlankInterventionResponse("p1"),
		"intervention no message": `{"selectedPersonaId":"p1","reasoning":"","isIntervention":true}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDecision(raw)
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrValidation))
			assert.True(t, IsMalformed(err))
			assert.False(t, IsUnknownPersona(err))
		})
	}
}

func TestCheckRoster(t *testing.T) {
	roster := []types.Persona{{ID: "p1"}, {ID: "p2"}}

	assert.NoError(t, CheckRoster(Decision{Action: TriggerPersona{PersonaID: "p2"}}, roster))
	assert.NoError(t, CheckRoster(Decision{Action: WaitForUser{}}, roster))

	err := CheckRoster(Decision{Action: TriggerPersona{PersonaID: "p9"}}, roster)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
	assert.True(t, IsUnknownPersona(err))
}

// =============================================================================
// BuildPrompt
// =============================================================================

func TestBuildPrompt(t *testing.T) {
	sess := &types.Session{
		ID:         "s1",
		Problem:    "Pick a database",
		OutputGoal: "One recommendation",
		Blackboard: &types.BlackboardState{Consensus: "must be SQL"},
	}
	roster := []types.Persona{
		{ID: "p1", Name: "Ada", Role: "DBA\nwith   opinions", HiddenAgenda: "prefers postgres"},
	}
	msgs := []types.Message{
		{TurnNumber: 1, Content: "What should we use?"},
		{TurnNumber: 2, PersonaID: types.StringPtr("p1"), Content: "Postgres."},
		{TurnNumber: 3, PersonaID: types.StringPtr("c"), Content: "Focus.", Metadata: &types.MessageMetadata{IsIntervention: true}},
	}

	system, user := BuildPrompt(PromptInput{
		Session:  sess,
		Roster:   roster,
		Messages: msgs,
		Names:    map[string]string{"p1": "Ada", "c": "Mod"},
	})

	assert.Contains(t, system, WaitForUserSentinel)
	assert.Contains(t, system, "Never quote or reveal")
	assert.Contains(t, user, "Pick a database")
	assert.Contains(t, user, "One recommendation")
	assert.Contains(t, user, "Consensus: must be SQL")
	assert.Contains(t, user, "Conflicts: (empty)")
	assert.Contains(t, user, "[1] User: What should we use?")
	assert.Contains(t, user, "[2] Ada: Postgres.")
	assert.Contains(t, user, "[3] Mod (conductor): Focus.")
	assert.Contains(t, user, "role: DBA with opinions")
	assert.Contains(t, user, "id: p1")
	assert.Contains(t, user, "prefers postgres")
}

// =============================================================================
// Selector
// =============================================================================

func request(roster ...types.Persona) Request {
	return Request{
		Session: &types.Session{ID: "s1", Problem: "p"},
		Model:   "gemini-conductor",
		Roster:  roster,
	}
}

func TestSelector_Select(t *testing.T) {
	tokens := 321
	gw := mocks.NewMockGateway().
		WithResponse(fixtures.DecisionJSON("p1", "fresh voice")).
		WithTokenCount(&tokens)
	s := New(gw, nil, DefaultConfig(), nil)

	res, err := s.Select(context.Background(), request(types.Persona{ID: "p1", Name: "A"}))
	require.NoError(t, err)
	assert.Equal(t, TriggerPersona{PersonaID: "p1"}, res.Decision.Action)
	assert.Equal(t, 321, res.TokensUsed)
	assert.False(t, res.Estimated)

	call := gw.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "gemini-conductor", call.Model)
	assert.InDelta(t, 0.3, call.Temperature, 1e-9)
	assert.Equal(t, 1024, call.MaxTokens)
	require.Len(t, call.Messages, 1)
	assert.Equal(t, llm.RoleUser, call.Messages[0].Role)
}

type fixedCounter struct{ n int }

func (c fixedCounter) CountTokens(string) (int, error) { return c.n, nil }
func (c fixedCounter) CountMessages([]tokenizer.Message) (int, error) {
	return c.n, nil
}
func (c fixedCounter) Name() string { return "fixed" }

func TestSelector_EstimatesTokensWhenUnreported(t *testing.T) {
	gw := mocks.NewMockGateway().WithResponse(fixtures.WaitForUserJSON("ask"))
	s := New(gw, fixedCounter{n: 77}, DefaultConfig(), nil)

	res, err := s.Select(context.Background(), request(types.Persona{ID: "p1"}))
	require.NoError(t, err)
	assert.Equal(t, WaitForUser{}, res.Decision.Action)
	assert.Equal(t, 77, res.TokensUsed)
	assert.True(t, res.Estimated)
}

func TestSelector_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("gateway error propagates", func(t *testing.T) {
		gw := mocks.NewMockGateway().WithError(llm.NewRateLimitError("gemini", "slow down"))
		_, err := New(gw, nil, DefaultConfig(), nil).Select(ctx, request(types.Persona{ID: "p1"}))
		assert.True(t, types.IsErrorCode(err, types.ErrGatewayRateLimit))
	})

	t.Run("malformed output", func(t *testing.T) {
		gw := mocks.NewMockGateway().WithResponse(fixtures.NoObjectResponse())
		_, err := New(gw, nil, DefaultConfig(), nil).Select(ctx, request(types.Persona{ID: "p1"}))
		assert.True(t, IsMalformed(err))
	})

	t.Run("unknown persona", func(t *testing.T) {
		gw := mocks.NewMockGateway().WithResponse(fixtures.DecisionJSON("ghost", "x"))
		_, err := New(gw, nil, DefaultConfig(), nil).Select(ctx, request(types.Persona{ID: "p1"}))
		assert.True(t, IsUnknownPersona(err))
	})

	t.Run("empty roster", func(t *testing.T) {
		gw := mocks.NewMockGateway()
		_, err := New(gw, nil, DefaultConfig(), nil).Select(ctx, request())
		assert.True(t, types.IsErrorCode(err, types.ErrConfiguration))
		assert.Equal(t, 0, gw.CallCount(), "no gateway call without candidates")
	})
}

func TestSelector_SetConfig(t *testing.T) {
	s := New(mocks.NewMockGateway(), nil, Config{}, nil)
	assert.Equal(t, DefaultConfig(), s.Config())

	s.SetConfig(Config{Temperature: 0.1, MaxTokens: 256, RecentWindow: 4})
	assert.Equal(t, Config{Temperature: 0.1, MaxTokens: 256, RecentWindow: 4}, s.Config())
}

func TestActionName(t *testing.T) {
	assert.Equal(t, "trigger:p1", actionName(TriggerPersona{PersonaID: "p1"}))
	assert.Equal(t, "wait_for_user", actionName(WaitForUser{}))
	assert.True(t, strings.HasPrefix(actionName(nil), "unknown"))
}
