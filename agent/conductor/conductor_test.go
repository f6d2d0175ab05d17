package conductor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muchaco/council/agent/circuitbreaker"
	"github.com/muchaco/council/agent/persistence"
	"github.com/muchaco/council/llm"
	"github.com/muchaco/council/llm/tokenizer"
	"github.com/muchaco/council/testutil"
	"github.com/muchaco/council/testutil/fixtures"
	"github.com/muchaco/council/testutil/mocks"
	"github.com/muchaco/council/types"
)

const selectorTokens = 50

type harness struct {
	c       *Conductor
	store   *persistence.MemoryStore
	gateway *mocks.MockGateway
	sink    *captureSink
	debate  fixtures.Debate
}

type captureSink struct {
	mu      sync.Mutex
	exports []*ArchivedSession
	err     error
}

func (s *captureSink) Export(_ context.Context, a *ArchivedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports = append(s.exports, a)
	return s.err
}

func newHarness(t *testing.T, enable bool) *harness {
	t.Helper()
	store := persistence.NewMemoryStore()
	n := selectorTokens
	gw := mocks.NewMockGateway().WithTokenCount(&n)
	sink := &captureSink{}

	c, err := New(Deps{
		Store:   store,
		Gateway: gw,
		Archive: sink,
		Counter: tokenizer.NewEstimator(),
	}, DefaultConfig(), testutil.TestLogger(t))
	require.NoError(t, err)

	h := &harness{c: c, store: store, gateway: gw, sink: sink}
	h.debate = fixtures.SeedDebate(t, store, fixtures.DebateOptions{})
	if enable {
		_, err := c.EnableConductor(context.Background(), h.sid(), h.debate.Conductor.ID)
		require.NoError(t, err)
	}
	return h
}

func (h *harness) sid() string { return h.debate.Session.ID }

func (h *harness) speaker(i int) string { return h.debate.Personas[i].ID }

func (h *harness) session(t *testing.T) *types.Session {
	t.Helper()
	s, err := h.store.GetSession(context.Background(), h.sid())
	require.NoError(t, err)
	return s
}

func (h *harness) setCounters(t *testing.T, auto, tokens int) {
	t.Helper()
	_, err := h.store.UpdateSession(context.Background(), h.sid(), types.SessionPatch{
		AutoReplyCount: types.IntPtr(auto),
		TokenCount:     types.IntPtr(tokens),
	})
	require.NoError(t, err)
}

func TestNew_RequiresStoreAndGateway(t *testing.T) {
	_, err := New(Deps{Gateway: mocks.NewMockGateway()}, DefaultConfig(), nil)
	testutil.AssertErrorCode(t, err, types.ErrConfiguration)

	_, err = New(Deps{Store: persistence.NewMemoryStore()}, DefaultConfig(), nil)
	testutil.AssertErrorCode(t, err, types.ErrConfiguration)
}

// =============================================================================
// ProcessTurn
// =============================================================================

func TestProcessTurn_TriggerPersona(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gateway.WithResponse(fixtures.DecisionJSON(h.speaker(1), "Speaker2 has not spoken"))

	res, err := h.c.ProcessTurn(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, ResultTriggerPersona, res.Kind)
	assert.Equal(t, h.speaker(1), res.PersonaID)
	assert.Equal(t, "Speaker2 has not spoken", res.Reasoning)
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, selectorTokens, res.TokensUsed)
	assert.Empty(t, res.Warning)

	sess := h.session(t)
	assert.Equal(t, 1, sess.AutoReplyCount)
	assert.Equal(t, selectorTokens, sess.TokenCount)

	// 选择器使用主持人的模型与固定温度
	call := h.gateway.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, h.debate.Conductor.ModelID, call.Model)
	assert.InDelta(t, 0.3, call.Temperature, 1e-9)
}

func TestProcessTurn_WaitForUser(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.setCounters(t, 3, 0)
	h.gateway.WithResponse(fixtures.WaitForUserJSON("the user should decide"))

	res, err := h.c.ProcessTurn(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, ResultWaitForUser, res.Kind)
	assert.Empty(t, res.PersonaID)
	assert.Equal(t, StateAwaitingInput, res.State)

	sess := h.session(t)
	assert.Equal(t, 3, sess.AutoReplyCount)
	assert.Equal(t, selectorTokens, sess.TokenCount)

	st, err := h.c.State(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingInput, st)

	_, err = h.c.RecordUserMessage(ctx, h.sid(), "let's compare the costs")
	require.NoError(t, err)
	st, err = h.c.State(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st)
}

func TestProcessTurn_NotEnabled(t *testing.T) {
	h := newHarness(t, false)

	res, err := h.c.ProcessTurn(context.Background(), h.sid())
	testutil.AssertErrorCode(t, err, types.ErrConfiguration)
	assert.Equal(t, ResultError, res.Kind)
	assert.Equal(t, 0, h.gateway.CallCount())
}

func TestProcessTurn_UnknownSession(t *testing.T) {
	h := newHarness(t, true)
	_, err := h.c.ProcessTurn(context.Background(), "missing")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

func TestProcessTurn_MalformedLeavesStateUntouched(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"no object", fixtures.NoObjectResponse()},
		{"wrong type", fixtures.WrongTypeResponse()},
		{"unknown field", fixtures.UnknownFieldResponse("x")},
		{"unknown persona", fixtures.DecisionJSON("nobody", "r")},
		{"blank intervention", fixtures.BlankInterventionResponse("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, true)
			ctx := context.Background()
			h.setCounters(t, 2, 700)
			bb := types.BlackboardState{Consensus: "keep"}
			_, err := h.c.UpdateBlackboardManually(ctx, h.sid(), bb)
			require.NoError(t, err)
			h.gateway.WithResponse(tt.response)

			res, err := h.c.ProcessTurn(ctx, h.sid())
			testutil.AssertErrorCode(t, err, types.ErrValidation)
			require.NotNil(t, res)
			assert.Equal(t, ResultError, res.Kind)
			assert.Equal(t, StateIdle, res.State)

			sess := h.session(t)
			assert.Equal(t, 2, sess.AutoReplyCount)
			assert.Equal(t, 700, sess.TokenCount)
			assert.Equal(t, bb, sess.BlackboardOrEmpty())

			msgs, err := h.store.ListMessages(ctx, h.sid())
			require.NoError(t, err)
			assert.Empty(t, msgs)
		})
	}
}

func TestProcessTurn_GatewayErrorPropagates(t *testing.T) {
	h := newHarness(t, true)
	h.setCounters(t, 1, 10)
	h.gateway.WithError(llm.NewRateLimitError("gemini", "quota exceeded"))

	res, err := h.c.ProcessTurn(context.Background(), h.sid())
	testutil.AssertErrorCode(t, err, types.ErrGatewayRateLimit)
	assert.Equal(t, ResultError, res.Kind)

	sess := h.session(t)
	assert.Equal(t, 1, sess.AutoReplyCount)
	assert.Equal(t, 10, sess.TokenCount)
}

func TestProcessTurn_InterventionAndBlackboard(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gateway.WithScript(
		mocks.ScriptedResponse{Content: fixtures.InterventionJSON(h.speaker(0), "Please focus on pricing.", true)},
		mocks.ScriptedResponse{Content: fixtures.DecisionWithBlackboardJSON(h.speaker(2), types.BlackboardUpdate{
			Consensus: types.StringPtr("tiered pricing"),
		})},
	)

	res, err := h.c.ProcessTurn(ctx, h.sid())
	require.NoError(t, err)
	require.NotNil(t, res.Intervention)
	assert.True(t, res.DriftDetected)
	assert.Equal(t, "Please focus on pricing.", res.Intervention.Content)
	assert.Equal(t, 1, res.Intervention.TurnNumber)
	require.NotNil(t, res.Intervention.PersonaID)
	assert.Equal(t, h.debate.Conductor.ID, *res.Intervention.PersonaID)
	require.NotNil(t, res.Intervention.Metadata)
	assert.True(t, res.Intervention.Metadata.IsIntervention)
	assert.True(t, res.Intervention.Metadata.DriftDetected)

	res, err = h.c.ProcessTurn(ctx, h.sid())
	require.NoError(t, err)
	require.NotNil(t, res.Blackboard)
	assert.Equal(t, "tiered pricing", res.Blackboard.Consensus)

	bb, err := h.c.GetBlackboard(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, "tiered pricing", bb.Consensus)
	assert.Equal(t, 2, h.session(t).AutoReplyCount)
}

func TestProcessTurn_HushedPersonaNeverOffered(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	hushed := h.speaker(0)

	_, err := h.c.Hush(ctx, h.sid(), hushed, 2)
	require.NoError(t, err)

	// 选择器选中被禁言的人格视为未知人格
	h.gateway.WithResponse(fixtures.DecisionJSON(hushed, "r"))
	_, err = h.c.ProcessTurn(ctx, h.sid())
	testutil.AssertErrorCode(t, err, types.ErrValidation)
	assert.NotContains(t, h.gateway.LastCall().Messages[0].Content, hushed)

	// 失败的周期不消耗禁言轮数
	remaining, err := h.c.hush.Remaining(ctx, h.sid(), hushed)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining)

	h.gateway.WithResponse(fixtures.DecisionJSON(h.speaker(1), "r"))
	for i := 0; i < 2; i++ {
		res, err := h.c.ProcessTurn(ctx, h.sid())
		require.NoError(t, err)
		assert.NotEqual(t, hushed, res.PersonaID)
	}
	remaining, err = h.c.hush.Remaining(ctx, h.sid(), hushed)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	_, err = h.c.ProcessTurn(ctx, h.sid())
	require.NoError(t, err)
	assert.Contains(t, h.gateway.LastCall().Messages[0].Content, hushed)
}

func TestProcessTurn_NoEligiblePersona(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	for _, id := range h.debate.PersonaIDs() {
		_, err := h.c.Hush(ctx, h.sid(), id, 1)
		require.NoError(t, err)
	}

	res, err := h.c.ProcessTurn(ctx, h.sid())
	testutil.AssertErrorCode(t, err, types.ErrConfiguration)
	assert.Equal(t, ResultError, res.Kind)
	assert.Equal(t, 0, h.gateway.CallCount())
}

// =============================================================================
// 熔断
// =============================================================================

func TestProcessTurn_BreakerStop(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.setCounters(t, 8, 10000)

	res, err := h.c.ProcessTurn(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, ResultBlocked, res.Kind)
	assert.Equal(t, StateBlocked, res.State)
	assert.Contains(t, res.Reason, "Auto-reply limit reached (8 consecutive turns)")
	assert.Equal(t, 0, h.gateway.CallCount())

	sess, err := h.c.ResetCircuitBreaker(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, 0, sess.AutoReplyCount)
	assert.Equal(t, 10000, sess.TokenCount)

	st, err := h.c.State(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st)

	h.gateway.WithResponse(fixtures.DecisionJSON(h.speaker(0), "r"))
	res, err = h.c.ProcessTurn(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, ResultTriggerPersona, res.Kind)
}

func TestProcessTurn_TokenBudgetStop(t *testing.T) {
	h := newHarness(t, true)
	h.setCounters(t, 0, 100000)

	res, err := h.c.ProcessTurn(context.Background(), h.sid())
	require.NoError(t, err)
	assert.Equal(t, ResultBlocked, res.Kind)
	assert.Contains(t, res.Reason, "Token budget exhausted")
}

func TestProcessTurn_Warning(t *testing.T) {
	h := newHarness(t, true)
	h.setCounters(t, 1, 60000)
	h.gateway.WithResponse(fixtures.DecisionJSON(h.speaker(0), "r"))

	res, err := h.c.ProcessTurn(context.Background(), h.sid())
	require.NoError(t, err)
	assert.Equal(t, ResultTriggerPersona, res.Kind)
	assert.Contains(t, res.Warning, "60%")
}

func TestApplyConfig_LowersLimit(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Limits.MaxAutoReplies = 1
	h.c.ApplyConfig(cfg)
	assert.Equal(t, 1, h.c.CurrentConfig().Limits.MaxAutoReplies)

	h.gateway.WithResponse(fixtures.DecisionJSON(h.speaker(0), "r"))
	res, err := h.c.ProcessTurn(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, ResultTriggerPersona, res.Kind)

	res, err = h.c.ProcessTurn(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, ResultBlocked, res.Kind)
}

// =============================================================================
// 开关
// =============================================================================

func TestDisableConductor_ResetsAutoReplyCount(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.setCounters(t, 5, 400)

	sess, err := h.c.DisableConductor(ctx, h.sid())
	require.NoError(t, err)
	assert.False(t, sess.ConductorEnabled)
	assert.Nil(t, sess.ConductorPersonaID)
	assert.Equal(t, 0, sess.AutoReplyCount)
	assert.Equal(t, 400, sess.TokenCount)

	_, err = h.c.ProcessTurn(ctx, h.sid())
	testutil.AssertErrorCode(t, err, types.ErrConfiguration)
}

func TestEnableConductor(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	h.setCounters(t, 4, 0)

	_, err := h.c.EnableConductor(ctx, h.sid(), "not-a-participant")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)

	_, err = h.c.EnableConductor(ctx, h.sid(), "")
	testutil.AssertErrorCode(t, err, types.ErrValidation)

	sess, err := h.c.EnableConductor(ctx, h.sid(), h.debate.Conductor.ID)
	require.NoError(t, err)
	assert.True(t, sess.ConductorEnabled)
	require.NotNil(t, sess.ConductorPersonaID)
	assert.Equal(t, h.debate.Conductor.ID, *sess.ConductorPersonaID)
	assert.Equal(t, 0, sess.AutoReplyCount)
}

// =============================================================================
// 暂停
// =============================================================================

func TestPauseResume(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	st, err := h.c.Pause(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, StateManualPaused, st)

	res, err := h.c.ProcessTurn(ctx, h.sid())
	testutil.AssertErrorCode(t, err, types.ErrConductorPaused)
	assert.Equal(t, StateManualPaused, res.State)
	assert.Equal(t, 0, h.gateway.CallCount())

	st, err = h.c.Resume(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, StateIdle, st)

	_, err = h.c.Resume(ctx, h.sid())
	testutil.AssertErrorCode(t, err, types.ErrInvalidTransition)
}

func TestPause_DuringCycleWins(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	target := h.speaker(0)

	h.gateway.WithGenerateFunc(func(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
		if _, err := h.c.Pause(ctx, h.sid()); err != nil {
			return nil, err
		}
		return &llm.GenerateResponse{Content: fixtures.DecisionJSON(target, "r")}, nil
	})

	res, err := h.c.ProcessTurn(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, ResultTriggerPersona, res.Kind)
	assert.Equal(t, StateManualPaused, res.State)

	st, err := h.c.State(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, StateManualPaused, st)
}

// =============================================================================
// 归档与直接发言
// =============================================================================

func TestArchiveSession(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	_, err := h.c.RecordUserMessage(ctx, h.sid(), "hello")
	require.NoError(t, err)

	sess, err := h.c.ArchiveSession(ctx, h.sid())
	require.NoError(t, err)
	assert.Equal(t, types.SessionArchived, sess.Status)
	require.NotNil(t, sess.ArchivedAt)

	require.Len(t, h.sink.exports, 1)
	exp := h.sink.exports[0]
	assert.Equal(t, h.sid(), exp.Session.ID)
	assert.Len(t, exp.Personas, 4)
	assert.Len(t, exp.Transcript, 1)

	_, err = h.c.ProcessTurn(ctx, h.sid())
	testutil.AssertErrorCode(t, err, types.ErrSessionArchived)

	_, err = h.c.Hush(ctx, h.sid(), h.speaker(0), 1)
	testutil.AssertErrorCode(t, err, types.ErrSessionArchived)

	// 重复归档不再导出
	_, err = h.c.ArchiveSession(ctx, h.sid())
	require.NoError(t, err)
	assert.Len(t, h.sink.exports, 1)
}

func TestArchiveSession_SinkFailureIsNotFatal(t *testing.T) {
	h := newHarness(t, true)
	h.sink.err = errors.New("mongo down")

	sess, err := h.c.ArchiveSession(context.Background(), h.sid())
	require.NoError(t, err)
	assert.True(t, sess.IsArchived())
}

func TestAskPersona(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	p, err := h.c.AskPersona(ctx, h.sid(), h.speaker(0))
	require.NoError(t, err)
	assert.Equal(t, "Speaker1", p.Name)
	assert.NotEmpty(t, p.HiddenAgenda)

	_, err = h.c.Hush(ctx, h.sid(), h.speaker(0), 1)
	require.NoError(t, err)
	_, err = h.c.AskPersona(ctx, h.sid(), h.speaker(0))
	testutil.AssertErrorCode(t, err, types.ErrPersonaHushed)

	_, err = h.c.AskPersona(ctx, h.sid(), "stranger")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

func TestRecordPersonaResponse(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	msg, err := h.c.RecordPersonaResponse(ctx, h.sid(), h.speaker(0), "usage pricing scares customers", 33)
	require.NoError(t, err)
	assert.Equal(t, 1, msg.TurnNumber)
	assert.Equal(t, 33, msg.TokenCount)
	assert.Equal(t, 33, h.session(t).TokenCount)

	_, err = h.c.RecordPersonaResponse(ctx, h.sid(), h.speaker(0), "   ", 1)
	testutil.AssertErrorCode(t, err, types.ErrValidation)

	_, err = h.c.RecordPersonaResponse(ctx, h.sid(), "stranger", "hi", 1)
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

func TestRecordMessages_RejectedEntriesTakeNoTurn(t *testing.T) {
	tests := []struct {
		name    string
		archive bool
		record  func(h *harness) error
		code    types.ErrorCode
	}{
		{
			name: "stranger persona",
			record: func(h *harness) error {
				_, err := h.c.RecordPersonaResponse(context.Background(), h.sid(), "stranger", "hi", 4)
				return err
			},
			code: types.ErrNotFound,
		},
		{
			name:    "persona on archived session",
			archive: true,
			record: func(h *harness) error {
				_, err := h.c.RecordPersonaResponse(context.Background(), h.sid(), h.speaker(0), "hi", 4)
				return err
			},
			code: types.ErrSessionArchived,
		},
		{
			name:    "user on archived session",
			archive: true,
			record: func(h *harness) error {
				_, err := h.c.RecordUserMessage(context.Background(), h.sid(), "hello")
				return err
			},
			code: types.ErrSessionArchived,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, false)
			ctx := context.Background()
			if tt.archive {
				_, err := h.c.ArchiveSession(ctx, h.sid())
				require.NoError(t, err)
			}

			testutil.AssertErrorCode(t, tt.record(h), tt.code)

			// 被拒绝的消息不占轮次，也不计入 token
			next, err := h.store.GetNextTurnNumber(ctx, h.sid())
			require.NoError(t, err)
			assert.Equal(t, 1, next)
			assert.Equal(t, 0, h.session(t).TokenCount)
		})
	}
}

func TestRecordUserMessage_WaitsForRunningCycle(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()

	// 持有会话锁模拟进行中的周期
	unlock, err := h.c.lock(ctx, h.sid())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.c.RecordUserMessage(ctx, h.sid(), "are we there yet")
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("recorded while the session was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	unlock()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("user message never recorded")
	}
	msgs, err := h.store.ListMessages(ctx, h.sid())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].TurnNumber)
}

func TestAddPersonaAndTranscript(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	created, err := h.c.AddPersona(ctx, h.sid(), fixtures.Persona("late", "Latecomer"))
	require.NoError(t, err)
	personas, err := h.c.Personas(ctx, h.sid())
	require.NoError(t, err)
	_, ok := types.FindPersona(personas, created.ID)
	assert.True(t, ok)

	_, err = h.c.AddPersona(ctx, h.sid(), &types.Persona{Name: "no model"})
	testutil.AssertErrorCode(t, err, types.ErrValidation)

	_, err = h.c.RecordUserMessage(ctx, h.sid(), "first")
	require.NoError(t, err)
	_, err = h.c.RecordPersonaResponse(ctx, h.sid(), created.ID, "second", 0)
	require.NoError(t, err)

	msgs, err := h.c.Transcript(ctx, h.sid())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	testutil.AssertTurnsContiguous(t, msgs)
	assert.Positive(t, msgs[1].TokenCount)
}

func TestCreateSession_DefaultBudget(t *testing.T) {
	h := newHarness(t, false)
	sess, err := h.c.CreateSession(context.Background(), &types.Session{
		Problem:          "  Which database?  ",
		ConductorEnabled: true,
		AutoReplyCount:   9,
	})
	require.NoError(t, err)
	assert.Equal(t, "Which database?", sess.Problem)
	assert.False(t, sess.ConductorEnabled)
	assert.Equal(t, 0, sess.AutoReplyCount)
	assert.Equal(t, circuitbreaker.DefaultLimits().TokenBudget, sess.TokenBudget)

	completed, err := h.c.CompleteSession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, completed.Status)
}

// =============================================================================
// 并发
// =============================================================================

func TestProcessTurn_ConcurrentCyclesSerialize(t *testing.T) {
	h := newHarness(t, true)
	ctx := context.Background()
	h.gateway.WithResponse(fixtures.InterventionJSON(h.speaker(0), "stay focused", false))

	const cycles = 6
	var wg sync.WaitGroup
	errs := make(chan error, cycles)
	for i := 0; i < cycles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.c.ProcessTurn(ctx, h.sid()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("cycle failed: %v", err)
	}

	sess := h.session(t)
	assert.Equal(t, cycles, sess.AutoReplyCount)
	assert.Equal(t, cycles*selectorTokens, sess.TokenCount)

	msgs, err := h.store.ListMessages(ctx, h.sid())
	require.NoError(t, err)
	assert.Len(t, msgs, cycles)
	testutil.AssertTurnsContiguous(t, msgs)
}
