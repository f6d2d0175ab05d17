package conductor

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/muchaco/council/agent/circuitbreaker"
	"github.com/muchaco/council/agent/hush"
	"github.com/muchaco/council/agent/persistence"
	"github.com/muchaco/council/agent/selector"
	"github.com/muchaco/council/agent/turn"
	"github.com/muchaco/council/internal/sessionlock"
	"github.com/muchaco/council/llm"
	"github.com/muchaco/council/llm/tokenizer"
	"github.com/muchaco/council/types"
)

// ResultKind is the outcome of ProcessTurn.
type ResultKind string

const (
	ResultTriggerPersona ResultKind = "trigger_persona"
	ResultWaitForUser    ResultKind = "wait_for_user"
	ResultBlocked        ResultKind = "blocked"
	ResultError          ResultKind = "error"
)

// TurnResult tells the caller what to do after a cycle. For
// ResultTriggerPersona the caller generates that persona's response
// outside the conductor and stores it with RecordPersonaResponse.
type TurnResult struct {
	Kind          ResultKind             `json:"kind"`
	PersonaID     string                 `json:"personaId,omitempty"`
	Reasoning     string                 `json:"reasoning,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	Warning       string                 `json:"warning,omitempty"`
	DriftDetected bool                   `json:"driftDetected,omitempty"`
	Intervention  *types.Message         `json:"intervention,omitempty"`
	Blackboard    *types.BlackboardState `json:"blackboard,omitempty"`
	TokensUsed    int                    `json:"tokensUsed"`
	State         State                  `json:"state"`
}

// Config 调度器配置，可热更新
type Config struct {
	Limits      circuitbreaker.Limits `yaml:",inline" json:"limits"`
	Selector    selector.Config       `yaml:",inline" json:"selector"`
	HushPresets []int                 `yaml:"hush_presets" json:"hush_presets"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Limits:      circuitbreaker.DefaultLimits(),
		Selector:    selector.DefaultConfig(),
		HushPresets: append([]int(nil), hush.DefaultPresets...),
	}
}

// Deps are the collaborators of a Conductor. Store and Gateway are required.
type Deps struct {
	Store    persistence.Store
	Gateway  llm.Gateway
	States   StateStore
	Hub      *Hub
	Archive  ArchiveSink
	Recorder Recorder
	Counter  tokenizer.Counter
	Locks    *sessionlock.Locker
}

// Conductor runs the per-session control loop.
type Conductor struct {
	store    persistence.Store
	states   StateStore
	hub      *Hub
	archive  ArchiveSink
	recorder Recorder
	counter  tokenizer.Counter
	locks    *sessionlock.Locker

	breaker  *circuitbreaker.Policy
	hush     *hush.Registry
	turns    *turn.Sequencer
	selector *selector.Selector

	tracer trace.Tracer
	logger *zap.Logger
	now    func() time.Time

	// stateMu makes read-modify-write of conductor states atomic in this process.
	stateMu sync.Mutex
}

// New wires a Conductor.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Conductor, error) {
	if deps.Store == nil {
		return nil, types.NewConfigurationError("conductor requires a store")
	}
	if deps.Gateway == nil {
		return nil, types.NewConfigurationError("conductor requires a generation gateway")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.States == nil {
		deps.States = NewMemoryStateStore()
	}
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	if deps.Archive == nil {
		deps.Archive = nopSink{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Counter == nil {
		deps.Counter = tokenizer.NewDefault(logger)
	}
	if deps.Locks == nil {
		deps.Locks = sessionlock.New()
	}

	c := &Conductor{
		store:    deps.Store,
		states:   deps.States,
		hub:      deps.Hub,
		archive:  deps.Archive,
		recorder: deps.Recorder,
		counter:  deps.Counter,
		locks:    deps.Locks,
		breaker:  circuitbreaker.NewPolicy(cfg.Limits),
		hush:     hush.NewRegistry(deps.Store, logger),
		turns:    turn.NewSequencer(deps.Store, deps.Locks, logger),
		selector: selector.New(deps.Gateway, deps.Counter, cfg.Selector, logger),
		tracer:   otel.Tracer("github.com/muchaco/council/agent/conductor"),
		logger:   logger.With(zap.String("component", "conductor")),
		now:      time.Now,
	}
	c.hush.SetPresets(cfg.HushPresets)
	return c, nil
}

// ApplyConfig swaps limits, selector parameters and hush presets.
func (c *Conductor) ApplyConfig(cfg Config) {
	c.breaker.SetLimits(cfg.Limits)
	c.selector.SetConfig(cfg.Selector)
	c.hush.SetPresets(cfg.HushPresets)
	c.logger.Info("conductor config applied",
		zap.Int("max_auto_replies", c.breaker.Limits().MaxAutoReplies),
		zap.Int("token_budget_default", c.breaker.Limits().TokenBudget))
}

// CurrentConfig returns the active configuration.
func (c *Conductor) CurrentConfig() Config {
	return Config{
		Limits:      c.breaker.Limits(),
		Selector:    c.selector.Config(),
		HushPresets: c.hush.Presets(),
	}
}

// Hub returns the event hub.
func (c *Conductor) Hub() *Hub { return c.hub }

// Subscribe streams events of sessionID.
func (c *Conductor) Subscribe(sessionID string) (<-chan Event, func()) {
	return c.hub.Subscribe(sessionID)
}

// =============================================================================
// 会话锁与状态
// =============================================================================

func (c *Conductor) lock(ctx context.Context, sessionID string) (func(), error) {
	unlock, err := c.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, types.NewError(types.ErrTimeout, "waiting for session "+sessionID).WithCause(err)
	}
	return unlock, nil
}

// State returns the conductor state of sessionID.
func (c *Conductor) State(ctx context.Context, sessionID string) (State, error) {
	if _, err := c.store.GetSession(ctx, sessionID); err != nil {
		return "", err
	}
	return c.states.Get(ctx, sessionID)
}

// setState moves to next. A manual pause set while a cycle was running wins
// unless force is true.
func (c *Conductor) setState(ctx context.Context, sessionID string, next State, force bool) (State, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	cur, err := c.states.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if cur == StateManualPaused && !force && next != StateManualPaused {
		return cur, nil
	}
	if cur == next {
		return cur, nil
	}
	if err := c.states.Set(ctx, sessionID, next); err != nil {
		return cur, err
	}
	c.recorder.RecordStateChange(string(cur), string(next))
	c.hub.Publish(Event{Type: EventStateChanged, SessionID: sessionID, State: next})
	return next, nil
}

// beginCycle checks the current state and enters processing.
func (c *Conductor) beginCycle(ctx context.Context, sessionID string) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	cur, err := c.states.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if cur == StateManualPaused {
		return types.NewError(types.ErrConductorPaused, "conductor is paused for session "+sessionID)
	}
	if cur == StateProcessing {
		// 持有会话锁时仍为 processing，说明上次循环未正常结束
		c.logger.Warn("stale processing state", zap.String("session_id", sessionID))
		cur = StateIdle
	}
	if !CanTransition(cur, StateProcessing) {
		return invalidTransition(cur, StateProcessing)
	}
	if err := c.states.Set(ctx, sessionID, StateProcessing); err != nil {
		return err
	}
	c.recorder.RecordStateChange(string(cur), string(StateProcessing))
	c.hub.Publish(Event{Type: EventStateChanged, SessionID: sessionID, State: StateProcessing})
	return nil
}

// =============================================================================
// 控制循环
// =============================================================================

// ProcessTurn runs one conductor cycle. On failure the result has
// ResultError and err is non-nil; counters and blackboard are untouched.
func (c *Conductor) ProcessTurn(ctx context.Context, sessionID string) (res *TurnResult, err error) {
	ctx, span := c.tracer.Start(ctx, "conductor.process_turn",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	start := c.now()
	defer func() {
		outcome := string(ResultError)
		if res != nil {
			outcome = string(res.Kind)
			span.SetAttributes(attribute.String("conductor.outcome", outcome))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		c.recorder.RecordCycle(outcome, time.Since(start))
		span.End()
	}()

	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return errorResult(StateIdle, err), err
	}
	defer unlock()

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return errorResult(StateIdle, err), err
	}
	if sess.IsArchived() {
		err := types.NewError(types.ErrSessionArchived, "session "+sessionID+" is archived")
		return errorResult(StateIdle, err), err
	}
	if !sess.ConductorEnabled || sess.ConductorPersonaID == nil {
		err := types.NewConfigurationError("conductor is not enabled for session %s", sessionID)
		return errorResult(StateIdle, err), err
	}

	if err := c.beginCycle(ctx, sessionID); err != nil {
		st, _ := c.states.Get(ctx, sessionID)
		return errorResult(st, err), err
	}

	verdict := c.breaker.Evaluate(sess)
	if verdict.Kind == circuitbreaker.Stop {
		st, serr := c.setState(ctx, sessionID, StateBlocked, false)
		if serr != nil {
			return c.fail(ctx, sessionID, serr)
		}
		c.recorder.RecordBreakerTrip(string(verdict.Reason))
		c.hub.Publish(Event{Type: EventBlocked, SessionID: sessionID, State: st, Reason: verdict.Message})
		c.logger.Info("circuit breaker stopped conductor",
			zap.String("session_id", sessionID),
			zap.String("reason", string(verdict.Reason)),
			zap.Int("auto_replies", sess.AutoReplyCount),
			zap.Int("tokens", sess.TokenCount))
		return &TurnResult{Kind: ResultBlocked, Reason: verdict.Message, State: st}, nil
	}

	personas, err := c.store.GetSessionPersonas(ctx, sessionID)
	if err != nil {
		return c.fail(ctx, sessionID, err)
	}
	conductorID := *sess.ConductorPersonaID
	conductorPersona, ok := types.FindPersona(personas, conductorID)
	if !ok {
		return c.fail(ctx, sessionID, types.NewConfigurationError(
			"conductor persona %s is not a participant of session %s", conductorID, sessionID))
	}
	eligible := hush.Eligible(personas, conductorID)
	if len(eligible) == 0 {
		return c.fail(ctx, sessionID, types.NewConfigurationError(
			"no persona is eligible to speak in session %s", sessionID))
	}

	recent, err := c.store.GetLastMessages(ctx, sessionID, c.selector.Config().RecentWindow)
	if err != nil {
		return c.fail(ctx, sessionID, err)
	}

	names := make(map[string]string, len(personas))
	for _, p := range personas {
		names[p.ID] = p.Name
	}

	sel, err := c.selector.Select(ctx, selector.Request{
		Session:  sess,
		Model:    conductorPersona.ModelID,
		Roster:   eligible,
		Messages: recent,
		Names:    names,
	})
	if err != nil {
		return c.fail(ctx, sessionID, err)
	}
	c.recorder.RecordSelectorTokens(sel.TokensUsed, sel.Estimated)

	plan := Decide(Snapshot{Session: sess, ConductorID: conductorID, SelectorTokens: sel.TokensUsed}, sel.Decision)
	applied, err := c.apply(ctx, sessionID, plan)
	if err != nil {
		return c.fail(ctx, sessionID, err)
	}

	result := plan.Result
	if verdict.Kind == circuitbreaker.Warn {
		result.Warning = verdict.Message
		c.hub.Publish(Event{Type: EventWarning, SessionID: sessionID, Reason: verdict.Message})
	}
	result.Intervention = applied.intervention
	if applied.blackboardChanged {
		bb := applied.session.BlackboardOrEmpty()
		result.Blackboard = &bb
	}

	st, err := c.setState(ctx, sessionID, plan.Next, false)
	if err != nil {
		return c.fail(ctx, sessionID, err)
	}
	result.State = st
	c.publishOutcome(sessionID, &result)
	return &result, nil
}

type applyResult struct {
	session           *types.Session
	intervention      *types.Message
	blackboardChanged bool
}

// apply runs the plan's effects in one transaction, in plan order.
func (c *Conductor) apply(ctx context.Context, sessionID string, plan Plan) (*applyResult, error) {
	out := &applyResult{}
	err := c.store.WithTx(ctx, func(tx persistence.Store) error {
		current, err := tx.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		for _, e := range plan.Effects {
			switch v := e.(type) {
			case PersistIntervention:
				msg, err := c.turns.RecordWith(ctx, tx, turn.InterventionEntry(
					sessionID, v.ConductorID, v.Content, v.Reasoning, v.Drift))
				if err != nil {
					return err
				}
				out.intervention = msg
			case DecrementHush:
				if err := c.hush.WithStore(tx).DecrementAll(ctx, sessionID); err != nil {
					return err
				}
			case MergeBlackboard:
				out.blackboardChanged = true
			}
		}
		patch := patchFor(current, plan.Effects)
		if patch.IsEmpty() {
			out.session = current
			return nil
		}
		updated, err := tx.UpdateSession(ctx, sessionID, patch)
		if err != nil {
			return err
		}
		out.session = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Conductor) publishOutcome(sessionID string, r *TurnResult) {
	if r.Blackboard != nil {
		c.hub.Publish(Event{Type: EventBlackboard, SessionID: sessionID, Blackboard: r.Blackboard})
	}
	if r.Intervention != nil {
		c.hub.Publish(Event{Type: EventIntervention, SessionID: sessionID, Message: r.Intervention})
	}
	switch r.Kind {
	case ResultTriggerPersona:
		c.hub.Publish(Event{Type: EventSpeakerSelected, SessionID: sessionID, State: r.State, PersonaID: r.PersonaID, Reason: r.Reasoning})
	case ResultWaitForUser:
		c.hub.Publish(Event{Type: EventWaitingForUser, SessionID: sessionID, State: r.State, Reason: r.Reasoning})
	}
}

// fail ends a cycle in idle and reports err.
func (c *Conductor) fail(ctx context.Context, sessionID string, err error) (*TurnResult, error) {
	st, serr := c.setState(ctx, sessionID, StateIdle, false)
	if serr != nil {
		c.logger.Error("failed to reset conductor state", zap.String("session_id", sessionID), zap.Error(serr))
	}
	c.logger.Warn("conductor cycle failed",
		zap.String("session_id", sessionID),
		zap.String("code", string(types.GetErrorCode(err))),
		zap.Error(err))
	c.hub.Publish(Event{Type: EventError, SessionID: sessionID, State: st, Reason: err.Error()})
	return errorResult(st, err), err
}

func errorResult(st State, err error) *TurnResult {
	if st == "" {
		st = StateIdle
	}
	return &TurnResult{Kind: ResultError, Reason: err.Error(), State: st}
}

// =============================================================================
// 调度器开关与熔断重置
// =============================================================================

// EnableConductor turns the conductor on with conductorPersonaID as its voice.
// The auto-reply count starts from zero.
func (c *Conductor) EnableConductor(ctx context.Context, sessionID, conductorPersonaID string) (*types.Session, error) {
	if conductorPersonaID == "" {
		return nil, types.NewValidationError("conductor persona id is required")
	}
	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := c.activeSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	personas, err := c.store.GetSessionPersonas(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if _, ok := types.FindPersona(personas, conductorPersonaID); !ok {
		return nil, types.NewNotFoundError("session persona", conductorPersonaID)
	}

	updated, err := c.store.UpdateSession(ctx, sess.ID, types.SessionPatch{
		ConductorEnabled:   types.BoolPtr(true),
		ConductorPersonaID: types.StringPtr(conductorPersonaID),
		AutoReplyCount:     types.IntPtr(0),
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.setState(ctx, sessionID, StateIdle, true); err != nil {
		return nil, err
	}
	c.hub.Publish(Event{Type: EventConductorToggled, SessionID: sessionID, PersonaID: conductorPersonaID, State: StateIdle})
	c.logger.Info("conductor enabled", zap.String("session_id", sessionID), zap.String("persona_id", conductorPersonaID))
	return updated, nil
}

// DisableConductor turns the conductor off, clearing the conductor persona
// and resetting the auto-reply count to zero.
func (c *Conductor) DisableConductor(ctx context.Context, sessionID string) (*types.Session, error) {
	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := c.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	updated, err := c.store.UpdateSession(ctx, sessionID, types.SessionPatch{
		ConductorEnabled:      types.BoolPtr(false),
		ClearConductorPersona: true,
		AutoReplyCount:        types.IntPtr(0),
	})
	if err != nil {
		return nil, err
	}
	if err := c.states.Delete(ctx, sessionID); err != nil {
		return nil, err
	}
	c.hub.Publish(Event{Type: EventConductorToggled, SessionID: sessionID, State: StateIdle})
	c.logger.Info("conductor disabled", zap.String("session_id", sessionID))
	return updated, nil
}

// ResetCircuitBreaker is the user's "continue": the auto-reply count
// returns to zero and a blocked conductor becomes idle. Token counts are kept.
func (c *Conductor) ResetCircuitBreaker(ctx context.Context, sessionID string) (*types.Session, error) {
	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := c.activeSession(ctx, sessionID); err != nil {
		return nil, err
	}
	updated, err := c.store.UpdateSession(ctx, sessionID, types.SessionPatch{AutoReplyCount: types.IntPtr(0)})
	if err != nil {
		return nil, err
	}

	c.stateMu.Lock()
	cur, err := c.states.Get(ctx, sessionID)
	c.stateMu.Unlock()
	if err != nil {
		return nil, err
	}
	if cur == StateBlocked {
		if _, err := c.setState(ctx, sessionID, StateIdle, false); err != nil {
			return nil, err
		}
	}
	c.logger.Info("circuit breaker reset", zap.String("session_id", sessionID))
	return updated, nil
}

// Pause stops automatic cycles until Resume.
func (c *Conductor) Pause(ctx context.Context, sessionID string) (State, error) {
	if _, err := c.store.GetSession(ctx, sessionID); err != nil {
		return "", err
	}
	return c.setState(ctx, sessionID, StateManualPaused, true)
}

// Resume leaves the manual pause.
func (c *Conductor) Resume(ctx context.Context, sessionID string) (State, error) {
	if _, err := c.store.GetSession(ctx, sessionID); err != nil {
		return "", err
	}
	c.stateMu.Lock()
	cur, err := c.states.Get(ctx, sessionID)
	c.stateMu.Unlock()
	if err != nil {
		return "", err
	}
	if cur != StateManualPaused {
		return cur, invalidTransition(cur, StateIdle)
	}
	return c.setState(ctx, sessionID, StateIdle, true)
}

// =============================================================================
// 黑板
// =============================================================================

// GetBlackboard returns the session blackboard, empty when never written.
func (c *Conductor) GetBlackboard(ctx context.Context, sessionID string) (types.BlackboardState, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return types.BlackboardState{}, err
	}
	return sess.BlackboardOrEmpty(), nil
}

// UpdateBlackboardManually replaces the blackboard with bb.
func (c *Conductor) UpdateBlackboardManually(ctx context.Context, sessionID string, bb types.BlackboardState) (types.BlackboardState, error) {
	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return types.BlackboardState{}, err
	}
	defer unlock()

	if _, err := c.activeSession(ctx, sessionID); err != nil {
		return types.BlackboardState{}, err
	}
	updated, err := c.store.UpdateSession(ctx, sessionID, types.SessionPatch{Blackboard: &bb})
	if err != nil {
		return types.BlackboardState{}, err
	}
	out := updated.BlackboardOrEmpty()
	c.hub.Publish(Event{Type: EventBlackboard, SessionID: sessionID, Blackboard: &out})
	return out, nil
}

// =============================================================================
// 禁言
// =============================================================================

// Hush mutes personaID for turns completed cycles.
func (c *Conductor) Hush(ctx context.Context, sessionID, personaID string, turns int) (types.HushState, error) {
	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return types.HushState{}, err
	}
	defer unlock()

	if _, err := c.activeSession(ctx, sessionID); err != nil {
		return types.HushState{}, err
	}
	h, err := c.hush.Hush(ctx, sessionID, personaID, turns)
	if err != nil {
		return types.HushState{}, err
	}
	c.hub.Publish(Event{Type: EventHushed, SessionID: sessionID, PersonaID: personaID})
	return h, nil
}

// Unhush lifts a mute.
func (c *Conductor) Unhush(ctx context.Context, sessionID, personaID string) error {
	unlock, err := c.lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := c.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	if err := c.hush.Unhush(ctx, sessionID, personaID); err != nil {
		return err
	}
	c.hub.Publish(Event{Type: EventUnhushed, SessionID: sessionID, PersonaID: personaID})
	return nil
}

// HushPresets returns the configured hush durations.
func (c *Conductor) HushPresets() []int {
	return c.hush.Presets()
}

func (c *Conductor) activeSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return activeSessionIn(ctx, c.store, sessionID)
}

func activeSessionIn(ctx context.Context, store persistence.Store, sessionID string) (*types.Session, error) {
	sess, err := store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsArchived() {
		return nil, types.NewError(types.ErrSessionArchived, "session "+sessionID+" is archived")
	}
	return sess, nil
}
