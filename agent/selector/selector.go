package selector

import (
	"context"
	"sync"
	"time"

	"github.com/muchaco/council/llm"
	"github.com/muchaco/council/llm/tokenizer"
	"github.com/muchaco/council/types"
	"go.uber.org/zap"
)

// Config 选择器参数
type Config struct {
	// Temperature 固定的低温度，保证调度决策稳定
	Temperature float64 `yaml:"selector_temperature" json:"selector_temperature"`
	// MaxTokens 输出长度上限
	MaxTokens int `yaml:"selector_max_tokens" json:"selector_max_tokens"`
	// RecentWindow 提示词中包含的最近消息条数
	RecentWindow int `yaml:"recent_window" json:"recent_window"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{Temperature: 0.3, MaxTokens: 1024, RecentWindow: 10}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.Temperature <= 0 || c.Temperature > 2 {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = d.RecentWindow
	}
	return c
}

// Request is one selection.
type Request struct {
	Session *types.Session
	// Model is the conductor persona's model.
	Model string
	// Roster holds only the eligible personas.
	Roster   []types.Persona
	Messages []types.Message
	Names    map[string]string
}

// Result is a validated decision plus its cost.
type Result struct {
	Decision   Decision
	TokensUsed int
	// Estimated is true when TokensUsed came from the local tokenizer.
	Estimated bool
	Latency   time.Duration
}

// Selector asks the model who speaks next.
type Selector struct {
	gateway llm.Gateway
	counter tokenizer.Counter
	logger  *zap.Logger

	mu     sync.RWMutex
	config Config
}

// New creates a selector. counter may be nil, in which case the default
// tiktoken counter with estimator fallback is used.
func New(gateway llm.Gateway, counter tokenizer.Counter, config Config, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = tokenizer.NewDefault(logger)
	}
	return &Selector{
		gateway: gateway,
		counter: counter,
		config:  config.normalized(),
		logger:  logger.With(zap.String("component", "selector")),
	}
}

// Config returns the active configuration.
func (s *Selector) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// SetConfig swaps the configuration for subsequent calls.
func (s *Selector) SetConfig(c Config) {
	s.mu.Lock()
	s.config = c.normalized()
	s.mu.Unlock()
}

// Select builds the prompt, calls the gateway and validates the answer.
// Gateway failures are returned unchanged; malformed output and unknown
// personas are VALIDATION_ERROR.
func (s *Selector) Select(ctx context.Context, req Request) (*Result, error) {
	if req.Session == nil {
		return nil, types.NewValidationError("selector request has no session")
	}
	if len(req.Roster) == 0 {
		return nil, types.NewConfigurationError("no eligible personas for session %s", req.Session.ID)
	}
	cfg := s.Config()

	system, user := BuildPrompt(PromptInput{
		Session:  req.Session,
		Roster:   req.Roster,
		Messages: req.Messages,
		Names:    req.Names,
	})

	start := time.Now()
	resp, err := s.gateway.Generate(ctx, &llm.GenerateRequest{
		Model:        req.Model,
		SystemPrompt: system,
		Messages:     []llm.ChatMessage{{Role: llm.RoleUser, Content: user}},
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	})
	latency := time.Since(start)
	if err != nil {
		s.logger.Warn("selector gateway call failed",
			zap.String("session_id", req.Session.ID),
			zap.String("model", req.Model),
			zap.Error(err))
		return nil, err
	}

	tokens, estimated := s.tokensUsed(resp, system, user)

	decision, err := ParseDecision(resp.Content)
	if err != nil {
		s.logger.Warn("selector returned malformed decision",
			zap.String("session_id", req.Session.ID),
			zap.Int("response_len", len(resp.Content)),
			zap.Error(err))
		return nil, err
	}
	if err := CheckRoster(decision, req.Roster); err != nil {
		return nil, err
	}

	s.logger.Debug("speaker selected",
		zap.String("session_id", req.Session.ID),
		zap.String("action", actionName(decision.Action)),
		zap.Bool("intervention", decision.IsIntervention),
		zap.Int("tokens", tokens),
		zap.Duration("latency", latency))

	return &Result{Decision: decision, TokensUsed: tokens, Estimated: estimated, Latency: latency}, nil
}

func (s *Selector) tokensUsed(resp *llm.GenerateResponse, system, user string) (int, bool) {
	if resp.TokenCount != nil && *resp.TokenCount >= 0 {
		return *resp.TokenCount, false
	}
	n, err := s.counter.CountMessages([]tokenizer.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
		{Role: "model", Content: resp.Content},
	})
	if err != nil {
		s.logger.Warn("token estimate failed", zap.Error(err))
		return 0, true
	}
	return n, true
}

func actionName(a Action) string {
	switch v := a.(type) {
	case TriggerPersona:
		return "trigger:" + v.PersonaID
	case WaitForUser:
		return "wait_for_user"
	default:
		return "unknown"
	}
}
