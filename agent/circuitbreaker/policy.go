package circuitbreaker

import (
	"fmt"
	"sync"

	"github.com/muchaco/council/types"
)

// Kind 熔断判定结果
type Kind int

const (
	// Continue 继续自动调度
	Continue Kind = iota
	// Warn 继续，但提示用户预算消耗
	Warn
	// Stop 停止自动调度，需要用户介入
	Stop
)

func (k Kind) String() string {
	switch k {
	case Continue:
		return "continue"
	case Warn:
		return "warn"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Reason identifies which limit produced a verdict.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonAutoReplies  Reason = "auto_reply_limit"
	ReasonTokenBudget  Reason = "token_budget"
	ReasonTokenWarning Reason = "token_warning"
)

// Verdict is the outcome of one evaluation.
type Verdict struct {
	Kind    Kind   `json:"kind"`
	Reason  Reason `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Err converts a Stop verdict into a CIRCUIT_BREAKER_STOP error.
func (v Verdict) Err() error {
	if v.Kind != Stop {
		return nil
	}
	return types.NewError(types.ErrCircuitBreakerStop, v.Message)
}

// Limits 熔断阈值
type Limits struct {
	// MaxAutoReplies 连续自动回复上限
	MaxAutoReplies int `yaml:"max_auto_replies" json:"max_auto_replies"`

	// TokenBudget 会话未设置预算时使用的默认预算
	TokenBudget int `yaml:"token_budget_default" json:"token_budget_default"`

	// WarningThreshold token 告警阈值
	WarningThreshold int `yaml:"token_warning_threshold" json:"token_warning_threshold"`
}

// DefaultLimits 返回默认阈值
func DefaultLimits() Limits {
	return Limits{
		MaxAutoReplies:   8,
		TokenBudget:      100000,
		WarningThreshold: 50000,
	}
}

func (l Limits) normalized() Limits {
	d := DefaultLimits()
	if l.MaxAutoReplies <= 0 {
		l.MaxAutoReplies = d.MaxAutoReplies
	}
	if l.TokenBudget <= 0 {
		l.TokenBudget = d.TokenBudget
	}
	if l.WarningThreshold <= 0 {
		l.WarningThreshold = d.WarningThreshold
	}
	return l
}

// Policy evaluates sessions against the limits. Evaluation is pure; the
// limits can be swapped while the service runs.
type Policy struct {
	mu     sync.RWMutex
	limits Limits
}

// NewPolicy creates a policy. Non-positive limits fall back to defaults.
func NewPolicy(limits Limits) *Policy {
	return &Policy{limits: limits.normalized()}
}

// Limits returns the active limits.
func (p *Policy) Limits() Limits {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.limits
}

// SetLimits replaces the active limits.
func (p *Policy) SetLimits(limits Limits) {
	p.mu.Lock()
	p.limits = limits.normalized()
	p.mu.Unlock()
}

// Evaluate checks the auto-reply limit first, then the budget, then the warning threshold.
func (p *Policy) Evaluate(s *types.Session) Verdict {
	return Evaluate(p.Limits(), s.AutoReplyCount, s.TokenCount, s.TokenBudget)
}

// Evaluate is the stateless form of Policy.Evaluate. A non-positive
// sessionBudget uses limits.TokenBudget.
func Evaluate(limits Limits, autoReplies, tokens, sessionBudget int) Verdict {
	limits = limits.normalized()
	budget := sessionBudget
	if budget <= 0 {
		budget = limits.TokenBudget
	}

	switch {
	case autoReplies >= limits.MaxAutoReplies:
		return Verdict{
			Kind:   Stop,
			Reason: ReasonAutoReplies,
			Message: fmt.Sprintf(
				"Auto-reply limit reached (%d consecutive turns). Continue the debate to let the conductor resume.",
				limits.MaxAutoReplies),
		}
	case tokens >= budget:
		return Verdict{
			Kind:    Stop,
			Reason:  ReasonTokenBudget,
			Message: fmt.Sprintf("Token budget exhausted (%d / %d tokens).", tokens, budget),
		}
	case tokens >= limits.WarningThreshold:
		pct := tokens * 100 / budget
		return Verdict{
			Kind:    Warn,
			Reason:  ReasonTokenWarning,
			Message: fmt.Sprintf("Token usage at %d%% of budget (%d / %d tokens).", pct, tokens, budget),
		}
	default:
		return Verdict{Kind: Continue}
	}
}
