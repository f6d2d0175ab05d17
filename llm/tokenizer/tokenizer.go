package tokenizer

import "go.uber.org/zap"

// Counter counts tokens for budget accounting when the gateway does not
// report usage.
type Counter interface {
	// CountTokens 返回给定文本的 token 数.
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数,
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []Message) (int, error)

	// Name 返回分词器的名称.
	Name() string
}

// Message 是一个轻量级消息结构, 由 tokenizer 包使用
// 以避免与 llm 包的循环依赖。
type Message struct {
	Role    string
	Content string
}

// Fallback tries primary and falls back to secondary when primary fails,
// e.g. when the tiktoken BPE files cannot be loaded offline.
type Fallback struct {
	primary   Counter
	secondary Counter
	logger    *zap.Logger
}

// NewFallback creates a Fallback counter.
func NewFallback(primary, secondary Counter, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// NewDefault returns tiktoken with the character estimator as fallback.
func NewDefault(logger *zap.Logger) *Fallback {
	return NewFallback(NewTiktoken(DefaultEncoding), NewEstimator(), logger)
}

func (f *Fallback) CountTokens(text string) (int, error) {
	n, err := f.primary.CountTokens(text)
	if err == nil {
		return n, nil
	}
	f.logger.Debug("primary tokenizer failed, using fallback",
		zap.String("primary", f.primary.Name()), zap.Error(err))
	return f.secondary.CountTokens(text)
}

func (f *Fallback) CountMessages(messages []Message) (int, error) {
	n, err := f.primary.CountMessages(messages)
	if err == nil {
		return n, nil
	}
	return f.secondary.CountMessages(messages)
}

func (f *Fallback) Name() string {
	return f.primary.Name() + "|" + f.secondary.Name()
}
