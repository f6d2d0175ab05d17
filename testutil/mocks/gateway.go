// MockGateway 是 llm.Gateway 的测试模拟实现。
//
// 支持固定响应、按顺序的脚本响应、延迟与错误注入，并记录每次调用。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/muchaco/council/llm"
)

// --- MockGateway 结构 ---

// MockGateway 是 llm.Gateway 的模拟实现
type MockGateway struct {
	mu sync.RWMutex

	// 响应配置
	response   string
	script     []ScriptedResponse
	tokenCount *int
	err        error
	models     []llm.Model

	generateFunc func(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error)

	// 行为控制
	delay time.Duration

	// 调用记录
	calls     []*llm.GenerateRequest
	listCalls int
}

// ScriptedResponse is one queued reply. A non-nil Err is returned instead of Content.
type ScriptedResponse struct {
	Content    string
	TokenCount *int
	Err        error
}

// --- 构造函数和 Builder 方法 ---

// NewMockGateway 创建新的 MockGateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		response: "Mock response",
		models: []llm.Model{{
			ID:               "gemini-mock",
			DisplayName:      "Gemini Mock",
			SupportedMethods: []string{"generateContent"},
		}},
	}
}

// WithResponse 设置固定响应内容
func (m *MockGateway) WithResponse(content string) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = content
	return m
}

// WithTokenCount 设置上报的 token 数，nil 表示不上报
func (m *MockGateway) WithTokenCount(n *int) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenCount = n
	return m
}

// WithError 设置返回错误
func (m *MockGateway) WithError(err error) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithScript 按顺序返回响应，用完后回落到固定响应
func (m *MockGateway) WithScript(responses ...ScriptedResponse) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
	return m
}

// WithDelay 设置响应延迟
func (m *MockGateway) WithDelay(d time.Duration) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithModels 设置 ListModels 的返回值
func (m *MockGateway) WithModels(models ...llm.Model) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = models
	return m
}

// WithGenerateFunc 设置自定义 Generate 函数
func (m *MockGateway) WithGenerateFunc(fn func(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error)) *MockGateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generateFunc = fn
	return m
}

// --- Gateway 接口实现 ---

// Name 返回网关名称
func (m *MockGateway) Name() string {
	return "mock"
}

// Generate 返回配置的响应
func (m *MockGateway) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	delay := m.delay
	fn := m.generateFunc
	var next *ScriptedResponse
	if len(m.script) > 0 {
		next = &m.script[0]
		m.script = m.script[1:]
	}
	content, tokens, err := m.response, m.tokenCount, m.err
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if next != nil {
		content, tokens, err = next.Content, next.TokenCount, next.Err
	}
	if err != nil {
		return nil, err
	}
	return &llm.GenerateResponse{Content: content, TokenCount: tokens, Model: req.Model, FinishReason: "STOP"}, nil
}

// ListModels 返回配置的模型列表
func (m *MockGateway) ListModels(ctx context.Context) ([]llm.Model, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.err != nil {
		return nil, m.err
	}
	return append([]llm.Model(nil), m.models...), nil
}

// --- 调用记录 ---

// Calls 返回所有 Generate 请求
func (m *MockGateway) Calls() []*llm.GenerateRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*llm.GenerateRequest(nil), m.calls...)
}

// CallCount 返回 Generate 调用次数
func (m *MockGateway) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// LastCall 返回最后一次请求
func (m *MockGateway) LastCall() *llm.GenerateRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// ListCalls 返回 ListModels 调用次数
func (m *MockGateway) ListCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCalls
}

// Reset 清空调用记录
func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.listCalls = 0
	m.script = nil
}

var _ llm.Gateway = (*MockGateway)(nil)
