package llm

import (
	"context"
	"strings"

	"github.com/muchaco/council/types"
)

// Role identifies the author of a chat message sent to the gateway.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ChatMessage is one turn of conversation handed to the model.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest is a single non-streaming generation call.
type GenerateRequest struct {
	Model        string        `json:"model"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Messages     []ChatMessage `json:"messages"`
	Temperature  float64       `json:"temperature"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
}

// Validate checks the request before it is sent upstream.
func (r *GenerateRequest) Validate() error {
	if r == nil {
		return types.NewInvalidRequestError("generate request is nil")
	}
	if strings.TrimSpace(r.Model) == "" {
		return types.NewInvalidRequestError("model is required")
	}
	if len(r.Messages) == 0 {
		return types.NewInvalidRequestError("at least one message is required")
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return types.NewInvalidRequestError("temperature must be within [0,2]")
	}
	if r.MaxTokens < 0 {
		return types.NewInvalidRequestError("max_tokens must be non-negative")
	}
	return nil
}

// GenerateResponse is the model output. TokenCount is nil when the provider
// did not report usage.
type GenerateResponse struct {
	Content      string `json:"content"`
	TokenCount   *int   `json:"token_count,omitempty"`
	Model        string `json:"model,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Model describes a model offered by the provider.
type Model struct {
	ID               string   `json:"id"`
	DisplayName      string   `json:"display_name,omitempty"`
	Description      string   `json:"description,omitempty"`
	InputTokenLimit  int      `json:"input_token_limit,omitempty"`
	OutputTokenLimit int      `json:"output_token_limit,omitempty"`
	SupportedMethods []string `json:"supported_methods,omitempty"`
}

// SupportsGenerate reports whether the model can serve Generate calls.
func (m Model) SupportsGenerate() bool {
	if len(m.SupportedMethods) == 0 {
		return true
	}
	for _, method := range m.SupportedMethods {
		if method == "generateContent" {
			return true
		}
	}
	return false
}

// Gateway is the generation contract consumed by the conductor.
// Timeouts and retries are the implementation's concern; failures are
// *types.Error values with one of the GATEWAY_* codes.
type Gateway interface {
	Name() string
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)
	ListModels(ctx context.Context) ([]Model, error)
}
