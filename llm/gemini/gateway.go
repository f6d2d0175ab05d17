package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/muchaco/council/internal/tlsutil"
	"github.com/muchaco/council/llm"
	"github.com/muchaco/council/llm/retry"
	"github.com/muchaco/council/types"
	"go.uber.org/zap"
)

const (
	providerName   = "gemini"
	defaultBaseURL = "https://generativelanguage.googleapis.com"
)

// Config configures the Gemini gateway.
type Config struct {
	BaseURL string        `yaml:"base_url" json:"base_url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	Retry   retry.Policy  `yaml:"retry" json:"retry"`
}

// Gateway 实现 Google Gemini 的生成网关
// Gemini API 特点：
// 1. 使用 x-goog-api-key 请求头认证
// 2. system 指令独立于 contents 传递
// 3. 助手角色名为 "model"
type Gateway struct {
	cfg     Config
	secrets llm.SecretProvider
	client  *http.Client
	retryer *retry.Retryer
	logger  *zap.Logger
}

// New creates a Gemini gateway. The API key is resolved through secrets on every call.
func New(cfg Config, secrets llm.SecretProvider, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	logger = logger.With(zap.String("component", "gemini_gateway"))

	return &Gateway{
		cfg:     cfg,
		secrets: secrets,
		client:  tlsutil.HTTPClient(cfg.Timeout),
		retryer: retry.New(cfg.Retry, logger),
		logger:  logger,
	}
}

func (g *Gateway) Name() string { return providerName }

// Gemini 消息结构
type geminiContent struct {
	Role  string       `json:"role,omitempty"` // user, model
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates     []geminiCandidate    `json:"candidates"`
	UsageMetadata  *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion   string               `json:"modelVersion,omitempty"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

type geminiModelList struct {
	Models []struct {
		Name             string   `json:"name"`
		DisplayName      string   `json:"displayName"`
		Description      string   `json:"description"`
		InputTokenLimit  int      `json:"inputTokenLimit"`
		OutputTokenLimit int      `json:"outputTokenLimit"`
		SupportedMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
	NextPageToken string `json:"nextPageToken"`
}

func toGeminiRequest(req *llm.GenerateRequest) geminiRequest {
	body := geminiRequest{}
	if strings.TrimSpace(req.SystemPrompt) != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		role := string(m.Role)
		if role != string(llm.RoleModel) {
			role = string(llm.RoleUser)
		}
		body.Contents = append(body.Contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	temp := req.Temperature
	body.GenerationConfig = &geminiGenerationConfig{
		Temperature:     &temp,
		MaxOutputTokens: req.MaxTokens,
	}
	return body
}

// Generate 调用 generateContent；可重试错误由内部重试器处理
func (g *Gateway) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(toGeminiRequest(req))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "encode gemini request").WithCause(err)
	}

	return retry.Do(ctx, g.retryer, func(ctx context.Context) (*llm.GenerateResponse, error) {
		return g.generateOnce(ctx, req.Model, payload)
	})
}

func (g *Gateway) generateOnce(ctx context.Context, model string, payload []byte) (*llm.GenerateResponse, error) {
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", g.cfg.BaseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "create gemini request").WithCause(err)
	}
	if err := g.buildHeaders(ctx, httpReq); err != nil {
		return nil, err
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, llm.NewUpstreamError(providerName, ctx.Err().Error(), false).WithCause(ctx.Err())
		}
		return nil, llm.NewUpstreamError(providerName, err.Error(), true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := llm.ReadErrorMessage(resp.Body)
		g.logger.Warn("gemini generate failed",
			zap.String("model", model),
			zap.Int("status", resp.StatusCode),
			zap.String("message", msg))
		return nil, llm.MapHTTPError(resp.StatusCode, msg, providerName, model)
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, llm.NewUpstreamError(providerName, "decode gemini response: "+err.Error(), true).WithCause(err)
	}
	return toGenerateResponse(gr, model)
}

func toGenerateResponse(gr geminiResponse, model string) (*llm.GenerateResponse, error) {
	if len(gr.Candidates) == 0 {
		reason := "no candidates returned"
		if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
			reason = "prompt blocked: " + gr.PromptFeedback.BlockReason
		}
		return nil, llm.NewUpstreamError(providerName, reason, false)
	}

	cand := gr.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		sb.WriteString(part.Text)
	}

	out := &llm.GenerateResponse{
		Content:      sb.String(),
		Model:        model,
		FinishReason: cand.FinishReason,
	}
	if gr.ModelVersion != "" {
		out.Model = gr.ModelVersion
	}
	if gr.UsageMetadata != nil && gr.UsageMetadata.TotalTokenCount > 0 {
		n := gr.UsageMetadata.TotalTokenCount
		out.TokenCount = &n
	}
	return out, nil
}

// ListModels 获取 Gemini 支持的模型列表（自动翻页）
func (g *Gateway) ListModels(ctx context.Context) ([]llm.Model, error) {
	var models []llm.Model
	pageToken := ""
	for {
		page, err := g.listPage(ctx, pageToken)
		if err != nil {
			return nil, err
		}
		for _, m := range page.Models {
			models = append(models, llm.Model{
				// 去掉 "models/" 前缀
				ID:               strings.TrimPrefix(m.Name, "models/"),
				DisplayName:      m.DisplayName,
				Description:      m.Description,
				InputTokenLimit:  m.InputTokenLimit,
				OutputTokenLimit: m.OutputTokenLimit,
				SupportedMethods: m.SupportedMethods,
			})
		}
		if page.NextPageToken == "" {
			return models, nil
		}
		pageToken = page.NextPageToken
	}
}

func (g *Gateway) listPage(ctx context.Context, pageToken string) (*geminiModelList, error) {
	endpoint := g.cfg.BaseURL + "/v1beta/models"
	if pageToken != "" {
		endpoint += "?pageToken=" + pageToken
	}

	return retry.Do(ctx, g.retryer, func(ctx context.Context) (*geminiModelList, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, types.NewError(types.ErrInternalError, "create gemini request").WithCause(err)
		}
		if err := g.buildHeaders(ctx, httpReq); err != nil {
			return nil, err
		}

		resp, err := g.client.Do(httpReq)
		if err != nil {
			return nil, llm.NewUpstreamError(providerName, err.Error(), ctx.Err() == nil).WithCause(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, llm.MapHTTPError(resp.StatusCode, llm.ReadErrorMessage(resp.Body), providerName, "")
		}

		var list geminiModelList
		if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
			return nil, llm.NewUpstreamError(providerName, "decode model list: "+err.Error(), true).WithCause(err)
		}
		return &list, nil
	})
}

func (g *Gateway) buildHeaders(ctx context.Context, req *http.Request) error {
	if g.secrets == nil {
		return llm.NewAuthenticationError(providerName, "no api key provider configured")
	}
	key, err := g.secrets.APIKey(ctx)
	if err != nil {
		if e, ok := types.AsError(err); ok {
			e.Provider = providerName
			return e
		}
		return llm.NewAuthenticationError(providerName, err.Error()).WithCause(err)
	}
	// Gemini 使用 x-goog-api-key 认证
	req.Header.Set("x-goog-api-key", key)
	req.Header.Set("Content-Type", "application/json")
	return nil
}
