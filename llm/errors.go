package llm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/muchaco/council/types"
)

// maxErrorBody bounds how much of an upstream error body is read.
const maxErrorBody = 64 << 10

// NewAuthenticationError reports rejected or missing credentials.
func NewAuthenticationError(provider, msg string) *types.Error {
	return types.NewError(types.ErrGatewayAuthentication, msg).
		WithHTTPStatus(http.StatusUnauthorized).
		WithProvider(provider)
}

// NewRateLimitError reports upstream throttling or exhausted quota.
func NewRateLimitError(provider, msg string) *types.Error {
	return types.NewError(types.ErrGatewayRateLimit, msg).
		WithHTTPStatus(http.StatusTooManyRequests).
		WithRetryable(true).
		WithProvider(provider)
}

// NewModelNotFoundError reports an unknown model id.
func NewModelNotFoundError(provider, model string) *types.Error {
	return types.NewError(types.ErrGatewayModelNotFound, fmt.Sprintf("model %q not found", model)).
		WithHTTPStatus(http.StatusNotFound).
		WithProvider(provider)
}

// NewUpstreamError reports any other gateway failure.
func NewUpstreamError(provider, msg string, retryable bool) *types.Error {
	return types.NewError(types.ErrGateway, msg).
		WithHTTPStatus(http.StatusBadGateway).
		WithRetryable(retryable).
		WithProvider(provider)
}

// MapHTTPError converts an upstream HTTP failure to a typed gateway error.
func MapHTTPError(status int, msg, provider, model string) *types.Error {
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewAuthenticationError(provider, msg)
	case status == http.StatusTooManyRequests:
		return NewRateLimitError(provider, msg)
	case status == http.StatusNotFound:
		e := NewModelNotFoundError(provider, model)
		if msg != "" {
			e.Message = e.Message + ": " + msg
		}
		return e
	case status == http.StatusBadRequest && strings.Contains(lower, "api key"):
		// Gemini reports an invalid key as 400 INVALID_ARGUMENT.
		return NewAuthenticationError(provider, msg)
	case status == http.StatusBadRequest && (strings.Contains(lower, "quota") || strings.Contains(lower, "resource_exhausted")):
		return NewRateLimitError(provider, msg)
	case status >= 500:
		return NewUpstreamError(provider, msg, true).WithHTTPStatus(status)
	default:
		return NewUpstreamError(provider, msg, false).WithHTTPStatus(status)
	}
}

type upstreamErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// ReadErrorMessage extracts a readable message from an upstream error body.
func ReadErrorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var errResp upstreamErrorBody
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Status != "" {
			return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
