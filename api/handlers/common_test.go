package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/muchaco/council/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder, data any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &raw), w.Body.String())
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.Response
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusAccepted, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-42"))
	w := httptest.NewRecorder()

	WriteSuccess(w, r, map[string]string{"key": "value"})

	var data map[string]string
	resp := decodeEnvelope(t, w, &data)
	assert.True(t, resp.Success)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.Equal(t, "value", data["key"])
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"validation", types.NewValidationError("bad"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"not found", types.NewNotFoundError("session", "x"), http.StatusNotFound, "NOT_FOUND"},
		{"hushed", types.NewError(types.ErrPersonaHushed, "quiet"), http.StatusConflict, "PERSONA_HUSHED"},
		{"archived", types.NewError(types.ErrSessionArchived, "gone"), http.StatusConflict, "SESSION_ARCHIVED"},
		{"paused", types.NewError(types.ErrConductorPaused, "paused"), http.StatusConflict, "CONDUCTOR_PAUSED"},
		{"not enabled", types.NewConfigurationError("off"), http.StatusUnprocessableEntity, "CONFIGURATION_ERROR"},
		{"gateway", types.NewError(types.ErrGateway, "upstream"), http.StatusBadGateway, "GATEWAY_ERROR"},
		{"explicit status", types.NewError(types.ErrInvalidRequest, "x").WithHTTPStatus(http.StatusTeapot), http.StatusTeapot, "INVALID_REQUEST"},
		{"plain error", errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, zap.NewNop())

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeEnvelope(t, w, nil)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestWriteError_HidesInternalCause(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, nil, errors.New("dsn=postgres://secret"), nil)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name        string
		body        string
		contentType string
		wantOK      bool
		wantStatus  int
		wantMessage string
	}{
		{"valid", `{"name":"a"}`, "application/json", true, 0, ""},
		{"no content type", `{"name":"a"}`, "", true, 0, ""},
		{"empty", ``, "application/json", false, http.StatusBadRequest, "request body is empty"},
		{"unknown field", `{"nope":1}`, "application/json", false, http.StatusBadRequest, "invalid JSON body"},
		{"trailing object", `{"name":"a"}{"name":"b"}`, "application/json", false, http.StatusBadRequest, "single JSON object"},
		{"wrong type", `{"name":"a"}`, "text/plain", false, http.StatusUnsupportedMediaType, "Content-Type"},
		{"too large", `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`, "application/json", false, http.StatusBadRequest, "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()

			var p payload
			ok := DecodeJSONBody(w, r, &p, zap.NewNop())
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, "a", p.Name)
				return
			}
			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeEnvelope(t, w, nil)
			assert.Contains(t, resp.Error.Message, tt.wantMessage)
		})
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)
	assert.Equal(t, http.StatusOK, rw.StatusCode)

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, 5, rw.Bytes)
	assert.Equal(t, http.StatusCreated, rw.StatusCode)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Same(t, rec, rw.Unwrap())

	// httptest.ResponseRecorder 不支持 Hijack
	_, _, err = rw.Hijack()
	assert.Error(t, err)
}
