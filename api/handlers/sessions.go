package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/muchaco/council/agent/persistence"
	"github.com/muchaco/council/types"
)

// =============================================================================
// Session Handler
// =============================================================================

// SessionService is the session lifecycle surface of the conductor.
type SessionService interface {
	CreateSession(ctx context.Context, s *types.Session) (*types.Session, error)
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	ListSessions(ctx context.Context, opts persistence.ListOptions) ([]types.Session, error)
	AddPersona(ctx context.Context, sessionID string, p *types.Persona) (*types.Persona, error)
	Personas(ctx context.Context, sessionID string) ([]types.Persona, error)
	Transcript(ctx context.Context, sessionID string) ([]types.Message, error)
	RecordUserMessage(ctx context.Context, sessionID, content string) (*types.Message, error)
	CompleteSession(ctx context.Context, sessionID string) (*types.Session, error)
	ArchiveSession(ctx context.Context, sessionID string) (*types.Session, error)
}

// SessionHandler serves /api/v1/sessions.
type SessionHandler struct {
	svc    SessionService
	logger *zap.Logger
}

// NewSessionHandler creates a session handler
func NewSessionHandler(svc SessionService, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{svc: svc, logger: logger.With(zap.String("handler", "sessions"))}
}

// Register mounts the session routes.
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/sessions", h.HandleList)
	mux.HandleFunc("GET /api/v1/sessions/{id}", h.HandleGet)
	mux.HandleFunc("POST /api/v1/sessions/{id}/personas", h.HandleAddPersona)
	mux.HandleFunc("GET /api/v1/sessions/{id}/personas", h.HandleListPersonas)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", h.HandleTranscript)
	mux.HandleFunc("POST /api/v1/sessions/{id}/messages", h.HandlePostMessage)
	mux.HandleFunc("POST /api/v1/sessions/{id}/complete", h.HandleComplete)
	mux.HandleFunc("POST /api/v1/sessions/{id}/archive", h.HandleArchive)
}

// CreateSessionRequest 创建会话请求
type CreateSessionRequest struct {
	Title              string `json:"title"`
	ProblemDescription string `json:"problemDescription"`
	OutputGoal         string `json:"outputGoal"`
	TokenBudget        int    `json:"tokenBudget,omitempty"`
}

// AddPersonaRequest 添加参与者请求。hiddenAgenda 只写不读。
type AddPersonaRequest struct {
	ID           string  `json:"id,omitempty"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	GeminiModel  string  `json:"geminiModel"`
	Temperature  float64 `json:"temperature"`
	Color        string  `json:"color,omitempty"`
	HiddenAgenda string  `json:"hiddenAgenda,omitempty"`
}

// PostMessageRequest 用户发言
type PostMessageRequest struct {
	Content string `json:"content"`
}

// SessionDetail is a session with its participants.
type SessionDetail struct {
	*types.Session
	Personas []types.Persona `json:"personas"`
}

func (h *SessionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	if req.TokenBudget < 0 {
		WriteError(w, r, types.NewValidationError("tokenBudget must be non-negative"), h.logger)
		return
	}
	sess, err := h.svc.CreateSession(r.Context(), &types.Session{
		Title:       req.Title,
		Problem:     req.ProblemDescription,
		OutputGoal:  req.OutputGoal,
		TokenBudget: req.TokenBudget,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, sess)
}

func (h *SessionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := persistence.ListOptions{Status: types.SessionStatus(q.Get("status"))}
	if opts.Status != "" && !opts.Status.Valid() {
		WriteError(w, r, types.NewValidationError("invalid status %q", opts.Status), h.logger)
		return
	}
	var err error
	if opts.Limit, err = intParam(q.Get("limit"), 50); err != nil {
		WriteError(w, r, types.NewValidationError("invalid limit"), h.logger)
		return
	}
	if opts.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		WriteError(w, r, types.NewValidationError("invalid offset"), h.logger)
		return
	}

	sessions, err := h.svc.ListSessions(r.Context(), opts)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if sessions == nil {
		sessions = []types.Session{}
	}
	WriteSuccess(w, r, sessions)
}

func (h *SessionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := h.svc.GetSession(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	personas, err := h.svc.Personas(r.Context(), id)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, SessionDetail{Session: sess, Personas: nonNil(personas)})
}

func (h *SessionHandler) HandleAddPersona(w http.ResponseWriter, r *http.Request) {
	var req AddPersonaRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	p, err := h.svc.AddPersona(r.Context(), r.PathValue("id"), &types.Persona{
		ID:           req.ID,
		Name:         req.Name,
		Role:         req.Role,
		ModelID:      req.GeminiModel,
		Temperature:  req.Temperature,
		Color:        req.Color,
		HiddenAgenda: req.HiddenAgenda,
	})
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, p)
}

func (h *SessionHandler) HandleListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := h.svc.Personas(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, nonNil(personas))
}

func (h *SessionHandler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.svc.Transcript(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, nonNil(msgs))
}

func (h *SessionHandler) HandlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	msg, err := h.svc.RecordUserMessage(r.Context(), r.PathValue("id"), req.Content)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, msg)
}

func (h *SessionHandler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.CompleteSession(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, sess)
}

func (h *SessionHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.ArchiveSession(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, sess)
}

// =============================================================================
// helpers
// =============================================================================

func intParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, types.NewValidationError("invalid integer %q", raw)
	}
	return n, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
