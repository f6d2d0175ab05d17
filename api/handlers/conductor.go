package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/muchaco/council/agent/conductor"
	"github.com/muchaco/council/types"
)

// =============================================================================
// Conductor Handler
// =============================================================================

// ConductorService is the control surface of the orchestrator.
type ConductorService interface {
	EnableConductor(ctx context.Context, sessionID, conductorPersonaID string) (*types.Session, error)
	DisableConductor(ctx context.Context, sessionID string) (*types.Session, error)
	ProcessTurn(ctx context.Context, sessionID string) (*conductor.TurnResult, error)
	ResetCircuitBreaker(ctx context.Context, sessionID string) (*types.Session, error)
	Pause(ctx context.Context, sessionID string) (conductor.State, error)
	Resume(ctx context.Context, sessionID string) (conductor.State, error)
	State(ctx context.Context, sessionID string) (conductor.State, error)
	HushPresets() []int

	GetBlackboard(ctx context.Context, sessionID string) (types.BlackboardState, error)
	UpdateBlackboardManually(ctx context.Context, sessionID string, bb types.BlackboardState) (types.BlackboardState, error)

	Hush(ctx context.Context, sessionID, personaID string, turns int) (types.HushState, error)
	Unhush(ctx context.Context, sessionID, personaID string) error
	AskPersona(ctx context.Context, sessionID, personaID string) (*types.Persona, error)
	RecordPersonaResponse(ctx context.Context, sessionID, personaID, content string, tokens int) (*types.Message, error)
}

// ConductorHandler serves the conductor, blackboard and hush routes of a session.
type ConductorHandler struct {
	svc    ConductorService
	logger *zap.Logger
}

// NewConductorHandler creates a conductor handler
func NewConductorHandler(svc ConductorService, logger *zap.Logger) *ConductorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConductorHandler{svc: svc, logger: logger.With(zap.String("handler", "conductor"))}
}

// Register mounts the conductor routes.
func (h *ConductorHandler) Register(mux *http.ServeMux) {
	const base = "/api/v1/sessions/{id}"
	mux.HandleFunc("POST "+base+"/conductor", h.HandleEnable)
	mux.HandleFunc("DELETE "+base+"/conductor", h.HandleDisable)
	mux.HandleFunc("POST "+base+"/conductor/turn", h.HandleTurn)
	mux.HandleFunc("POST "+base+"/conductor/reset", h.HandleReset)
	mux.HandleFunc("POST "+base+"/conductor/pause", h.HandlePause)
	mux.HandleFunc("POST "+base+"/conductor/resume", h.HandleResume)
	mux.HandleFunc("GET "+base+"/conductor/state", h.HandleState)

	mux.HandleFunc("GET "+base+"/blackboard", h.HandleGetBlackboard)
	mux.HandleFunc("PUT "+base+"/blackboard", h.HandlePutBlackboard)

	mux.HandleFunc("POST "+base+"/personas/{pid}/hush", h.HandleHush)
	mux.HandleFunc("DELETE "+base+"/personas/{pid}/hush", h.HandleUnhush)
	mux.HandleFunc("POST "+base+"/personas/{pid}/ask", h.HandleAsk)
	mux.HandleFunc("POST "+base+"/personas/{pid}/responses", h.HandleResponse)
}

// EnableConductorRequest 开启调度器
type EnableConductorRequest struct {
	ConductorPersonaID string `json:"conductorPersonaId"`
}

// HushRequest 禁言请求
type HushRequest struct {
	Turns int `json:"turns"`
}

// PersonaResponseRequest carries a reply generated outside the conductor.
type PersonaResponseRequest struct {
	Content    string `json:"content"`
	TokenCount int    `json:"tokenCount,omitempty"`
}

// StateResponse 调度器状态
type StateResponse struct {
	State       conductor.State `json:"state"`
	HushPresets []int           `json:"hushPresets,omitempty"`
}

func (h *ConductorHandler) HandleEnable(w http.ResponseWriter, r *http.Request) {
	var req EnableConductorRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	sess, err := h.svc.EnableConductor(r.Context(), r.PathValue("id"), req.ConductorPersonaID)
	h.respond(w, r, sess, err)
}

func (h *ConductorHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.DisableConductor(r.Context(), r.PathValue("id"))
	h.respond(w, r, sess, err)
}

// HandleTurn runs one control cycle. Blocked and wait-for-user outcomes are
// successful responses; only ResultError maps to an error status.
func (h *ConductorHandler) HandleTurn(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ProcessTurn(r.Context(), r.PathValue("id"))
	h.respond(w, r, res, err)
}

func (h *ConductorHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := h.svc.ResetCircuitBreaker(r.Context(), r.PathValue("id"))
	h.respond(w, r, sess, err)
}

func (h *ConductorHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Pause(r.Context(), r.PathValue("id"))
	h.respond(w, r, StateResponse{State: st}, err)
}

func (h *ConductorHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Resume(r.Context(), r.PathValue("id"))
	h.respond(w, r, StateResponse{State: st}, err)
}

func (h *ConductorHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.State(r.Context(), r.PathValue("id"))
	h.respond(w, r, StateResponse{State: st, HushPresets: h.svc.HushPresets()}, err)
}

func (h *ConductorHandler) HandleGetBlackboard(w http.ResponseWriter, r *http.Request) {
	bb, err := h.svc.GetBlackboard(r.Context(), r.PathValue("id"))
	h.respond(w, r, bb, err)
}

// HandlePutBlackboard replaces all four blackboard fields.
func (h *ConductorHandler) HandlePutBlackboard(w http.ResponseWriter, r *http.Request) {
	var bb types.BlackboardState
	if !DecodeJSONBody(w, r, &bb, h.logger) {
		return
	}
	out, err := h.svc.UpdateBlackboardManually(r.Context(), r.PathValue("id"), bb)
	h.respond(w, r, out, err)
}

func (h *ConductorHandler) HandleHush(w http.ResponseWriter, r *http.Request) {
	var req HushRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	hs, err := h.svc.Hush(r.Context(), r.PathValue("id"), r.PathValue("pid"), req.Turns)
	h.respond(w, r, hs, err)
}

func (h *ConductorHandler) HandleUnhush(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Unhush(r.Context(), r.PathValue("id"), r.PathValue("pid"))
	h.respond(w, r, types.HushState{}, err)
}

// HandleAsk reports whether the persona may speak now.
func (h *ConductorHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.AskPersona(r.Context(), r.PathValue("id"), r.PathValue("pid"))
	h.respond(w, r, p, err)
}

func (h *ConductorHandler) HandleResponse(w http.ResponseWriter, r *http.Request) {
	var req PersonaResponseRequest
	if !DecodeJSONBody(w, r, &req, h.logger) {
		return
	}
	if req.TokenCount < 0 {
		WriteError(w, r, types.NewValidationError("tokenCount must be non-negative"), h.logger)
		return
	}
	msg, err := h.svc.RecordPersonaResponse(r.Context(), r.PathValue("id"), r.PathValue("pid"), req.Content, req.TokenCount)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteStatus(w, r, http.StatusCreated, msg)
}

func (h *ConductorHandler) respond(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, data)
}
