package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/muchaco/council/llm"
)

// ModelLister is the part of llm.Gateway the model catalogue needs.
type ModelLister interface {
	ListModels(ctx context.Context) ([]llm.Model, error)
}

// ModelHandler serves the generation model catalogue.
type ModelHandler struct {
	models ModelLister
	logger *zap.Logger
}

// NewModelHandler 创建模型列表处理器
func NewModelHandler(models ModelLister, logger *zap.Logger) *ModelHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelHandler{models: models, logger: logger.With(zap.String("handler", "models"))}
}

// Register mounts GET /api/v1/models.
func (h *ModelHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/models", h.HandleList)
}

// HandleList lists models. ?generate=true keeps only models that can
// serve generateContent.
func (h *ModelHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	models, err := h.models.ListModels(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if r.URL.Query().Get("generate") == "true" {
		kept := models[:0]
		for _, m := range models {
			if m.SupportsGenerate() {
				kept = append(kept, m)
			}
		}
		models = kept
	}
	WriteSuccess(w, r, nonNil(models))
}
