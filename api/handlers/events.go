package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/muchaco/council/agent/conductor"
	"github.com/muchaco/council/types"
)

// =============================================================================
// 📡 会话事件流 (WebSocket)
// =============================================================================

// EventSource publishes conductor events per session.
type EventSource interface {
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	Subscribe(sessionID string) (<-chan conductor.Event, func())
}

// EventsConfig 事件流配置
type EventsConfig struct {
	// OriginPatterns are accepted cross-origin hosts; empty means same origin only.
	OriginPatterns []string
	PingInterval   time.Duration
	WriteTimeout   time.Duration
}

// EventsHandler streams session events over a websocket.
type EventsHandler struct {
	source EventSource
	cfg    EventsConfig
	logger *zap.Logger
}

// NewEventsHandler creates an events handler
func NewEventsHandler(source EventSource, cfg EventsConfig, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &EventsHandler{source: source, cfg: cfg, logger: logger.With(zap.String("handler", "events"))}
}

// Register mounts GET /api/v1/sessions/{id}/events.
func (h *EventsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/sessions/{id}/events", h.HandleStream)
}

// HandleStream upgrades the request and forwards events until either side
// goes away. The stream is write-only; client frames are discarded.
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := h.source.GetSession(r.Context(), sessionID); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.cfg.OriginPatterns})
	if err != nil {
		// Accept 已经写了错误响应
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	events, unsubscribe := h.source.Subscribe(sessionID)
	defer unsubscribe()

	log := h.logger.With(zap.String("session_id", sessionID))
	log.Debug("event stream opened")

	ctx := conn.CloseRead(r.Context())
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream closed by peer")
			return
		case e, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := h.write(ctx, conn, e); err != nil {
				log.Debug("event write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				log.Debug("event stream ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, e conductor.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, e)
}
