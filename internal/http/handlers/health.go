package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/wolfman30/whatsapp-assistant-relay/pkg/logging"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports liveness and, when a store is wired, its reachability.
type HealthHandler struct {
	store  pinger
	logger *logging.Logger
}

func NewHealthHandler(store pinger, logger *logging.Logger) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{store: store, logger: logger}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
