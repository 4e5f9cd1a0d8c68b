package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/kozaktomas/bioauth/internal/web/middleware"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports the state of the extractor and the store.
type HealthHandler struct {
	store       Pinger
	extractor   Pinger
	sttProvider string
	readiness   *middleware.Readiness
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(store, extractor Pinger, sttProvider string, readiness *middleware.Readiness) *HealthHandler {
	return &HealthHandler{store: store, extractor: extractor, sttProvider: sttProvider, readiness: readiness}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status              string `json:"status"`
	Ready               bool   `json:"ready"`
	ModelsLoaded        bool   `json:"models_loaded"`
	DependencyConnected bool   `json:"dependency_connected"`
	STTProvider         string `json:"stt_provider"`
}

// Get handles GET /health. It always answers 200 so load balancers can tell
// a degraded instance from a dead one.
func (h *HealthHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:      "ok",
		Ready:       h.readiness.Ready(),
		STTProvider: h.sttProvider,
	}
	if h.extractor != nil {
		resp.ModelsLoaded = h.extractor.Ping(ctx) == nil
	}
	if h.store != nil {
		resp.DependencyConnected = h.store.Ping(ctx) == nil
	}
	if !resp.ModelsLoaded || !resp.DependencyConnected {
		resp.Status = "degraded"
	}
	respondJSON(w, http.StatusOK, resp)
}
