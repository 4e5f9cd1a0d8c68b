package handlers

import (
	"net/http"

	"github.com/kozaktomas/bioauth/internal/service"
)

// SystemHandler serves /system/info.
type SystemHandler struct {
	services []*service.Service
	backend  string
}

// NewSystemHandler creates a system handler over the configured modalities.
func NewSystemHandler(backend string, services ...*service.Service) *SystemHandler {
	return &SystemHandler{services: services, backend: backend}
}

// SystemInfoResponse is the body of GET /system/info.
type SystemInfoResponse struct {
	StoreBackend string                  `json:"store_backend"`
	Modalities   map[string]service.Info `json:"modalities"`
}

// Info handles GET /system/info.
func (h *SystemHandler) Info(w http.ResponseWriter, r *http.Request) {
	resp := SystemInfoResponse{
		StoreBackend: h.backend,
		Modalities:   make(map[string]service.Info, len(h.services)),
	}
	for _, svc := range h.services {
		info, err := svc.Info(r.Context())
		if err != nil {
			respondErr(w, err)
			return
		}
		resp.Modalities[info.Modality] = info
	}
	respondJSON(w, http.StatusOK, resp)
}
