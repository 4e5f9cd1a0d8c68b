package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kozaktomas/bioauth/internal/service"
	"github.com/kozaktomas/bioauth/internal/web/handlers"
	"github.com/kozaktomas/bioauth/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	d := s.deps

	healthHandler := handlers.NewHealthHandler(d.Store, d.Extractor, d.STTProvider, d.Readiness)
	var services []*service.Service
	for _, svc := range []*service.Service{d.Face, d.Voice} {
		if svc != nil {
			services = append(services, svc)
		}
	}
	systemHandler := handlers.NewSystemHandler(d.Backend, services...)

	// Operational endpoints answer before the startup probe succeeds.
	s.router.Get("/health", healthHandler.Get)
	s.router.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.RequireReady(d.Readiness))

		r.Get("/system/info", systemHandler.Info)

		// Face
		if d.Face != nil {
			face := handlers.NewBiometricHandler(d.Face, d.MaxSampleBytes, s.logger)
			r.Post("/register", face.Enroll)
			r.Post("/authenticate", face.Verify)
			r.Post("/validate_registration", face.Validate)
			r.Post("/identify", face.Identify)
			r.Post("/compare", face.Compare)
			r.Delete("/delete/{identity}", face.Delete)
		}

		// Voice
		if d.Voice != nil {
			voice := handlers.NewBiometricHandler(d.Voice, d.MaxSampleBytes, s.logger)
			r.Route("/auth", func(r chi.Router) {
				r.Post("/enroll", voice.Enroll)
				r.Post("/verify", voice.Verify)
				r.Post("/validate", voice.Validate)
				r.Post("/identify", voice.Identify)
				r.Post("/compare", voice.Compare)
				r.Delete("/delete/{identity}", voice.Delete)
			})
		}
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"route not found","code":"INVALID_REQUEST"}` + "\n"))
	})
}
