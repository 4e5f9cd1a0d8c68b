package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/config"
	"github.com/kozaktomas/bioauth/internal/database/mock"
	"github.com/kozaktomas/bioauth/internal/extractor"
	"github.com/kozaktomas/bioauth/internal/metrics"
	"github.com/kozaktomas/bioauth/internal/service"
	"github.com/kozaktomas/bioauth/internal/web/middleware"
)

type stubExtractor struct{}

func (stubExtractor) Extract(context.Context, biometric.Modality, []byte) (extractor.Embedding, error) {
	return extractor.Embedding{Vector: []float32{1, 0}}, nil
}

func (stubExtractor) Ping(context.Context) error { return nil }

func newTestServer(t *testing.T) (*Server, *middleware.Readiness) {
	t.Helper()
	store := mock.NewMockStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	newService := func(modality biometric.Modality, th config.ModalityThresholds) *service.Service {
		svc, err := service.New(service.Options{
			Modality: modality, Thresholds: th, Store: store, Extractor: stubExtractor{}, Metrics: m,
		})
		if err != nil {
			t.Fatalf("failed to create %s service: %v", modality, err)
		}
		return svc
	}

	readiness := middleware.NewReadiness()
	srv := NewServer(Deps{
		Face:      newService(biometric.ModalityFace, config.ModalityThresholds{Metric: "cosine", AcceptThreshold: 0.85, MinimumSamples: 1}),
		Voice:     newService(biometric.ModalityVoice, config.ModalityThresholds{Metric: "euclidean", AcceptThreshold: 0.8, MinimumSamples: 1}),
		Store:     store,
		Extractor: stubExtractor{},
		Backend:   config.BackendMemory,
		Readiness: readiness,
		Gatherer:  reg,
	}, 0, "127.0.0.1")
	return srv, readiness
}

func TestServer_NotReady(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, path := range []string{"/register", "/authenticate", "/auth/enroll", "/auth/verify"} {
		t.Run(path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			srv.Router().ServeHTTP(recorder, httptest.NewRequest("POST", path, strings.NewReader(`{}`)))
			if recorder.Code != http.StatusServiceUnavailable {
				t.Errorf("expected status 503, got %d", recorder.Code)
			}
		})
	}

	recorder := httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, httptest.NewRequest("GET", "/health", nil))
	if recorder.Code != http.StatusOK {
		t.Errorf("expected health to answer while not ready, got %d", recorder.Code)
	}
}

func TestServer_Routes(t *testing.T) {
	srv, readiness := newTestServer(t)
	readiness.Set(true)

	tests := []struct {
		method string
		path   string
		body   string
		status int
	}{
		{"POST", "/validate_registration", `{"identity":"alice"}`, http.StatusOK},
		{"POST", "/auth/validate", `{"user_id":5}`, http.StatusOK},
		{"POST", "/register", `{"identity":"alice"}`, http.StatusBadRequest},
		{"DELETE", "/delete/alice", "", http.StatusOK},
		{"DELETE", "/auth/delete/5", "", http.StatusOK},
		{"GET", "/system/info", "", http.StatusOK},
		{"GET", "/metrics", "", http.StatusOK},
		{"GET", "/nope", "", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			srv.Router().ServeHTTP(recorder, httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body)))
			if recorder.Code != tc.status {
				t.Errorf("expected status %d, got %d\nBody: %s", tc.status, recorder.Code, recorder.Body.String())
			}
		})
	}
}

func TestServer_HealthAndSecurityHeaders(t *testing.T) {
	srv, _ := newTestServer(t)

	recorder := httptest.NewRecorder()
	srv.Router().ServeHTTP(recorder, httptest.NewRequest("GET", "/health", nil))

	if recorder.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected nosniff header")
	}
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse health body: %v", err)
	}
	if body["models_loaded"] != true || body["dependency_connected"] != true {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestServer_ShutdownClosesReadiness(t *testing.T) {
	srv, readiness := newTestServer(t)
	readiness.Set(true)

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}
	if readiness.Ready() {
		t.Error("expected readiness to be cleared on shutdown")
	}
}
