package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/database/mock"
	"github.com/kozaktomas/bioauth/internal/web/middleware"
)

var errInjected = errors.New("injected failure")

func TestHealthHandler_Get(t *testing.T) {
	tests := []struct {
		name       string
		storeErr   error
		extractErr error
		status     string
		models     bool
		dependency bool
	}{
		{"healthy", nil, nil, "ok", true, true},
		{"store down", errInjected, nil, "degraded", true, false},
		{"models down", nil, errInjected, "degraded", false, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := mock.NewMockStore()
			store.PingError = tc.storeErr
			readiness := middleware.NewReadiness()
			readiness.Set(true)
			handler := NewHealthHandler(store, &fakeExtractor{pingErr: tc.extractErr}, "none", readiness)

			recorder := httptest.NewRecorder()
			handler.Get(recorder, httptest.NewRequest("GET", "/health", nil))

			assertStatusCode(t, recorder, http.StatusOK)
			var result HealthResponse
			parseJSONResponse(t, recorder, &result)
			if result.Status != tc.status {
				t.Errorf("expected status %s, got %s", tc.status, result.Status)
			}
			if result.ModelsLoaded != tc.models {
				t.Errorf("expected models_loaded %v, got %v", tc.models, result.ModelsLoaded)
			}
			if result.DependencyConnected != tc.dependency {
				t.Errorf("expected dependency_connected %v, got %v", tc.dependency, result.DependencyConnected)
			}
			if result.STTProvider != "none" {
				t.Errorf("expected stt_provider none, got %s", result.STTProvider)
			}
			if !result.Ready {
				t.Error("expected ready")
			}
		})
	}
}

func TestSystemHandler_Info(t *testing.T) {
	face := newFaceFixture(t)
	face.seed(biometric.ModalityFace, "alice", "alice", 1, "")
	face.seed(biometric.ModalityFace, "bob", "bob", 1, "")
	voice := newVoiceFixture(t)

	handler := NewSystemHandler("memory", face.handler.svc, voice.handler.svc)
	recorder := httptest.NewRecorder()
	handler.Info(recorder, httptest.NewRequest("GET", "/system/info", nil))

	assertStatusCode(t, recorder, http.StatusOK)
	var result SystemInfoResponse
	parseJSONResponse(t, recorder, &result)
	if result.StoreBackend != "memory" {
		t.Errorf("expected store_backend memory, got %s", result.StoreBackend)
	}
	if got := result.Modalities["face"].Identities; got != 2 {
		t.Errorf("expected 2 face identities, got %d", got)
	}
	if !result.Modalities["voice"].DualFactor {
		t.Error("expected voice to be dual factor")
	}
}

func TestSystemHandler_InfoStorageError(t *testing.T) {
	face := newFaceFixture(t)
	face.store.IdentitiesError = biometric.NewStorageError("list identities", errInjected)

	handler := NewSystemHandler("memory", face.handler.svc)
	recorder := httptest.NewRecorder()
	handler.Info(recorder, httptest.NewRequest("GET", "/system/info", nil))

	assertStatusCode(t, recorder, http.StatusInternalServerError)
	assertJSONError(t, recorder, biometric.CodeStorageError)
}
