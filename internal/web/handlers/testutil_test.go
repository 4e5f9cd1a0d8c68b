package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/config"
	"github.com/kozaktomas/bioauth/internal/database/mock"
	"github.com/kozaktomas/bioauth/internal/extractor"
	"github.com/kozaktomas/bioauth/internal/service"
)

const testMaxSampleBytes = 1 << 20

// fakeExtractor maps raw sample bytes to fixed embeddings. Unknown samples
// contain no subject.
type fakeExtractor struct {
	vectors map[string][]float32
	err     error
	pingErr error
}

func (f *fakeExtractor) Extract(_ context.Context, _ biometric.Modality, raw []byte) (extractor.Embedding, error) {
	if f.err != nil {
		return extractor.Embedding{}, f.err
	}
	v, ok := f.vectors[string(raw)]
	if !ok {
		return extractor.Embedding{}, biometric.ErrNoSubjectDetected
	}
	return extractor.Embedding{Vector: v}, nil
}

func (f *fakeExtractor) Ping(context.Context) error { return f.pingErr }

// pngSample encodes a size x size gray image; different sizes give different bytes.
func pngSample(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, size, size))); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

// wavSample returns a minimal RIFF/WAVE header followed by payload.
func wavSample(payload string) []byte {
	return append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), payload...)
}

func b64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// fixture is a handler wired to a mock store and a fake extractor.
type fixture struct {
	handler   *BiometricHandler
	store     *mock.MockStore
	extractor *fakeExtractor
	samples   map[string]string // name -> base64
	vectors   map[string][]float32
}

func newFaceFixture(t *testing.T) *fixture {
	t.Helper()
	raw := map[string][]byte{
		"alice": pngSample(t, 2),
		"bob":   pngSample(t, 3),
		"blank": pngSample(t, 4),
	}
	vectors := map[string][]float32{"alice": {1, 0, 0}, "bob": {0, 1, 0}}
	return newFixture(t, biometric.ModalityFace, config.ModalityThresholds{
		Metric: "cosine", AcceptThreshold: 0.85, MinimumSamples: 2,
	}, raw, vectors)
}

func newVoiceFixture(t *testing.T) *fixture {
	t.Helper()
	raw := map[string][]byte{
		"alice": wavSample("alice"),
		"bob":   wavSample("bob"),
	}
	vectors := map[string][]float32{"alice": {0.6, 0.8}, "bob": {-0.8, 0.6}}
	return newFixture(t, biometric.ModalityVoice, config.ModalityThresholds{
		Metric: "euclidean", MaxDistance: 2, AcceptThreshold: 0.825, MinimumSamples: 2,
		PhraseThreshold: 0.8, DualFactor: true,
	}, raw, vectors)
}

func newFixture(
	t *testing.T, modality biometric.Modality, thresholds config.ModalityThresholds,
	raw map[string][]byte, vectors map[string][]float32,
) *fixture {
	t.Helper()
	ext := &fakeExtractor{vectors: make(map[string][]float32)}
	samples := make(map[string]string, len(raw))
	for name, data := range raw {
		samples[name] = b64(data)
		if v, ok := vectors[name]; ok {
			ext.vectors[string(data)] = v
		}
	}

	store := mock.NewMockStore()
	svc, err := service.New(service.Options{
		Modality:       modality,
		Thresholds:     thresholds,
		Store:          store,
		Extractor:      ext,
		MaxSampleBytes: testMaxSampleBytes,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return &fixture{
		handler:   NewBiometricHandler(svc, testMaxSampleBytes, nil),
		store:     store,
		extractor: ext,
		samples:   samples,
		vectors:   vectors,
	}
}

// seed enrolls n copies of the named sample's vector.
func (f *fixture) seed(modality biometric.Modality, identity biometric.Identity, name string, n int, aux string) {
	for range n {
		f.store.Seed(modality, identity, aux, f.vectors[name])
	}
}

// jsonRequest creates a request with a JSON body.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, strings.NewReader(string(payload)))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected code
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["code"] != expectedCode {
		t.Errorf("expected code '%s', got '%v'\nBody: %s", expectedCode, result["code"], recorder.Body.String())
	}
	if msg, _ := result["error"].(string); msg == "" {
		t.Errorf("expected a non-empty error message")
	}
}
