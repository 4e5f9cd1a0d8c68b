package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

func TestRespondJSON_SetsContentType(t *testing.T) {
	recorder := httptest.NewRecorder()
	data := map[string]string{"status": "ok"}

	respondJSON(recorder, http.StatusOK, data)

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", contentType)
	}
}

func TestRespondJSON_SetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"OK", http.StatusOK},
		{"Created", http.StatusCreated},
		{"BadRequest", http.StatusBadRequest},
		{"NotFound", http.StatusNotFound},
		{"InternalServerError", http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondJSON(recorder, tc.statusCode, nil)

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
		})
	}
}

func TestRespondJSON_EncodesData(t *testing.T) {
	recorder := httptest.NewRecorder()
	data := map[string]interface{}{
		"message": "hello",
		"count":   42,
		"active":  true,
	}

	respondJSON(recorder, http.StatusOK, data)

	var result map[string]interface{}
	err := json.Unmarshal(recorder.Body.Bytes(), &result)
	if err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if result["message"] != "hello" {
		t.Errorf("expected message 'hello', got '%v'", result["message"])
	}

	if result["count"] != float64(42) { // JSON numbers are float64
		t.Errorf("expected count 42, got %v", result["count"])
	}

	if result["active"] != true {
		t.Errorf("expected active true, got %v", result["active"])
	}
}

func TestRespondJSON_NilData(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondJSON(recorder, http.StatusOK, nil)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	// Body should be empty for nil data
	if recorder.Body.Len() != 0 {
		t.Errorf("expected empty body for nil data, got '%s'", recorder.Body.String())
	}
}

func TestRespondJSON_EmptyMap(t *testing.T) {
	recorder := httptest.NewRecorder()
	data := map[string]string{}

	respondJSON(recorder, http.StatusOK, data)

	expected := "{}\n"
	if recorder.Body.String() != expected {
		t.Errorf("expected '%s', got '%s'", expected, recorder.Body.String())
	}
}

func TestRespondJSON_Array(t *testing.T) {
	recorder := httptest.NewRecorder()
	data := []string{"one", "two", "three"}

	respondJSON(recorder, http.StatusOK, data)

	var result []string
	err := json.Unmarshal(recorder.Body.Bytes(), &result)
	if err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if len(result) != 3 {
		t.Errorf("expected 3 items, got %d", len(result))
	}
}

func TestRespondJSON_NestedStruct(t *testing.T) {
	recorder := httptest.NewRecorder()
	data := struct {
		Name   string `json:"name"`
		Nested struct {
			Value int `json:"value"`
		} `json:"nested"`
	}{
		Name: "test",
	}
	data.Nested.Value = 123

	respondJSON(recorder, http.StatusOK, data)

	var result map[string]interface{}
	err := json.Unmarshal(recorder.Body.Bytes(), &result)
	if err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}

	if result["name"] != "test" {
		t.Errorf("expected name 'test', got '%v'", result["name"])
	}

	nested, ok := result["nested"].(map[string]interface{})
	if !ok {
		t.Fatal("expected nested object")
	}

	if nested["value"] != float64(123) {
		t.Errorf("expected nested value 123, got %v", nested["value"])
	}
}

func TestRespondError_SetsStatusCode(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"BadRequest", http.StatusBadRequest},
		{"Unauthorized", http.StatusUnauthorized},
		{"NotFound", http.StatusNotFound},
		{"InternalServerError", http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondError(recorder, tc.statusCode, "TEST_CODE", "test error")

			if recorder.Code != tc.statusCode {
				t.Errorf("expected status %d, got %d", tc.statusCode, recorder.Code)
			}
		})
	}
}

func TestRespondError_Body(t *testing.T) {
	recorder := httptest.NewRecorder()

	respondError(recorder, http.StatusBadRequest, "MISSING_FIELD", "something went wrong")

	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if result["error"] != "something went wrong" {
		t.Errorf("expected error 'something went wrong', got '%s'", result["error"])
	}
	if result["code"] != "MISSING_FIELD" {
		t.Errorf("expected code 'MISSING_FIELD', got '%s'", result["code"])
	}
	assertContentType(t, recorder, "application/json")
}

func TestRespondErr_MapsCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &biometric.ValidationError{Field: "identity", Code: biometric.CodeInvalidIdentity, Message: "bad"},
			http.StatusBadRequest, biometric.CodeInvalidIdentity},
		{"no subject", biometric.ErrNoSubjectDetected, http.StatusBadRequest, biometric.CodeNoSubjectDetected},
		{"multiple subjects", fmt.Errorf("%w: found 2", biometric.ErrMultipleSubjectsDetected),
			http.StatusBadRequest, biometric.CodeMultipleSubjectsDetected},
		{"dimension", &biometric.DimensionMismatchError{Identity: "1", Expected: 3, Got: 4},
			http.StatusConflict, biometric.CodeDimensionMismatch},
		{"extraction failed", biometric.ErrExtractionFailed, http.StatusInternalServerError, biometric.CodeExtractionFailed},
		{"timeout", biometric.ErrExtractionTimeout, http.StatusGatewayTimeout, biometric.CodeExtractionTimeout},
		{"storage", biometric.NewStorageError("list", errors.New("dial tcp: refused")),
			http.StatusInternalServerError, biometric.CodeStorageError},
		{"not ready", biometric.ErrNotReady, http.StatusServiceUnavailable, biometric.CodeNotReady},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, biometric.CodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			respondErr(recorder, tc.err)
			assertStatusCode(t, recorder, tc.status)
			assertJSONError(t, recorder, tc.code)
		})
	}
}

func TestRespondErr_HidesStorageDetails(t *testing.T) {
	recorder := httptest.NewRecorder()
	respondErr(recorder, biometric.NewStorageError("list", errors.New("password authentication failed for user bioauth")))

	if strings.Contains(recorder.Body.String(), "password") {
		t.Errorf("storage error details leaked: %s", recorder.Body.String())
	}
}

func TestSanitizeForLog(t *testing.T) {
	if got := sanitizeForLog("alice\r\nforged entry"); got != "aliceforged entry" {
		t.Errorf("expected newlines stripped, got %q", got)
	}
}
