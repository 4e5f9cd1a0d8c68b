package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

// errInvalidRequestBody is a shared error message for invalid JSON request bodies.
const errInvalidRequestBody = "invalid request body"

// maxBodyOverhead leaves room for JSON framing and base64 expansion on top
// of the decoded sample limit.
const maxBodyOverhead = 64 << 10

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": message, "code": code})
}

// codeStatus maps public error codes to HTTP statuses.
var codeStatus = map[string]int{
	biometric.CodeInvalidRequest:           http.StatusBadRequest,
	biometric.CodeMissingField:             http.StatusBadRequest,
	biometric.CodeInvalidIdentity:          http.StatusBadRequest,
	biometric.CodeInvalidSample:            http.StatusBadRequest,
	biometric.CodeNoSubjectDetected:        http.StatusBadRequest,
	biometric.CodeMultipleSubjectsDetected: http.StatusBadRequest,
	biometric.CodeInsufficientEnrollment:   http.StatusBadRequest,
	biometric.CodeNotEnrolled:              http.StatusNotFound,
	biometric.CodeDimensionMismatch:        http.StatusConflict,
	biometric.CodeExtractionFailed:         http.StatusInternalServerError,
	biometric.CodeStorageError:             http.StatusInternalServerError,
	biometric.CodeInternal:                 http.StatusInternalServerError,
	biometric.CodeNotReady:                 http.StatusServiceUnavailable,
	biometric.CodeExtractionTimeout:        http.StatusGatewayTimeout,
}

// statusForCode returns the HTTP status of an error code.
func statusForCode(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondErr maps err to its public code and status. Internal failures do
// not leak their message.
func respondErr(w http.ResponseWriter, err error) {
	code := biometric.ErrorCode(err)
	status := statusForCode(code)

	message := err.Error()
	var ve *biometric.ValidationError
	switch {
	case errors.As(err, &ve):
		message = ve.Error()
	case code == biometric.CodeStorageError:
		message = biometric.ErrStorage.Error()
	case code == biometric.CodeInternal:
		message = "internal error"
	}
	respondError(w, status, code, message)
}

// decodeJSON reads a JSON body no larger than limit bytes. Identity
// validation failures raised while decoding are returned as they are.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var ve *biometric.ValidationError
		if errors.As(err, &ve) {
			return ve
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &biometric.ValidationError{Code: biometric.CodeInvalidSample, Message: "request body too large"}
		}
		if errors.Is(err, io.EOF) {
			return &biometric.ValidationError{Code: biometric.CodeInvalidRequest, Message: "request body is empty"}
		}
		return &biometric.ValidationError{Code: biometric.CodeInvalidRequest, Message: errInvalidRequestBody}
	}
	return nil
}
