package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/service"
)

// sampleRequest is the body of the enrollment and decision endpoints.
// user_id, image and audio_data are accepted for older clients.
type sampleRequest struct {
	Identity  biometric.Identity `json:"identity"`
	UserID    biometric.Identity `json:"user_id"`
	RawSample string             `json:"raw_sample"`
	Image     string             `json:"image"`
	AudioData string             `json:"audio_data"`
	Phrase    string             `json:"phrase"`
}

func (r *sampleRequest) identity() (biometric.Identity, error) {
	id := r.Identity
	if id == "" {
		id = r.UserID
	}
	if id == "" {
		return "", &biometric.ValidationError{Field: "identity", Code: biometric.CodeMissingField, Message: "identity is required"}
	}
	return id, nil
}

func (r *sampleRequest) sample() string {
	switch {
	case r.RawSample != "":
		return r.RawSample
	case r.Image != "":
		return r.Image
	default:
		return r.AudioData
	}
}

type compareRequest struct {
	SampleA string `json:"sample_a"`
	SampleB string `json:"sample_b"`
}

// BiometricHandler serves one modality's enrollment and decision endpoints.
type BiometricHandler struct {
	svc       *service.Service
	logger    *zap.Logger
	bodyLimit int64
}

// NewBiometricHandler creates a handler for svc. maxSampleBytes bounds the
// decoded sample; the request body limit is derived from it.
func NewBiometricHandler(svc *service.Service, maxSampleBytes int, logger *zap.Logger) *BiometricHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	// Two base64 samples fit in a compare request.
	limit := int64(maxSampleBytes)*8/3 + maxBodyOverhead
	return &BiometricHandler{svc: svc, logger: logger, bodyLimit: limit}
}

func (h *BiometricHandler) decodeSample(w http.ResponseWriter, r *http.Request) (sampleRequest, []byte, error) {
	var req sampleRequest
	if err := decodeJSON(w, r, h.bodyLimit, &req); err != nil {
		return req, nil, err
	}
	raw, err := h.svc.Decode(req.sample())
	return req, raw, err
}

// Enroll handles POST /register and /auth/enroll.
func (h *BiometricHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	req, raw, err := h.decodeSample(w, r)
	if err != nil {
		respondErr(w, err)
		return
	}
	identity, err := req.identity()
	if err != nil {
		respondErr(w, err)
		return
	}

	result, err := h.svc.Enroll(r.Context(), identity, raw, req.Phrase)
	if err != nil {
		h.logger.Warn("enrollment failed",
			zap.String("identity", sanitizeForLog(string(identity))),
			zap.Error(err),
		)
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		service.EnrollResult
	}{Success: true, EnrollResult: result})
}

// Verify handles POST /authenticate and /auth/verify. A completed decision
// that rejects the probe answers 401 with the reason; missing or incomplete
// enrollment answers with its own error status.
func (h *BiometricHandler) Verify(w http.ResponseWriter, r *http.Request) {
	req, raw, err := h.decodeSample(w, r)
	if err != nil {
		respondErr(w, err)
		return
	}
	identity, err := req.identity()
	if err != nil {
		respondErr(w, err)
		return
	}

	decision, err := h.svc.Verify(r.Context(), identity, raw)
	if err != nil {
		respondErr(w, err)
		return
	}

	resp := struct {
		Success bool `json:"success"`
		service.Decision
		Code  string `json:"code,omitempty"`
		Error string `json:"error,omitempty"`
	}{Success: decision.Verified, Decision: decision}

	status := http.StatusOK
	switch decision.Reason {
	case biometric.ReasonVerified:
	case biometric.ReasonNotEnrolled:
		resp.Code, resp.Error = biometric.CodeNotEnrolled, decision.Message
		status = statusForCode(resp.Code)
	case biometric.ReasonInsufficientEnrollment:
		resp.Code, resp.Error = biometric.CodeInsufficientEnrollment, decision.Message
		status = statusForCode(resp.Code)
	default:
		status = http.StatusUnauthorized
	}
	respondJSON(w, status, resp)
}

// Validate handles POST /validate_registration and /auth/validate.
func (h *BiometricHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if err := decodeJSON(w, r, h.bodyLimit, &req); err != nil {
		respondErr(w, err)
		return
	}
	identity, err := req.identity()
	if err != nil {
		respondErr(w, err)
		return
	}

	result, err := h.svc.Validate(r.Context(), identity)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		service.ValidateResult
	}{Success: true, ValidateResult: result})
}

// Identify handles POST /identify and /auth/identify.
func (h *BiometricHandler) Identify(w http.ResponseWriter, r *http.Request) {
	_, raw, err := h.decodeSample(w, r)
	if err != nil {
		respondErr(w, err)
		return
	}

	result, err := h.svc.Identify(r.Context(), raw)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		service.Identification
	}{Success: true, Identification: result})
}

// Compare handles POST /compare and /auth/compare.
func (h *BiometricHandler) Compare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := decodeJSON(w, r, h.bodyLimit, &req); err != nil {
		respondErr(w, err)
		return
	}
	a, err := h.svc.Decode(req.SampleA)
	if err != nil {
		respondErr(w, err)
		return
	}
	b, err := h.svc.Decode(req.SampleB)
	if err != nil {
		respondErr(w, err)
		return
	}

	result, err := h.svc.Compare(r.Context(), a, b)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		service.CompareResult
	}{Success: true, CompareResult: result})
}

// Delete handles DELETE /delete/{identity} and /auth/delete/{identity}.
func (h *BiometricHandler) Delete(w http.ResponseWriter, r *http.Request) {
	identity, err := biometric.ParseIdentity(chi.URLParam(r, "identity"))
	if err != nil {
		respondErr(w, err)
		return
	}

	removed, err := h.svc.Delete(r.Context(), identity)
	if err != nil {
		respondErr(w, err)
		return
	}

	message := "identity deleted"
	if removed == 0 {
		message = "identity not found"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success":  removed > 0,
		"identity": identity,
		"removed":  removed,
		"message":  message,
	})
}
