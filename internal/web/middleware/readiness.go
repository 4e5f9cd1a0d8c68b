package middleware

import (
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

// Readiness flips once the startup probe of the store and the extractor
// succeeds.
type Readiness struct {
	ready atomic.Bool
}

// NewReadiness returns a gate that starts closed.
func NewReadiness() *Readiness {
	return &Readiness{}
}

// Set opens or closes the gate.
func (r *Readiness) Set(ready bool) {
	r.ready.Store(ready)
}

// Ready reports whether the gate is open.
func (r *Readiness) Ready() bool {
	return r != nil && r.ready.Load()
}

// RequireReady rejects requests with 503 NOT_READY while the gate is closed.
func RequireReady(r *Readiness) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.Ready() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "5")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]any{
					"success": false,
					"error":   biometric.ErrNotReady.Error(),
					"code":    biometric.CodeNotReady,
				})
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
