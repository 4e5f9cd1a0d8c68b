// Package extractor turns raw biometric samples into embeddings.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

// Extractor computes the embedding of the single subject in a raw sample.
type Extractor interface {
	// Extract fails with biometric.ErrNoSubjectDetected,
	// biometric.ErrMultipleSubjectsDetected or biometric.ErrExtractionFailed.
	Extract(ctx context.Context, modality biometric.Modality, raw []byte) (Embedding, error)
	// Ping reports whether the model server is reachable and loaded.
	Ping(ctx context.Context) error
}

// Embedding is one extracted vector with its provenance.
type Embedding struct {
	Vector []float32
	Model  string
	Score  float64 // detector confidence, 0 when unknown
}

// Dim returns the vector length.
func (e Embedding) Dim() int {
	return len(e.Vector)
}

// WithTimeout bounds every call of next by timeout.
func WithTimeout(next Extractor, timeout time.Duration) Extractor {
	if timeout <= 0 {
		return next
	}
	return &timeoutExtractor{next: next, timeout: timeout}
}

type timeoutExtractor struct {
	next    Extractor
	timeout time.Duration
}

func (t *timeoutExtractor) Extract(ctx context.Context, modality biometric.Modality, raw []byte) (Embedding, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	emb, err := t.next.Extract(callCtx, modality, raw)
	return emb, TimeoutError(ctx, callCtx, err)
}

func (t *timeoutExtractor) Ping(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return TimeoutError(ctx, callCtx, t.next.Ping(callCtx))
}

// TimeoutError maps err to biometric.ErrExtractionTimeout when callCtx
// expired while the caller's ctx is still live. A cancelled caller gets its
// own context error back.
func TimeoutError(ctx, callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", biometric.ErrExtractionTimeout, err)
	}
	return err
}
