// Package matching turns probe embeddings into accept/reject decisions
// against enrolled samples.
package matching

import (
	"context"
	"errors"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

// Policy is the per-modality decision configuration.
type Policy struct {
	AcceptThreshold float64
	MinimumSamples  int
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MinimumSamples < 1 {
		return errors.New("minimum samples must be at least 1")
	}
	if p.AcceptThreshold <= 0 || p.AcceptThreshold > 1 {
		return errors.New("accept threshold must be in (0, 1]")
	}
	return nil
}

// SampleLister reads the enrolled samples of one identity in insertion order.
type SampleLister interface {
	List(ctx context.Context, modality biometric.Modality, identity biometric.Identity) ([]biometric.Sample, error)
}

// Engine renders 1:1 decisions for one modality.
type Engine struct {
	modality biometric.Modality
	scorer   *Scorer
	policy   Policy
	store    SampleLister
}

// NewEngine creates a verification engine.
func NewEngine(modality biometric.Modality, scorer *Scorer, policy Policy, store SampleLister) *Engine {
	return &Engine{
		modality: modality,
		scorer:   scorer,
		policy:   policy,
		store:    store,
	}
}

// Modality returns the modality the engine decides for.
func (e *Engine) Modality() biometric.Modality {
	return e.modality
}

// Policy returns the decision policy.
func (e *Engine) Policy() Policy {
	return e.policy
}

// Scorer returns the similarity scorer.
func (e *Engine) Scorer() *Scorer {
	return e.scorer
}

// Verify scores probe against every stored sample of identity. The sample
// set is read once so the count and the scored samples always agree.
func (e *Engine) Verify(ctx context.Context, identity biometric.Identity, probe []float32) (biometric.VerificationResult, error) {
	samples, err := e.store.List(ctx, e.modality, identity)
	if err != nil {
		return biometric.VerificationResult{Reason: biometric.ReasonSignatureMismatch}, err
	}
	return e.Evaluate(samples, probe), nil
}

// Evaluate applies the enrollment gate and the threshold to an already loaded
// sample set.
func (e *Engine) Evaluate(samples []biometric.Sample, probe []float32) biometric.VerificationResult {
	count := len(samples)
	if count == 0 {
		return biometric.VerificationResult{Reason: biometric.ReasonNotEnrolled}
	}
	if count < e.policy.MinimumSamples {
		return biometric.VerificationResult{
			Reason:      biometric.ReasonInsufficientEnrollment,
			SampleCount: count,
		}
	}

	scores := make([]float64, count)
	best := 0.0
	for i := range samples {
		scores[i] = e.scorer.Score(probe, samples[i].Embedding)
		if scores[i] > best {
			best = scores[i]
		}
	}

	result := biometric.VerificationResult{
		BestScore:       best,
		PerSampleScores: scores,
		SampleCount:     count,
		Reason:          biometric.ReasonSignatureMismatch,
	}
	if best >= e.policy.AcceptThreshold {
		result.Verified = true
		result.Reason = biometric.ReasonVerified
	}
	return result
}
