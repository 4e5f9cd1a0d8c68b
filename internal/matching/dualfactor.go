package matching

import (
	"context"
	"fmt"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

// AuxSource yields the secondary content of a probe, e.g. the transcript of a
// spoken phrase. An empty string means nothing was recognized.
type AuxSource interface {
	Text(ctx context.Context) (string, error)
}

// StaticAux is an AuxSource with a known value.
type StaticAux string

func (s StaticAux) Text(context.Context) (string, error) {
	return string(s), nil
}

// DualFactorVerifier requires both the signature decision and the phrase
// check to pass.
type DualFactorVerifier struct {
	engine          *Engine
	phraseThreshold float64
}

// NewDualFactorVerifier wraps engine with a phrase check.
func NewDualFactorVerifier(engine *Engine, phraseThreshold float64) *DualFactorVerifier {
	if phraseThreshold <= 0 {
		phraseThreshold = DefaultPhraseThreshold
	}
	return &DualFactorVerifier{engine: engine, phraseThreshold: phraseThreshold}
}

// Engine returns the wrapped signature engine.
func (d *DualFactorVerifier) Engine() *Engine {
	return d.engine
}

// PhraseThreshold returns the phrase acceptance threshold.
func (d *DualFactorVerifier) PhraseThreshold() float64 {
	return d.phraseThreshold
}

// Verify loads the identity's samples once and evaluates both factors.
func (d *DualFactorVerifier) Verify(
	ctx context.Context, identity biometric.Identity, probe []float32, aux AuxSource,
) (biometric.DualFactorResult, error) {
	samples, err := d.engine.store.List(ctx, d.engine.modality, identity)
	if err != nil {
		return biometric.DualFactorResult{Reason: biometric.ReasonSignatureMismatch}, err
	}
	return d.Evaluate(ctx, samples, probe, aux)
}

// Evaluate runs both factors over an already loaded sample set. The phrase
// factor is skipped, and reported as skipped, only when no phrase was
// enrolled.
func (d *DualFactorVerifier) Evaluate(
	ctx context.Context, samples []biometric.Sample, probe []float32, aux AuxSource,
) (biometric.DualFactorResult, error) {
	signature := d.engine.Evaluate(samples, probe)
	result := biometric.DualFactorResult{
		Signature: signature,
		Reason:    signature.Reason,
	}
	if signature.Reason == biometric.ReasonNotEnrolled || signature.Reason == biometric.ReasonInsufficientEnrollment {
		return result, nil
	}

	phrase := biometric.ReferencePhrase(samples)
	if phrase == "" {
		result.PhraseMode = biometric.PhraseSkipped
		result.PhraseMatch = true
		result.PhraseSimilarity = 1
	} else {
		result.PhraseMode = biometric.PhraseChecked
		if aux != nil {
			transcript, err := aux.Text(ctx)
			if err != nil {
				return biometric.DualFactorResult{
					Signature: signature,
					Reason:    biometric.ReasonPhraseMismatch,
				}, fmt.Errorf("transcribing probe: %w", err)
			}
			result.Transcript = transcript
			if transcript != "" {
				result.PhraseSimilarity = PhraseSimilarity(phrase, transcript)
			}
		}
		result.PhraseMatch = result.PhraseSimilarity >= d.phraseThreshold
	}

	result.CombinedConfidence = (signature.Confidence() + result.PhraseSimilarity*100) / 2
	result.Verified = signature.Verified && result.PhraseMatch

	switch {
	case !signature.Verified:
		result.Reason = biometric.ReasonSignatureMismatch
	case !result.PhraseMatch:
		result.Reason = biometric.ReasonPhraseMismatch
	default:
		result.Reason = biometric.ReasonVerified
	}
	return result, nil
}
