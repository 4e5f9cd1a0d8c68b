package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

// EnrollResult reports the identity's enrollment progress.
type EnrollResult struct {
	Identity        biometric.Identity `json:"identity"`
	Sequence        int                `json:"sequence"`
	StoredCount     int                `json:"stored_count"`
	MinimumRequired int                `json:"minimum_required"`
	Complete        bool               `json:"complete"`
	PhraseEnrolled  bool               `json:"phrase_enrolled,omitempty"`
}

// ValidateResult reports whether an identity can be verified.
type ValidateResult struct {
	Identity        biometric.Identity `json:"identity"`
	Valid           bool               `json:"valid"`
	StoredCount     int                `json:"stored_count"`
	MinimumRequired int                `json:"minimum_required"`
}

// Enroll extracts the embedding of raw and stores it as a new sample. Voice
// samples carry phrase, or the sample's transcript when phrase is empty and
// a transcriber is configured.
func (s *Service) Enroll(ctx context.Context, identity biometric.Identity, raw []byte, phrase string) (EnrollResult, error) {
	embedding, err := s.extract(ctx, raw)
	if err != nil {
		return EnrollResult{}, err
	}
	if want := s.thresholds.EmbeddingDim; want > 0 && len(embedding) != want {
		return EnrollResult{}, &biometric.DimensionMismatchError{Identity: identity, Expected: want, Got: len(embedding)}
	}

	var aux string
	if s.modality == biometric.ModalityVoice {
		aux = strings.TrimSpace(phrase)
		if aux == "" {
			if aux, err = s.transcribe(ctx, raw); err != nil {
				return EnrollResult{}, fmt.Errorf("transcribing enrollment phrase: %w", err)
			}
		}
	}

	sample, err := s.store.AddSample(ctx, s.modality, identity, embedding, aux)
	if err != nil {
		return EnrollResult{}, err
	}
	s.metrics.IncrementEnrollment(string(s.modality))

	count, err := s.store.Count(ctx, s.modality, identity)
	if err != nil {
		return EnrollResult{}, err
	}

	minimum := s.thresholds.MinimumSamples
	result := EnrollResult{
		Identity:        identity,
		Sequence:        sample.Sequence,
		StoredCount:     count,
		MinimumRequired: minimum,
		Complete:        count >= minimum,
		PhraseEnrolled:  aux != "",
	}
	s.logger.Info("sample enrolled",
		zap.String("identity", string(identity)),
		zap.Int("sequence", sample.Sequence),
		zap.Int("dim", len(embedding)),
		zap.Int("stored_count", count),
		zap.Bool("phrase", aux != ""),
	)
	return result, nil
}

// Validate reports whether identity has enough samples to be verified.
func (s *Service) Validate(ctx context.Context, identity biometric.Identity) (ValidateResult, error) {
	count, err := s.store.Count(ctx, s.modality, identity)
	if err != nil {
		return ValidateResult{}, err
	}
	minimum := s.thresholds.MinimumSamples
	return ValidateResult{
		Identity:        identity,
		Valid:           count >= minimum,
		StoredCount:     count,
		MinimumRequired: minimum,
	}, nil
}

// Delete removes identity and all its samples.
func (s *Service) Delete(ctx context.Context, identity biometric.Identity) (int, error) {
	removed, err := s.store.Delete(ctx, s.modality, identity)
	if err != nil {
		return 0, err
	}
	s.logger.Info("identity deleted", zap.String("identity", string(identity)), zap.Int("removed", removed))
	return removed, nil
}

// Identities lists the enrolled identities in first-enrollment order.
func (s *Service) Identities(ctx context.Context) ([]biometric.Identity, error) {
	return s.store.Identities(ctx, s.modality)
}
