package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/logging"
	"github.com/kozaktomas/bioauth/internal/matching"
)

// PhraseCheck is the outcome of the spoken phrase factor.
type PhraseCheck struct {
	Mode       biometric.PhraseMode `json:"mode"`
	Match      bool                 `json:"match"`
	Similarity float64              `json:"similarity"`
	Transcript string               `json:"transcript,omitempty"`
}

// Decision is the outcome of one verification attempt.
type Decision struct {
	AttemptID       string             `json:"attempt_id"`
	Identity        biometric.Identity `json:"identity"`
	Verified        bool               `json:"verified"`
	Reason          biometric.Reason   `json:"reason"`
	Message         string             `json:"message"`
	Confidence      float64            `json:"confidence"`
	BestScore       float64            `json:"best_score"`
	SampleCount     int                `json:"stored_count"`
	MinimumRequired int                `json:"minimum_required"`
	Phrase          *PhraseCheck       `json:"phrase,omitempty"`

	// PerSampleScores are logged for audit and never returned or stored.
	PerSampleScores []float64 `json:"-"`
}

// Identification is the outcome of one 1:N search.
type Identification struct {
	AttemptID string `json:"attempt_id"`
	biometric.IdentificationResult
}

// CompareResult is the score of two samples against each other.
type CompareResult struct {
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
	Match      bool    `json:"match"`
	Metric     string  `json:"metric"`
}

// Verify decides whether raw belongs to identity. Extraction and storage
// failures are errors; every decision, including rejections, is a Decision.
func (s *Service) Verify(ctx context.Context, identity biometric.Identity, raw []byte) (Decision, error) {
	attemptID := uuid.NewString()
	start := time.Now()

	probe, err := s.extract(ctx, raw)
	if err != nil {
		s.logger.Warn("verification failed",
			zap.String("attempt_id", attemptID),
			zap.String("identity", string(identity)),
			zap.Error(err),
		)
		return Decision{}, err
	}

	decision := Decision{
		AttemptID:       attemptID,
		Identity:        identity,
		MinimumRequired: s.thresholds.MinimumSamples,
	}
	if s.dual != nil {
		res, err := s.dual.Verify(ctx, identity, probe, s.probeAux(raw))
		if err != nil {
			s.logger.Warn("verification failed",
				zap.String("attempt_id", attemptID),
				zap.String("identity", string(identity)),
				zap.Error(err),
			)
			return Decision{}, err
		}
		decision.Verified = res.Verified
		decision.Reason = res.Reason
		decision.Confidence = res.CombinedConfidence
		decision.BestScore = res.Signature.BestScore
		decision.SampleCount = res.Signature.SampleCount
		decision.PerSampleScores = res.Signature.PerSampleScores
		if res.PhraseMode != "" {
			decision.Phrase = &PhraseCheck{
				Mode:       res.PhraseMode,
				Match:      res.PhraseMatch,
				Similarity: res.PhraseSimilarity,
				Transcript: res.Transcript,
			}
		}
	} else {
		res, err := s.engine.Verify(ctx, identity, probe)
		if err != nil {
			s.logger.Warn("verification failed",
				zap.String("attempt_id", attemptID),
				zap.String("identity", string(identity)),
				zap.Error(err),
			)
			return Decision{}, err
		}
		decision.Verified = res.Verified
		decision.Reason = res.Reason
		decision.Confidence = res.Confidence()
		decision.BestScore = res.BestScore
		decision.SampleCount = res.SampleCount
		decision.PerSampleScores = res.PerSampleScores
	}
	decision.Message = decision.Reason.Message(s.modality)

	s.metrics.IncrementDecision(string(s.modality), "verify", string(decision.Reason))
	fields := []zap.Field{
		zap.String("attempt_id", attemptID),
		zap.String("identity", string(identity)),
		zap.Bool("verified", decision.Verified),
		zap.String("reason", string(decision.Reason)),
		zap.Float64("best_score", decision.BestScore),
		zap.Float64("confidence", decision.Confidence),
		logging.Scores(decision.PerSampleScores),
		zap.Duration("duration", time.Since(start)),
	}
	if decision.Phrase != nil {
		fields = append(fields,
			zap.String("phrase_mode", string(decision.Phrase.Mode)),
			zap.Float64("phrase_similarity", decision.Phrase.Similarity),
		)
	}
	s.logger.Info("verification attempt", fields...)
	return decision, nil
}

// Identify searches every enrolled identity for the best passing match.
func (s *Service) Identify(ctx context.Context, raw []byte) (Identification, error) {
	attemptID := uuid.NewString()
	start := time.Now()

	probe, err := s.extract(ctx, raw)
	if err != nil {
		return Identification{}, err
	}

	var aux matching.AuxSource
	if s.dual != nil {
		aux = s.probeAux(raw)
	}
	res, err := s.identifier.Identify(ctx, probe, aux)
	if err != nil {
		s.logger.Warn("identification failed", zap.String("attempt_id", attemptID), zap.Error(err))
		return Identification{}, err
	}

	reason := "not_identified"
	if res.Identified {
		reason = "identified"
	}
	s.metrics.IncrementDecision(string(s.modality), "identify", reason)
	s.metrics.ObserveIdentifyCandidates(string(s.modality), res.Candidates)
	s.logger.Info("identification attempt",
		zap.String("attempt_id", attemptID),
		zap.Bool("identified", res.Identified),
		zap.String("identity", string(res.Identity)),
		zap.Float64("confidence", res.Confidence),
		zap.Int("candidates", res.Candidates),
		zap.Duration("duration", time.Since(start)),
	)
	return Identification{AttemptID: attemptID, IdentificationResult: res}, nil
}

// Compare scores two samples against each other without touching the store.
func (s *Service) Compare(ctx context.Context, rawA, rawB []byte) (CompareResult, error) {
	a, err := s.extract(ctx, rawA)
	if err != nil {
		return CompareResult{}, err
	}
	b, err := s.extract(ctx, rawB)
	if err != nil {
		return CompareResult{}, err
	}

	score := s.engine.Scorer().Score(a, b)
	threshold := s.engine.Policy().AcceptThreshold
	return CompareResult{
		Score:      score,
		Confidence: score * 100,
		Threshold:  threshold,
		Match:      score >= threshold,
		Metric:     string(s.engine.Scorer().Metric()),
	}, nil
}
