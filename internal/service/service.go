// Package service orchestrates extraction, storage and matching for one
// biometric modality.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/config"
	"github.com/kozaktomas/bioauth/internal/database"
	"github.com/kozaktomas/bioauth/internal/extractor"
	"github.com/kozaktomas/bioauth/internal/matching"
	"github.com/kozaktomas/bioauth/internal/metrics"
	"github.com/kozaktomas/bioauth/internal/speech"
)

// Options wires a Service.
type Options struct {
	Modality       biometric.Modality
	Thresholds     config.ModalityThresholds
	Store          database.Store
	Extractor      extractor.Extractor
	Transcriber    speech.Transcriber // voice only; nil disables transcripts
	Workers        int
	Shortlist      int
	MaxSampleBytes int
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

// Service is the per-modality entry point used by the HTTP handlers and the CLI.
type Service struct {
	modality       biometric.Modality
	thresholds     config.ModalityThresholds
	store          database.Store
	extractor      extractor.Extractor
	transcriber    speech.Transcriber
	engine         *matching.Engine
	dual           *matching.DualFactorVerifier
	identifier     *matching.Identifier
	maxSampleBytes int
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// New validates the thresholds and builds the decision components.
func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.Extractor == nil {
		return nil, errors.New("store and extractor are required")
	}
	if _, err := biometric.ParseModality(string(opts.Modality)); err != nil {
		return nil, err
	}

	t := opts.Thresholds
	scorer, err := matching.NewScorer(matching.Metric(t.Metric), t.MaxDistance)
	if err != nil {
		return nil, fmt.Errorf("%s scorer: %w", opts.Modality, err)
	}
	policy := matching.Policy{AcceptThreshold: t.AcceptThreshold, MinimumSamples: t.MinimumSamples}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%s policy: %w", opts.Modality, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		modality:       opts.Modality,
		thresholds:     t,
		store:          opts.Store,
		extractor:      opts.Extractor,
		maxSampleBytes: opts.MaxSampleBytes,
		logger:         logger.With(zap.String("modality", string(opts.Modality))),
		metrics:        opts.Metrics,
	}
	if opts.Modality == biometric.ModalityVoice {
		s.transcriber = opts.Transcriber
	}

	s.engine = matching.NewEngine(opts.Modality, scorer, policy, opts.Store)
	if opts.Modality == biometric.ModalityVoice && t.DualFactor {
		s.dual = matching.NewDualFactorVerifier(s.engine, t.PhraseThreshold)
	}
	s.identifier = matching.NewIdentifier(s.engine, opts.Store, matching.IdentifierOptions{
		Workers:   opts.Workers,
		Shortlist: opts.Shortlist,
		Dual:      s.dual,
	})
	return s, nil
}

// Modality returns the modality the service handles.
func (s *Service) Modality() biometric.Modality {
	return s.modality
}

// DualFactor reports whether verification also checks the spoken phrase.
func (s *Service) DualFactor() bool {
	return s.dual != nil
}

// Decode decodes and validates a base64 raw sample.
func (s *Service) Decode(raw string) ([]byte, error) {
	return extractor.DecodeSample(s.modality, raw, s.maxSampleBytes)
}

func (s *Service) extract(ctx context.Context, raw []byte) ([]float32, error) {
	start := time.Now()
	emb, err := s.extractor.Extract(ctx, s.modality, raw)
	s.metrics.ObserveExtraction(string(s.modality), "embedding", time.Since(start))
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

func (s *Service) transcribe(ctx context.Context, audio []byte) (string, error) {
	if speech.IsNone(s.transcriber) {
		return "", nil
	}
	start := time.Now()
	text, err := s.transcriber.Transcribe(ctx, audio)
	s.metrics.ObserveExtraction(string(s.modality), "transcript", time.Since(start))
	return text, err
}

// probeAux transcribes the probe audio lazily, at most once per request.
func (s *Service) probeAux(audio []byte) matching.AuxSource {
	return speech.NewLazy(transcriberFunc(s.transcribe), audio)
}

// transcriberFunc lets a function satisfy speech.Transcriber.
type transcriberFunc func(ctx context.Context, audio []byte) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, audio []byte) (string, error) {
	return f(ctx, audio)
}

func (transcriberFunc) Name() string { return "service" }
