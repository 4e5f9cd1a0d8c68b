package service

import (
	"context"
)

// Info describes the modality's configuration and enrollment volume.
type Info struct {
	Modality        string  `json:"modality"`
	Identities      int     `json:"identities"`
	Metric          string  `json:"metric"`
	AcceptThreshold float64 `json:"accept_threshold"`
	MinimumSamples  int     `json:"minimum_samples"`
	DualFactor      bool    `json:"dual_factor"`
	PhraseThreshold float64 `json:"phrase_threshold,omitempty"`
	Transcriber     string  `json:"transcriber,omitempty"`
}

// Info returns the modality summary shown by /system/info.
func (s *Service) Info(ctx context.Context) (Info, error) {
	identities, err := s.store.Identities(ctx, s.modality)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		Modality:        string(s.modality),
		Identities:      len(identities),
		Metric:          string(s.engine.Scorer().Metric()),
		AcceptThreshold: s.engine.Policy().AcceptThreshold,
		MinimumSamples:  s.engine.Policy().MinimumSamples,
		DualFactor:      s.dual != nil,
	}
	if s.dual != nil {
		info.PhraseThreshold = s.dual.PhraseThreshold()
	}
	if s.transcriber != nil {
		info.Transcriber = s.transcriber.Name()
	}
	return info, nil
}
