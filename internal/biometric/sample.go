package biometric

import (
	"fmt"
	"time"
)

// Modality is the biometric channel a sample was captured from.
type Modality string

const (
	ModalityFace  Modality = "face"
	ModalityVoice Modality = "voice"
)

// Modalities lists every supported modality in a stable order.
var Modalities = []Modality{ModalityFace, ModalityVoice}

// ParseModality converts a name to a Modality.
func ParseModality(s string) (Modality, error) {
	switch Modality(s) {
	case ModalityFace:
		return ModalityFace, nil
	case ModalityVoice:
		return ModalityVoice, nil
	}
	return "", fmt.Errorf("unknown modality %q (expected face or voice)", s)
}

// Sample is one enrolled reference embedding. Samples are never mutated after
// insertion.
type Sample struct {
	Modality   Modality  `json:"modality"`
	Identity   Identity  `json:"identity"`
	Sequence   int       `json:"sequence"`
	Embedding  []float32 `json:"embedding"`
	AuxContent string    `json:"aux_content,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Dim returns the embedding length.
func (s *Sample) Dim() int {
	return len(s.Embedding)
}

// ReferencePhrase returns the aux content of the most recently enrolled
// sample that carries one.
func ReferencePhrase(samples []Sample) string {
	for i := len(samples) - 1; i >= 0; i-- {
		if samples[i].AuxContent != "" {
			return samples[i].AuxContent
		}
	}
	return ""
}
