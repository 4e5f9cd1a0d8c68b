package database

import (
	"fmt"
	"math"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

// MaxEmbeddingDim bounds the length of a stored embedding.
const MaxEmbeddingDim = 4096

// ValidateEmbedding rejects embeddings that cannot be stored or compared.
func ValidateEmbedding(embedding []float32) error {
	if len(embedding) == 0 {
		return &biometric.ValidationError{Field: "embedding", Code: biometric.CodeInvalidSample, Message: "embedding is empty"}
	}
	if len(embedding) > MaxEmbeddingDim {
		return &biometric.ValidationError{
			Field:   "embedding",
			Code:    biometric.CodeInvalidSample,
			Message: fmt.Sprintf("embedding has %d dimensions, maximum is %d", len(embedding), MaxEmbeddingDim),
		}
	}
	for i, v := range embedding {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return &biometric.ValidationError{
				Field:   "embedding",
				Code:    biometric.CodeInvalidSample,
				Message: fmt.Sprintf("embedding component %d is not a finite number", i),
			}
		}
	}
	return nil
}

// CheckDimension returns a DimensionMismatchError when an identity that
// already has samples of length expected receives one of length got.
func CheckDimension(identity biometric.Identity, expected, got int) error {
	if expected != 0 && expected != got {
		return &biometric.DimensionMismatchError{Identity: identity, Expected: expected, Got: got}
	}
	return nil
}
