package database

import (
	"context"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

// SampleReader provides read-only access to enrolled samples
type SampleReader interface {
	// Count returns the number of samples enrolled for an identity, 0 if unknown
	Count(ctx context.Context, modality biometric.Modality, identity biometric.Identity) (int, error)
	// List returns the samples of an identity in insertion order, oldest first
	List(ctx context.Context, modality biometric.Modality, identity biometric.Identity) ([]biometric.Sample, error)
	// Identities returns every enrolled identity in first-enrollment order.
	// Identities enrolled at the same instant are ordered by key.
	Identities(ctx context.Context, modality biometric.Modality) ([]biometric.Identity, error)
}

// SampleWriter provides write access to enrolled samples
type SampleWriter interface {
	// AddSample appends a sample. The first sample of an identity defines its
	// embedding dimension; later samples of another length fail with
	// biometric.ErrDimensionMismatch. Writes are serialized per identity.
	AddSample(ctx context.Context, modality biometric.Modality, identity biometric.Identity, embedding []float32, aux string) (biometric.Sample, error)
	// Delete removes an identity and all its samples, returning how many
	// samples were removed (0 for an unknown identity)
	Delete(ctx context.Context, modality biometric.Modality, identity biometric.Identity) (int, error)
}

// Store is a complete enrollment store backend.
type Store interface {
	SampleReader
	SampleWriter
	// Ping checks the backend is reachable
	Ping(ctx context.Context) error
	// Close releases the backend's resources
	Close() error
}
