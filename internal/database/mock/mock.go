// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/database"
	"github.com/kozaktomas/bioauth/internal/database/memory"
)

// MockStore is a database.Store backed by the in-memory store with
// per-method error injection and call counters.
type MockStore struct {
	inner *memory.Store

	mu    sync.Mutex
	calls map[string]int

	// Error injection
	AddSampleError  error
	CountError      error
	ListError       error
	IdentitiesError error
	DeleteError     error
	PingError       error
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{
		inner: memory.New(),
		calls: make(map[string]int),
	}
}

func (m *MockStore) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
}

// Calls returns how often method was invoked.
func (m *MockStore) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Seed enrolls embeddings for identity without error injection.
func (m *MockStore) Seed(modality biometric.Modality, identity biometric.Identity, aux string, embeddings ...[]float32) {
	for _, e := range embeddings {
		if _, err := m.inner.AddSample(context.Background(), modality, identity, e, aux); err != nil {
			panic(err)
		}
	}
}

// AddSample appends a sample
func (m *MockStore) AddSample(
	ctx context.Context, modality biometric.Modality, identity biometric.Identity, embedding []float32, aux string,
) (biometric.Sample, error) {
	m.record("AddSample")
	if m.AddSampleError != nil {
		return biometric.Sample{}, m.AddSampleError
	}
	return m.inner.AddSample(ctx, modality, identity, embedding, aux)
}

// Count returns the number of samples of identity
func (m *MockStore) Count(ctx context.Context, modality biometric.Modality, identity biometric.Identity) (int, error) {
	m.record("Count")
	if m.CountError != nil {
		return 0, m.CountError
	}
	return m.inner.Count(ctx, modality, identity)
}

// List returns the samples of identity
func (m *MockStore) List(ctx context.Context, modality biometric.Modality, identity biometric.Identity) ([]biometric.Sample, error) {
	m.record("List")
	if m.ListError != nil {
		return nil, m.ListError
	}
	return m.inner.List(ctx, modality, identity)
}

// Identities returns the enrolled identities of modality
func (m *MockStore) Identities(ctx context.Context, modality biometric.Modality) ([]biometric.Identity, error) {
	m.record("Identities")
	if m.IdentitiesError != nil {
		return nil, m.IdentitiesError
	}
	return m.inner.Identities(ctx, modality)
}

// Delete removes identity
func (m *MockStore) Delete(ctx context.Context, modality biometric.Modality, identity biometric.Identity) (int, error) {
	m.record("Delete")
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	return m.inner.Delete(ctx, modality, identity)
}

// Ping reports PingError
func (m *MockStore) Ping(ctx context.Context) error {
	m.record("Ping")
	if m.PingError != nil {
		return m.PingError
	}
	return m.inner.Ping(ctx)
}

// Close closes the inner store
func (m *MockStore) Close() error {
	return m.inner.Close()
}

var _ database.Store = (*MockStore)(nil)
