// Package memory provides an in-process enrollment store.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/database"
)

type identityRecord struct {
	mu       sync.RWMutex
	order    uint64
	dim      int
	nextSeq  int
	samples  []biometric.Sample
	deleted  bool
	identity biometric.Identity
}

// Store keeps samples in memory. The identity map is guarded by one lock and
// each identity's sample set by its own.
type Store struct {
	mu         sync.RWMutex
	identities map[string]*identityRecord
	counter    uint64
	now        func() time.Time

	dimMu sync.Mutex
	dims  map[biometric.Modality]int
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		identities: make(map[string]*identityRecord),
		dims:       make(map[biometric.Modality]int),
		now:        time.Now,
	}
}

// pinDimension fixes the modality's embedding length on first use and
// rejects any other length afterwards. The pin outlives deleted identities.
func (s *Store) pinDimension(modality biometric.Modality, identity biometric.Identity, dim int) error {
	s.dimMu.Lock()
	defer s.dimMu.Unlock()
	if err := database.CheckDimension(identity, s.dims[modality], dim); err != nil {
		return err
	}
	s.dims[modality] = dim
	return nil
}

func (s *Store) record(modality biometric.Modality, identity biometric.Identity) *identityRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identities[database.IdentityKey(string(modality), string(identity))]
}

// AddSample appends a sample to identity, creating it on first use.
func (s *Store) AddSample(
	_ context.Context, modality biometric.Modality, identity biometric.Identity, embedding []float32, aux string,
) (biometric.Sample, error) {
	if err := database.ValidateEmbedding(embedding); err != nil {
		return biometric.Sample{}, err
	}
	if err := s.pinDimension(modality, identity, len(embedding)); err != nil {
		return biometric.Sample{}, err
	}

	for {
		rec := s.getOrCreate(modality, identity)
		rec.mu.Lock()
		if rec.deleted {
			// Lost a race with Delete; retry against a fresh record.
			rec.mu.Unlock()
			continue
		}
		if err := database.CheckDimension(identity, rec.dim, len(embedding)); err != nil {
			rec.mu.Unlock()
			return biometric.Sample{}, err
		}

		rec.dim = len(embedding)
		rec.nextSeq++
		sample := biometric.Sample{
			Modality:   modality,
			Identity:   identity,
			Sequence:   rec.nextSeq,
			Embedding:  slices.Clone(embedding),
			AuxContent: aux,
			CreatedAt:  s.now().UTC(),
		}
		rec.samples = append(rec.samples, sample)
		rec.mu.Unlock()
		return copySample(sample), nil
	}
}

func (s *Store) getOrCreate(modality biometric.Modality, identity biometric.Identity) *identityRecord {
	key := database.IdentityKey(string(modality), string(identity))
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.identities[key]
	if !ok {
		s.counter++
		rec = &identityRecord{order: s.counter, identity: identity}
		s.identities[key] = rec
	}
	return rec
}

// Count returns the number of samples of identity.
func (s *Store) Count(_ context.Context, modality biometric.Modality, identity biometric.Identity) (int, error) {
	rec := s.record(modality, identity)
	if rec == nil {
		return 0, nil
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return len(rec.samples), nil
}

// List returns copies of identity's samples, oldest first.
func (s *Store) List(_ context.Context, modality biometric.Modality, identity biometric.Identity) ([]biometric.Sample, error) {
	rec := s.record(modality, identity)
	if rec == nil {
		return nil, nil
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()

	out := make([]biometric.Sample, len(rec.samples))
	for i := range rec.samples {
		out[i] = copySample(rec.samples[i])
	}
	return out, nil
}

// Identities returns the identities of a modality in first-enrollment order.
func (s *Store) Identities(_ context.Context, modality biometric.Modality) ([]biometric.Identity, error) {
	prefix := database.IdentityKey(string(modality), "")

	s.mu.RLock()
	records := make([]*identityRecord, 0, len(s.identities))
	for key, rec := range s.identities {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			records = append(records, rec)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(records, func(a, b *identityRecord) int {
		if a.order < b.order {
			return -1
		}
		if a.order > b.order {
			return 1
		}
		return 0
	})

	out := make([]biometric.Identity, 0, len(records))
	for _, rec := range records {
		rec.mu.RLock()
		if len(rec.samples) > 0 {
			out = append(out, rec.identity)
		}
		rec.mu.RUnlock()
	}
	return out, nil
}

// Delete removes identity and returns how many samples it had.
func (s *Store) Delete(_ context.Context, modality biometric.Modality, identity biometric.Identity) (int, error) {
	key := database.IdentityKey(string(modality), string(identity))

	s.mu.Lock()
	rec, ok := s.identities[key]
	if ok {
		delete(s.identities, key)
	}
	s.mu.Unlock()
	if !ok {
		return 0, nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.deleted = true
	n := len(rec.samples)
	rec.samples = nil
	return n, nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func copySample(s biometric.Sample) biometric.Sample {
	s.Embedding = slices.Clone(s.Embedding)
	return s
}
