// Package storetest holds the conformance suite every enrollment store runs.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/database"
)

// StoreSuite exercises the database.Store contract. NewStore must return an
// empty store for every test.
type StoreSuite struct {
	suite.Suite
	NewStore func(t *testing.T) database.Store

	store database.Store
	ctx   context.Context
	rng   *rand.Rand
}

func (s *StoreSuite) SetupTest() {
	s.store = s.NewStore(s.T())
	s.ctx = context.Background()
	s.rng = rand.New(rand.NewPCG(1, 99))
}

func (s *StoreSuite) TearDownTest() {
	if s.store != nil {
		s.Require().NoError(s.store.Close())
	}
}

func (s *StoreSuite) vector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(s.rng.NormFloat64())
	}
	return v
}

func (s *StoreSuite) enroll(modality biometric.Modality, identity biometric.Identity, n, dim int) {
	for range n {
		_, err := s.store.AddSample(s.ctx, modality, identity, s.vector(dim), "")
		s.Require().NoError(err)
	}
}

// TestAddAndList verifies samples come back in insertion order with their data.
func (s *StoreSuite) TestAddAndList() {
	s.Run("appends samples in order", func() {
		first, err := s.store.AddSample(s.ctx, biometric.ModalityVoice, "u1", []float32{0.1, 0.2, 0.3}, "open sesame")
		s.Require().NoError(err)
		s.Equal(1, first.Sequence)
		s.Equal("open sesame", first.AuxContent)
		s.False(first.CreatedAt.IsZero())

		_, err = s.store.AddSample(s.ctx, biometric.ModalityVoice, "u1", []float32{0.4, 0.5, 0.6}, "")
		s.Require().NoError(err)
		_, err = s.store.AddSample(s.ctx, biometric.ModalityVoice, "u1", []float32{0.7, 0.8, 0.9}, "")
		s.Require().NoError(err)

		samples, err := s.store.List(s.ctx, biometric.ModalityVoice, "u1")
		s.Require().NoError(err)
		s.Require().Len(samples, 3)
		for i, sample := range samples {
			s.Equal(i+1, sample.Sequence)
			s.Equal(biometric.Identity("u1"), sample.Identity)
			s.Equal(biometric.ModalityVoice, sample.Modality)
		}
		s.Equal("open sesame", samples[0].AuxContent)
		s.Equal("", samples[1].AuxContent)
		s.InDeltaSlice([]float32{0.4, 0.5, 0.6}, samples[1].Embedding, 1e-6)
	})

	s.Run("unknown identity is empty", func() {
		count, err := s.store.Count(s.ctx, biometric.ModalityFace, "ghost")
		s.Require().NoError(err)
		s.Zero(count)

		samples, err := s.store.List(s.ctx, biometric.ModalityFace, "ghost")
		s.Require().NoError(err)
		s.Empty(samples)
	})
}

// TestDimensionInvariant verifies the first sample fixes the identity's dimension.
func (s *StoreSuite) TestDimensionInvariant() {
	s.enroll(biometric.ModalityFace, "u1", 2, 8)

	_, err := s.store.AddSample(s.ctx, biometric.ModalityFace, "u1", s.vector(6), "")
	s.Require().ErrorIs(err, biometric.ErrDimensionMismatch)

	var dm *biometric.DimensionMismatchError
	s.Require().ErrorAs(err, &dm)
	s.Equal(8, dm.Expected)
	s.Equal(6, dm.Got)

	count, err := s.store.Count(s.ctx, biometric.ModalityFace, "u1")
	s.Require().NoError(err)
	s.Equal(2, count, "rejected sample must not be stored")
}

// TestModalityDimensionShared verifies the first sample of a modality fixes
// the length for every identity of that modality.
func (s *StoreSuite) TestModalityDimensionShared() {
	s.enroll(biometric.ModalityFace, "u1", 1, 8)

	_, err := s.store.AddSample(s.ctx, biometric.ModalityFace, "u2", s.vector(6), "")
	s.Require().ErrorIs(err, biometric.ErrDimensionMismatch)
	var dm *biometric.DimensionMismatchError
	s.Require().ErrorAs(err, &dm)
	s.Equal(8, dm.Expected)
	s.Equal(6, dm.Got)

	count, err := s.store.Count(s.ctx, biometric.ModalityFace, "u2")
	s.Require().NoError(err)
	s.Zero(count)
	identities, err := s.store.Identities(s.ctx, biometric.ModalityFace)
	s.Require().NoError(err)
	s.Equal([]biometric.Identity{"u1"}, identities)

	s.enroll(biometric.ModalityFace, "u2", 1, 8)
	s.enroll(biometric.ModalityVoice, "u2", 1, 6)

	// Removing every identity keeps the modality's length.
	for _, id := range []biometric.Identity{"u1", "u2"} {
		_, err := s.store.Delete(s.ctx, biometric.ModalityFace, id)
		s.Require().NoError(err)
	}
	_, err = s.store.AddSample(s.ctx, biometric.ModalityFace, "u3", s.vector(6), "")
	s.Require().ErrorIs(err, biometric.ErrDimensionMismatch)
}

// TestConcurrentFirstEnrollmentsAgreeOnDimension races first enrollments of
// different lengths into an empty modality; exactly one length may win.
func (s *StoreSuite) TestConcurrentFirstEnrollmentsAgreeOnDimension() {
	const writers = 8
	vectors := make([][]float32, writers)
	for i := range vectors {
		vectors[i] = s.vector(4 + 2*(i%2))
	}

	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			identity := biometric.Identity(fmt.Sprintf("writer-%d", i))
			_, errs[i] = s.store.AddSample(s.ctx, biometric.ModalityVoice, identity, vectors[i], "")
		}()
	}
	wg.Wait()

	dims := make(map[int]bool)
	for i, err := range errs {
		if err != nil {
			s.Require().ErrorIs(err, biometric.ErrDimensionMismatch)
			continue
		}
		samples, err := s.store.List(s.ctx, biometric.ModalityVoice, biometric.Identity(fmt.Sprintf("writer-%d", i)))
		s.Require().NoError(err)
		s.Require().Len(samples, 1)
		dims[len(samples[0].Embedding)] = true
	}
	s.Len(dims, 1)
}

// TestRejectsInvalidEmbeddings verifies unusable embeddings never reach storage.
func (s *StoreSuite) TestRejectsInvalidEmbeddings() {
	var ve *biometric.ValidationError

	_, err := s.store.AddSample(s.ctx, biometric.ModalityFace, "u1", nil, "")
	s.Require().ErrorAs(err, &ve)

	_, err = s.store.AddSample(s.ctx, biometric.ModalityFace, "u1", []float32{1, float32(math.NaN())}, "")
	s.Require().ErrorAs(err, &ve)

	count, err := s.store.Count(s.ctx, biometric.ModalityFace, "u1")
	s.Require().NoError(err)
	s.Zero(count)
}

// TestDelete verifies cascading deletion.
func (s *StoreSuite) TestDelete() {
	s.enroll(biometric.ModalityFace, "u1", 4, 8)
	s.enroll(biometric.ModalityFace, "u2", 1, 8)

	removed, err := s.store.Delete(s.ctx, biometric.ModalityFace, "u1")
	s.Require().NoError(err)
	s.Equal(4, removed)

	count, err := s.store.Count(s.ctx, biometric.ModalityFace, "u1")
	s.Require().NoError(err)
	s.Zero(count)

	identities, err := s.store.Identities(s.ctx, biometric.ModalityFace)
	s.Require().NoError(err)
	s.Equal([]biometric.Identity{"u2"}, identities)

	removed, err = s.store.Delete(s.ctx, biometric.ModalityFace, "u1")
	s.Require().NoError(err)
	s.Zero(removed, "deleting an unknown identity removes nothing")

	// A deleted identity starts over at sequence one.
	sample, err := s.store.AddSample(s.ctx, biometric.ModalityFace, "u1", s.vector(8), "")
	s.Require().NoError(err)
	s.Equal(1, sample.Sequence)
}

// TestIdentitiesOrder verifies identities are listed in first-enrollment order.
func (s *StoreSuite) TestIdentitiesOrder() {
	s.enroll(biometric.ModalityFace, "bravo", 1, 4)
	s.enroll(biometric.ModalityFace, "alpha", 1, 4)
	s.enroll(biometric.ModalityFace, "charlie", 1, 4)
	s.enroll(biometric.ModalityFace, "bravo", 1, 4)

	identities, err := s.store.Identities(s.ctx, biometric.ModalityFace)
	s.Require().NoError(err)
	s.Equal([]biometric.Identity{"bravo", "alpha", "charlie"}, identities)
}

// TestModalitiesIsolated verifies the same identity key is independent per modality.
func (s *StoreSuite) TestModalitiesIsolated() {
	s.enroll(biometric.ModalityFace, "u1", 2, 16)
	s.enroll(biometric.ModalityVoice, "u1", 3, 8)

	face, err := s.store.Count(s.ctx, biometric.ModalityFace, "u1")
	s.Require().NoError(err)
	s.Equal(2, face)

	voice, err := s.store.Count(s.ctx, biometric.ModalityVoice, "u1")
	s.Require().NoError(err)
	s.Equal(3, voice)

	removed, err := s.store.Delete(s.ctx, biometric.ModalityVoice, "u1")
	s.Require().NoError(err)
	s.Equal(3, removed)

	face, err = s.store.Count(s.ctx, biometric.ModalityFace, "u1")
	s.Require().NoError(err)
	s.Equal(2, face)
}

// TestEmbeddingRoundTrip verifies a 128-float embedding survives storage.
func (s *StoreSuite) TestEmbeddingRoundTrip() {
	original := s.vector(128)
	_, err := s.store.AddSample(s.ctx, biometric.ModalityFace, "u1", original, "")
	s.Require().NoError(err)

	samples, err := s.store.List(s.ctx, biometric.ModalityFace, "u1")
	s.Require().NoError(err)
	s.Require().Len(samples, 1)
	s.Require().Len(samples[0].Embedding, 128)
	for i, v := range original {
		got := samples[0].Embedding[i]
		s.LessOrEqual(math.Abs(float64(got-v)), 1e-5*math.Max(1, math.Abs(float64(v))), "component %d", i)
	}
}

// TestConcurrentEnrollment verifies per-identity writes are serialized and
// readers always see a consistent sample set.
func (s *StoreSuite) TestConcurrentEnrollment() {
	const writers, perWriter, dim = 8, 5, 16

	vectors := make([][]float32, writers*perWriter)
	for i := range vectors {
		vectors[i] = s.vector(dim)
	}

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter+writers)
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				if _, err := s.store.AddSample(s.ctx, biometric.ModalityFace, "shared", vectors[w*perWriter+i], ""); err != nil {
					errs <- err
				}
			}
		}()
	}
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWriter {
				samples, err := s.store.List(s.ctx, biometric.ModalityFace, "shared")
				if err != nil {
					errs <- err
					return
				}
				for i, sample := range samples {
					if sample.Sequence != i+1 || len(sample.Embedding) != dim {
						errs <- errors.New("inconsistent sample set observed")
						return
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	count, err := s.store.Count(s.ctx, biometric.ModalityFace, "shared")
	s.Require().NoError(err)
	s.Equal(writers*perWriter, count)
}

// TestPing verifies the backend reports itself reachable.
func (s *StoreSuite) TestPing() {
	s.Require().NoError(s.store.Ping(s.ctx))
}
