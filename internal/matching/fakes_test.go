package matching

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/kozaktomas/bioauth/internal/biometric"
)

// fakeStore is a minimal in-test enrollment store.
type fakeStore struct {
	mu      sync.Mutex
	order   []biometric.Identity
	samples map[biometric.Identity][]biometric.Sample
	nearest []biometric.Identity

	ListError error
}

func newFakeStore() *fakeStore {
	return &fakeStore{samples: make(map[biometric.Identity][]biometric.Sample)}
}

func (f *fakeStore) add(identity biometric.Identity, embedding []float32, aux string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.samples[identity]; !ok {
		f.order = append(f.order, identity)
	}
	f.samples[identity] = append(f.samples[identity], biometric.Sample{
		Identity:   identity,
		Sequence:   len(f.samples[identity]) + 1,
		Embedding:  embedding,
		AuxContent: aux,
	})
}

func (f *fakeStore) remove(identity biometric.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.samples, identity)
	for i, id := range f.order {
		if id == identity {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

func (f *fakeStore) List(_ context.Context, _ biometric.Modality, identity biometric.Identity) ([]biometric.Sample, error) {
	if f.ListError != nil {
		return nil, f.ListError
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]biometric.Sample(nil), f.samples[identity]...), nil
}

func (f *fakeStore) Identities(context.Context, biometric.Modality) ([]biometric.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]biometric.Identity(nil), f.order...), nil
}

// finderStore additionally answers nearest-identity queries with a fixed list.
type finderStore struct {
	*fakeStore
	calls int
}

func (f *finderStore) NearestIdentities(context.Context, biometric.Modality, []float32, int) ([]biometric.Identity, error) {
	f.calls++
	return f.nearest, nil
}

type fakeAux struct {
	text  string
	err   error
	calls int
}

func (a *fakeAux) Text(context.Context) (string, error) {
	a.calls++
	return a.text, a.err
}

var errTranscription = errors.New("transcription backend down")

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(r.NormFloat64())
	}
	return v
}

func jitter(r *rand.Rand, v []float32, amount float64) []float32 {
	out := make([]float32, len(v))
	for i := range v {
		out[i] = v[i] + float32(r.NormFloat64()*amount)
	}
	return out
}

func unit(v []float32) []float32 {
	n := Norm(v)
	out := make([]float32, len(v))
	for i := range v {
		out[i] = float32(float64(v[i]) / n)
	}
	return out
}

func mustScorer(metric Metric) *Scorer {
	s, err := NewScorer(metric, 0)
	if err != nil {
		panic(err)
	}
	return s
}
