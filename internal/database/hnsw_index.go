package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/hnsw"
	"github.com/kozaktomas/bioauth/internal/biometric"
	"github.com/kozaktomas/bioauth/internal/matching"
)

type graphKey struct {
	modality biometric.Modality
	dim      int
}

type indexedNode struct {
	modality biometric.Modality
	identity biometric.Identity
}

// IndexedStore decorates a Store with in-memory HNSW graphs over all samples,
// one per modality and embedding dimension. It answers nearest-identity
// queries for the identification shortlist; reads and writes go to the
// wrapped store.
type IndexedStore struct {
	Store

	metrics map[biometric.Modality]matching.Metric

	mu         sync.RWMutex
	graphs     map[graphKey]*hnsw.Graph[int64]
	nodes      map[int64]indexedNode
	byIdentity map[string][]int64
	nextID     int64
}

// NewIndexedStore wraps store. metrics selects the graph distance per
// modality; modalities without an entry are not indexed.
func NewIndexedStore(store Store, metrics map[biometric.Modality]matching.Metric) *IndexedStore {
	return &IndexedStore{
		Store:      store,
		metrics:    metrics,
		graphs:     make(map[graphKey]*hnsw.Graph[int64]),
		nodes:      make(map[int64]indexedNode),
		byIdentity: make(map[string][]int64),
	}
}

// Build indexes every sample currently in the wrapped store.
func (s *IndexedStore) Build(ctx context.Context) error {
	for modality := range s.metrics {
		identities, err := s.Store.Identities(ctx, modality)
		if err != nil {
			return fmt.Errorf("listing %s identities: %w", modality, err)
		}
		for _, identity := range identities {
			samples, err := s.Store.List(ctx, modality, identity)
			if err != nil {
				return fmt.Errorf("listing samples of %s: %w", identity, err)
			}
			for i := range samples {
				s.index(modality, identity, samples[i].Embedding)
			}
		}
	}
	return nil
}

// AddSample stores the sample and indexes it.
func (s *IndexedStore) AddSample(
	ctx context.Context, modality biometric.Modality, identity biometric.Identity, embedding []float32, aux string,
) (biometric.Sample, error) {
	sample, err := s.Store.AddSample(ctx, modality, identity, embedding, aux)
	if err != nil {
		return sample, err
	}
	s.index(modality, identity, sample.Embedding)
	return sample, nil
}

// Delete removes the identity from the store and drops its nodes from search
// results.
func (s *IndexedStore) Delete(ctx context.Context, modality biometric.Modality, identity biometric.Identity) (int, error) {
	n, err := s.Store.Delete(ctx, modality, identity)
	if err != nil {
		return n, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := IdentityKey(string(modality), string(identity))
	for _, id := range s.byIdentity[key] {
		// coder/hnsw keeps the node in the graph; dropping it from nodes
		// filters it out of search results.
		delete(s.nodes, id)
	}
	delete(s.byIdentity, key)
	return n, nil
}

func (s *IndexedStore) index(modality biometric.Modality, identity biometric.Identity, embedding []float32) {
	metric, ok := s.metrics[modality]
	if !ok || matching.Norm(embedding) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	gk := graphKey{modality: modality, dim: len(embedding)}
	g, ok := s.graphs[gk]
	if !ok {
		g = hnsw.NewGraph[int64]()
		g.M = HNSWMaxNeighbors
		g.Ml = 1.0 / float64(HNSWMaxNeighbors)
		g.EfSearch = HNSWEfSearch
		g.Distance = hnsw.CosineDistance
		if metric == matching.MetricEuclidean {
			g.Distance = hnsw.EuclideanDistance
		}
		s.graphs[gk] = g
	}

	if metric == matching.MetricEuclidean {
		embedding = matching.Normalize(embedding)
	}

	s.nextID++
	id := s.nextID
	g.Add(hnsw.MakeNode(id, embedding))
	s.nodes[id] = indexedNode{modality: modality, identity: identity}
	key := IdentityKey(string(modality), string(identity))
	s.byIdentity[key] = append(s.byIdentity[key], id)
}

// NearestIdentities returns the distinct owners of the k samples nearest to
// probe, nearest first.
func (s *IndexedStore) NearestIdentities(
	_ context.Context, modality biometric.Modality, probe []float32, k int,
) ([]biometric.Identity, error) {
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.graphs[graphKey{modality: modality, dim: len(probe)}]
	if !ok || g.Len() == 0 {
		return nil, nil
	}

	if s.metrics[modality] == matching.MetricEuclidean {
		if probe = matching.Normalize(probe); probe == nil {
			return nil, nil
		}
	}

	neighbors := g.Search(probe, k*HNSWSearchMultiplier)
	seen := make(map[biometric.Identity]struct{})
	identities := make([]biometric.Identity, 0, k)
	live := 0
	for _, n := range neighbors {
		node, ok := s.nodes[n.Key]
		if !ok {
			continue
		}
		live++
		if _, dup := seen[node.identity]; !dup {
			seen[node.identity] = struct{}{}
			identities = append(identities, node.identity)
		}
		if live == k {
			break
		}
	}
	return identities, nil
}

// IndexedCount returns the number of live indexed samples.
func (s *IndexedStore) IndexedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
