package matching

import (
	"fmt"
	"math"
)

// Metric selects how two embeddings are compared.
type Metric string

const (
	// MetricCosine maps cosine similarity from [-1,1] to [0,1].
	MetricCosine Metric = "cosine"
	// MetricEuclidean maps the euclidean distance d between the unit-length
	// vectors to 1 - d/maxDistance.
	MetricEuclidean Metric = "euclidean"
)

// DefaultMaxDistance is the normalization constant for euclidean distance
// between unit-normalized vectors.
const DefaultMaxDistance = 2.0

// Scorer maps two embeddings to a normalized match score in [0,1], where 1
// means identical. It is stateless and safe for concurrent use.
type Scorer struct {
	metric      Metric
	maxDistance float64
}

// NewScorer creates a scorer for the given metric. maxDistance is only used
// by distance metrics and defaults to DefaultMaxDistance.
func NewScorer(metric Metric, maxDistance float64) (*Scorer, error) {
	switch metric {
	case MetricCosine:
	case MetricEuclidean:
		if maxDistance <= 0 {
			maxDistance = DefaultMaxDistance
		}
	default:
		return nil, fmt.Errorf("unknown metric %q", metric)
	}
	return &Scorer{metric: metric, maxDistance: maxDistance}, nil
}

// Metric returns the configured metric.
func (s *Scorer) Metric() Metric {
	return s.metric
}

// Score compares a and b. Mismatched lengths, empty vectors and zero-norm
// vectors score 0.
func (s *Scorer) Score(a, b []float32) float64 {
	if s.metric == MetricEuclidean {
		return DistanceScore(a, b, s.maxDistance)
	}
	return CosineScore(a, b)
}

// CosineScore returns (cos(a,b)+1)/2 clamped to [0,1].
func CosineScore(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return clamp01((similarity + 1) / 2)
}

// DistanceScore returns 1 - euclidean(â,b̂)/maxDistance clamped to [0,1],
// where â and b̂ are a and b scaled to unit length. Model servers do not all
// normalize their output, and maxDistance is only meaningful on unit vectors.
func DistanceScore(a, b []float32, maxDistance float64) float64 {
	if len(a) != len(b) || len(a) == 0 || maxDistance <= 0 {
		return 0
	}

	normA, normB := Norm(a), Norm(b)
	if normA == 0 || normB == 0 {
		return 0
	}

	var sum float64
	for i := range a {
		d := float64(a[i])/normA - float64(b[i])/normB
		sum += d * d
	}
	return clamp01(1 - math.Sqrt(sum)/maxDistance)
}

// Normalize returns v scaled to unit length, or nil for a zero-norm vector.
func Normalize(v []float32) []float32 {
	n := Norm(v)
	if n == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i := range v {
		out[i] = float32(float64(v[i]) / n)
	}
	return out
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Norm returns the euclidean norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
