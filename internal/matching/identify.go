package matching

import (
	"context"
	"fmt"

	"github.com/kozaktomas/bioauth/internal/biometric"
	"golang.org/x/sync/errgroup"
)

const defaultIdentifyWorkers = 8

// IdentityStore lists identities in first-enrollment order and their samples.
type IdentityStore interface {
	SampleLister
	Identities(ctx context.Context, modality biometric.Modality) ([]biometric.Identity, error)
}

// CandidateFinder returns the identities owning the k samples nearest to
// probe. Stores that can answer this cheaply implement it.
type CandidateFinder interface {
	NearestIdentities(ctx context.Context, modality biometric.Modality, probe []float32, k int) ([]biometric.Identity, error)
}

// IdentifierOptions tunes the 1:N search.
type IdentifierOptions struct {
	// Workers bounds how many identities are evaluated concurrently.
	Workers int
	// Shortlist, when > 0 and the store is a CandidateFinder, restricts the
	// search to owners of the nearest samples.
	Shortlist int
	// Dual switches to two-factor decisions.
	Dual *DualFactorVerifier
}

// Identifier runs the per-identity decision against every enrolled identity
// and returns the best passing one.
type Identifier struct {
	engine *Engine
	store  IdentityStore
	opts   IdentifierOptions
}

// NewIdentifier creates a 1:N search over store.
func NewIdentifier(engine *Engine, store IdentityStore, opts IdentifierOptions) *Identifier {
	if opts.Workers <= 0 {
		opts.Workers = defaultIdentifyWorkers
	}
	return &Identifier{engine: engine, store: store, opts: opts}
}

type candidate struct {
	passed     bool
	confidence float64
}

// Identify returns the identity with the highest passing confidence.
// Identities are visited in store order and the earliest one wins a tie.
func (i *Identifier) Identify(ctx context.Context, probe []float32, aux AuxSource) (biometric.IdentificationResult, error) {
	modality := i.engine.modality

	identities, err := i.store.Identities(ctx, modality)
	if err != nil {
		return biometric.IdentificationResult{}, fmt.Errorf("listing identities: %w", err)
	}
	identities, err = i.shortlist(ctx, identities, probe)
	if err != nil {
		return biometric.IdentificationResult{}, err
	}

	candidates := make([]candidate, len(identities))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.opts.Workers)
	for idx, identity := range identities {
		g.Go(func() error {
			samples, err := i.store.List(gctx, modality, identity)
			if err != nil {
				return fmt.Errorf("listing samples of %s: %w", identity, err)
			}
			if i.opts.Dual != nil {
				res, err := i.opts.Dual.Evaluate(gctx, samples, probe, aux)
				if err != nil {
					return err
				}
				candidates[idx] = candidate{passed: res.Verified, confidence: res.CombinedConfidence}
				return nil
			}
			res := i.engine.Evaluate(samples, probe)
			candidates[idx] = candidate{passed: res.Verified, confidence: res.Confidence()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return biometric.IdentificationResult{}, err
	}

	result := biometric.IdentificationResult{Candidates: len(identities)}
	for idx, c := range candidates {
		if !c.passed {
			continue
		}
		if !result.Identified || c.confidence > result.Confidence {
			result.Identified = true
			result.Identity = identities[idx]
			result.Confidence = c.confidence
		}
	}
	return result, nil
}

// shortlist narrows identities to the owners of the nearest samples while
// keeping store order.
func (i *Identifier) shortlist(ctx context.Context, identities []biometric.Identity, probe []float32) ([]biometric.Identity, error) {
	if i.opts.Shortlist <= 0 || Norm(probe) == 0 {
		return identities, nil
	}
	finder, ok := i.store.(CandidateFinder)
	if !ok {
		return identities, nil
	}

	nearest, err := finder.NearestIdentities(ctx, i.engine.modality, probe, i.opts.Shortlist)
	if err != nil {
		return nil, fmt.Errorf("finding candidates: %w", err)
	}
	keep := make(map[biometric.Identity]struct{}, len(nearest))
	for _, id := range nearest {
		keep[id] = struct{}{}
	}

	filtered := make([]biometric.Identity, 0, len(keep))
	for _, id := range identities {
		if _, ok := keep[id]; ok {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}
