// Package similarity scores a submission's source against its peers for plagiarism.
package similarity

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog"
)

// Signals are the similarity measurements of one candidate against its peer set.
type Signals struct {
	TokenSimilarity      float64 `json:"token_similarity"`
	StructuralSimilarity float64 `json:"structural_similarity"`
	EmbeddingSimilarity  float64 `json:"embedding_similarity"`
	AIGeneratedProb      float64 `json:"ai_generated_prob"`
	PlagPercent          float64 `json:"plag_percent"`
}

// AuthorshipEstimator returns the likelihood in [0,1] that a source was machine generated.
type AuthorshipEstimator interface {
	Estimate(ctx context.Context, source string) (float64, error)
}

// NoopAuthorship always reports zero likelihood.
type NoopAuthorship struct{}

// Estimate implements AuthorshipEstimator.
func (NoopAuthorship) Estimate(context.Context, string) (float64, error) {
	return 0, nil
}

// Engine computes Signals using one comparator per signal. Every signal keeps the best
// match over the peer set.
type Engine struct {
	core       Comparator
	token      Comparator
	structure  Comparator
	embedding  Comparator
	authorship AuthorshipEstimator
	logger     zerolog.Logger
}

// Option customises an Engine.
type Option func(*Engine)

// WithTokenComparator replaces the token similarity comparator.
func WithTokenComparator(c Comparator) Option {
	return func(e *Engine) { e.token = c }
}

// WithStructureComparator replaces the structural similarity comparator.
func WithStructureComparator(c Comparator) Option {
	return func(e *Engine) { e.structure = c }
}

// WithEmbeddingComparator replaces the embedding-proxy comparator.
func WithEmbeddingComparator(c Comparator) Option {
	return func(e *Engine) { e.embedding = c }
}

// WithAuthorship sets the AI authorship estimator.
func WithAuthorship(a AuthorshipEstimator) Option {
	return func(e *Engine) {
		if a != nil {
			e.authorship = a
		}
	}
}

// WithCollapsedSignals makes every auxiliary signal reuse the core character ratio.
func WithCollapsedSignals() Option {
	return func(e *Engine) {
		e.token = e.core
		e.structure = e.core
		e.embedding = e.core
	}
}

// NewEngine builds an engine with the default comparators.
func NewEngine(logger zerolog.Logger, opts ...Option) *Engine {
	engine := &Engine{
		core:       CharacterRatio,
		token:      TokenRatio,
		structure:  StructureRatio,
		embedding:  CosineTrigram,
		authorship: NoopAuthorship{},
		logger:     logger.With().Str("component", "similarity_engine").Logger(),
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}

// Score compares candidate against every peer. An empty candidate or peer set yields zero signals.
func (e *Engine) Score(ctx context.Context, candidate string, peers []string) Signals {
	normalized := Normalize(candidate)
	if normalized == "" {
		return Signals{}
	}

	// Only the best score is kept, so identical peers are compared once.
	seen := make(map[string]struct{}, len(peers))
	normalizedPeers := make([]string, 0, len(peers))
	for _, peer := range peers {
		n := Normalize(peer)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		normalizedPeers = append(normalizedPeers, n)
	}
	if len(normalizedPeers) == 0 {
		return Signals{}
	}

	core, coreFull := bestMatch(e.core, normalized, normalizedPeers)
	token, tokenFull := bestMatch(e.token, normalized, normalizedPeers)
	structure, structureFull := bestMatch(e.structure, normalized, normalizedPeers)
	embedding, embeddingFull := bestMatch(e.embedding, normalized, normalizedPeers)

	e.logger.Debug().
		Int("peers", len(normalizedPeers)).
		Int("core_compared", coreFull).
		Int("token_compared", tokenFull).
		Int("structure_compared", structureFull).
		Int("embedding_compared", embeddingFull).
		Msg("similarity scored")

	signals := Signals{
		TokenSimilarity:      round(clampUnit(token), 4),
		StructuralSimilarity: round(clampUnit(structure), 4),
		EmbeddingSimilarity:  round(clampUnit(embedding), 4),
		PlagPercent:          math.Min(100, math.Max(0, round(clampUnit(core)*100, 2))),
	}

	prob, err := e.authorship.Estimate(ctx, candidate)
	if err != nil {
		e.logger.Warn().Err(err).Msg("authorship estimate failed")
		prob = 0
	}
	signals.AIGeneratedProb = round(clampUnit(prob), 4)

	return signals
}

// bestMatch returns the highest score of candidate against peers and how many full comparisons
// it ran. Bounded comparators visit peers by descending upper bound and stop once no remaining
// bound can beat the best score, which leaves the maximum unchanged.
func bestMatch(c Comparator, candidate string, peers []string) (float64, int) {
	bounded, ok := c.(BoundedComparator)
	if !ok {
		var best float64
		for _, peer := range peers {
			best = math.Max(best, c.Compare(candidate, peer))
		}
		return best, len(peers)
	}

	type rankedPeer struct {
		source string
		bound  float64
	}
	ranking := make([]rankedPeer, len(peers))
	for i, peer := range peers {
		ranking[i] = rankedPeer{source: peer, bound: bounded.UpperBound(candidate, peer)}
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		return ranking[i].bound > ranking[j].bound
	})

	var best float64
	compared := 0
	for _, peer := range ranking {
		if peer.bound <= best {
			break
		}
		best = math.Max(best, bounded.Compare(candidate, peer.source))
		compared++
	}
	return best, compared
}

func round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}
