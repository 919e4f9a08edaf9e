// Package retrieval ranks stored chunks against a query embedding, scoped to
// one (user, conversation) tenant.
package retrieval

import (
	"fmt"

	"docchat/pkg/domain"
	"docchat/pkg/store"
)

const defaultMatchCount = 5

// Engine answers similarity searches with a cascading-threshold fallback.
// Tenant isolation is structural: the scope travels into the store query and
// is never applied as a post-filter here.
type Engine struct {
	store  store.Store
	policy Policy
}

// NewEngine builds an engine over a store with the given cascade policy.
func NewEngine(st store.Store, policy Policy) *Engine {
	return &Engine{store: st, policy: policy}
}

// Search returns up to k chunks in scope ranked by similarity using the
// engine's configured policy.
func (e *Engine) Search(scope domain.Scope, query []float32, k int) ([]domain.ScoredChunk, error) {
	return e.SearchWithPolicy(scope, query, k, e.policy)
}

// SearchWithPolicy is Search with a caller-supplied cascade, for callers that
// override the primary threshold per request.
//
// Resolution order: candidates above the first threshold, then each following
// threshold, then every chunk in scope by recency. Only a scope with zero
// chunks yields an empty result, which signals "nothing uploaded", not an
// error.
func (e *Engine) SearchWithPolicy(scope domain.Scope, query []float32, k int, policy Policy) ([]domain.ScoredChunk, error) {
	if k <= 0 {
		k = defaultMatchCount
	}
	total, err := e.store.CountChunks(scope)
	if err != nil {
		return nil, fmt.Errorf("count chunks: %w", err)
	}
	if total == 0 {
		return []domain.ScoredChunk{}, nil
	}

	candidates, err := e.store.SearchChunks(scope, query, k)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	if out := policy.Apply(candidates); len(out) > 0 {
		return out, nil
	}

	// Nothing cleared any threshold. An imperfect match still beats handing
	// the generator nothing, so return the whole scope by recency.
	all, err := e.store.ListChunksByRecency(scope)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	known := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		known[c.Chunk.ID] = c.Similarity
	}
	out := make([]domain.ScoredChunk, 0, len(all))
	for _, chunk := range all {
		out = append(out, domain.ScoredChunk{Chunk: chunk, Similarity: known[chunk.ID]})
	}
	return out, nil
}
