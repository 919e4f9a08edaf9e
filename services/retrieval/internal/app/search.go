package app

import (
	"context"
	"fmt"

	"docchat/pkg/domain"
	"docchat/pkg/retrieval"
)

// SearchRequest describes one similarity query. Either Query (text, embedded
// on the fly) or Embedding (a precomputed vector) must be set.
type SearchRequest struct {
	Query      string
	Embedding  []float32
	MatchCount int
	// Threshold replaces the configured primary threshold when > 0. The
	// secondary stage and the recency fallback still apply.
	Threshold float64
}

// SearchResult is one scored chunk, shaped for the wire.
type SearchResult struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"documentId"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Similarity float64           `json:"similarity"`
}

// Search embeds the query if needed and runs the scoped cascade search.
func (a *App) Search(ctx context.Context, scope domain.Scope, req SearchRequest) ([]SearchResult, error) {
	scope, err := cleanScope(scope)
	if err != nil {
		return nil, err
	}
	vector := req.Embedding
	if len(vector) == 0 {
		if req.Query == "" {
			return nil, fmt.Errorf("query or embedding required")
		}
		embedding, err := a.provider.Embed(ctx, req.Query)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		vector = embedding.Vector
	}
	if len(vector) != a.provider.Dimension() {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(vector), a.provider.Dimension())
	}

	k := req.MatchCount
	if k <= 0 {
		k = a.matchCount
	}
	var scored []domain.ScoredChunk
	if req.Threshold > 0 {
		scored, err = a.engine.SearchWithPolicy(scope, vector, k, retrieval.NewPolicy(req.Threshold, a.secondaryThreshold))
	} else {
		scored, err = a.engine.Search(scope, vector, k)
	}
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(scored))
	for _, sc := range scored {
		results = append(results, SearchResult{
			ID:         sc.Chunk.ID,
			DocumentID: sc.Chunk.DocumentID,
			Content:    sc.Chunk.Content,
			Metadata:   sc.Chunk.Metadata,
			Similarity: sc.Similarity,
		})
	}
	return results, nil
}
