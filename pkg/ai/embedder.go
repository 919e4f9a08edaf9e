package ai

import "context"

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Source records how an embedding was produced.
type Source string

const (
	// SourceSemantic marks a vector returned by the remote embedding model.
	SourceSemantic Source = "semantic"
	// SourceFallback marks a deterministic hash-derived vector used when the
	// remote provider is unavailable. It carries no semantic meaning.
	SourceFallback Source = "fallback"
)

// Embedding is a tagged vector, so downstream consumers can tell degraded
// retrieval quality apart from the real thing.
type Embedding struct {
	Vector []float32
	Source Source
}
