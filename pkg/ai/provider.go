package ai

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxRetries  = 3
	defaultBaseDelay   = 200 * time.Millisecond
	defaultMaxInFlight = 4
)

// ProviderConfig configures the retrying, degradable embedding provider.
type ProviderConfig struct {
	Remote       Embedder
	Dimension    int
	MaxRetries   int
	BaseDelay    time.Duration
	FallbackOnly bool
	// MaxInFlight caps concurrent remote calls across the whole deployment;
	// the semaphore is shared by every document being ingested.
	MaxInFlight int
}

// Provider wraps a remote embedder with bounded retries, exponential backoff
// with jitter, and a deterministic hash fallback once the retry budget is
// exhausted. The result is tagged so callers can observe degraded mode.
type Provider struct {
	remote       Embedder
	dim          int
	maxRetries   int
	baseDelay    time.Duration
	fallbackOnly bool
	sem          *semaphore.Weighted
}

// NewProvider validates the config and builds a provider.
func NewProvider(cfg ProviderConfig) (*Provider, error) {
	if cfg.Dimension <= 0 {
		return nil, errors.New("embedding dimension required")
	}
	if cfg.Remote == nil && !cfg.FallbackOnly {
		return nil, errors.New("remote embedder required unless fallback-only")
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &Provider{
		remote:       cfg.Remote,
		dim:          cfg.Dimension,
		maxRetries:   maxRetries,
		baseDelay:    baseDelay,
		fallbackOnly: cfg.FallbackOnly,
		sem:          semaphore.NewWeighted(int64(maxInFlight)),
	}, nil
}

// Dimension returns the configured vector width.
func (p *Provider) Dimension() int {
	return p.dim
}

// Embed returns a tagged embedding for text. Transient remote failures are
// retried with backoff; once the budget is spent the hash fallback takes
// over, which is a degradation, not an error. A wrong-length vector from the
// remote is fatal and returned as *DimensionMismatchError.
func (p *Provider) Embed(ctx context.Context, text string) (Embedding, error) {
	if p.fallbackOnly {
		return Embedding{Vector: FallbackVector(text, p.dim), Source: SourceFallback}, nil
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := p.sleep(ctx, attempt); err != nil {
				return Embedding{}, err
			}
		}
		vec, err := p.embedRemote(ctx, text)
		if err == nil {
			if len(vec) != p.dim {
				return Embedding{}, &DimensionMismatchError{Got: len(vec), Want: p.dim}
			}
			return Embedding{Vector: vec, Source: SourceSemantic}, nil
		}
		if ctx.Err() != nil {
			return Embedding{}, ctx.Err()
		}
		lastErr = err
		if !IsTransient(err) {
			break
		}
	}

	slog.Warn("embedding degraded to fallback vector", "err", lastErr)
	return Embedding{Vector: FallbackVector(text, p.dim), Source: SourceFallback}, nil
}

func (p *Provider) embedRemote(ctx context.Context, text string) ([]float32, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return p.remote.EmbedText(ctx, text)
}

func (p *Provider) sleep(ctx context.Context, attempt int) error {
	delay := p.baseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(p.baseDelay)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay + jitter):
		return nil
	}
}
