package ai

import (
	"context"
	"errors"
	"testing"
	"time"
)

type scriptedEmbedder struct {
	calls   int
	results []func() ([]float32, error)
}

func (s *scriptedEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		idx = len(s.results) - 1
	}
	return s.results[idx]()
}

func okVector(dim int) func() ([]float32, error) {
	return func() ([]float32, error) {
		vec := make([]float32, dim)
		vec[0] = 1
		return vec, nil
	}
}

func failWith(err error) func() ([]float32, error) {
	return func() ([]float32, error) { return nil, err }
}

func newTestProvider(t *testing.T, remote Embedder, dim, retries int) *Provider {
	t.Helper()
	p, err := NewProvider(ProviderConfig{
		Remote:     remote,
		Dimension:  dim,
		MaxRetries: retries,
		BaseDelay:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	return p
}

func TestEmbedTagsSemanticOnSuccess(t *testing.T) {
	remote := &scriptedEmbedder{results: []func() ([]float32, error){okVector(8)}}
	p := newTestProvider(t, remote, 8, 2)

	emb, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if emb.Source != SourceSemantic {
		t.Fatalf("source = %q, want %q", emb.Source, SourceSemantic)
	}
	if len(emb.Vector) != 8 {
		t.Fatalf("vector length = %d, want 8", len(emb.Vector))
	}
	if remote.calls != 1 {
		t.Fatalf("remote calls = %d, want 1", remote.calls)
	}
}

func TestEmbedRetriesTransientThenSucceeds(t *testing.T) {
	remote := &scriptedEmbedder{results: []func() ([]float32, error){
		failWith(&APIError{StatusCode: 503}),
		failWith(&APIError{StatusCode: 429}),
		okVector(8),
	}}
	p := newTestProvider(t, remote, 8, 3)

	emb, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if emb.Source != SourceSemantic {
		t.Fatalf("source = %q, want %q", emb.Source, SourceSemantic)
	}
	if remote.calls != 3 {
		t.Fatalf("remote calls = %d, want 3", remote.calls)
	}
}

func TestEmbedFallsBackAfterRetryBudget(t *testing.T) {
	remote := &scriptedEmbedder{results: []func() ([]float32, error){
		failWith(&APIError{StatusCode: 500}),
	}}
	p := newTestProvider(t, remote, 16, 2)

	emb, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if emb.Source != SourceFallback {
		t.Fatalf("source = %q, want %q", emb.Source, SourceFallback)
	}
	if len(emb.Vector) != 16 {
		t.Fatalf("vector length = %d, want 16", len(emb.Vector))
	}
	if remote.calls != 3 {
		t.Fatalf("remote calls = %d, want 3 (initial + 2 retries)", remote.calls)
	}

	// degraded mode stays deterministic
	again, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	for i := range emb.Vector {
		if emb.Vector[i] != again.Vector[i] {
			t.Fatalf("fallback vector not deterministic at index %d", i)
		}
	}
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	remote := &scriptedEmbedder{results: []func() ([]float32, error){
		failWith(&APIError{StatusCode: 400, Message: "bad input"}),
	}}
	p := newTestProvider(t, remote, 8, 5)

	emb, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if emb.Source != SourceFallback {
		t.Fatalf("source = %q, want %q", emb.Source, SourceFallback)
	}
	if remote.calls != 1 {
		t.Fatalf("remote calls = %d, want 1", remote.calls)
	}
}

func TestEmbedDimensionMismatchIsFatal(t *testing.T) {
	remote := &scriptedEmbedder{results: []func() ([]float32, error){okVector(512)}}
	p := newTestProvider(t, remote, 1024, 5)

	_, err := p.Embed(context.Background(), "hello")
	var mismatch *DimensionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want DimensionMismatchError", err)
	}
	if mismatch.Got != 512 || mismatch.Want != 1024 {
		t.Fatalf("mismatch = %+v, want got=512 want=1024", mismatch)
	}
	if remote.calls != 1 {
		t.Fatalf("remote calls = %d, want 1 (no retries)", remote.calls)
	}
}

func TestEmbedFallbackOnlySkipsRemote(t *testing.T) {
	remote := &scriptedEmbedder{results: []func() ([]float32, error){okVector(8)}}
	p, err := NewProvider(ProviderConfig{
		Remote:       remote,
		Dimension:    8,
		FallbackOnly: true,
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	emb, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if emb.Source != SourceFallback {
		t.Fatalf("source = %q, want %q", emb.Source, SourceFallback)
	}
	if remote.calls != 0 {
		t.Fatalf("remote calls = %d, want 0", remote.calls)
	}
}

func TestEmbedStopsOnCancelledContext(t *testing.T) {
	remote := &scriptedEmbedder{results: []func() ([]float32, error){
		failWith(&APIError{StatusCode: 503}),
	}}
	p := newTestProvider(t, remote, 8, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Embed(ctx, "hello"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
