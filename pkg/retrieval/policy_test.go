package retrieval

import (
	"testing"

	"docchat/pkg/domain"
)

func scored(id string, sim float64) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk:      domain.Chunk{ID: id, Content: "c-" + id},
		Similarity: sim,
	}
}

func TestPolicyPrimaryStageWins(t *testing.T) {
	p := NewPolicy(0.3, 0.1)
	out := p.Apply([]domain.ScoredChunk{scored("a", 0.9), scored("b", 0.2), scored("c", 0.05)})
	if len(out) != 1 || out[0].Chunk.ID != "a" {
		t.Fatalf("out = %+v, want just chunk a", out)
	}
}

func TestPolicyCascadesToSecondary(t *testing.T) {
	p := NewPolicy(0.3, 0.1)
	out := p.Apply([]domain.ScoredChunk{scored("a", 0.15), scored("b", 0.05)})
	if len(out) != 1 || out[0].Chunk.ID != "a" {
		t.Fatalf("out = %+v, want chunk a from the secondary stage", out)
	}
}

func TestPolicyThresholdIsStrict(t *testing.T) {
	p := NewPolicy(0.3)
	if out := p.Apply([]domain.ScoredChunk{scored("a", 0.3)}); out != nil {
		t.Fatalf("similarity equal to threshold must not pass, got %+v", out)
	}
}

func TestPolicyEmptyWhenNothingClears(t *testing.T) {
	p := NewPolicy(0.3, 0.1)
	if out := p.Apply([]domain.ScoredChunk{scored("a", 0.05)}); out != nil {
		t.Fatalf("out = %+v, want nil", out)
	}
	if out := p.Apply(nil); out != nil {
		t.Fatalf("out = %+v, want nil for no candidates", out)
	}
}

func TestPolicyPreservesRanking(t *testing.T) {
	p := NewPolicy(0.1)
	out := p.Apply([]domain.ScoredChunk{scored("a", 0.9), scored("b", 0.5), scored("c", 0.4)})
	if len(out) != 3 {
		t.Fatalf("out = %d items, want 3", len(out))
	}
	for i, id := range []string{"a", "b", "c"} {
		if out[i].Chunk.ID != id {
			t.Fatalf("position %d = %s, want %s", i, out[i].Chunk.ID, id)
		}
	}
}
