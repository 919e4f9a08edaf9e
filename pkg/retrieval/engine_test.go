package retrieval

import (
	"testing"
	"time"

	"docchat/pkg/domain"
	"docchat/pkg/store"
)

func seedChunk(t *testing.T, st *store.MemoryStore, scope domain.Scope, docID, id string, ordinal int, vec []float32, at time.Time) {
	t.Helper()
	chunk := domain.Chunk{
		ID:             id,
		DocumentID:     docID,
		UserID:         scope.UserID,
		ConversationID: scope.ConversationID,
		Ordinal:        ordinal,
		Content:        "content " + id,
		Embedding:      vec,
		CreatedAt:      at,
	}
	existing, err := st.ListChunksByRecency(scope)
	if err != nil {
		t.Fatalf("list chunks: %v", err)
	}
	var keep []domain.Chunk
	for _, c := range existing {
		if c.DocumentID == docID {
			keep = append(keep, c)
		}
	}
	keep = append(keep, chunk)
	if err := st.ReplaceChunks(docID, keep); err != nil {
		t.Fatalf("replace chunks: %v", err)
	}
}

func TestSearchEmptyScopeReturnsEmpty(t *testing.T) {
	st := store.NewMemoryStore(3)
	engine := NewEngine(st, NewPolicy(0.3, 0.1))

	out, err := engine.Search(domain.Scope{UserID: "u", ConversationID: "c"}, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("out = %d items, want 0", len(out))
	}
}

func TestSearchSecondaryThresholdCatchesWeakMatch(t *testing.T) {
	st := store.NewMemoryStore(3)
	engine := NewEngine(st, NewPolicy(0.3, 0.1))
	scope := domain.Scope{UserID: "u", ConversationID: "c"}

	// cosine with the query vector is exactly 0.15 after clamping:
	// query (1,0,0), chunk (0.15, sqrt(1-0.15^2), 0) both unit length
	seedChunk(t, st, scope, "d1", "weak", 0, []float32{0.15, 0.98869, 0}, time.Now().UTC())

	out, err := engine.Search(scope, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 1 || out[0].Chunk.ID != "weak" {
		t.Fatalf("out = %+v, want the weak chunk via the secondary threshold", out)
	}
	if out[0].Similarity <= 0.1 || out[0].Similarity > 0.3 {
		t.Fatalf("similarity = %f, want between secondary and primary", out[0].Similarity)
	}
}

func TestSearchNeverEmptyWhenScopeHasChunks(t *testing.T) {
	st := store.NewMemoryStore(3)
	engine := NewEngine(st, NewPolicy(0.3, 0.1))
	scope := domain.Scope{UserID: "u", ConversationID: "c"}

	now := time.Now().UTC()
	// orthogonal to the query: similarity 0, below every threshold
	seedChunk(t, st, scope, "d1", "older", 0, []float32{0, 1, 0}, now.Add(-time.Minute))
	seedChunk(t, st, scope, "d2", "newer", 0, []float32{0, 0, 1}, now)

	out, err := engine.Search(scope, []float32{1, 0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("out = %d items, want both scope chunks", len(out))
	}
	if out[0].Chunk.ID != "newer" || out[1].Chunk.ID != "older" {
		t.Fatalf("fallback listing not by recency: %s, %s", out[0].Chunk.ID, out[1].Chunk.ID)
	}
}

func TestSearchIsolationAcrossIdenticalContent(t *testing.T) {
	st := store.NewMemoryStore(3)
	engine := NewEngine(st, NewPolicy(0, 0))
	scopeA := domain.Scope{UserID: "alice", ConversationID: "c1"}
	scopeB := domain.Scope{UserID: "bob", ConversationID: "c2"}
	vec := []float32{1, 0, 0}
	now := time.Now().UTC()

	seedChunk(t, st, scopeA, "da", "chunk-a", 0, vec, now)
	seedChunk(t, st, scopeB, "db", "chunk-b", 0, vec, now)

	out, err := engine.Search(scopeA, vec, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, sc := range out {
		if sc.Chunk.UserID != "alice" || sc.Chunk.ConversationID != "c1" {
			t.Fatalf("chunk %s leaked across scopes", sc.Chunk.ID)
		}
	}
	if len(out) != 1 {
		t.Fatalf("out = %d items, want exactly scope A's chunk", len(out))
	}
}

func TestSearchWithPolicyOverridesThreshold(t *testing.T) {
	st := store.NewMemoryStore(3)
	engine := NewEngine(st, NewPolicy(0.9))
	scope := domain.Scope{UserID: "u", ConversationID: "c"}
	seedChunk(t, st, scope, "d1", "only", 0, []float32{1, 0, 0}, time.Now().UTC())

	out, err := engine.SearchWithPolicy(scope, []float32{1, 0, 0}, 5, NewPolicy(0.5))
	if err != nil {
		t.Fatalf("SearchWithPolicy: %v", err)
	}
	if len(out) != 1 || out[0].Similarity <= 0.5 {
		t.Fatalf("out = %+v, want the chunk above the overridden threshold", out)
	}
}

func TestSearchRespectsLimit(t *testing.T) {
	st := store.NewMemoryStore(3)
	engine := NewEngine(st, NewPolicy(0.1))
	scope := domain.Scope{UserID: "u", ConversationID: "c"}
	now := time.Now().UTC()
	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.43589, 0},
		{0.8, 0.6, 0},
	}
	for i, vec := range vecs {
		seedChunk(t, st, scope, "d1", string(rune('a'+i)), i, vec, now)
	}

	out, err := engine.Search(scope, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("out = %d items, want 2", len(out))
	}
	if out[0].Chunk.ID != "a" || out[1].Chunk.ID != "b" {
		t.Fatalf("ranking wrong: %s, %s", out[0].Chunk.ID, out[1].Chunk.ID)
	}
}
