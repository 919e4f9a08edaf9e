package store

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"docchat/pkg/domain"
)

// MemoryStore keeps everything in-process. Used by tests and local
// development; behaviour mirrors GormStore, including scope handling and
// transactional deletes (a single lock section stands in for a transaction).
type MemoryStore struct {
	mu            sync.RWMutex
	embeddingDim  int
	conversations map[string]domain.Conversation
	documents     map[string]domain.Document
	statuses      map[string]domain.ProcessingStatus
	chunks        map[string][]domain.Chunk // document ID -> ordered chunks
	messages      []domain.Message
}

// NewMemoryStore initializes an empty in-memory store. A non-zero dim
// enforces the embedding width invariant on writes, like the vector column
// does in Postgres.
func NewMemoryStore(embeddingDim int) *MemoryStore {
	return &MemoryStore{
		embeddingDim:  embeddingDim,
		conversations: make(map[string]domain.Conversation),
		documents:     make(map[string]domain.Document),
		statuses:      make(map[string]domain.ProcessingStatus),
		chunks:        make(map[string][]domain.Chunk),
	}
}

func (m *MemoryStore) SaveConversation(c domain.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[c.ID] = c
	return nil
}

func (m *MemoryStore) GetConversation(id string) (domain.Conversation, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	return c, ok, nil
}

func (m *MemoryStore) DeleteConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for docID, doc := range m.documents {
		if doc.ConversationID != id {
			continue
		}
		delete(m.documents, docID)
		delete(m.statuses, docID)
		delete(m.chunks, docID)
	}
	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.ConversationID != id {
			kept = append(kept, msg)
		}
	}
	m.messages = kept
	delete(m.conversations, id)
	return nil
}

func (m *MemoryStore) SaveDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

func (m *MemoryStore) ListDocuments(scope domain.Scope) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var docs []domain.Document
	for _, d := range m.documents {
		if d.Scope() == scope {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt.Before(docs[j].UploadedAt) })
	return docs, nil
}

func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	delete(m.statuses, id)
	delete(m.chunks, id)
	return nil
}

func (m *MemoryStore) SaveStatus(status domain.ProcessingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[status.DocumentID] = status
	return nil
}

func (m *MemoryStore) GetStatus(documentID string) (domain.ProcessingStatus, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[documentID]
	return s, ok, nil
}

func (m *MemoryStore) MarkProcessing(documentID string) error {
	return m.updateStatus(documentID, func(s *domain.ProcessingStatus) {
		s.Status = domain.StatusProcessing
		s.StartedAt = time.Now().UTC()
	})
}

func (m *MemoryStore) SetChunksCreated(documentID string, n int) error {
	return m.updateStatus(documentID, func(s *domain.ProcessingStatus) {
		s.ChunksCreated = n
	})
}

func (m *MemoryStore) AddEmbeddingsStored(documentID string, n int) error {
	return m.updateStatus(documentID, func(s *domain.ProcessingStatus) {
		s.EmbeddingsStored += n
	})
}

func (m *MemoryStore) MarkCompleted(documentID string) error {
	now := time.Now().UTC()
	return m.updateStatus(documentID, func(s *domain.ProcessingStatus) {
		s.Status = domain.StatusCompleted
		s.ErrorMessage = ""
		s.CompletedAt = &now
	})
}

func (m *MemoryStore) MarkFailed(documentID string, reason string) error {
	now := time.Now().UTC()
	return m.updateStatus(documentID, func(s *domain.ProcessingStatus) {
		s.Status = domain.StatusFailed
		s.ErrorMessage = reason
		s.CompletedAt = &now
	})
}

// updateStatus applies fn unless the record already reached a terminal state,
// so completed_at is written at most once.
func (m *MemoryStore) updateStatus(documentID string, fn func(*domain.ProcessingStatus)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[documentID]
	if !ok || s.CompletedAt != nil {
		return nil
	}
	fn(&s)
	m.statuses[documentID] = s
	return nil
}

func (m *MemoryStore) ReplaceChunks(documentID string, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, chunk := range chunks {
		if m.embeddingDim > 0 && len(chunk.Embedding) != m.embeddingDim {
			return fmt.Errorf("chunk %s embedding dimension mismatch: got %d, want %d",
				chunk.ID, len(chunk.Embedding), m.embeddingDim)
		}
	}
	copied := make([]domain.Chunk, len(chunks))
	copy(copied, chunks)
	m.chunks[documentID] = copied
	return nil
}

func (m *MemoryStore) CountChunks(scope domain.Scope) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, chunks := range m.chunks {
		for _, chunk := range chunks {
			if chunk.Scope() == scope {
				count++
			}
		}
	}
	return count, nil
}

func (m *MemoryStore) ListChunksByRecency(scope domain.Scope) ([]domain.Chunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Chunk
	for _, chunks := range m.chunks {
		for _, chunk := range chunks {
			if chunk.Scope() == scope {
				out = append(out, chunk)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out, nil
}

func (m *MemoryStore) SearchChunks(scope domain.Scope, embedding []float32, limit int) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var scored []domain.ScoredChunk
	for _, chunks := range m.chunks {
		for _, chunk := range chunks {
			if chunk.Scope() != scope || len(chunk.Embedding) == 0 {
				continue
			}
			scored = append(scored, domain.ScoredChunk{
				Chunk:      chunk,
				Similarity: clampSimilarity(cosine(chunk.Embedding, embedding)),
			})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Chunk.Ordinal < scored[j].Chunk.Ordinal
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *MemoryStore) ListMessagesPage(scope domain.Scope, offset, limit int) ([]domain.Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	scoped := m.scopedMessages(scope)
	total := len(scoped)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.Message{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	page := make([]domain.Message, end-offset)
	copy(page, scoped[offset:end])
	return page, total, nil
}

func (m *MemoryStore) ListMessagesAfter(scope domain.Scope, after time.Time, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.Message
	for _, msg := range m.scopedMessages(scope) {
		if msg.CreatedAt.After(after) {
			out = append(out, msg)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *MemoryStore) scopedMessages(scope domain.Scope) []domain.Message {
	var scoped []domain.Message
	for _, msg := range m.messages {
		if msg.UserID == scope.UserID && msg.ConversationID == scope.ConversationID {
			scoped = append(scoped, msg)
		}
	}
	sort.SliceStable(scoped, func(i, j int) bool {
		return scoped[i].CreatedAt.Before(scoped[j].CreatedAt)
	})
	return scoped
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
