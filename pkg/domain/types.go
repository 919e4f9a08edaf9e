package domain

import "time"

type IngestStatus string

const (
	StatusQueued     IngestStatus = "queued"
	StatusProcessing IngestStatus = "processing"
	StatusCompleted  IngestStatus = "completed"
	StatusFailed     IngestStatus = "failed"
)

// ReasonCancelled is the error message recorded when an ingest run is
// cancelled cooperatively instead of failing on its own.
const ReasonCancelled = "cancelled"

// Terminal reports whether the status will never change again.
func (s IngestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Scope is the tenancy boundary: every chunk, document, and message is owned
// by exactly one (user, conversation) pair and all retrieval is bounded by it.
type Scope struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
}

type Document struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	ConversationID   string    `json:"conversationId"`
	OriginalFilename string    `json:"originalFilename"`
	StorageKey       string    `json:"-"`
	MediaType        string    `json:"mediaType"`
	SizeBytes        int64     `json:"sizeBytes"`
	UploadedAt       time.Time `json:"uploadedAt"`
}

// Scope returns the tenancy scope the document belongs to.
func (d Document) Scope() Scope {
	return Scope{UserID: d.UserID, ConversationID: d.ConversationID}
}

// Chunk is a contiguous text span cut from a document, the unit of embedding
// and retrieval. Immutable once persisted.
type Chunk struct {
	ID             string            `json:"id"`
	DocumentID     string            `json:"documentId"`
	UserID         string            `json:"userId"`
	ConversationID string            `json:"conversationId"`
	Ordinal        int               `json:"ordinal"`
	Content        string            `json:"content"`
	Embedding      []float32         `json:"-"`
	Metadata       map[string]string `json:"metadata"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// Scope returns the tenancy scope the chunk belongs to.
func (c Chunk) Scope() Scope {
	return Scope{UserID: c.UserID, ConversationID: c.ConversationID}
}

// ScoredChunk pairs a chunk with its similarity to a query, in [0,1].
type ScoredChunk struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
}

// ProcessingStatus tracks one document upload through ingestion.
// CompletedAt is set exactly once, on the first terminal transition.
type ProcessingStatus struct {
	DocumentID       string       `json:"documentId"`
	Status           IngestStatus `json:"status"`
	ChunksCreated    int          `json:"chunksCreated"`
	EmbeddingsStored int          `json:"embeddingsStored"`
	ErrorMessage     string       `json:"errorMessage,omitempty"`
	StartedAt        time.Time    `json:"startedAt"`
	CompletedAt      *time.Time   `json:"completedAt,omitempty"`
}

type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	Title         string    `json:"title"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}
