package store

import (
	"time"

	"docchat/pkg/domain"
)

// Store defines persistence for conversations, documents, chunks, and
// messages. Every read that touches tenant data takes a domain.Scope and the
// implementations bake the scope predicate into the query itself, never as a
// filter applied after fetching.
type Store interface {
	// conversations
	SaveConversation(domain.Conversation) error
	GetConversation(id string) (domain.Conversation, bool, error)
	// DeleteConversation removes the conversation and everything it owns
	// (documents, chunks, statuses, messages) in one transaction.
	DeleteConversation(id string) error

	// documents
	SaveDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocuments(scope domain.Scope) ([]domain.Document, error)
	DeleteDocument(id string) error

	// processing status
	SaveStatus(domain.ProcessingStatus) error
	GetStatus(documentID string) (domain.ProcessingStatus, bool, error)
	MarkProcessing(documentID string) error
	SetChunksCreated(documentID string, n int) error
	AddEmbeddingsStored(documentID string, n int) error
	MarkCompleted(documentID string) error
	MarkFailed(documentID string, reason string) error

	// chunks
	// ReplaceChunks commits all chunks of a document atomically: either the
	// full set lands (text, metadata, and vector together) or none of it.
	ReplaceChunks(documentID string, chunks []domain.Chunk) error
	CountChunks(scope domain.Scope) (int, error)
	ListChunksByRecency(scope domain.Scope) ([]domain.Chunk, error)
	// SearchChunks returns the limit nearest chunks in scope by cosine
	// similarity, highest first, ties broken by ordinal ascending.
	SearchChunks(scope domain.Scope, embedding []float32, limit int) ([]domain.ScoredChunk, error)

	// messages
	AppendMessage(domain.Message) error
	ListMessagesPage(scope domain.Scope, offset, limit int) ([]domain.Message, int, error)
	ListMessagesAfter(scope domain.Scope, after time.Time, limit int) ([]domain.Message, error)
}
