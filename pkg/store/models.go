package store

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ConversationModel struct {
	ID            string `gorm:"primaryKey"`
	UserID        string `gorm:"not null;index"`
	Title         string
	LastMessageAt time.Time
	CreatedAt     time.Time `gorm:"not null"`
	UpdatedAt     time.Time
}

type DocumentModel struct {
	ID               string `gorm:"primaryKey"`
	UserID           string `gorm:"not null;index:idx_documents_scope"`
	ConversationID   string `gorm:"not null;index:idx_documents_scope"`
	OriginalFilename string `gorm:"not null"`
	StorageKey       string
	MediaType        string
	SizeBytes        int64     `gorm:"not null"`
	UploadedAt       time.Time `gorm:"not null"`
}

type ChunkModel struct {
	ID             string `gorm:"primaryKey"`
	DocumentID     string `gorm:"not null;index"`
	UserID         string `gorm:"not null;index:idx_chunks_scope"`
	ConversationID string `gorm:"not null;index:idx_chunks_scope"`
	Ordinal        int    `gorm:"not null"`
	Content        string `gorm:"type:text;not null"`
	Metadata       datatypes.JSON   `gorm:"type:jsonb"`
	Embedding      *pgvector.Vector `gorm:"type:vector(1024)"`
	CreatedAt      time.Time        `gorm:"not null;index"`
}

type ProcessingStatusModel struct {
	DocumentID       string `gorm:"primaryKey"`
	Status           string `gorm:"not null"`
	ChunksCreated    int    `gorm:"not null;default:0"`
	EmbeddingsStored int    `gorm:"not null;default:0"`
	ErrorMessage     string
	StartedAt        time.Time
	CompletedAt      *time.Time
}

type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index:idx_messages_scope"`
	UserID         string    `gorm:"not null;index:idx_messages_scope"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
}
