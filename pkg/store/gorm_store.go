package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"docchat/pkg/domain"
)

const migrateLockID int64 = 84318431

const defaultEmbeddingDim = 1024

type GormStoreOptions struct {
	EmbeddingDim int
}

type GormStoreOption func(*GormStoreOptions)

// WithEmbeddingDim sets the vector column width used by storage. Changing it
// on an existing deployment rewrites the column type; existing vectors of a
// different width must be re-ingested.
func WithEmbeddingDim(dim int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.EmbeddingDim = dim
	}
}

// GormStore implements Store using GORM + Postgres with pgvector.
type GormStore struct {
	db           *gorm.DB
	embeddingDim int
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	embeddingDim := opts.EmbeddingDim
	if embeddingDim <= 0 {
		embeddingDim = defaultEmbeddingDim
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(
			&ConversationModel{},
			&DocumentModel{},
			&ChunkModel{},
			&ProcessingStatusModel{},
			&MessageModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(`
			DO $$
			BEGIN
			IF EXISTS (
				SELECT 1 FROM information_schema.columns
				WHERE table_name = 'chunk_models' AND column_name = 'embedding'
			) THEN
				ALTER TABLE chunk_models ALTER COLUMN embedding TYPE vector(%d);
			END IF;
			END $$;
		`, embeddingDim)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM document_models d
				WHERE NOT EXISTS (SELECT 1 FROM conversation_models c WHERE c.id = d.conversation_id);
				DELETE FROM chunk_models ch
				WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = ch.document_id);
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM conversation_models c WHERE c.id = m.conversation_id);
				DELETE FROM processing_status_models s
				WHERE NOT EXISTS (SELECT 1 FROM document_models d WHERE d.id = s.document_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'document_models'
					AND constraint_name = 'document_models_conversation_id_fkey'
				) THEN
					ALTER TABLE document_models
					ADD CONSTRAINT document_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'chunk_models'
					AND constraint_name = 'chunk_models_document_id_fkey'
				) THEN
					ALTER TABLE chunk_models
					ADD CONSTRAINT chunk_models_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'processing_status_models'
					AND constraint_name = 'processing_status_models_document_id_fkey'
				) THEN
					ALTER TABLE processing_status_models
					ADD CONSTRAINT processing_status_models_document_id_fkey
					FOREIGN KEY (document_id) REFERENCES document_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_conversation_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_conversation_id_fkey
					FOREIGN KEY (conversation_id) REFERENCES conversation_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure ownership foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, embeddingDim: embeddingDim}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveConversation stores or updates a conversation.
func (s *GormStore) SaveConversation(c domain.Conversation) error {
	model := conversationToModel(c)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "last_message_at", "updated_at"}),
	}).Create(&model).Error
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id string) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// DeleteConversation removes the conversation and all owned rows. The child
// deletes are explicit so the operation stays all-or-nothing even on a
// database without the cascade constraints installed.
func (s *GormStore) DeleteConversation(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		docIDs := tx.Model(&DocumentModel{}).Select("id").Where("conversation_id = ?", id)
		if err := tx.Where("document_id IN (?)", docIDs).Delete(&ProcessingStatusModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ChunkModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&DocumentModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&MessageModel{}, "conversation_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ConversationModel{}, "id = ?", id).Error
	})
}

// SaveDocument stores or updates a document.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"original_filename", "storage_key", "media_type", "size_bytes"}),
	}).Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns documents in scope ordered by upload time.
func (s *GormStore) ListDocuments(scope domain.Scope) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.
		Where("user_id = ? AND conversation_id = ?", scope.UserID, scope.ConversationID).
		Order("uploaded_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	docs := make([]domain.Document, 0, len(models))
	for _, m := range models {
		docs = append(docs, documentFromModel(m))
	}
	return docs, nil
}

// DeleteDocument removes the document, its chunks, and its status record.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ProcessingStatusModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&DocumentModel{}, "id = ?", id).Error
	})
}

// SaveStatus inserts or resets the processing record for a document.
func (s *GormStore) SaveStatus(status domain.ProcessingStatus) error {
	model := statusToModel(status)
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "chunks_created", "embeddings_stored", "error_message", "started_at", "completed_at",
		}),
	}).Create(&model).Error
}

// GetStatus returns the processing record for a document.
func (s *GormStore) GetStatus(documentID string) (domain.ProcessingStatus, bool, error) {
	var model ProcessingStatusModel
	if err := s.db.First(&model, "document_id = ?", documentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.ProcessingStatus{}, false, nil
		}
		return domain.ProcessingStatus{}, false, err
	}
	return statusFromModel(model), true, nil
}

// MarkProcessing moves a queued record into processing and stamps started_at.
func (s *GormStore) MarkProcessing(documentID string) error {
	return s.db.Model(&ProcessingStatusModel{}).
		Where("document_id = ? AND completed_at IS NULL", documentID).
		Updates(map[string]any{
			"status":     string(domain.StatusProcessing),
			"started_at": time.Now().UTC(),
		}).Error
}

// SetChunksCreated records how many chunks splitting produced.
func (s *GormStore) SetChunksCreated(documentID string, n int) error {
	return s.db.Model(&ProcessingStatusModel{}).
		Where("document_id = ? AND completed_at IS NULL", documentID).
		Update("chunks_created", n).Error
}

// AddEmbeddingsStored bumps the progress counter as embeddings land.
func (s *GormStore) AddEmbeddingsStored(documentID string, n int) error {
	return s.db.Model(&ProcessingStatusModel{}).
		Where("document_id = ? AND completed_at IS NULL", documentID).
		Update("embeddings_stored", gorm.Expr("embeddings_stored + ?", n)).Error
}

// MarkCompleted transitions into the completed terminal state. The
// completed_at guard makes the terminal transition happen at most once.
func (s *GormStore) MarkCompleted(documentID string) error {
	return s.db.Model(&ProcessingStatusModel{}).
		Where("document_id = ? AND completed_at IS NULL", documentID).
		Updates(map[string]any{
			"status":        string(domain.StatusCompleted),
			"error_message": "",
			"completed_at":  time.Now().UTC(),
		}).Error
}

// MarkFailed transitions into the failed terminal state with a reason.
func (s *GormStore) MarkFailed(documentID string, reason string) error {
	return s.db.Model(&ProcessingStatusModel{}).
		Where("document_id = ? AND completed_at IS NULL", documentID).
		Updates(map[string]any{
			"status":        string(domain.StatusFailed),
			"error_message": reason,
			"completed_at":  time.Now().UTC(),
		}).Error
}

// ReplaceChunks replaces all chunks for a document in one transaction.
func (s *GormStore) ReplaceChunks(documentID string, chunks []domain.Chunk) error {
	for _, chunk := range chunks {
		if s.embeddingDim > 0 && len(chunk.Embedding) != s.embeddingDim {
			return fmt.Errorf("chunk %s embedding dimension mismatch: got %d, want %d",
				chunk.ID, len(chunk.Embedding), s.embeddingDim)
		}
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChunkModel{}, "document_id = ?", documentID).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		models := make([]ChunkModel, 0, len(chunks))
		for _, chunk := range chunks {
			model := chunkToModel(chunk)
			model.DocumentID = documentID
			models = append(models, model)
		}
		return tx.CreateInBatches(&models, 200).Error
	})
}

// CountChunks counts chunks in scope.
func (s *GormStore) CountChunks(scope domain.Scope) (int, error) {
	var count int64
	if err := s.db.Model(&ChunkModel{}).
		Where("user_id = ? AND conversation_id = ?", scope.UserID, scope.ConversationID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ListChunksByRecency returns all chunks in scope, newest first.
func (s *GormStore) ListChunksByRecency(scope domain.Scope) ([]domain.Chunk, error) {
	var models []ChunkModel
	if err := s.db.
		Where("user_id = ? AND conversation_id = ?", scope.UserID, scope.ConversationID).
		Order("created_at DESC, ordinal ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(models))
	for _, model := range models {
		chunks = append(chunks, chunkFromModel(model))
	}
	return chunks, nil
}

type scoredChunkRow struct {
	ChunkModel
	Similarity float64
}

// SearchChunks finds the nearest chunks in scope by cosine distance. The
// scope predicate is part of the SQL statement itself.
func (s *GormStore) SearchChunks(scope domain.Scope, embedding []float32, limit int) ([]domain.ScoredChunk, error) {
	if limit <= 0 {
		return []domain.ScoredChunk{}, nil
	}
	if s.embeddingDim > 0 && len(embedding) != s.embeddingDim {
		return nil, fmt.Errorf("query embedding dimension mismatch: got %d, want %d", len(embedding), s.embeddingDim)
	}
	vec := pgvector.NewVector(embedding)
	var rows []scoredChunkRow
	if err := s.db.Raw(`
		SELECT c.*, 1 - (c.embedding <=> ?) AS similarity
		FROM chunk_models c
		WHERE c.user_id = ? AND c.conversation_id = ? AND c.embedding IS NOT NULL
		ORDER BY c.embedding <=> ?, c.ordinal ASC
		LIMIT ?`,
		vec, scope.UserID, scope.ConversationID, vec, limit,
	).Scan(&rows).Error; err != nil {
		return nil, err
	}
	results := make([]domain.ScoredChunk, 0, len(rows))
	for _, row := range rows {
		results = append(results, domain.ScoredChunk{
			Chunk:      chunkFromModel(row.ChunkModel),
			Similarity: clampSimilarity(row.Similarity),
		})
	}
	return results, nil
}

func clampSimilarity(sim float64) float64 {
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// AppendMessage records a message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessagesPage returns a chronological page of messages in scope plus the
// scope's total message count.
func (s *GormStore) ListMessagesPage(scope domain.Scope, offset, limit int) ([]domain.Message, int, error) {
	if offset < 0 {
		offset = 0
	}
	var total int64
	base := s.db.Model(&MessageModel{}).
		Where("user_id = ? AND conversation_id = ?", scope.UserID, scope.ConversationID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := s.db.
		Where("user_id = ? AND conversation_id = ?", scope.UserID, scope.ConversationID).
		Order("created_at ASC, id ASC").
		Offset(offset)
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, int(total), nil
}

// ListMessagesAfter returns messages in scope newer than the cutoff,
// chronological, for incremental loading.
func (s *GormStore) ListMessagesAfter(scope domain.Scope, after time.Time, limit int) ([]domain.Message, error) {
	query := s.db.
		Where("user_id = ? AND conversation_id = ? AND created_at > ?", scope.UserID, scope.ConversationID, after).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

func conversationToModel(c domain.Conversation) ConversationModel {
	return ConversationModel{
		ID:            c.ID,
		UserID:        c.UserID,
		Title:         c.Title,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:            m.ID,
		UserID:        m.UserID,
		Title:         m.Title,
		LastMessageAt: m.LastMessageAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:               d.ID,
		UserID:           d.UserID,
		ConversationID:   d.ConversationID,
		OriginalFilename: d.OriginalFilename,
		StorageKey:       d.StorageKey,
		MediaType:        d.MediaType,
		SizeBytes:        d.SizeBytes,
		UploadedAt:       d.UploadedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:               m.ID,
		UserID:           m.UserID,
		ConversationID:   m.ConversationID,
		OriginalFilename: m.OriginalFilename,
		StorageKey:       m.StorageKey,
		MediaType:        m.MediaType,
		SizeBytes:        m.SizeBytes,
		UploadedAt:       m.UploadedAt,
	}
}

func statusToModel(s domain.ProcessingStatus) ProcessingStatusModel {
	return ProcessingStatusModel{
		DocumentID:       s.DocumentID,
		Status:           string(s.Status),
		ChunksCreated:    s.ChunksCreated,
		EmbeddingsStored: s.EmbeddingsStored,
		ErrorMessage:     s.ErrorMessage,
		StartedAt:        s.StartedAt,
		CompletedAt:      s.CompletedAt,
	}
}

func statusFromModel(m ProcessingStatusModel) domain.ProcessingStatus {
	return domain.ProcessingStatus{
		DocumentID:       m.DocumentID,
		Status:           domain.IngestStatus(m.Status),
		ChunksCreated:    m.ChunksCreated,
		EmbeddingsStored: m.EmbeddingsStored,
		ErrorMessage:     m.ErrorMessage,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
	}
}

func chunkToModel(chunk domain.Chunk) ChunkModel {
	meta, _ := json.Marshal(chunk.Metadata)
	var embedding *pgvector.Vector
	if len(chunk.Embedding) > 0 {
		vec := pgvector.NewVector(chunk.Embedding)
		embedding = &vec
	}
	return ChunkModel{
		ID:             chunk.ID,
		DocumentID:     chunk.DocumentID,
		UserID:         chunk.UserID,
		ConversationID: chunk.ConversationID,
		Ordinal:        chunk.Ordinal,
		Content:        chunk.Content,
		Metadata:       meta,
		Embedding:      embedding,
		CreatedAt:      chunk.CreatedAt,
	}
}

func chunkFromModel(model ChunkModel) domain.Chunk {
	var meta map[string]string
	if len(model.Metadata) > 0 {
		_ = json.Unmarshal(model.Metadata, &meta)
	}
	var embedding []float32
	if model.Embedding != nil {
		embedding = model.Embedding.Slice()
	}
	return domain.Chunk{
		ID:             model.ID,
		DocumentID:     model.DocumentID,
		UserID:         model.UserID,
		ConversationID: model.ConversationID,
		Ordinal:        model.Ordinal,
		Content:        model.Content,
		Metadata:       meta,
		Embedding:      embedding,
		CreatedAt:      model.CreatedAt,
	}
}

func messageToModel(msg domain.Message) MessageModel {
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		UserID:         msg.UserID,
		Role:           msg.Role,
		Content:        msg.Content,
		CreatedAt:      msg.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		Role:           m.Role,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt,
	}
}
