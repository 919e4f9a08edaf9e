package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/queue"
	"docchat/pkg/retrieval"
	"docchat/pkg/storage"
	"docchat/pkg/store"
)

const (
	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 200
)

// ErrConversationNotOwned is returned when a caller targets a conversation
// that belongs to a different user.
var ErrConversationNotOwned = errors.New("conversation does not belong to user")

// Config holds runtime configuration.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Objects     storage.ObjectStore
	Provider    *ai.Provider
	Queue       *queue.RedisJobQueue

	RedisAddr              string
	RedisPassword          string
	QueueName              string
	QueueGroup             string
	QueueConcurrency       int
	QueueMaxRetries        int
	QueueRetryDelaySeconds int

	EmbeddingDim         int
	EmbeddingConcurrency int
	ChunkSize            int
	ChunkOverlap         int
	PrimaryThreshold     float64
	SecondaryThreshold   float64
	MatchCount           int
	HistoryPageSize      int
}

// App ingests documents and answers scoped similarity searches over them.
type App struct {
	store              store.Store
	objects            storage.ObjectStore
	provider           *ai.Provider
	engine             *retrieval.Engine
	queue              *queue.RedisJobQueue
	chunkSize          int
	chunkOverlap       int
	matchCount         int
	historyPageSize    int
	embedConcurrency   int
	secondaryThreshold float64

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New constructs the retrieval service with persistence.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL, store.WithEmbeddingDim(cfg.EmbeddingDim))
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("embedding provider required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size required")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk overlap must be smaller than chunk size")
	}
	matchCount := cfg.MatchCount
	if matchCount <= 0 {
		matchCount = 5
	}
	historyPageSize := cfg.HistoryPageSize
	if historyPageSize <= 0 {
		historyPageSize = defaultHistoryPageSize
	}
	embedConcurrency := cfg.EmbeddingConcurrency
	if embedConcurrency <= 0 {
		embedConcurrency = 4
	}

	q := cfg.Queue
	if q == nil && cfg.RedisAddr != "" {
		var err error
		q, err = queue.NewRedisJobQueue(queue.RedisQueueConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			Stream:     cfg.QueueName,
			Group:      cfg.QueueGroup,
			Consumer:   util.NewID(),
			MaxRetries: cfg.QueueMaxRetries,
			RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
			// a job out of retries must not leave its document stuck
			// in processing
			OnExhausted: func(ctx context.Context, job queue.JobStatus, cause error) {
				_ = dataStore.MarkFailed(job.DocumentID, cause.Error())
			},
		})
		if err != nil {
			return nil, err
		}
	}

	policy := retrieval.NewPolicy(cfg.PrimaryThreshold, cfg.SecondaryThreshold)
	app := &App{
		store:              dataStore,
		objects:            cfg.Objects,
		provider:           cfg.Provider,
		engine:             retrieval.NewEngine(dataStore, policy),
		queue:              q,
		chunkSize:          cfg.ChunkSize,
		chunkOverlap:       cfg.ChunkOverlap,
		matchCount:         matchCount,
		historyPageSize:    historyPageSize,
		embedConcurrency:   embedConcurrency,
		secondaryThreshold: cfg.SecondaryThreshold,
		cancels:            make(map[string]context.CancelFunc),
	}
	slog.Info("similarity cascade configured", "thresholds", policy.Thresholds())
	if q != nil {
		q.Start(context.Background(), cfg.QueueConcurrency, app.processJob)
	}
	return app, nil
}

func (a *App) processJob(ctx context.Context, job queue.JobStatus) error {
	return a.Ingest(ctx, job.DocumentID)
}

func (a *App) registerCancel(documentID string, cancel context.CancelFunc) {
	a.mu.Lock()
	a.cancels[documentID] = cancel
	a.mu.Unlock()
}

func (a *App) clearCancel(documentID string) {
	a.mu.Lock()
	delete(a.cancels, documentID)
	a.mu.Unlock()
}

// CancelIngest stops an in-flight ingest for the document. The flag also
// lands in Redis so a worker on another instance observes it.
func (a *App) CancelIngest(ctx context.Context, documentID string) {
	if a.queue != nil {
		_ = a.queue.RequestCancel(ctx, documentID)
	}
	a.mu.Lock()
	cancel := a.cancels[documentID]
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (a *App) cancelled(ctx context.Context, documentID string) bool {
	if a.queue != nil && a.queue.Cancelled(ctx, documentID) {
		return true
	}
	return false
}

// GetStatus returns ingest progress for a document.
func (a *App) GetStatus(documentID string) (domain.ProcessingStatus, bool, error) {
	return a.store.GetStatus(documentID)
}

// GetDocument returns a stored document by ID.
func (a *App) GetDocument(documentID string) (domain.Document, bool, error) {
	return a.store.GetDocument(documentID)
}

// ListDocuments returns all documents in scope.
func (a *App) ListDocuments(scope domain.Scope) ([]domain.Document, error) {
	return a.store.ListDocuments(scope)
}

// DeleteDocument cancels any in-flight ingest, then removes the document,
// its chunks and status, and the stored file.
func (a *App) DeleteDocument(ctx context.Context, documentID string) error {
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	a.CancelIngest(ctx, documentID)
	if err := a.store.DeleteDocument(documentID); err != nil {
		return err
	}
	if doc.StorageKey != "" {
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
			return fmt.Errorf("delete stored file: %w", err)
		}
	}
	return nil
}

// DeleteConversation removes a conversation and everything hanging off it.
// The conversation must belong to the calling user; a mismatched scope
// touches nothing.
func (a *App) DeleteConversation(ctx context.Context, scope domain.Scope) error {
	scope, err := cleanScope(scope)
	if err != nil {
		return err
	}
	conv, ok, err := a.store.GetConversation(scope.ConversationID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if conv.UserID != scope.UserID {
		return ErrConversationNotOwned
	}
	docs, err := a.store.ListDocuments(scope)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		a.CancelIngest(ctx, doc.ID)
	}
	if err := a.store.DeleteConversation(scope.ConversationID); err != nil {
		return err
	}
	for _, doc := range docs {
		if doc.StorageKey == "" {
			continue
		}
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
			return fmt.Errorf("delete stored file: %w", err)
		}
	}
	return nil
}

func cleanScope(scope domain.Scope) (domain.Scope, error) {
	scope.UserID = strings.TrimSpace(scope.UserID)
	scope.ConversationID = strings.TrimSpace(scope.ConversationID)
	if scope.UserID == "" || scope.ConversationID == "" {
		return scope, fmt.Errorf("userId and conversationId required")
	}
	return scope, nil
}
