package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"docchat/internal/util"
	"docchat/pkg/ai"
	"docchat/pkg/domain"
	"docchat/pkg/splitter"
)

// Upload stores the raw file, registers the document in its scope, and
// queues it for ingestion. Progress is tracked under the returned document ID.
func (a *App) Upload(ctx context.Context, scope domain.Scope, filename, contentType string, size int64, r io.Reader) (domain.Document, error) {
	scope, err := cleanScope(scope)
	if err != nil {
		return domain.Document{}, err
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return domain.Document{}, fmt.Errorf("filename required")
	}
	if err := a.ensureConversation(scope); err != nil {
		return domain.Document{}, err
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:               util.NewID(),
		UserID:           scope.UserID,
		ConversationID:   scope.ConversationID,
		OriginalFilename: filename,
		MediaType:        contentType,
		SizeBytes:        size,
		UploadedAt:       now,
	}
	doc.StorageKey = fmt.Sprintf("docs/%s/%s/%s%s", scope.UserID, scope.ConversationID, doc.ID, filepath.Ext(filename))

	if err := a.objects.Put(ctx, doc.StorageKey, r, size, contentType); err != nil {
		return domain.Document{}, fmt.Errorf("store file: %w", err)
	}
	if err := a.store.SaveDocument(doc); err != nil {
		return domain.Document{}, err
	}
	if err := a.store.SaveStatus(domain.ProcessingStatus{
		DocumentID: doc.ID,
		Status:     domain.StatusQueued,
		StartedAt:  now,
	}); err != nil {
		return domain.Document{}, err
	}

	if a.queue != nil {
		if _, err := a.queue.Enqueue(ctx, doc.ID); err != nil {
			return domain.Document{}, fmt.Errorf("enqueue ingest: %w", err)
		}
	} else {
		go func() {
			if err := a.Ingest(context.Background(), doc.ID); err != nil {
				slog.Error("ingest failed", "documentId", doc.ID, "err", err)
			}
		}()
	}
	return doc, nil
}

func (a *App) ensureConversation(scope domain.Scope) error {
	_, ok, err := a.store.GetConversation(scope.ConversationID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	now := time.Now().UTC()
	return a.store.SaveConversation(domain.Conversation{
		ID:        scope.ConversationID,
		UserID:    scope.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Ingest runs the pipeline for one uploaded document: extract, chunk, embed,
// and commit. Pipeline failures land in the document's processing status and
// return nil; only infrastructure errors (unknown document, store failures)
// propagate so the queue can retry them.
func (a *App) Ingest(ctx context.Context, documentID string) error {
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("document %s not found", documentID)
	}

	ctx, cancel := context.WithCancel(ctx)
	a.registerCancel(documentID, cancel)
	defer func() {
		a.clearCancel(documentID)
		cancel()
	}()

	if err := a.store.MarkProcessing(documentID); err != nil {
		return err
	}

	chunks, err := a.runPipeline(ctx, doc)
	if err != nil {
		return a.recordFailure(documentID, err)
	}
	if err := a.store.ReplaceChunks(documentID, chunks); err != nil {
		return a.recordFailure(documentID, err)
	}
	if err := a.store.MarkCompleted(documentID); err != nil {
		return err
	}
	slog.Info("document ingested", "documentId", documentID, "chunks", len(chunks))
	return nil
}

func (a *App) recordFailure(documentID string, cause error) error {
	reason := cause.Error()
	if errors.Is(cause, context.Canceled) || a.cancelled(context.Background(), documentID) {
		reason = domain.ReasonCancelled
	}
	if err := a.store.MarkFailed(documentID, reason); err != nil {
		return err
	}
	slog.Warn("ingest did not complete", "documentId", documentID, "reason", reason)
	return nil
}

func (a *App) runPipeline(ctx context.Context, doc domain.Document) ([]domain.Chunk, error) {
	path, err := a.fetchFile(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	if err := a.checkCancelled(ctx, doc.ID); err != nil {
		return nil, err
	}
	payloads, err := a.extractAndChunk(doc.OriginalFilename, path)
	if err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("no content extracted")
	}
	if err := a.store.SetChunksCreated(doc.ID, len(payloads)); err != nil {
		return nil, err
	}

	embeddings := make([]ai.Embedding, len(payloads))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.embedConcurrency)
	for i := range payloads {
		i := i
		g.Go(func() error {
			if err := a.checkCancelled(gctx, doc.ID); err != nil {
				return err
			}
			embedding, err := a.provider.Embed(gctx, payloads[i].Content)
			if err != nil {
				return err
			}
			embeddings[i] = embedding
			return a.store.AddEmbeddingsStored(doc.ID, 1)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := a.checkCancelled(ctx, doc.ID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	chunks := make([]domain.Chunk, 0, len(payloads))
	for i, payload := range payloads {
		metadata := payload.Metadata
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["embedding"] = string(embeddings[i].Source)
		chunks = append(chunks, domain.Chunk{
			ID:             util.NewID(),
			DocumentID:     doc.ID,
			UserID:         doc.UserID,
			ConversationID: doc.ConversationID,
			Ordinal:        i,
			Content:        payload.Content,
			Embedding:      embeddings[i].Vector,
			Metadata:       metadata,
			CreatedAt:      now,
		})
	}
	return chunks, nil
}

func (a *App) checkCancelled(ctx context.Context, documentID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.cancelled(ctx, documentID) {
		return context.Canceled
	}
	return nil
}

func (a *App) fetchFile(ctx context.Context, doc domain.Document) (string, error) {
	rc, err := a.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return "", fmt.Errorf("fetch stored file: %w", err)
	}
	defer rc.Close()

	ext := filepath.Ext(doc.OriginalFilename)
	tmpFile, err := os.CreateTemp("", "docchat-*"+ext)
	if err != nil {
		return "", err
	}
	defer tmpFile.Close()
	if _, err := io.Copy(tmpFile, rc); err != nil {
		os.Remove(tmpFile.Name())
		return "", err
	}
	return tmpFile.Name(), nil
}

func (a *App) splitChunks(text string) []string {
	parts, err := splitter.Split(text, a.chunkSize, a.chunkOverlap)
	if err != nil {
		return nil
	}
	return parts
}
