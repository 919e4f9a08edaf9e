package app

import (
	"fmt"
	"strings"
	"time"

	"docchat/internal/util"
	"docchat/pkg/domain"
)

// HistoryPage is one chronological page of conversation messages.
type HistoryPage struct {
	Messages []domain.Message `json:"messages"`
	Total    int              `json:"total"`
	Offset   int              `json:"offset"`
	Limit    int              `json:"limit"`
}

// History returns messages in scope ordered oldest first, paged by offset.
func (a *App) History(scope domain.Scope, offset, limit int) (HistoryPage, error) {
	scope, err := cleanScope(scope)
	if err != nil {
		return HistoryPage{}, err
	}
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = a.historyPageSize
	}
	if limit > maxHistoryPageSize {
		limit = maxHistoryPageSize
	}
	messages, total, err := a.store.ListMessagesPage(scope, offset, limit)
	if err != nil {
		return HistoryPage{}, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return HistoryPage{Messages: messages, Total: total, Offset: offset, Limit: limit}, nil
}

// HistoryAfter returns up to limit messages in scope created strictly after
// the given instant, oldest first.
func (a *App) HistoryAfter(scope domain.Scope, after time.Time, limit int) ([]domain.Message, error) {
	scope, err := cleanScope(scope)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = a.historyPageSize
	}
	if limit > maxHistoryPageSize {
		limit = maxHistoryPageSize
	}
	messages, err := a.store.ListMessagesAfter(scope, after, limit)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	return messages, nil
}

// AppendMessage records a chat turn in the conversation history.
func (a *App) AppendMessage(scope domain.Scope, role, content string) (domain.Message, error) {
	scope, err := cleanScope(scope)
	if err != nil {
		return domain.Message{}, err
	}
	role = strings.TrimSpace(role)
	if role != "user" && role != "assistant" {
		return domain.Message{}, fmt.Errorf("role must be user or assistant")
	}
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, fmt.Errorf("content required")
	}
	if err := a.ensureConversation(scope); err != nil {
		return domain.Message{}, err
	}
	msg := domain.Message{
		ID:             util.NewID(),
		ConversationID: scope.ConversationID,
		UserID:         scope.UserID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if err := a.store.AppendMessage(msg); err != nil {
		return domain.Message{}, err
	}
	return msg, nil
}
