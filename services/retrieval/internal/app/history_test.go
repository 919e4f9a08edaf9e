package app

import (
	"fmt"
	"testing"
	"time"

	"docchat/pkg/domain"
)

func TestHistoryPagingChronological(t *testing.T) {
	a, _ := newTestApp(t, &stubEmbedder{vector: semanticVector()})
	scope := domain.Scope{UserID: "u1", ConversationID: "c1"}

	for i := 0; i < 5; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		if _, err := a.AppendMessage(scope, role, fmt.Sprintf("message %d", i)); err != nil {
			t.Fatalf("append message %d: %v", i, err)
		}
	}

	page, err := a.History(scope, 0, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 5 {
		t.Fatalf("total = %d, want 5", page.Total)
	}
	if len(page.Messages) != 2 {
		t.Fatalf("page = %d messages, want 2", len(page.Messages))
	}
	if page.Messages[0].Content != "message 0" || page.Messages[1].Content != "message 1" {
		t.Fatalf("page not oldest-first: %q, %q", page.Messages[0].Content, page.Messages[1].Content)
	}

	last, err := a.History(scope, 4, 2)
	if err != nil {
		t.Fatalf("history offset 4: %v", err)
	}
	if len(last.Messages) != 1 || last.Messages[0].Content != "message 4" {
		t.Fatalf("final page = %+v, want just message 4", last.Messages)
	}

	past, err := a.History(scope, 10, 2)
	if err != nil {
		t.Fatalf("history past end: %v", err)
	}
	if len(past.Messages) != 0 {
		t.Fatalf("past-end page = %d messages, want 0", len(past.Messages))
	}
}

func TestHistoryScopeIsolation(t *testing.T) {
	a, _ := newTestApp(t, &stubEmbedder{vector: semanticVector()})
	scopeA := domain.Scope{UserID: "alice", ConversationID: "c1"}
	scopeB := domain.Scope{UserID: "bob", ConversationID: "c2"}

	if _, err := a.AppendMessage(scopeA, "user", "alice says hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := a.AppendMessage(scopeB, "user", "bob says hi"); err != nil {
		t.Fatalf("append: %v", err)
	}

	page, err := a.History(scopeA, 0, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 1 || page.Messages[0].UserID != "alice" {
		t.Fatalf("scope A history = %+v, want only alice's message", page)
	}
}

func TestHistoryAfter(t *testing.T) {
	a, _ := newTestApp(t, &stubEmbedder{vector: semanticVector()})
	scope := domain.Scope{UserID: "u1", ConversationID: "c1"}

	first, err := a.AppendMessage(scope, "user", "first")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	if _, err := a.AppendMessage(scope, "assistant", "second"); err != nil {
		t.Fatalf("append: %v", err)
	}

	after, err := a.HistoryAfter(scope, first.CreatedAt, 10)
	if err != nil {
		t.Fatalf("history after: %v", err)
	}
	if len(after) != 1 || after[0].Content != "second" {
		t.Fatalf("after = %+v, want just the second message", after)
	}
}

func TestAppendMessageValidation(t *testing.T) {
	a, _ := newTestApp(t, &stubEmbedder{vector: semanticVector()})
	scope := domain.Scope{UserID: "u1", ConversationID: "c1"}

	if _, err := a.AppendMessage(scope, "system", "nope"); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}
	if _, err := a.AppendMessage(scope, "user", "  "); err == nil {
		t.Fatalf("expected empty content to be rejected")
	}
	if _, err := a.AppendMessage(domain.Scope{UserID: "", ConversationID: "c1"}, "user", "hi"); err == nil {
		t.Fatalf("expected missing user to be rejected")
	}
}
