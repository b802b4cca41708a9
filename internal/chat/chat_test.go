package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/simplechat/simplechat/internal/conversation"
	"github.com/simplechat/simplechat/internal/document"
)

type fakeHistory struct {
	messages []conversation.Message
	appended []conversation.Message
	err      error
}

func (f *fakeHistory) RecentHistory(context.Context, uuid.UUID, int32) ([]conversation.Message, error) {
	return f.messages, f.err
}

func (f *fakeHistory) AppendMessages(_ context.Context, _ uuid.UUID, messages []conversation.Message) error {
	f.appended = append(f.appended, messages...)
	return nil
}

type fakeRetriever struct {
	hits []document.SearchHit
	err  error
}

func (f *fakeRetriever) Search(context.Context, string, []uuid.UUID, int32) ([]document.SearchHit, error) {
	return f.hits, f.err
}

type fakeWorkspaces struct {
	ids []uuid.UUID
	err error
}

func (f *fakeWorkspaces) AccessibleWorkspaces(context.Context, string) ([]uuid.UUID, error) {
	return f.ids, f.err
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	base := Config{
		History:    &fakeHistory{},
		Retriever:  &fakeRetriever{},
		Workspaces: &fakeWorkspaces{},
	}

	if _, err := New(base); err != nil {
		t.Errorf("New() with retrieval-only config: error = %v", err)
	}

	missing := base
	missing.History = nil
	if _, err := New(missing); err == nil {
		t.Error("New() without history: error = nil, want failure")
	}

	missing = base
	missing.Retriever = nil
	if _, err := New(missing); err == nil {
		t.Error("New() without retriever: error = nil, want failure")
	}

	missing = base
	missing.Workspaces = nil
	if _, err := New(missing); err == nil {
		t.Error("New() without workspace resolver: error = nil, want failure")
	}
}

func TestRespond_RetrievalOnly(t *testing.T) {
	t.Parallel()

	history := &fakeHistory{}
	s, err := New(Config{
		History:   history,
		Retriever: &fakeRetriever{hits: []document.SearchHit{
			{FileName: "policy.pdf", Content: "remote work is allowed two days a week", Similarity: 0.88},
		}},
		Workspaces: &fakeWorkspaces{ids: []uuid.UUID{uuid.New()}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := s.Respond(context.Background(), "alice@example.com", uuid.New(), "what is the remote work policy?")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if !resp.RetrievalOnly {
		t.Error("RetrievalOnly = false, want true without a model backend")
	}
	if !strings.Contains(resp.Text, "policy.pdf") {
		t.Errorf("response text %q does not cite the matched file", resp.Text)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].FileName != "policy.pdf" {
		t.Errorf("Sources = %v, want single policy.pdf entry", resp.Sources)
	}

	// Both sides of the turn are persisted.
	if len(history.appended) != 2 {
		t.Fatalf("appended %d messages, want 2", len(history.appended))
	}
	if history.appended[0].Role != conversation.RoleUser {
		t.Errorf("first appended role = %q, want user", history.appended[0].Role)
	}
	if history.appended[1].Role != conversation.RoleAssistant {
		t.Errorf("second appended role = %q, want assistant", history.appended[1].Role)
	}
}

func TestRespond_RetrievalOnly_NoHits(t *testing.T) {
	t.Parallel()

	s, err := New(Config{
		History:    &fakeHistory{},
		Retriever:  &fakeRetriever{},
		Workspaces: &fakeWorkspaces{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	resp, err := s.Respond(context.Background(), "alice@example.com", uuid.New(), "anything")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if resp.Sources != nil {
		t.Errorf("Sources = %v, want nil without hits", resp.Sources)
	}
	if !strings.Contains(resp.Text, "no matching documents") {
		t.Errorf("response text %q does not explain the empty result", resp.Text)
	}
}

func TestRespond_RejectsEmptyInput(t *testing.T) {
	t.Parallel()

	s, err := New(Config{
		History:    &fakeHistory{},
		Retriever:  &fakeRetriever{},
		Workspaces: &fakeWorkspaces{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := s.Respond(context.Background(), "alice@example.com", uuid.New(), "   "); err == nil {
		t.Error("Respond() with blank input: error = nil, want failure")
	}
}

func TestContextBlock(t *testing.T) {
	t.Parallel()

	if got := contextBlock(nil); got != "" {
		t.Errorf("contextBlock(nil) = %q, want empty", got)
	}

	hits := []document.SearchHit{
		{FileName: "a.pdf", Content: "first chunk", Similarity: 0.9},
		{FileName: "b.md", Content: "second chunk", Similarity: 0.7},
	}

	block := contextBlock(hits)
	if !strings.Contains(block, "[1] a.pdf") || !strings.Contains(block, "[2] b.md") {
		t.Errorf("contextBlock() = %q, want numbered file references", block)
	}
	if !strings.Contains(block, "first chunk") || !strings.Contains(block, "second chunk") {
		t.Errorf("contextBlock() = %q, missing chunk content", block)
	}
}

func TestGenerateTitle_RetrievalOnlyReturnsEmpty(t *testing.T) {
	t.Parallel()

	s, err := New(Config{
		History:    &fakeHistory{},
		Retriever:  &fakeRetriever{},
		Workspaces: &fakeWorkspaces{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if got := s.GenerateTitle(context.Background(), "hello"); got != "" {
		t.Errorf("GenerateTitle() = %q, want empty without a model backend", got)
	}
}
