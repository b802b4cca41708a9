package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/simplechat/simplechat/internal/log"
	"github.com/simplechat/simplechat/internal/testutil"
)

func TestAppendMessages_RejectsUnknownRole(t *testing.T) {
	s := New(nil, log.NewNop())

	err := s.AppendMessages(context.Background(), uuid.New(), []Message{
		{Role: "moderator", Content: "hi"},
	})
	if !errors.Is(err, ErrInvalidRole) {
		t.Errorf("AppendMessages error = %v, want ErrInvalidRole", err)
	}
}

func TestAppendMessages_EmptySliceIsNoop(t *testing.T) {
	// Nil DB proves no query is issued for an empty batch.
	s := New(nil, log.NewNop())

	if err := s.AppendMessages(context.Background(), uuid.New(), nil); err != nil {
		t.Errorf("AppendMessages(nil) = %v, want nil", err)
	}
}

func TestAppendMessages_AssignsSequencesAfterMax(t *testing.T) {
	convID := uuid.New()
	db := testutil.NewFakeDB(
		testutil.Script{Contains: "FROM conversations WHERE id = $1 FOR UPDATE", Rows: [][]any{{convID}}},
		testutil.Script{Contains: "COALESCE(MAX(seq), 0)", Rows: [][]any{{int32(4)}}},
		testutil.Script{Contains: "INSERT INTO messages", Affected: 1},
		testutil.Script{Contains: "UPDATE conversations SET updated_at", Affected: 1},
	)
	s := New(db, log.NewNop())

	err := s.AppendMessages(context.Background(), convID, []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("AppendMessages error = %v", err)
	}

	var seqs []int32
	for _, c := range db.Calls() {
		if strings.Contains(c.SQL, "INSERT INTO messages") {
			seqs = append(seqs, c.Args[1].(int32))
		}
	}
	if len(seqs) != 2 || seqs[0] != 5 || seqs[1] != 6 {
		t.Errorf("assigned sequences = %v, want [5 6]", seqs)
	}
	if db.Committed() != 1 {
		t.Error("transaction did not commit")
	}
}

func TestAppendMessages_LocksConversationBeforeReadingMax(t *testing.T) {
	convID := uuid.New()
	db := testutil.NewFakeDB(
		testutil.Script{Contains: "FROM conversations WHERE id = $1 FOR UPDATE", Rows: [][]any{{convID}}},
		testutil.Script{Contains: "COALESCE(MAX(seq), 0)", Rows: [][]any{{int32(0)}}},
		testutil.Script{Contains: "INSERT INTO messages", Affected: 1},
		testutil.Script{Contains: "UPDATE conversations SET updated_at", Affected: 1},
	)
	s := New(db, log.NewNop())

	err := s.AppendMessages(context.Background(), convID, []Message{
		{Role: RoleUser, Content: "first"},
	})
	if err != nil {
		t.Fatalf("AppendMessages error = %v", err)
	}

	calls := db.Calls()
	lockIdx, maxIdx := -1, -1
	for i, c := range calls {
		switch {
		case lockIdx < 0 && strings.Contains(c.SQL, "FOR UPDATE"):
			lockIdx = i
		case maxIdx < 0 && strings.Contains(c.SQL, "COALESCE(MAX(seq)"):
			maxIdx = i
		}
	}
	if lockIdx < 0 || maxIdx < 0 || lockIdx > maxIdx {
		t.Errorf("row lock at call %d, max read at call %d; lock must come first", lockIdx, maxIdx)
	}
}

func TestAppendMessages_UnknownConversation(t *testing.T) {
	db := testutil.NewFakeDB(
		testutil.Script{Contains: "FROM conversations WHERE id = $1 FOR UPDATE"},
	)
	s := New(db, log.NewNop())

	err := s.AppendMessages(context.Background(), uuid.New(), []Message{
		{Role: RoleUser, Content: "hello"},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendMessages error = %v, want ErrNotFound", err)
	}
	if db.Committed() != 0 {
		t.Error("transaction committed for unknown conversation")
	}
}
