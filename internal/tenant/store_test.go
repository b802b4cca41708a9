package tenant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/simplechat/simplechat/internal/log"
	"github.com/simplechat/simplechat/internal/testutil"
)

// Validation paths use a nil DB since they return before touching it.
// Query paths run against the scripted fake in internal/testutil.

func TestAddMember_RejectsUnknownRole(t *testing.T) {
	s := New(nil, log.NewNop())

	err := s.AddMember(context.Background(), uuid.New(), "user-1", "superadmin")
	if !errors.Is(err, ErrInvalidRole) {
		t.Errorf("AddMember error = %v, want ErrInvalidRole", err)
	}
}

func TestCreateWorkspace_ScopeValidation(t *testing.T) {
	s := New(nil, log.NewNop())
	ctx := context.Background()

	tests := []struct {
		name    string
		scope   string
		ownerID string
		groupID uuid.UUID
	}{
		{"unknown scope", "department", "user-1", uuid.Nil},
		{"personal without owner", ScopePersonal, "", uuid.Nil},
		{"group without group", ScopeGroup, "", uuid.Nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateWorkspace(ctx, tt.scope, "ws", tt.ownerID, tt.groupID)
			if !errors.Is(err, ErrInvalidScope) {
				t.Errorf("CreateWorkspace error = %v, want ErrInvalidScope", err)
			}
		})
	}
}

func TestEnsureUser_RejectsEmptyID(t *testing.T) {
	s := New(nil, log.NewNop())

	if _, err := s.EnsureUser(context.Background(), "", "a@b.c", "A"); err == nil {
		t.Error("EnsureUser accepted an empty user id")
	}
}

// ownerScripts covers the membership queries for a group whose owner
// count is owners. memberRole is the row returned for the member lookup.
func ownerScripts(groupID uuid.UUID, memberRole string, owners int64) []testutil.Script {
	return []testutil.Script{
		{Contains: "FROM groups WHERE id = $1 FOR UPDATE", Rows: [][]any{{groupID}}},
		{Contains: "SELECT role FROM group_members", Rows: [][]any{{memberRole}}},
		{Contains: "SELECT COUNT(*) FROM group_members", Rows: [][]any{{owners}}},
		{Contains: "INSERT INTO group_members", Affected: 1},
		{Contains: "DELETE FROM group_members", Affected: 1},
	}
}

func TestAddMember_RejectsDemotingLastOwner(t *testing.T) {
	groupID := uuid.New()
	db := testutil.NewFakeDB(ownerScripts(groupID, RoleOwner, 1)...)
	s := New(db, log.NewNop())

	err := s.AddMember(context.Background(), groupID, "owner-1", RoleMember)
	if !errors.Is(err, ErrLastOwner) {
		t.Fatalf("AddMember error = %v, want ErrLastOwner", err)
	}
	if n := db.CallsMatching("INSERT INTO group_members"); n != 0 {
		t.Errorf("membership upsert issued %d times despite rejection", n)
	}
	if db.Committed() != 0 {
		t.Error("transaction committed despite rejection")
	}
}

func TestAddMember_DemotesOwnerWhenAnotherRemains(t *testing.T) {
	groupID := uuid.New()
	db := testutil.NewFakeDB(ownerScripts(groupID, RoleOwner, 2)...)
	s := New(db, log.NewNop())

	if err := s.AddMember(context.Background(), groupID, "owner-1", RoleAdmin); err != nil {
		t.Fatalf("AddMember error = %v", err)
	}
	if n := db.CallsMatching("INSERT INTO group_members"); n != 1 {
		t.Errorf("membership upsert issued %d times, want 1", n)
	}
	if db.Committed() != 1 {
		t.Error("transaction did not commit")
	}
}

func TestAddMember_LocksGroupRow(t *testing.T) {
	groupID := uuid.New()
	db := testutil.NewFakeDB(ownerScripts(groupID, RoleMember, 2)...)
	s := New(db, log.NewNop())

	if err := s.AddMember(context.Background(), groupID, "user-9", RoleMember); err != nil {
		t.Fatalf("AddMember error = %v", err)
	}
	if n := db.CallsMatching("FROM groups WHERE id = $1 FOR UPDATE"); n != 1 {
		t.Errorf("group row lock acquired %d times, want 1", n)
	}
}

func TestAddMember_UnknownGroup(t *testing.T) {
	db := testutil.NewFakeDB(
		testutil.Script{Contains: "FROM groups WHERE id = $1 FOR UPDATE"},
	)
	s := New(db, log.NewNop())

	err := s.AddMember(context.Background(), uuid.New(), "user-1", RoleMember)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("AddMember error = %v, want ErrNotFound", err)
	}
}

func TestRemoveMember_RejectsLastOwner(t *testing.T) {
	groupID := uuid.New()
	db := testutil.NewFakeDB(ownerScripts(groupID, RoleOwner, 1)...)
	s := New(db, log.NewNop())

	err := s.RemoveMember(context.Background(), groupID, "owner-1")
	if !errors.Is(err, ErrLastOwner) {
		t.Fatalf("RemoveMember error = %v, want ErrLastOwner", err)
	}
	if n := db.CallsMatching("DELETE FROM group_members"); n != 0 {
		t.Errorf("delete issued %d times despite rejection", n)
	}
	if db.Committed() != 0 {
		t.Error("transaction committed despite rejection")
	}
}

func TestRemoveMember_LocksGroupBeforeCounting(t *testing.T) {
	groupID := uuid.New()
	db := testutil.NewFakeDB(ownerScripts(groupID, RoleOwner, 2)...)
	s := New(db, log.NewNop())

	if err := s.RemoveMember(context.Background(), groupID, "owner-2"); err != nil {
		t.Fatalf("RemoveMember error = %v", err)
	}

	calls := db.Calls()
	lockIdx, countIdx := -1, -1
	for i, c := range calls {
		switch {
		case lockIdx < 0 && strings.Contains(c.SQL, "FROM groups WHERE id = $1 FOR UPDATE"):
			lockIdx = i
		case countIdx < 0 && strings.Contains(c.SQL, "SELECT COUNT(*) FROM group_members"):
			countIdx = i
		}
	}
	if lockIdx < 0 || countIdx < 0 || lockIdx > countIdx {
		t.Errorf("group lock at call %d, owner count at call %d; lock must come first", lockIdx, countIdx)
	}
	if db.Committed() != 1 {
		t.Error("transaction did not commit")
	}
}

func TestRemoveMember_UnknownMember(t *testing.T) {
	groupID := uuid.New()
	db := testutil.NewFakeDB(
		testutil.Script{Contains: "FROM groups WHERE id = $1 FOR UPDATE", Rows: [][]any{{groupID}}},
		testutil.Script{Contains: "SELECT role FROM group_members"},
	)
	s := New(db, log.NewNop())

	err := s.RemoveMember(context.Background(), groupID, "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveMember error = %v, want ErrNotFound", err)
	}
}
