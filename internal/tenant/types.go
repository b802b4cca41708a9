package tenant

import (
	"time"

	"github.com/google/uuid"
)

// Group member roles.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Workspace scopes.
const (
	ScopePersonal = "personal"
	ScopeGroup    = "group"
	ScopePublic   = "public"
)

// User is a directory entry for an authenticated principal. IDs come from
// the upstream identity provider and are treated as opaque strings.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Group is a named collection of users sharing a workspace.
type Group struct {
	ID          uuid.UUID
	Name        string
	Description string
	CreatedAt   time.Time
}

// Member is a user's membership in a group.
type Member struct {
	UserID  string
	Role    string
	AddedAt time.Time
}

// Workspace is a document scope: personal (one owner), group (one group),
// or public (everyone).
type Workspace struct {
	ID        uuid.UUID
	Scope     string
	OwnerID   string    // set when Scope == ScopePersonal
	GroupID   uuid.UUID // set when Scope == ScopeGroup
	Name      string
	CreatedAt time.Time
}

// Notification is a per-user event record, ordered by creation time.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	UserID    string    `json:"user_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
