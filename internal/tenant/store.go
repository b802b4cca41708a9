// Package tenant manages the multi-tenant directory: users, groups with
// member roles, workspace scopes, and per-user notifications.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrLastOwner indicates the operation would leave a group without an owner.
	ErrLastOwner = errors.New("group must retain at least one owner")

	// ErrInvalidRole indicates an unknown member role.
	ErrInvalidRole = errors.New("invalid role")

	// ErrInvalidScope indicates an unknown workspace scope.
	ErrInvalidScope = errors.New("invalid workspace scope")
)

// DB is the subset of pgxpool.Pool the store depends on.
// Defined by the consumer so tests can substitute a fake.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists the tenant directory in PostgreSQL.
// Safe for concurrent use.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a Store. logger nil falls back to slog.Default().
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// NewWithPool is a convenience constructor for production wiring.
func NewWithPool(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return New(pool, logger)
}

// EnsureUser upserts a user record and bumps last_active_at.
// Called on every authenticated request; the upsert keeps the directory in
// sync with the upstream identity provider without a separate sync job.
func (s *Store) EnsureUser(ctx context.Context, id, email, displayName string) (*User, error) {
	if id == "" {
		return nil, errors.New("user id cannot be empty")
	}

	var u User
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			display_name = EXCLUDED.display_name,
			last_active_at = now()
		RETURNING id, email, display_name, created_at, last_active_at`,
		id, email, displayName,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt, &u.LastActiveAt)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return &u, nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT id, email, display_name, created_at, last_active_at
		FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &u.CreatedAt, &u.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return &u, nil
}

// CreateGroup creates a group with creator as its first owner.
// The insert and the membership row commit atomically.
func (s *Store) CreateGroup(ctx context.Context, name, description, creatorID string) (*Group, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var g Group
	err = tx.QueryRow(ctx, `
		INSERT INTO groups (name, description)
		VALUES ($1, $2)
		RETURNING id, name, description, created_at`,
		name, description,
	).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting group: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, role)
		VALUES ($1, $2, $3)`,
		g.ID, creatorID, RoleOwner,
	); err != nil {
		return nil, fmt.Errorf("adding creator as owner: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing group creation: %w", err)
	}

	s.logger.Debug("group created", "group_id", g.ID, "creator", creatorID)
	return &g, nil
}

// AddMember adds or updates a user's membership in a group. Demoting the
// group's last owner is rejected with ErrLastOwner; membership mutations
// serialize on the group row lock so the owner count cannot change between
// the check and the write.
func (s *Store) AddMember(ctx context.Context, groupID uuid.UUID, userID, role string) error {
	if role != RoleOwner && role != RoleAdmin && role != RoleMember {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockGroup(ctx, tx, groupID); err != nil {
		return err
	}

	if role != RoleOwner {
		var current string
		err = tx.QueryRow(ctx, `
			SELECT role FROM group_members
			WHERE group_id = $1 AND user_id = $2`,
			groupID, userID,
		).Scan(&current)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("reading current role: %w", err)
		}
		if err == nil && current == RoleOwner {
			owners, err := countOwners(ctx, tx, groupID)
			if err != nil {
				return err
			}
			if owners <= 1 {
				return ErrLastOwner
			}
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO UPDATE SET role = EXCLUDED.role`,
		groupID, userID, role,
	); err != nil {
		return fmt.Errorf("adding member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing membership: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a group. Removing the last owner is
// rejected with ErrLastOwner. The group row is locked first: a per-member
// row lock would let two transactions remove two different owners
// concurrently, each counting the other as still present.
func (s *Store) RemoveMember(ctx context.Context, groupID uuid.UUID, userID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockGroup(ctx, tx, groupID); err != nil {
		return err
	}

	var role string
	err = tx.QueryRow(ctx, `
		SELECT role FROM group_members
		WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: member %q in group %s", ErrNotFound, userID, groupID)
	}
	if err != nil {
		return fmt.Errorf("reading membership: %w", err)
	}

	if role == RoleOwner {
		owners, err := countOwners(ctx, tx, groupID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return ErrLastOwner
		}
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`,
		groupID, userID,
	); err != nil {
		return fmt.Errorf("removing member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing member removal: %w", err)
	}
	return nil
}

// lockGroup takes the group row lock that serializes membership mutations
// for one group. Returns ErrNotFound for an unknown group.
func lockGroup(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) error {
	var id uuid.UUID
	err := tx.QueryRow(ctx, `
		SELECT id FROM groups WHERE id = $1 FOR UPDATE`, groupID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: group %s", ErrNotFound, groupID)
	}
	if err != nil {
		return fmt.Errorf("locking group: %w", err)
	}
	return nil
}

// countOwners counts a group's owners inside the caller's transaction.
func countOwners(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) (int64, error) {
	var owners int64
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM group_members
		WHERE group_id = $1 AND role = $2`,
		groupID, RoleOwner,
	).Scan(&owners); err != nil {
		return 0, fmt.Errorf("counting owners: %w", err)
	}
	return owners, nil
}

// ListMembers returns a group's members ordered by join time.
func (s *Store) ListMembers(ctx context.Context, groupID uuid.UUID) ([]Member, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id, role, added_at FROM group_members
		WHERE group_id = $1 ORDER BY added_at`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Role, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// CreateWorkspace creates a workspace of the given scope.
func (s *Store) CreateWorkspace(ctx context.Context, scope, name, ownerID string, groupID uuid.UUID) (*Workspace, error) {
	var ownerArg, groupArg any
	switch scope {
	case ScopePersonal:
		if ownerID == "" {
			return nil, fmt.Errorf("%w: personal workspace requires an owner", ErrInvalidScope)
		}
		ownerArg = ownerID
	case ScopeGroup:
		if groupID == uuid.Nil {
			return nil, fmt.Errorf("%w: group workspace requires a group", ErrInvalidScope)
		}
		groupArg = groupID
	case ScopePublic:
		// No owner or group.
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}

	var w Workspace
	var owner *string
	var group *uuid.UUID
	err := s.db.QueryRow(ctx, `
		INSERT INTO workspaces (scope, owner_id, group_id, name)
		VALUES ($1, $2, $3, $4)
		RETURNING id, scope, owner_id, group_id, name, created_at`,
		scope, ownerArg, groupArg, name,
	).Scan(&w.ID, &w.Scope, &owner, &group, &w.Name, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting workspace: %w", err)
	}
	if owner != nil {
		w.OwnerID = *owner
	}
	if group != nil {
		w.GroupID = *group
	}
	return &w, nil
}

// AccessibleWorkspaces returns the IDs of all workspaces the user can read:
// their personal workspaces, their groups' workspaces, and public ones.
func (s *Store) AccessibleWorkspaces(ctx context.Context, userID string) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id FROM workspaces
		WHERE scope = 'public'
		   OR (scope = 'personal' AND owner_id = $1)
		   OR (scope = 'group' AND group_id IN (
		        SELECT group_id FROM group_members WHERE user_id = $1))`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing accessible workspaces: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning workspace id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateNotification inserts a notification for a user.
func (s *Store) CreateNotification(ctx context.Context, userID, kind, title, body string) (*Notification, error) {
	var n Notification
	err := s.db.QueryRow(ctx, `
		INSERT INTO notifications (user_id, kind, title, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, kind, title, body, read, created_at`,
		userID, kind, title, body,
	).Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.Read, &n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting notification: %w", err)
	}
	return &n, nil
}

// ListNotifications returns a user's notifications, newest first.
// unreadOnly filters to unread ones.
func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int32) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, kind, title, body, read, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2 OR NOT read)
		ORDER BY created_at DESC
		LIMIT $3`,
		userID, unreadOnly, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead marks one notification read. The user ID guard
// prevents cross-tenant updates.
func (s *Store) MarkNotificationRead(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE notifications SET read = TRUE
		WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("marking notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: notification %s", ErrNotFound, id)
	}
	return nil
}

// CountUsers returns the total number of directory users.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM users`)
}

// CountGroups returns the total number of groups.
func (s *Store) CountGroups(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM groups`)
}

// CountNotifications returns the total number of unread notifications.
func (s *Store) CountNotifications(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM notifications WHERE NOT read`)
}

func (s *Store) count(ctx context.Context, sql string) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting: %w", err)
	}
	return n, nil
}
