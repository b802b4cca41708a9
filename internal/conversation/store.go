// Package conversation manages chat threads and their message history with
// a PostgreSQL backend.
package conversation

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
	// ErrNotFound indicates the conversation does not exist or is not
	// owned by the requesting user.
	ErrNotFound = errors.New("conversation not found")

	// ErrInvalidRole indicates an unknown message role.
	ErrInvalidRole = errors.New("invalid message role")
)

// maxSearchLimit caps full-text search page sizes.
const maxSearchLimit = 100

// DB is the subset of pgxpool.Pool the store depends on.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists conversations and messages.
// Safe for concurrent use; message sequence numbers are assigned under a
// per-conversation row lock.
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

// Create starts a new conversation for userID.
func (s *Store) Create(ctx context.Context, userID, title, modelName string) (*Conversation, error) {
	var c Conversation
	var dbTitle, dbModel *string
	err := s.db.QueryRow(ctx, `
		INSERT INTO conversations (user_id, title, model_name)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		RETURNING id, user_id, title, model_name, created_at, updated_at`,
		userID, title, modelName,
	).Scan(&c.ID, &c.UserID, &dbTitle, &dbModel, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	if dbTitle != nil {
		c.Title = *dbTitle
	}
	if dbModel != nil {
		c.ModelName = *dbModel
	}
	return &c, nil
}

// Get returns a conversation owned by userID.
func (s *Store) Get(ctx context.Context, userID string, id uuid.UUID) (*Conversation, error) {
	var c Conversation
	var dbTitle, dbModel *string
	err := s.db.QueryRow(ctx, `
		SELECT id, user_id, title, model_name, created_at, updated_at
		FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(&c.ID, &c.UserID, &dbTitle, &dbModel, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	if dbTitle != nil {
		c.Title = *dbTitle
	}
	if dbModel != nil {
		c.ModelName = *dbModel
	}
	return &c, nil
}

// List returns a user's conversations, most recently updated first.
func (s *Store) List(ctx context.Context, userID string, limit, offset int32) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, COALESCE(title, ''), COALESCE(model_name, ''), created_at, updated_at
		FROM conversations
		WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.ModelName, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		conversations = append(conversations, &c)
	}
	return conversations, rows.Err()
}

// Delete removes a conversation and, via cascade, its messages.
func (s *Store) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// AppendMessages appends messages to a conversation, assigning sequence
// numbers transactionally. The conversation row is locked FOR UPDATE so
// concurrent appends serialize and sequences never collide.
func (s *Store) AppendMessages(ctx context.Context, conversationID uuid.UUID, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}
	for _, m := range messages {
		if m.Role != RoleUser && m.Role != RoleAssistant && m.Role != RoleSystem {
			return fmt.Errorf("%w: %q", ErrInvalidRole, m.Role)
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM conversations WHERE id = $1 FOR UPDATE`,
		conversationID,
	).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	if err != nil {
		return fmt.Errorf("locking conversation: %w", err)
	}

	var maxSeq int32
	if err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM messages WHERE conversation_id = $1`,
		conversationID,
	).Scan(&maxSeq); err != nil {
		return fmt.Errorf("reading max sequence: %w", err)
	}

	for i, m := range messages {
		seq := maxSeq + int32(i) + 1
		if _, err := tx.Exec(ctx, `
			INSERT INTO messages (conversation_id, seq, role, content)
			VALUES ($1, $2, $3, $4)`,
			conversationID, seq, m.Role, m.Content,
		); err != nil {
			return fmt.Errorf("inserting message seq %d: %w", seq, err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE conversations SET updated_at = now() WHERE id = $1`,
		conversationID,
	); err != nil {
		return fmt.Errorf("bumping updated_at: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing messages: %w", err)
	}

	s.logger.Debug("messages appended",
		"conversation_id", conversationID, "count", len(messages))
	return nil
}

// Messages returns messages in sequence order.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, seq, role, content, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq
		LIMIT $2 OFFSET $3`,
		conversationID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// RecentHistory returns the last limit messages in chronological order,
// for prompt assembly.
func (s *Store) RecentHistory(ctx context.Context, conversationID uuid.UUID, limit int32) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, conversation_id, seq, role, content, created_at
		FROM (
			SELECT id, conversation_id, seq, role, content, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	return scanMessages(rows)
}

// SearchMessages runs full-text search across all conversations owned by
// userID. Returns results ranked by ts_rank plus the total hit count.
func (s *Store) SearchMessages(ctx context.Context, userID, query string, limit, offset int32) ([]SearchResult, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	limit = min(limit, maxSearchLimit)

	var total int64
	if err := s.db.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.user_id = $1
		  AND m.content_tsv @@ websearch_to_tsquery('english', $2)`,
		userID, query,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting search hits: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT c.id, COALESCE(c.title, ''), m.id, m.role,
		       ts_headline('english', m.content,
		                   websearch_to_tsquery('english', $2),
		                   'MaxWords=30, MinWords=10'),
		       m.created_at,
		       ts_rank(m.content_tsv, websearch_to_tsquery('english', $2))
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.user_id = $1
		  AND m.content_tsv @@ websearch_to_tsquery('english', $2)
		ORDER BY 7 DESC, m.created_at DESC
		LIMIT $3 OFFSET $4`,
		userID, query, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.ConversationID, &r.ConversationTitle, &r.MessageID,
			&r.Role, &r.Snippet, &r.CreatedAt, &r.Rank); err != nil {
			return nil, 0, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// CountConversations returns the total conversation count across all users.
func (s *Store) CountConversations(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting conversations: %w", err)
	}
	return n, nil
}

// CountMessages returns the total message count across all users.
func (s *Store) CountMessages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
