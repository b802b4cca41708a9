// Package document manages document metadata, embedded text chunks, and
// vector similarity search over them with PostgreSQL + pgvector.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"
)

// EmbeddingDim is the vector dimension of the chunk embedding column.
// Must match the vector(N) type in db/migrations.
const EmbeddingDim = 1536

var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrEmptyEmbedding indicates the embedder returned no vector.
	ErrEmptyEmbedding = errors.New("empty embedding returned")
)

// DB is the subset of pgxpool.Pool the store depends on.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists documents and their embedded chunks.
// Safe for concurrent use.
type Store struct {
	db       DB
	embedder ai.Embedder
	logger   *slog.Logger

	// sizeGroup collapses concurrent size recomputations per document so a
	// metric sweep racing a detail view issues one write, not two.
	sizeGroup singleflight.Group
}

// New creates a Store. The embedder may be nil when only metadata
// operations are needed (size accounting, counting); chunk upsert and
// search then return an error.
func New(db DB, embedder ai.Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, embedder: embedder, logger: logger}
}

// NewWithPool is a convenience constructor for production wiring.
func NewWithPool(pool *pgxpool.Pool, embedder ai.Embedder, logger *slog.Logger) *Store {
	return New(pool, embedder, logger)
}

// Register records a new document in the given workspace.
func (s *Store) Register(ctx context.Context, workspaceID uuid.UUID, fileName string, pageCount int32) (*Document, error) {
	var d Document
	err := s.db.QueryRow(ctx, `
		INSERT INTO documents (workspace_id, file_name, page_count)
		VALUES ($1, $2, $3)
		RETURNING id, workspace_id, file_name, page_count, size_bytes, status, created_at, updated_at`,
		workspaceID, fileName, pageCount,
	).Scan(&d.ID, &d.WorkspaceID, &d.FileName, &d.PageCount, &d.SizeBytes,
		&d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting document: %w", err)
	}
	return &d, nil
}

// Get returns document metadata by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	var d Document
	err := s.db.QueryRow(ctx, `
		SELECT id, workspace_id, file_name, page_count, size_bytes, status, created_at, updated_at
		FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.WorkspaceID, &d.FileName, &d.PageCount, &d.SizeBytes,
		&d.Status, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}
	return &d, nil
}

// SetStatus updates processing status.
func (s *Store) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes a document; chunks go with it via cascade.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// UpsertChunk embeds content and stores it as chunk index of documentID.
// ON CONFLICT keeps re-ingestion idempotent.
func (s *Store) UpsertChunk(ctx context.Context, chunk Chunk) error {
	if s.embedder == nil {
		return errors.New("store has no embedder configured")
	}

	embedding, err := s.embed(ctx, chunk.Content)
	if err != nil {
		return err
	}

	metadataJSON, err := json.Marshal(chunk.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling chunk metadata: %w", err)
	}

	chunkID := chunk.ID
	if chunkID == "" {
		chunkID = fmt.Sprintf("%s:%d", chunk.DocumentID, chunk.Index)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO document_chunks (id, document_id, chunk_index, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		chunkID, chunk.DocumentID, chunk.Index, chunk.Content, embedding, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("upserting chunk: %w", err)
	}
	return nil
}

// Search embeds query and returns the topK nearest chunks restricted to
// the given workspaces, nearest first. An empty workspace list returns no
// hits rather than leaking cross-tenant content.
func (s *Store) Search(ctx context.Context, query string, workspaceIDs []uuid.UUID, topK int32) ([]SearchHit, error) {
	if s.embedder == nil {
		return nil, errors.New("store has no embedder configured")
	}
	if len(workspaceIDs) == 0 {
		return nil, nil
	}
	if topK <= 0 {
		topK = 5
	}

	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT ch.id, ch.document_id, d.file_name, ch.content, ch.metadata,
		       1 - (ch.embedding <=> $1) AS similarity
		FROM document_chunks ch
		JOIN documents d ON d.id = ch.document_id
		WHERE d.workspace_id = ANY($2) AND d.status = 'ready'
		ORDER BY ch.embedding <=> $1
		LIMIT $3`,
		embedding, workspaceIDs, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		var metadataJSON []byte
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.FileName, &h.Content,
			&metadataJSON, &h.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &h.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling chunk metadata: %w", err)
			}
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// CountDocuments returns the total document count.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// embed generates the embedding vector for one text.
func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, fmt.Errorf("generating embedding: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, ErrEmptyEmbedding
	}
	return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
}
