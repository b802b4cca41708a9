package document

import (
	"time"

	"github.com/google/uuid"
)

// Document processing states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusReady      = "ready"
	StatusFailed     = "failed"
)

// Document is uploaded file metadata. SizeBytes is a cached estimate, see
// sizes.go.
type Document struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	FileName    string
	PageCount   int32
	SizeBytes   int64
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Chunk is an embedded slice of extracted document text.
type Chunk struct {
	ID         string
	DocumentID uuid.UUID
	Index      int32
	Content    string
	Metadata   map[string]any
}

// SearchHit is one vector search result.
type SearchHit struct {
	ChunkID    string
	DocumentID uuid.UUID
	FileName   string
	Content    string
	Metadata   map[string]any
	Similarity float64 // cosine similarity in [0, 1], higher is closer
}
