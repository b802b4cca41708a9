package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Conversation is a user-owned chat thread.
type Conversation struct {
	ID        uuid.UUID
	UserID    string
	Title     string
	ModelName string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single turn in a conversation. Seq is assigned by the store
// and is strictly increasing within a conversation.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Seq            int32
	Role           string
	Content        string
	CreatedAt      time.Time
}

// SearchResult is one full-text search hit across a user's messages.
type SearchResult struct {
	ConversationID    uuid.UUID `json:"conversation_id"`
	ConversationTitle string    `json:"conversation_title"`
	MessageID         uuid.UUID `json:"message_id"`
	Role              string    `json:"role"`
	Snippet           string    `json:"snippet"`
	CreatedAt         time.Time `json:"created_at"`
	Rank              float64   `json:"rank"`
}
