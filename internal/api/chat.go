package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/simplechat/simplechat/internal/chat"
	"github.com/simplechat/simplechat/internal/conversation"
	"github.com/simplechat/simplechat/internal/tenant"
)

const maxChatBodyBytes = 1 << 20 // 1 MiB

// ChatService runs one grounded chat turn.
type ChatService interface {
	Respond(ctx context.Context, userID string, conversationID uuid.UUID, input string) (*chat.Response, error)
	GenerateTitle(ctx context.Context, userMessage string) string
}

// ConversationStore provides the conversation operations the chat
// endpoint needs.
type ConversationStore interface {
	Create(ctx context.Context, userID, title, modelName string) (*conversation.Conversation, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*conversation.Conversation, error)
}

// UserProvisioner upserts the user row backing conversation foreign keys.
type UserProvisioner interface {
	EnsureUser(ctx context.Context, id, email, displayName string) (*tenant.User, error)
}

type chatHandler struct {
	service       ChatService
	conversations ConversationStore
	users         UserProvisioner
	modelName     string
	logger        *slog.Logger
}

type chatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string        `json:"conversation_id"`
	Text           string        `json:"text"`
	Sources        []chat.Source `json:"sources,omitempty"`
	RetrievalOnly  bool          `json:"retrieval_only,omitempty"`
}

// send handles POST /api/v1/chat.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "identity_required", "user identity required", h.logger)
		return
	}

	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", h.logger)
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		WriteError(w, http.StatusBadRequest, "missing_message", "message is required", h.logger)
		return
	}

	if h.users != nil {
		if _, err := h.users.EnsureUser(r.Context(), userID, "", ""); err != nil {
			h.logger.Error("provisioning user", "error", err, "user", userID)
			WriteError(w, http.StatusInternalServerError, "user_failed", "failed to provision user", h.logger)
			return
		}
	}

	conv, err := h.resolveConversation(r.Context(), userID, req)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "conversation not found", h.logger)
			return
		}
		if errors.Is(err, errInvalidConversationID) {
			WriteError(w, http.StatusBadRequest, "invalid_id", "invalid conversation ID", h.logger)
			return
		}
		h.logger.Error("resolving conversation", "error", err, "user", userID)
		WriteError(w, http.StatusInternalServerError, "conversation_failed", "failed to resolve conversation", h.logger)
		return
	}

	resp, err := h.service.Respond(r.Context(), userID, conv.ID, req.Message)
	if err != nil {
		h.logger.Error("chat turn failed", "error", err, "conversation_id", conv.ID)
		WriteError(w, http.StatusBadGateway, "chat_failed", "failed to generate response", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, chatResponse{
		ConversationID: conv.ID.String(),
		Text:           resp.Text,
		Sources:        resp.Sources,
		RetrievalOnly:  resp.RetrievalOnly,
	})
}

var errInvalidConversationID = errors.New("invalid conversation id")

// resolveConversation loads the addressed conversation or starts a new one
// when the request carries no ID.
func (h *chatHandler) resolveConversation(ctx context.Context, userID string, req chatRequest) (*conversation.Conversation, error) {
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			return nil, errInvalidConversationID
		}
		return h.conversations.Get(ctx, userID, id)
	}

	title := h.service.GenerateTitle(ctx, req.Message)
	if title == "" {
		title = truncateTitle(req.Message)
	}

	return h.conversations.Create(ctx, userID, title, h.modelName)
}

// truncateTitle derives a fallback title from the first message.
func truncateTitle(message string) string {
	const maxRunes = 80

	title := strings.TrimSpace(message)
	runes := []rune(title)
	if len(runes) > maxRunes {
		title = string(runes[:maxRunes-3]) + "..."
	}
	return title
}
