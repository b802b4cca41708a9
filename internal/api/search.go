package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/simplechat/simplechat/internal/conversation"
	"github.com/simplechat/simplechat/internal/document"
	"github.com/simplechat/simplechat/internal/metrics"
)

const (
	maxQueryLength   = 1000
	defaultSearchLim = 10
	maxSearchLim     = 50
	maxSearchOffset  = 10000
)

// DocumentSearcher finds document chunks by semantic similarity.
type DocumentSearcher interface {
	Search(ctx context.Context, query string, workspaceIDs []uuid.UUID, topK int32) ([]document.SearchHit, error)
}

// MessageSearcher runs full-text search over a user's messages.
type MessageSearcher interface {
	SearchMessages(ctx context.Context, userID, query string, limit, offset int32) ([]conversation.SearchResult, int64, error)
}

// WorkspaceResolver lists the workspaces a user may read.
type WorkspaceResolver interface {
	AccessibleWorkspaces(ctx context.Context, userID string) ([]uuid.UUID, error)
}

type searchHandler struct {
	documents  DocumentSearcher
	messages   MessageSearcher
	workspaces WorkspaceResolver
	logger     *slog.Logger
}

// search handles GET /api/v1/search.
//
// Query parameters:
//
//	q      - required query text
//	scope  - "documents" (default, semantic) or "messages" (full-text)
//	limit  - page size (documents: top-k)
//	offset - messages scope only
func (h *searchHandler) search(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "identity_required", "user identity required", h.logger)
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		WriteError(w, http.StatusBadRequest, "missing_query", "query parameter 'q' is required", h.logger)
		return
	}
	if len(q) > maxQueryLength {
		WriteError(w, http.StatusBadRequest, "query_too_long", "query must be 1000 characters or fewer", h.logger)
		return
	}

	limit := queryInt(r, "limit", defaultSearchLim)
	if limit <= 0 || limit > maxSearchLim {
		limit = defaultSearchLim
	}

	metrics.SearchQueriesTotal.Inc()

	scope := r.URL.Query().Get("scope")
	switch scope {
	case "", "documents":
		h.searchDocuments(w, r, userID, q, int32(limit))
	case "messages":
		offset := queryInt(r, "offset", 0)
		if offset < 0 || offset > maxSearchOffset {
			WriteError(w, http.StatusBadRequest, "invalid_offset", "offset must be between 0 and 10000", h.logger)
			return
		}
		h.searchMessages(w, r, userID, q, int32(limit), int32(offset))
	default:
		WriteError(w, http.StatusBadRequest, "invalid_scope", "scope must be 'documents' or 'messages'", h.logger)
	}
}

func (h *searchHandler) searchDocuments(w http.ResponseWriter, r *http.Request, userID, q string, topK int32) {
	workspaceIDs, err := h.workspaces.AccessibleWorkspaces(r.Context(), userID)
	if err != nil {
		h.logger.Error("resolving workspaces", "error", err, "user", userID)
		WriteError(w, http.StatusInternalServerError, "search_failed", "failed to search documents", h.logger)
		return
	}

	hits, err := h.documents.Search(r.Context(), q, workspaceIDs, topK)
	if err != nil {
		h.logger.Error("document search failed", "error", err, "user", userID)
		WriteError(w, http.StatusInternalServerError, "search_failed", "failed to search documents", h.logger)
		return
	}

	type hitJSON struct {
		DocumentID string  `json:"document_id"`
		FileName   string  `json:"file_name"`
		Content    string  `json:"content"`
		Similarity float64 `json:"similarity"`
	}

	out := make([]hitJSON, len(hits))
	for i, hit := range hits {
		out[i] = hitJSON{
			DocumentID: hit.DocumentID.String(),
			FileName:   hit.FileName,
			Content:    hit.Content,
			Similarity: hit.Similarity,
		}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"scope": "documents",
		"query": q,
		"hits":  out,
	})
}

func (h *searchHandler) searchMessages(w http.ResponseWriter, r *http.Request, userID, q string, limit, offset int32) {
	results, total, err := h.messages.SearchMessages(r.Context(), userID, q, limit, offset)
	if err != nil {
		h.logger.Error("message search failed", "error", err, "user", userID)
		WriteError(w, http.StatusInternalServerError, "search_failed", "failed to search messages", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"scope":   "messages",
		"query":   q,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
		"results": results,
	})
}

// queryInt parses an integer query parameter, falling back on def.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
