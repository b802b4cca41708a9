package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/simplechat/simplechat/internal/tenant"
)

const maxNotificationLimit = 100

// NotificationStore provides per-user notification access.
type NotificationStore interface {
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int32) ([]tenant.Notification, error)
	MarkNotificationRead(ctx context.Context, userID string, id uuid.UUID) error
}

type notificationHandler struct {
	store  NotificationStore
	logger *slog.Logger
}

// list handles GET /api/v1/notifications.
func (h *notificationHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "identity_required", "user identity required", h.logger)
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"

	limit := queryInt(r, "limit", 20)
	if limit <= 0 || limit > maxNotificationLimit {
		limit = 20
	}

	notifications, err := h.store.ListNotifications(r.Context(), userID, unreadOnly, int32(limit))
	if err != nil {
		h.logger.Error("listing notifications", "error", err, "user", userID)
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list notifications", h.logger)
		return
	}

	if notifications == nil {
		notifications = []tenant.Notification{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

// markRead handles POST /api/v1/notifications/{id}/read.
func (h *notificationHandler) markRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "identity_required", "user identity required", h.logger)
		return
	}

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_id", "invalid notification ID", h.logger)
		return
	}

	if err := h.store.MarkNotificationRead(r.Context(), userID, id); err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "notification not found", h.logger)
			return
		}
		h.logger.Error("marking notification read", "error", err, "user", userID, "id", id)
		WriteError(w, http.StatusInternalServerError, "update_failed", "failed to mark notification read", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
