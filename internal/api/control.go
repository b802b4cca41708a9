package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/simplechat/simplechat/internal/control"
)

// SnapshotProvider returns the current activity snapshot.
type SnapshotProvider interface {
	Snapshot(ctx context.Context) (*control.ActivitySnapshot, error)
}

type controlHandler struct {
	snapshots SnapshotProvider
	logger    *slog.Logger
}

// activity handles GET /api/v1/control/activity.
func (h *controlHandler) activity(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Snapshot(r.Context())
	if err != nil {
		h.logger.Error("collecting activity snapshot", "error", err)
		WriteError(w, http.StatusInternalServerError, "snapshot_failed", "failed to collect activity snapshot", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, snap)
}
