package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/simplechat/simplechat/internal/metrics"
	"github.com/simplechat/simplechat/internal/pii"
)

const maxAnalyzeBodyBytes = 4 << 20 // 4 MiB

type piiHandler struct {
	analyzer *pii.Analyzer
	logger   *slog.Logger
}

type analyzeRequest struct {
	Text string `json:"text"`
}

// analyze handles POST /api/v1/pii/analyze.
func (h *piiHandler) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxAnalyzeBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large", h.logger)
			return
		}
		WriteError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}

	if req.Text == "" {
		WriteError(w, http.StatusBadRequest, "missing_text", "text is required", h.logger)
		return
	}

	findings := h.analyzer.Analyze(req.Text)
	for _, f := range findings {
		metrics.PIIFindingsTotal.WithLabelValues(string(f.Kind)).Add(float64(f.Count))
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"findings": findings,
		"clean":    len(findings) == 0,
	})
}
