package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/simplechat/simplechat/internal/mcp"
)

// ToolGateway exposes external MCP server tools through the API.
type ToolGateway interface {
	ListTools(ctx context.Context) ([]mcp.RemoteTool, error)
	CallTool(ctx context.Context, qualifiedName string, args map[string]any) (string, error)
}

type toolsHandler struct {
	gateway ToolGateway
	logger  *slog.Logger
}

// list handles GET /api/v1/mcp/tools.
func (h *toolsHandler) list(w http.ResponseWriter, r *http.Request) {
	tools, err := h.gateway.ListTools(r.Context())
	if err != nil {
		h.logger.Error("listing mcp tools", "error", err)
		WriteError(w, http.StatusBadGateway, "list_failed", "failed to list tools", h.logger)
		return
	}

	if tools == nil {
		tools = []mcp.RemoteTool{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

type callToolRequest struct {
	Tool      string         `json:"tool"` // qualified as server.tool
	Arguments map[string]any `json:"arguments,omitempty"`
}

// call handles POST /api/v1/mcp/call.
func (h *toolsHandler) call(w http.ResponseWriter, r *http.Request) {
	var req callToolRequest
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

	if req.Tool == "" {
		WriteError(w, http.StatusBadRequest, "missing_tool", "tool is required", h.logger)
		return
	}

	result, err := h.gateway.CallTool(r.Context(), req.Tool, req.Arguments)
	if err != nil {
		h.logger.Warn("mcp tool call failed", "tool", req.Tool, "error", err)
		WriteError(w, http.StatusBadGateway, "call_failed", "tool call failed", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"result": result})
}
