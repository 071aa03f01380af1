package api

import (
	"net/http"

	"github.com/tombee/toolhub/internal/mcp"
)

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	if serverID := r.URL.Query().Get("serverId"); serverID != "" {
		tools, err := s.orch.ListTools(r.Context(), serverID)
		if err != nil {
			writeMCPError(w, err)
			return
		}
		if tools == nil {
			tools = []mcp.ToolDescriptor{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
		return
	}

	catalog := s.orch.GetAllTools(r.Context())
	if catalog == nil {
		catalog = mcp.Catalog{}
	}
	flat := catalog.Flatten()
	if flat == nil {
		flat = []mcp.CatalogTool{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": catalog,
		"tools":   flat,
	})
}

type callToolRequest struct {
	ServerID  string         `json:"serverId"`
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments"`
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many tool calls, retry shortly")
		return
	}

	var req callToolRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid call request: "+err.Error())
		return
	}
	if req.ServerID == "" || req.ToolName == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "serverId and toolName are required")
		return
	}
	if req.Arguments == nil {
		req.Arguments = map[string]any{}
	}

	result, err := s.orch.CallTool(r.Context(), req.ServerID, req.ToolName, req.Arguments)
	if err != nil {
		writeMCPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}
