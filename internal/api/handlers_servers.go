package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tombee/toolhub/internal/mcp"
)

// serverView is a session snapshot with secrets masked.
func serverView(info mcp.SessionInfo) mcp.SessionInfo {
	info.Server = info.Server.Redacted()
	return info
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	infos := s.orch.Servers()
	servers := make([]mcp.SessionInfo, 0, len(infos))
	for _, info := range infos {
		servers = append(servers, serverView(info))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": servers,
		"summary": s.orch.Summary(),
	})
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var desc mcp.ServerDescriptor
	if err := decodeJSON(w, r, &desc); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid server descriptor: "+err.Error())
		return
	}
	if desc.ID == "" {
		desc.ID = uuid.NewString()
	}

	info, err := s.orch.AddServer(r.Context(), desc)
	if err != nil {
		writeMCPError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, serverView(*info))
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, ok := s.orch.Server(id)
	if !ok {
		writeMCPError(w, mcp.ErrServerNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, serverView(info))
}

func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.orch.RemoveServer(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "removed": true})
}

func (s *Server) handleToggleServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	enabled, err := s.orch.ToggleServer(r.Context(), id)
	if err != nil {
		writeMCPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "enabled": enabled})
}

func (s *Server) handleServerLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	lines := mcp.DefaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "lines must be a non-negative integer")
			return
		}
		lines = n
	}

	logs, err := s.orch.ServerLogs(id, lines)
	if err != nil {
		writeMCPError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"serverId": id, "logs": logs})
}
