package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/tombee/toolhub/internal/bridge"
)

type bridgeRequest struct {
	Operation string `json:"operation"`
	Path      string `json:"path"`
}

func (s *Server) handleBridgeOperation(w http.ResponseWriter, r *http.Request) {
	var req bridgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid bridge request: "+err.Error())
		return
	}
	op, err := bridge.ParseOperation(req.Operation)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.bridge.Do(r.Context(), op, req.Path))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.config.Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"servers": s.orch.Summary(),
		"bridge": map[string]any{
			"url":     s.bridge.BaseURL(),
			"healthy": s.bridge.Healthy(),
		},
	})
}

// handleEvents streams session events as server-sent events until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.orch.Events().Subscribe()
	defer unsubscribe()

	if err := sess.Flush(); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("dropping unencodable event", "error", err)
				continue
			}
			msg := &sse.Message{Type: sse.Type(string(ev.Type))}
			msg.AppendData(string(data))
			if err := sess.Send(msg); err != nil {
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
		}
	}
}
