package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tombee/toolhub/internal/mcp"
)

// ErrorResponse is the body of every failed request. Error is the message;
// the remaining fields are for clients that want more than a string.
type ErrorResponse struct {
	Error       string         `json:"error"`
	Code        string         `json:"code"`
	Suggestions []string       `json:"suggestions,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Error codes not covered by mcp error codes.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// statusFor maps orchestration errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mcp.ErrInvalidDescriptor):
		return http.StatusBadRequest
	case errors.Is(err, mcp.ErrServerNotRegistered), errors.Is(err, mcp.ErrToolNotFound):
		return http.StatusNotFound
	case errors.Is(err, mcp.ErrDuplicateServer), errors.Is(err, mcp.ErrServerNotConnected):
		return http.StatusConflict
	case errors.Is(err, mcp.ErrConnectionFailed), errors.Is(err, mcp.ErrToolInvocation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeMCPError writes err with its code, suggestions and upstream context.
func writeMCPError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	mcpErr := mcp.GetMCPError(err)
	if mcpErr == nil {
		writeError(w, status, ErrCodeInternalError, err.Error())
		return
	}

	resp := ErrorResponse{
		Error:       mcpErr.Error(),
		Code:        string(mcpErr.Code),
		Suggestions: mcpErr.Suggestions,
	}
	details := map[string]any{}
	if mcpErr.ServerID != "" {
		details["serverId"] = mcpErr.ServerID
	}
	if mcpErr.Tool != "" {
		details["toolName"] = mcpErr.Tool
	}
	if mcpErr.StatusCode != 0 {
		details["statusCode"] = mcpErr.StatusCode
	}
	if len(details) > 0 {
		resp.Details = details
	}
	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}
