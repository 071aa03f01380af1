// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"errors"
	"fmt"
	"strings"
)

// MCPErrorCode represents a category of MCP error.
type MCPErrorCode string

const (
	// ErrorCodeNotFound indicates a server was not found.
	ErrorCodeNotFound MCPErrorCode = "NOT_FOUND"
	// ErrorCodeAlreadyExists indicates a server ID is already registered.
	ErrorCodeAlreadyExists MCPErrorCode = "ALREADY_EXISTS"
	// ErrorCodeInvalidDescriptor indicates a server descriptor failed validation.
	ErrorCodeInvalidDescriptor MCPErrorCode = "INVALID_DESCRIPTOR"
	// ErrorCodeConnectionFailed indicates a session could not be established.
	ErrorCodeConnectionFailed MCPErrorCode = "CONNECTION_FAILED"
	// ErrorCodeNotConnected indicates a server is not connected or is disabled.
	ErrorCodeNotConnected MCPErrorCode = "NOT_CONNECTED"
	// ErrorCodeToolNotFound indicates a tool is not in the server's catalog.
	ErrorCodeToolNotFound MCPErrorCode = "TOOL_NOT_FOUND"
	// ErrorCodeToolInvocation indicates a tool call failed.
	ErrorCodeToolInvocation MCPErrorCode = "TOOL_INVOCATION"
	// ErrorCodeTimeout indicates a timeout occurred.
	ErrorCodeTimeout MCPErrorCode = "TIMEOUT"
	// ErrorCodeConfig indicates a configuration error.
	ErrorCodeConfig MCPErrorCode = "CONFIG"
	// ErrorCodeInternalError indicates an internal error.
	ErrorCodeInternalError MCPErrorCode = "INTERNAL"
)

// Sentinel errors for errors.Is checks. Every MCPError with the matching
// code reports true against its sentinel.
var (
	ErrDuplicateServer     = errors.New("duplicate server")
	ErrInvalidDescriptor   = errors.New("invalid server descriptor")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrServerNotConnected  = errors.New("server not connected")
	ErrToolNotFound        = errors.New("tool not found")
	ErrToolInvocation      = errors.New("tool invocation failed")
	ErrServerNotRegistered = errors.New("server not registered")
)

var sentinels = map[MCPErrorCode]error{
	ErrorCodeAlreadyExists:     ErrDuplicateServer,
	ErrorCodeInvalidDescriptor: ErrInvalidDescriptor,
	ErrorCodeConnectionFailed:  ErrConnectionFailed,
	ErrorCodeNotConnected:      ErrServerNotConnected,
	ErrorCodeToolNotFound:      ErrToolNotFound,
	ErrorCodeToolInvocation:    ErrToolInvocation,
	ErrorCodeNotFound:          ErrServerNotRegistered,
}

// MCPError is an error type that includes suggestions for resolution.
type MCPError struct {
	// Code is the error category.
	Code MCPErrorCode
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Suggestions are actionable steps to resolve the error.
	Suggestions []string
	// Cause is the underlying error, if any.
	Cause error

	// ServerID is the server the error concerns, when known.
	ServerID string
	// Tool is the tool name for dispatch errors.
	Tool string
	// StatusCode is the upstream HTTP status for transport failures, 0 if none.
	StatusCode int
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	var sb strings.Builder

	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}

	return sb.String()
}

// Unwrap returns the underlying error.
func (e *MCPError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the sentinel for this error's code.
func (e *MCPError) Is(target error) bool {
	if s, ok := sentinels[e.Code]; ok && s == target {
		return true
	}
	if t, ok := target.(*MCPError); ok {
		return t.Code == e.Code
	}
	return false
}

// UserMessage returns a user-friendly message without technical details.
func (e *MCPError) UserMessage() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Suggestion returns the first actionable suggestion, if any.
func (e *MCPError) Suggestion() string {
	if len(e.Suggestions) == 0 {
		return ""
	}
	return e.Suggestions[0]
}

// NewMCPError creates a new MCPError.
func NewMCPError(code MCPErrorCode, message string) *MCPError {
	return &MCPError{
		Code:    code,
		Message: message,
	}
}

// WithDetail adds detail to the error.
func (e *MCPError) WithDetail(detail string) *MCPError {
	e.Detail = detail
	return e
}

// WithSuggestions adds suggestions to the error.
func (e *MCPError) WithSuggestions(suggestions ...string) *MCPError {
	e.Suggestions = suggestions
	return e
}

// WithCause adds an underlying cause to the error.
func (e *MCPError) WithCause(cause error) *MCPError {
	e.Cause = cause
	return e
}

// WithServer records the server the error concerns.
func (e *MCPError) WithServer(id string) *MCPError {
	e.ServerID = id
	return e
}

// WithStatus records an upstream HTTP status code.
func (e *MCPError) WithStatus(code int) *MCPError {
	e.StatusCode = code
	return e
}

// ErrServerNotFound creates an error for when a server is not registered.
func ErrServerNotFound(id string) *MCPError {
	return NewMCPError(ErrorCodeNotFound, fmt.Sprintf("MCP server '%s' not found", id)).
		WithServer(id).
		WithSuggestions(
			"List registered servers: toolhub servers list",
		)
}

// ErrServerAlreadyExists creates an error for a duplicate server ID.
func ErrServerAlreadyExists(id string) *MCPError {
	return NewMCPError(ErrorCodeAlreadyExists, fmt.Sprintf("MCP server '%s' already exists", id)).
		WithServer(id).
		WithSuggestions(
			"Use a different ID for the new server",
			fmt.Sprintf("Remove the existing server first: DELETE /v1/servers/%s", id),
		)
}

// ErrInvalidServerDescriptor creates an error for a descriptor that fails validation.
func ErrInvalidServerDescriptor(id, detail string) *MCPError {
	return NewMCPError(ErrorCodeInvalidDescriptor, "Invalid MCP server descriptor").
		WithServer(id).
		WithDetail(detail).
		WithSuggestions(
			"stdio servers require a command",
			"sse and websocket servers require an absolute http(s) or ws(s) URL",
		)
}

// ErrConnectionFailure creates an error for a session that could not be established.
func ErrConnectionFailure(id string, cause error) *MCPError {
	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}
	return NewMCPError(ErrorCodeConnectionFailed, fmt.Sprintf("Failed to connect to MCP server '%s'", id)).
		WithServer(id).
		WithDetail(detail).
		WithCause(cause).
		WithSuggestions(
			"Verify the command or URL is correct",
			"Check the server's own logs for startup errors",
		)
}

// ErrNotConnected creates an error for a server that is missing, failed, or disabled.
func ErrNotConnected(id string) *MCPError {
	return NewMCPError(ErrorCodeNotConnected, fmt.Sprintf("MCP server '%s' is not connected", id)).
		WithServer(id).
		WithSuggestions(
			"Check status: toolhub servers list",
			fmt.Sprintf("Enable the server if it was toggled off: POST /v1/servers/%s/toggle", id),
		)
}

// ErrUnknownTool creates an error for a tool missing from a populated catalog.
func ErrUnknownTool(id, tool string) *MCPError {
	e := NewMCPError(ErrorCodeToolNotFound, fmt.Sprintf("Tool '%s' not found on MCP server '%s'", tool, id)).
		WithServer(id).
		WithSuggestions(
			fmt.Sprintf("List available tools: toolhub tools list --server %s", id),
		)
	e.Tool = tool
	return e
}

// ErrInvocation creates an error for a failed tool call.
func ErrInvocation(id, tool string, cause error) *MCPError {
	detail := "unknown error"
	if cause != nil {
		detail = cause.Error()
	}
	e := NewMCPError(ErrorCodeToolInvocation, fmt.Sprintf("Tool '%s' on MCP server '%s' failed", tool, id)).
		WithServer(id).
		WithDetail(detail).
		WithCause(cause)
	e.Tool = tool

	var status *StatusError
	if errors.As(cause, &status) {
		e.StatusCode = status.StatusCode
	}
	return e
}

// ErrTimeout creates an error for a timeout.
func ErrTimeout(operation string, seconds int) *MCPError {
	return NewMCPError(ErrorCodeTimeout, fmt.Sprintf("Operation '%s' timed out after %ds", operation, seconds)).
		WithSuggestions(
			"Check if the server is responding",
			"Try increasing the timeout value",
		)
}

// ErrInvalidConfig creates an error for invalid configuration.
func ErrInvalidConfig(detail string) *MCPError {
	return NewMCPError(ErrorCodeConfig, "Invalid toolhub configuration").
		WithDetail(detail).
		WithSuggestions(
			"Check the configuration syntax in config.yaml",
			"Ensure all required fields are provided",
		)
}

// StatusError is returned by HTTP-based transports for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// WrapError wraps a standard error in an MCPError if it isn't one already.
func WrapError(err error, code MCPErrorCode, message string) *MCPError {
	if mcpErr := GetMCPError(err); mcpErr != nil {
		return mcpErr
	}
	return NewMCPError(code, message).WithDetail(err.Error()).WithCause(err)
}

// IsMCPError checks if an error is an MCPError.
func IsMCPError(err error) bool {
	return GetMCPError(err) != nil
}

// GetMCPError extracts an MCPError from an error chain.
func GetMCPError(err error) *MCPError {
	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	return nil
}
