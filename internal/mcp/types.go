package mcp

import (
	"encoding/json"
	"time"
)

// TransportType selects how a server is reached.
type TransportType string

const (
	// TransportStdio spawns a local process and speaks JSON-RPC over its stdio.
	TransportStdio TransportType = "stdio"
	// TransportSSE talks to an HTTP server that may push events.
	TransportSSE TransportType = "sse"
	// TransportWebSocket speaks JSON-RPC over a persistent socket.
	TransportWebSocket TransportType = "websocket"
)

// Valid reports whether t is a known transport.
func (t TransportType) Valid() bool {
	switch t {
	case TransportStdio, TransportSSE, TransportWebSocket:
		return true
	}
	return false
}

// ServerDescriptor is the user-declared identity and connection parameters
// of a tool server.
type ServerDescriptor struct {
	// ID is the primary key. Unique and stable for the session's lifetime.
	ID string `json:"id" yaml:"id"`

	// Name is a human-readable label.
	Name string `json:"name" yaml:"name"`

	// Transport is fixed once the session is created.
	Transport TransportType `json:"transport" yaml:"transport"`

	// Command is the executable for stdio servers.
	Command string `json:"command,omitempty" yaml:"command,omitempty"`

	// Args are passed to Command in order.
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`

	// Env holds KEY=VALUE pairs added to the process environment.
	Env []string `json:"env,omitempty" yaml:"env,omitempty"`

	// URL is the endpoint for sse and websocket servers.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Headers are attached to every request or handshake.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Timeout is the per-call timeout in seconds. Zero uses the default.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// IsConnected is derived from registry state when the descriptor is read
	// back. It is ignored on input.
	IsConnected bool `json:"isConnected" yaml:"-"`
}

// CallTimeout returns the configured per-call timeout or fallback.
func (d ServerDescriptor) CallTimeout(fallback time.Duration) time.Duration {
	if d.Timeout > 0 {
		return time.Duration(d.Timeout) * time.Second
	}
	return fallback
}

// clone returns a deep copy so callers cannot mutate registry state.
func (d ServerDescriptor) clone() ServerDescriptor {
	out := d
	if d.Args != nil {
		out.Args = append([]string(nil), d.Args...)
	}
	if d.Env != nil {
		out.Env = append([]string(nil), d.Env...)
	}
	if d.Headers != nil {
		out.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			out.Headers[k] = v
		}
	}
	return out
}

// Redacted returns a copy with sensitive env values and headers masked.
func (d ServerDescriptor) Redacted() ServerDescriptor {
	out := d.clone()
	if out.Env != nil {
		out.Env = RedactEnv(out.Env)
	}
	if out.Headers != nil {
		out.Headers = RedactHeaders(out.Headers)
	}
	return out
}

// ToolDescriptor describes one tool exposed by a server.
type ToolDescriptor struct {
	// Name is unique within a server.
	Name string `json:"name"`

	// Description explains what the tool does.
	Description string `json:"description,omitempty"`

	// InputSchema is the tool's JSON Schema for arguments, kept verbatim.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolKey returns the composite identity "<serverID>:<toolName>".
func ToolKey(serverID, toolName string) string {
	return serverID + ":" + toolName
}

// ServerTools is one server's slice of the aggregated catalog.
type ServerTools struct {
	ServerID string           `json:"serverId"`
	Tools    []ToolDescriptor `json:"tools"`
}

// CatalogTool is a flattened catalog entry.
type CatalogTool struct {
	ServerID string         `json:"serverId"`
	Key      string         `json:"key"`
	Tool     ToolDescriptor `json:"tool"`
}

// Catalog is the aggregated tool list, sorted by server ID.
type Catalog []ServerTools

// Flatten returns every tool with its composite key.
func (c Catalog) Flatten() []CatalogTool {
	var out []CatalogTool
	for _, st := range c {
		for _, t := range st.Tools {
			out = append(out, CatalogTool{
				ServerID: st.ServerID,
				Key:      ToolKey(st.ServerID, t.Name),
				Tool:     t,
			})
		}
	}
	return out
}

// ToolResult is the normalized outcome of a successful tool call.
type ToolResult struct {
	// Content holds normalized content items when the server returned any.
	Content []ContentItem `json:"content,omitempty"`

	// Data is the raw decoded payload for transports that return arbitrary JSON.
	Data any `json:"data,omitempty"`
}

// Text concatenates all text content items.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	var out string
	for _, c := range r.Content {
		if c.Type == "text" {
			if out != "" {
				out += "\n"
			}
			out += c.Text
		}
	}
	return out
}

// ContentItem represents a piece of content in an MCP response.
type ContentItem struct {
	// Type is the content type (text, image, resource)
	Type string `json:"type"`

	// Text is the text content (for type="text")
	Text string `json:"text,omitempty"`

	// Data is the base64-encoded data (for type="image")
	Data string `json:"data,omitempty"`

	// MimeType is the MIME type for binary content
	MimeType string `json:"mimeType,omitempty"`
}
