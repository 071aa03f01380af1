package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Conn is a live connection to one tool server. Implementations must be
// safe for concurrent use, and Close must be idempotent.
type Conn interface {
	// ListTools asks the server for its current tool list.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// CallTool invokes a tool once. Implementations never retry.
	CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error)

	// Close releases the process or socket behind the connection.
	Close() error
}

// Pinger is implemented by connections that can check liveness. The
// dispatcher pings after a failed call to tell a dead server from a failed
// tool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ToolsChangedNotifier is implemented by connections whose server can push
// catalog change notifications.
type ToolsChangedNotifier interface {
	// OnToolsChanged registers fn and starts listening. It is called at most
	// once per connection.
	OnToolsChanged(fn func())
}

// Dialer establishes connections for descriptors.
type Dialer interface {
	Dial(ctx context.Context, desc ServerDescriptor) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, desc ServerDescriptor) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, desc ServerDescriptor) (Conn, error) {
	return f(ctx, desc)
}

// ClientInfo identifies toolhub to servers during the initialize handshake.
type ClientInfo struct {
	Name    string
	Version string
}

// TransportDialer is the production Dialer. It switches on the descriptor's
// transport.
type TransportDialer struct {
	// HTTPClient is used for sse requests. Event streams reuse its transport
	// without the overall timeout.
	HTTPClient *http.Client

	// ClientInfo is sent in initialize requests.
	ClientInfo ClientInfo

	// CloseTimeout bounds how long Close waits for a stdio process to exit
	// before killing it.
	CloseTimeout time.Duration

	// WebSocketDialAttempts bounds lazy dial retries for websocket sessions.
	WebSocketDialAttempts uint64

	// Trace receives a readable copy of every websocket frame when set.
	Trace io.Writer

	Logger *slog.Logger
}

// Dial implements Dialer.
func (d *TransportDialer) Dial(ctx context.Context, desc ServerDescriptor) (Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("server_id", desc.ID, "transport", string(desc.Transport))

	info := d.ClientInfo
	if info.Name == "" {
		info = ClientInfo{Name: "toolhub", Version: "dev"}
	}

	switch desc.Transport {
	case TransportStdio:
		closeTimeout := d.CloseTimeout
		if closeTimeout <= 0 {
			closeTimeout = 5 * time.Second
		}
		return dialStdio(ctx, desc, info, closeTimeout, logger)
	case TransportSSE:
		client := d.HTTPClient
		if client == nil {
			client = http.DefaultClient
		}
		return newSSEConn(desc, client, logger)
	case TransportWebSocket:
		attempts := d.WebSocketDialAttempts
		if attempts == 0 {
			attempts = 3
		}
		return newWebSocketConn(desc, info, attempts, d.Trace, logger), nil
	}
	return nil, fmt.Errorf("unsupported transport %q", desc.Transport)
}
