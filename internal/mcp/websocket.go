package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/mark3labs/mcp-go/mcp"
)

// errSocketClosed is returned to callers whose request was pending when the
// socket dropped.
var errSocketClosed = errors.New("websocket closed")

// rpcRequest is a JSON-RPC 2.0 request or, without ID, a notification.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	ID     *int64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

// wsConn keeps one persistent socket per session. The socket is dialed on
// first use and redialed by the next request after it drops.
type wsConn struct {
	serverID    string
	url         string
	header      http.Header
	info        ClientInfo
	maxAttempts uint64
	dialer      *websocket.Dialer
	trace       *FrameTracer
	logger      *slog.Logger

	// mu guards sock, ready, pending and closed. dialMu serializes dial
	// attempts. sock is only handed to requests once ready is set, which
	// happens after the initialize handshake completes.
	mu      sync.Mutex
	dialMu  sync.Mutex
	sock    *websocket.Conn
	ready   bool
	pending map[int64]chan rpcResponse
	closed  bool

	writeMu sync.Mutex
	nextID  atomic.Int64
}

func newWebSocketConn(desc ServerDescriptor, info ClientInfo, maxAttempts uint64, trace io.Writer, logger *slog.Logger) *wsConn {
	header := http.Header{}
	for k, v := range desc.Headers {
		header.Set(k, v)
	}
	c := &wsConn{
		serverID:    desc.ID,
		url:         desc.URL,
		header:      header,
		info:        info,
		maxAttempts: maxAttempts,
		dialer:      websocket.DefaultDialer,
		logger:      logger,
		pending:     make(map[int64]chan rpcResponse),
	}
	if trace != nil {
		c.trace = NewFrameTracer(trace, desc.ID, true)
	}
	return c
}

// socket returns the live socket, dialing with bounded backoff if needed.
func (c *wsConn) socket(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errSocketClosed
	}
	if c.sock != nil && c.ready {
		sock := c.sock
		c.mu.Unlock()
		return sock, nil
	}
	c.mu.Unlock()

	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	// Another caller may have dialed while we waited.
	c.mu.Lock()
	if c.sock != nil && c.ready {
		sock := c.sock
		c.mu.Unlock()
		return sock, nil
	}
	c.mu.Unlock()

	var sock *websocket.Conn
	attempt := 0
	op := func() error {
		attempt++
		s, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode})
			}
			c.logger.Debug("websocket dial failed", "attempt", attempt, "error", err)
			return err
		}
		sock = s
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.maxAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		sock.Close()
		return nil, errSocketClosed
	}
	c.sock = sock
	c.mu.Unlock()

	go c.readLoop(sock)

	if err := c.handshake(ctx, sock); err != nil {
		c.drop(sock, err)
		return nil, err
	}

	c.mu.Lock()
	if c.sock != sock {
		c.mu.Unlock()
		return nil, errSocketClosed
	}
	c.ready = true
	c.mu.Unlock()

	c.logger.Debug("websocket connected", "attempts", attempt)
	return sock, nil
}

func (c *wsConn) handshake(ctx context.Context, sock *websocket.Conn) error {
	params := mcp.InitializeParams{
		ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
		Capabilities:    mcp.ClientCapabilities{},
		ClientInfo:      mcp.Implementation{Name: c.info.Name, Version: c.info.Version},
	}
	if _, err := c.roundTrip(ctx, sock, string(mcp.MethodInitialize), params); err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	return c.write(sock, rpcRequest{JSONRPC: mcp.JSONRPC_VERSION, Method: "notifications/initialized"})
}

func (c *wsConn) readLoop(sock *websocket.Conn) {
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			c.drop(sock, err)
			return
		}
		if c.trace != nil {
			c.trace.Frame("RECV", data)
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Debug("ignoring malformed websocket frame", "error", err)
			continue
		}
		// Server-initiated notifications carry no ID.
		if resp.ID == nil {
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[*resp.ID]
		delete(c.pending, *resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// drop forgets sock if it is still current and fails its pending requests.
func (c *wsConn) drop(sock *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.sock != sock {
		c.mu.Unlock()
		return
	}
	c.sock = nil
	c.ready = false
	pending := c.pending
	c.pending = make(map[int64]chan rpcResponse)
	closed := c.closed
	c.mu.Unlock()

	sock.Close()
	for _, ch := range pending {
		ch <- rpcResponse{Error: &rpcError{Code: -1, Message: errSocketClosed.Error()}}
	}
	if !closed {
		c.logger.Warn("websocket dropped, next request will redial", "error", cause)
	}
}

func (c *wsConn) write(sock *websocket.Conn, req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if c.trace != nil {
		c.trace.Frame("SEND", data)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return sock.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) roundTrip(ctx context.Context, sock *websocket.Conn, method string, params any) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.write(sock, rpcRequest{JSONRPC: mcp.JSONRPC_VERSION, ID: &id, Method: method, Params: params}); err != nil {
		forget()
		c.drop(sock, err)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

func (c *wsConn) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	sock, err := c.socket(ctx)
	if err != nil {
		return nil, err
	}
	return c.roundTrip(ctx, sock, method, params)
}

// ListTools implements Conn.
func (c *wsConn) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	raw, err := c.request(ctx, string(mcp.MethodToolsList), map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	var payload struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}
	return payload.Tools, nil
}

// CallTool implements Conn.
func (c *wsConn) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	raw, err := c.request(ctx, string(mcp.MethodToolsCall), mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}
	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tool result: %w", err)
	}
	return convertCallToolResult(result)
}

// Close implements Conn.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sock := c.sock
	c.mu.Unlock()

	if sock == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = sock.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	c.drop(sock, errSocketClosed)
	return nil
}
