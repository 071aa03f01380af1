package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/tmaxmax/go-sse"
)

// toolsChangedEvent is the SSE event type that invalidates a cached catalog.
const toolsChangedEvent = "tools_changed"

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 4096

// sseConn talks to an HTTP tool server: GET <base>/tools lists tools,
// POST <base>/tools/<name> invokes one, and an optional event stream at
// <base> announces catalog changes.
type sseConn struct {
	serverID string
	baseURL  string
	headers  map[string]string
	client   *http.Client
	logger   *slog.Logger

	mu          sync.Mutex
	watchCancel context.CancelFunc
	closed      bool
}

// newSSEConn builds the connection without network I/O. Reachability was
// already checked by the probe.
func newSSEConn(desc ServerDescriptor, client *http.Client, logger *slog.Logger) (*sseConn, error) {
	if _, err := url.Parse(desc.URL); err != nil {
		return nil, fmt.Errorf("malformed url: %w", err)
	}
	return &sseConn{
		serverID: desc.ID,
		baseURL:  strings.TrimRight(desc.URL, "/"),
		headers:  desc.clone().Headers,
		client:   client,
		logger:   logger,
	}, nil
}

func (c *sseConn) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *sseConn) do(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return io.ReadAll(resp.Body)
}

// ListTools implements Conn.
func (c *sseConn) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/tools", nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	var payload struct {
		Tools []ToolDescriptor `json:"tools"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}
	return payload.Tools, nil
}

// CallTool implements Conn.
func (c *sseConn) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	reqBody, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/tools/"+url.PathEscape(name), bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return decodeHTTPResult(body)
}

// decodeHTTPResult keeps the raw payload and lifts MCP-style content items
// when present.
func decodeHTTPResult(body []byte) (*ToolResult, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return &ToolResult{}, nil
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("failed to decode tool result: %w", err)
	}

	var shaped struct {
		Content []ContentItem `json:"content"`
		IsError bool          `json:"isError"`
	}
	if obj, ok := data.(map[string]any); ok {
		if _, has := obj["content"]; has {
			// Ignore shape errors; Data still carries the payload.
			_ = json.Unmarshal(body, &shaped)
		}
	}

	result := &ToolResult{Content: shaped.Content, Data: data}
	if shaped.IsError {
		msg := result.Text()
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, errors.New(msg)
	}
	return result, nil
}

// OnToolsChanged implements ToolsChangedNotifier. It subscribes to the
// server's event stream until the connection is closed.
func (c *sseConn) OnToolsChanged(fn func()) {
	c.mu.Lock()
	if c.closed || c.watchCancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.watchCancel = cancel
	c.mu.Unlock()

	go c.watch(ctx, fn)
}

func (c *sseConn) watch(ctx context.Context, fn func()) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		c.logger.Debug("event stream request not built", "error", err)
		return
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	// The stream is long-lived, so the client's overall timeout must not apply.
	streamClient := &sse.Client{
		HTTPClient: &http.Client{Transport: c.client.Transport},
		Backoff:    sse.Backoff{MaxRetries: -1},
	}
	conn := streamClient.NewConnection(req)
	unsubscribe := conn.SubscribeEvent(toolsChangedEvent, func(sse.Event) {
		c.logger.Debug("server announced tool list change")
		fn()
	})
	defer unsubscribe()

	if err := conn.Connect(); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debug("event stream ended", "error", err)
	}
}

// Close implements Conn. It stops the event stream, if any.
func (c *sseConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.watchCancel != nil {
		c.watchCancel()
	}
	return nil
}
