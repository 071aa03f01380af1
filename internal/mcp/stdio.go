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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// stdioConn owns a spawned server process and the mcp-go client speaking
// JSON-RPC over its stdin/stdout.
type stdioConn struct {
	serverID string
	client   *client.Client
	logger   *slog.Logger

	// cmd is captured when the process is spawned so Close can kill it.
	cmd          *exec.Cmd
	closeTimeout time.Duration

	// logs holds recent stderr lines from the process.
	logs *RingBuffer

	closeOnce sync.Once
	closeErr  error
}

// dialStdio spawns the process and completes the initialize handshake. Any
// failure kills the process before returning.
func dialStdio(ctx context.Context, desc ServerDescriptor, info ClientInfo, closeTimeout time.Duration, logger *slog.Logger) (*stdioConn, error) {
	c := &stdioConn{
		serverID:     desc.ID,
		logger:       logger,
		closeTimeout: closeTimeout,
		logs:         NewRingBuffer(DefaultLogLines),
	}

	spawn := func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.Command(command, args...)
		cmd.Env = append(os.Environ(), env...)
		c.cmd = cmd
		return cmd, nil
	}

	mcpClient, err := client.NewStdioMCPClientWithOptions(desc.Command, desc.Env, desc.Args,
		transport.WithCommandFunc(spawn))
	if err != nil {
		return nil, fmt.Errorf("failed to spawn %s: %w", desc.Command, err)
	}
	c.client = mcpClient

	if err := mcpClient.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to start MCP client: %w", err)
	}
	if stderr, ok := client.GetStderr(mcpClient); ok {
		go c.logs.capture(stderr, "stderr")
	}

	if err := c.initialize(ctx, info); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize MCP server: %w", err)
	}

	return c, nil
}

func (c *stdioConn) initialize(ctx context.Context, info ClientInfo) error {
	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    info.Name,
				Version: info.Version,
			},
		},
	}

	if _, err := c.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize request failed: %w", err)
	}
	return nil
}

// ListTools implements Conn.
func (c *stdioConn) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]ToolDescriptor, 0, len(result.Tools))
	for _, tool := range result.Tools {
		schema, err := toolInputSchema(tool)
		if err != nil {
			return nil, err
		}
		tools = append(tools, ToolDescriptor{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return tools, nil
}

// toolInputSchema returns the tool's raw schema, re-marshaling the structured
// form when the server did not send a raw one.
func toolInputSchema(tool mcp.Tool) (json.RawMessage, error) {
	if len(tool.RawInputSchema) > 0 {
		return tool.RawInputSchema, nil
	}

	toolBytes, err := tool.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool %s: %w", tool.Name, err)
	}
	var fields struct {
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal(toolBytes, &fields); err != nil {
		return nil, fmt.Errorf("failed to read input schema for %s: %w", tool.Name, err)
	}
	return fields.InputSchema, nil
}

// CallTool implements Conn.
func (c *stdioConn) CallTool(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}
	return convertCallToolResult(result)
}

// convertCallToolResult normalizes an MCP tool result. A result flagged as an
// error becomes a Go error carrying the tool's text.
func convertCallToolResult(result *mcp.CallToolResult) (*ToolResult, error) {
	out := &ToolResult{Content: make([]ContentItem, 0, len(result.Content))}

	for _, content := range result.Content {
		item, err := convertContent(content)
		if err != nil {
			return nil, err
		}
		out.Content = append(out.Content, item)
	}
	if result.StructuredContent != nil {
		out.Data = result.StructuredContent
	}

	if result.IsError {
		msg := out.Text()
		if msg == "" {
			msg = "tool reported an error"
		}
		return nil, errors.New(msg)
	}
	return out, nil
}

func convertContent(content mcp.Content) (ContentItem, error) {
	if text, ok := mcp.AsTextContent(content); ok {
		return ContentItem{Type: text.Type, Text: text.Text}, nil
	}
	if image, ok := mcp.AsImageContent(content); ok {
		return ContentItem{Type: image.Type, Data: image.Data, MimeType: image.MIMEType}, nil
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return ContentItem{}, fmt.Errorf("failed to marshal content: %w", err)
	}
	var item ContentItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return ContentItem{}, fmt.Errorf("failed to unmarshal content: %w", err)
	}
	return item, nil
}

// Ping implements Pinger.
func (c *stdioConn) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("server connection closed")
		}
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}

// Close closes stdio and waits for the process to exit. If it does not exit
// within closeTimeout the process is killed.
func (c *stdioConn) Close() error {
	c.closeOnce.Do(func() {
		if c.client == nil {
			c.kill()
			return
		}

		done := make(chan error, 1)
		go func() { done <- c.client.Close() }()

		select {
		case err := <-done:
			if err != nil {
				c.closeErr = fmt.Errorf("failed to close MCP client: %w", err)
			}
		case <-time.After(c.closeTimeout):
			c.logger.Warn("MCP server did not exit after close, killing process")
			c.kill()
			c.closeErr = <-done
		}
	})
	return c.closeErr
}

func (c *stdioConn) kill() {
	if c.cmd == nil || c.cmd.Process == nil {
		return
	}
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Warn("failed to kill MCP server process", "error", err)
	}
}

// Logs implements LogSource.
func (c *stdioConn) Logs(n int) []LogEntry {
	return c.logs.Last(n)
}

// Process returns the spawned OS process, or nil before spawn.
func (c *stdioConn) Process() *os.Process {
	if c.cmd == nil {
		return nil
	}
	return c.cmd.Process
}
