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

// Package echoserver implements a small stdio MCP server with fixed tools.
// It backs the echo-tool-server binary and end-to-end tests.
package echoserver

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/toolhub/internal/log"
)

// Server wraps the MCP server and its fixed tools.
type Server struct {
	mcpServer *server.MCPServer
	version   string
	logger    *slog.Logger
}

// New creates the server. Logs go to stderr so they do not interfere with
// the stdio protocol.
func New(version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		mcpServer: server.NewMCPServer("echo-tool-server", version),
		version:   version,
		logger:    log.WithComponent(log.New(&log.Config{Level: "info", Format: log.FormatText, Output: os.Stderr}), "echo-tool-server"),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "echo",
		Description: "Return the given text unchanged.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"text": map[string]interface{}{
					"type":        "string",
					"description": "Text to echo back",
				},
			},
			Required: []string{"text"},
		},
	}, s.handleEcho)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "add",
		Description: "Add two numbers.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"a": map[string]interface{}{"type": "number"},
				"b": map[string]interface{}{"type": "number"},
			},
			Required: []string{"a", "b"},
		},
	}, s.handleAdd)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "fail",
		Description: "Always report a tool error with the given message.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"message": map[string]interface{}{"type": "string"},
			},
		},
	}, s.handleFail)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        "sleep",
		Description: "Wait for the given number of milliseconds, then answer.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"ms": map[string]interface{}{"type": "number"},
			},
			Required: []string{"ms"},
		},
	}, s.handleSleep)
}

func (s *Server) handleEcho(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, ok := req.GetArguments()["text"].(string)
	if !ok {
		return mcp.NewToolResultError("text must be a string"), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	a, aok := args["a"].(float64)
	b, bok := args["b"].(float64)
	if !aok || !bok {
		return mcp.NewToolResultError("a and b must be numbers"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%g", a+b)), nil
}

func (s *Server) handleFail(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, _ := req.GetArguments()["message"].(string)
	if msg == "" {
		msg = "requested failure"
	}
	s.logger.Warn("fail tool called", "message", msg)
	return mcp.NewToolResultError(msg), nil
}

func (s *Server) handleSleep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ms, _ := req.GetArguments()["ms"].(float64)
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return mcp.NewToolResultText("done"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run serves over stdin and stdout until the input closes.
func (s *Server) Run() error {
	s.logger.Info("starting echo-tool-server", "version", s.version)
	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// MCPServer exposes the underlying server for in-process tests.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}
