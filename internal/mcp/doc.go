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

/*
Package mcp connects toolhub to Model Context Protocol tool servers.

A server is reached over one of three transports: a spawned process
speaking JSON-RPC on stdio, an HTTP server (sse), or a persistent
WebSocket. This package tracks one session per server, aggregates their
tool catalogs, and dispatches tool calls.

# Overview

  - Prober: pre-connection reachability checks
  - Registry: owns sessions keyed by server ID
  - Directory: fetches and caches each server's tool list
  - Dispatcher: routes tool calls to the right transport
  - Orchestrator: the facade used by the HTTP API and CLI

# Adding a Server

	orch := mcp.New(mcp.Config{Logger: logger})
	defer orch.Close(ctx)

	info, err := orch.AddServer(ctx, mcp.ServerDescriptor{
	    ID:        "files",
	    Name:      "Filesystem",
	    Transport: mcp.TransportStdio,
	    Command:   "npx",
	    Args:      []string{"-y", "@modelcontextprotocol/server-filesystem"},
	})

A failed add leaves nothing behind: the ID is free again and any spawned
process has been killed. Adding an ID that is already registered fails
with ErrDuplicateServer and leaves the existing session alone.

# Probing

stdio servers are checked by launching them and completing the initialize
handshake; failure is fatal to the add. sse servers get a HEAD request
whose result is only advisory: a failed probe is logged and the connection
proceeds. websocket URLs are only checked for scheme; the socket is dialed
on first use.

# Session States

  - connecting: ID reserved, connection in progress
  - connected: live connection
  - failed: connection lost; stays failed until removed and added again

A session can also be disabled with ToggleServer. Disabled sessions keep
their connection but read as not connected.

# Tools

	catalog := orch.GetAllTools(ctx)
	for _, t := range catalog.Flatten() {
	    fmt.Println(t.Key, t.Tool.Description)
	}

	result, err := orch.CallTool(ctx, "files", "read_file", map[string]any{
	    "path": "/etc/hosts",
	})

Servers whose tool listing fails are left out of the catalog. Calls are
never retried. Every failure is an *MCPError whose code maps to a
sentinel usable with errors.Is.
*/
package mcp
