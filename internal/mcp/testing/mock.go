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

// Package testing provides in-memory transports for exercising the mcp
// package without real servers.
package testing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/toolhub/internal/mcp"
)

// MockConn implements mcp.Conn and mcp.Pinger.
type MockConn struct {
	serverID  string
	tools     []mcp.ToolDescriptor
	listErr   error
	callFunc  func(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)
	pingFunc  func(ctx context.Context) error
	closeFunc func() error
	callDelay time.Duration
	listDelay time.Duration
	mu        sync.RWMutex

	calls      atomic.Int64
	lists      atomic.Int64
	closes     atomic.Int64
	inFlight   atomic.Int64
	maxFlight  atomic.Int64
	closedOnce sync.Once
	closed     chan struct{}
}

// NewMockConn creates a mock connection serving tools.
func NewMockConn(serverID string, tools []mcp.ToolDescriptor) *MockConn {
	return &MockConn{
		serverID: serverID,
		tools:    tools,
		closed:   make(chan struct{}),
	}
}

// ListTools returns the configured list of tools.
func (c *MockConn) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	c.lists.Add(1)

	c.mu.RLock()
	delay := c.listDelay
	err := c.listErr
	tools := make([]mcp.ToolDescriptor, len(c.tools))
	copy(tools, c.tools)
	c.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return tools, nil
}

// CallTool runs the configured handler or echoes the tool name.
func (c *MockConn) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
	c.calls.Add(1)
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		max := c.maxFlight.Load()
		if n <= max || c.maxFlight.CompareAndSwap(max, n) {
			break
		}
	}

	c.mu.RLock()
	delay := c.callDelay
	callFunc := c.callFunc
	c.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if callFunc != nil {
		return callFunc(ctx, name, args)
	}
	return &mcp.ToolResult{
		Content: []mcp.ContentItem{{Type: "text", Text: fmt.Sprintf("Mock response for %s", name)}},
	}, nil
}

// Ping returns success unless a custom ping function is configured.
func (c *MockConn) Ping(ctx context.Context) error {
	c.mu.RLock()
	pingFunc := c.pingFunc
	c.mu.RUnlock()

	if pingFunc != nil {
		return pingFunc(ctx)
	}
	return nil
}

// Close records the close and runs the configured close function.
func (c *MockConn) Close() error {
	c.closes.Add(1)
	c.closedOnce.Do(func() { close(c.closed) })

	c.mu.RLock()
	closeFunc := c.closeFunc
	c.mu.RUnlock()

	if closeFunc != nil {
		return closeFunc()
	}
	return nil
}

// ServerID returns the server this connection was dialed for.
func (c *MockConn) ServerID() string {
	return c.serverID
}

// CallCount returns how many times CallTool ran.
func (c *MockConn) CallCount() int {
	return int(c.calls.Load())
}

// ListCount returns how many times ListTools ran.
func (c *MockConn) ListCount() int {
	return int(c.lists.Load())
}

// CloseCount returns how many times Close ran.
func (c *MockConn) CloseCount() int {
	return int(c.closes.Load())
}

// MaxInFlight returns the highest number of concurrent CallTool calls seen.
func (c *MockConn) MaxInFlight() int {
	return int(c.maxFlight.Load())
}

// Closed is closed once Close has been called.
func (c *MockConn) Closed() <-chan struct{} {
	return c.closed
}

// SetTools replaces the served tool list.
func (c *MockConn) SetTools(tools []mcp.ToolDescriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
}

// SetListError makes ListTools fail.
func (c *MockConn) SetListError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listErr = err
}

// SetListDelay sets a delay for ListTools.
func (c *MockConn) SetListDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listDelay = d
}

// SetCallHandler sets a custom call handler.
func (c *MockConn) SetCallHandler(f func(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callFunc = f
}

// SetCallDelay sets a delay for all tool calls.
func (c *MockConn) SetCallDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callDelay = d
}

// SetPingFunc sets a custom ping function.
func (c *MockConn) SetPingFunc(f func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingFunc = f
}

// SetCloseFunc sets a custom close function.
func (c *MockConn) SetCloseFunc(f func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeFunc = f
}

// MockServerConfig configures what MockDialer does for one server ID.
type MockServerConfig struct {
	ID        string
	Tools     []mcp.ToolDescriptor
	DialError error
	DialDelay time.Duration
	// Setup runs on the connection before it is returned.
	Setup func(conn *MockConn)
}

// MockDialer implements mcp.Dialer. Unconfigured IDs get a connection with
// no tools.
type MockDialer struct {
	configs map[string]MockServerConfig
	conns   map[string][]*MockConn
	dials   atomic.Int64
	mu      sync.RWMutex
}

// NewMockDialer creates a dialer with no configured servers.
func NewMockDialer() *MockDialer {
	return &MockDialer{
		configs: make(map[string]MockServerConfig),
		conns:   make(map[string][]*MockConn),
	}
}

// AddServer pre-configures a server.
func (d *MockDialer) AddServer(config MockServerConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs[config.ID] = config
}

// Dial implements mcp.Dialer.
func (d *MockDialer) Dial(ctx context.Context, desc mcp.ServerDescriptor) (mcp.Conn, error) {
	d.dials.Add(1)

	d.mu.RLock()
	config, ok := d.configs[desc.ID]
	d.mu.RUnlock()
	if !ok {
		config = MockServerConfig{ID: desc.ID}
	}

	if config.DialDelay > 0 {
		select {
		case <-time.After(config.DialDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if config.DialError != nil {
		return nil, config.DialError
	}

	conn := NewMockConn(desc.ID, config.Tools)
	if config.Setup != nil {
		config.Setup(conn)
	}

	d.mu.Lock()
	d.conns[desc.ID] = append(d.conns[desc.ID], conn)
	d.mu.Unlock()
	return conn, nil
}

// Conn returns the most recent connection dialed for id.
func (d *MockDialer) Conn(id string) (*MockConn, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	conns := d.conns[id]
	if len(conns) == 0 {
		return nil, false
	}
	return conns[len(conns)-1], true
}

// DialCount returns how many times Dial ran.
func (d *MockDialer) DialCount() int {
	return int(d.dials.Load())
}

// StaticProber implements mcp.ReachabilityChecker with a fixed answer.
type StaticProber struct {
	Result mcp.ProbeResult
}

// ReachableProber reports every server reachable.
func ReachableProber() *StaticProber {
	return &StaticProber{Result: mcp.ProbeResult{
		Reachable: true,
		Authority: mcp.ProbeAuthoritative,
		Message:   "mock",
	}}
}

// Probe implements mcp.ReachabilityChecker.
func (p *StaticProber) Probe(ctx context.Context, desc mcp.ServerDescriptor) mcp.ProbeResult {
	return p.Result
}
