package mcp_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/mcp"
	mcptest "github.com/tombee/toolhub/internal/mcp/testing"
)

func newTestOrchestrator(t *testing.T, servers ...mcptest.MockServerConfig) (*mcp.Orchestrator, *mcptest.MockDialer) {
	t.Helper()
	dialer := mcptest.NewMockDialer()
	for _, s := range servers {
		dialer.AddServer(s)
	}
	o := mcp.New(mcp.Config{
		Dialer: dialer,
		Prober: mcptest.ReachableProber(),
	})
	t.Cleanup(func() { o.Close(context.Background()) })
	return o, dialer
}

func TestOrchestrator_AddServerRefreshesCatalog(t *testing.T) {
	o, _ := newTestOrchestrator(t,
		mcptest.MockServerConfig{ID: "fs", Tools: tools("read_file", "write_file")},
		mcptest.MockServerConfig{ID: "git", Tools: tools("log")},
	)
	ctx := context.Background()

	info, err := o.AddServer(ctx, stdioDesc("fs"))
	require.NoError(t, err)
	require.NotNil(t, info.ToolCount)
	assert.Equal(t, 2, *info.ToolCount)

	_, err = o.AddServer(ctx, stdioDesc("git"))
	require.NoError(t, err)

	catalog, refreshed := o.Catalog()
	assert.False(t, refreshed.IsZero())
	require.Len(t, catalog, 2)
	assert.Equal(t, "fs", catalog[0].ServerID)
	assert.Equal(t, "git", catalog[1].ServerID)
	assert.Len(t, catalog.Flatten(), 3)

	o.RemoveServer(ctx, "fs")
	catalog, _ = o.Catalog()
	require.Len(t, catalog, 1)
	assert.Equal(t, "git", catalog[0].ServerID)
}

func TestOrchestrator_AddServerErrorsPropagateUnchanged(t *testing.T) {
	o, _ := newTestOrchestrator(t, mcptest.MockServerConfig{ID: "bad", DialError: errors.New("spawn failed")})
	ctx := context.Background()

	_, err := o.AddServer(ctx, stdioDesc("bad"))
	mcpErr := mcp.GetMCPError(err)
	require.NotNil(t, mcpErr)
	assert.Equal(t, mcp.ErrorCodeConnectionFailed, mcpErr.Code)

	_, err = o.AddServer(ctx, mcp.ServerDescriptor{ID: "x", Transport: mcp.TransportStdio})
	assert.True(t, errors.Is(err, mcp.ErrInvalidDescriptor))
}

func TestOrchestrator_ToggleServer(t *testing.T) {
	o, dialer := newTestOrchestrator(t, mcptest.MockServerConfig{ID: "fs", Tools: tools("read_file")})
	ctx := context.Background()

	_, err := o.AddServer(ctx, stdioDesc("fs"))
	require.NoError(t, err)

	enabled, err := o.ToggleServer(ctx, "fs")
	require.NoError(t, err)
	assert.False(t, enabled)

	catalog, _ := o.Catalog()
	assert.Empty(t, catalog)

	_, err = o.CallTool(ctx, "fs", "read_file", nil)
	assert.True(t, errors.Is(err, mcp.ErrServerNotConnected))

	conn, _ := dialer.Conn("fs")
	assert.Equal(t, 0, conn.CallCount())
	assert.Equal(t, 0, conn.CloseCount(), "toggle does not touch the transport")

	enabled, err = o.ToggleServer(ctx, "fs")
	require.NoError(t, err)
	assert.True(t, enabled)

	_, err = o.CallTool(ctx, "fs", "read_file", nil)
	require.NoError(t, err)

	_, err = o.ToggleServer(ctx, "missing")
	assert.True(t, errors.Is(err, mcp.ErrServerNotRegistered))
}

func TestOrchestrator_FailedCallKeepsSessionConnected(t *testing.T) {
	o, _ := newTestOrchestrator(t, mcptest.MockServerConfig{
		ID:    "fs",
		Tools: tools("read_file"),
		Setup: func(c *mcptest.MockConn) {
			c.SetCallHandler(func(ctx context.Context, name string, args map[string]any) (*mcp.ToolResult, error) {
				return nil, errors.New("broken pipe")
			})
			c.SetPingFunc(func(ctx context.Context) error { return errors.New("no answer") })
		},
	})
	ctx := context.Background()

	_, err := o.AddServer(ctx, stdioDesc("fs"))
	require.NoError(t, err)

	_, err = o.CallTool(ctx, "fs", "read_file", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrToolInvocation))

	info, ok := o.Server("fs")
	require.True(t, ok)
	assert.Equal(t, mcp.StateConnected, info.State)
	assert.True(t, info.Server.IsConnected)
	assert.Equal(t, mcp.Summary{Total: 1, Connected: 1}, o.Summary())
}

func TestOrchestrator_StaleRefreshDoesNotReplaceNewerCatalog(t *testing.T) {
	o, dialer := newTestOrchestrator(t,
		mcptest.MockServerConfig{ID: "slow", Tools: tools("wait")},
		mcptest.MockServerConfig{ID: "fs", Tools: tools("read_file")},
	)
	ctx := context.Background()

	_, err := o.AddServer(ctx, stdioDesc("slow"))
	require.NoError(t, err)
	slow, ok := dialer.Conn("slow")
	require.True(t, ok)
	slow.SetListDelay(300 * time.Millisecond)

	// This refresh snapshots the registry before fs exists and finishes last.
	done := make(chan mcp.Catalog)
	go func() { done <- o.RefreshTools(ctx) }()
	time.Sleep(50 * time.Millisecond)

	slow.SetListDelay(0)
	_, err = o.AddServer(ctx, stdioDesc("fs"))
	require.NoError(t, err)

	stale := <-done
	require.Len(t, stale, 1, "the older refresh never saw fs")

	catalog, _ := o.Catalog()
	require.Len(t, catalog, 2)
	assert.Equal(t, "fs", catalog[0].ServerID)
	assert.Equal(t, "slow", catalog[1].ServerID)
}

func TestOrchestrator_Summary(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, err := o.AddServer(ctx, stdioDesc(id))
		require.NoError(t, err)
	}
	_, err := o.ToggleServer(ctx, "b")
	require.NoError(t, err)

	s := o.Summary()
	assert.Equal(t, mcp.Summary{Total: 3, Connected: 2, Disabled: 1}, s)
}

func TestOrchestrator_ServerLogsForNonStdio(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.AddServer(context.Background(), stdioDesc("fs"))
	require.NoError(t, err)

	logs, err := o.ServerLogs("fs", 10)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = o.ServerLogs("missing", 10)
	assert.True(t, errors.Is(err, mcp.ErrServerNotRegistered))
}

func TestOrchestrator_Close(t *testing.T) {
	o, dialer := newTestOrchestrator(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		_, err := o.AddServer(ctx, stdioDesc(id))
		require.NoError(t, err)
	}

	o.Close(ctx)
	assert.Empty(t, o.Servers())
	catalog, _ := o.Catalog()
	assert.Empty(t, catalog)

	for _, id := range []string{"a", "b"} {
		conn, _ := dialer.Conn(id)
		assert.Equal(t, 1, conn.CloseCount())
	}
}

func TestOrchestrator_Reconcile(t *testing.T) {
	o, dialer := newTestOrchestrator(t,
		mcptest.MockServerConfig{ID: "broken", DialError: errors.New("no such command")},
	)
	ctx := context.Background()

	initial := []mcp.ServerDescriptor{stdioDesc("keep"), stdioDesc("drop"), stdioDesc("change")}
	result := o.Reconcile(ctx, nil, initial)
	assert.ElementsMatch(t, []string{"keep", "drop", "change"}, result.Added)
	assert.Empty(t, result.Removed)
	assert.Len(t, o.Servers(), 3)

	// An unrelated server added at runtime is left alone.
	_, err := o.AddServer(ctx, stdioDesc("manual"))
	require.NoError(t, err)

	changed := stdioDesc("change")
	changed.Args = []string{"--verbose"}
	next := []mcp.ServerDescriptor{stdioDesc("keep"), changed, stdioDesc("new"), stdioDesc("broken")}

	keepConn, _ := dialer.Conn("keep")
	result = o.Reconcile(ctx, initial, next)

	assert.ElementsMatch(t, []string{"drop", "change"}, result.Removed)
	assert.ElementsMatch(t, []string{"change", "new"}, result.Added)
	require.Contains(t, result.Failed, "broken")
	assert.True(t, errors.Is(result.Failed["broken"], mcp.ErrConnectionFailed))

	ids := map[string]bool{}
	for _, s := range o.Servers() {
		ids[s.Server.ID] = true
	}
	assert.Equal(t, map[string]bool{"keep": true, "change": true, "new": true, "manual": true}, ids)

	// Unchanged servers keep their connection.
	stillKeep, _ := dialer.Conn("keep")
	assert.Same(t, keepConn, stillKeep)
	assert.Equal(t, 0, keepConn.CloseCount())

	info, _ := o.Server("change")
	assert.Equal(t, []string{"--verbose"}, info.Server.Args)
}
