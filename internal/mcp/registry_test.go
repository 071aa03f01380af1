package mcp_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/mcp"
	mcptest "github.com/tombee/toolhub/internal/mcp/testing"
)

func stdioDesc(id string) mcp.ServerDescriptor {
	return mcp.ServerDescriptor{ID: id, Name: id, Transport: mcp.TransportStdio, Command: "mock-server"}
}

func newTestRegistry(t *testing.T, dialer mcp.Dialer) *mcp.Registry {
	t.Helper()
	reg := mcp.NewRegistry(mcp.RegistryConfig{
		Dialer: dialer,
		Prober: mcptest.ReachableProber(),
	})
	t.Cleanup(func() { reg.DisconnectAll(context.Background()) })
	return reg
}

func TestRegistry_AddThenRemove(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	reg := newTestRegistry(t, dialer)
	ctx := context.Background()

	info, err := reg.Add(ctx, stdioDesc("fs"))
	require.NoError(t, err)
	assert.Equal(t, mcp.StateConnected, info.State)
	assert.True(t, info.Enabled)
	assert.True(t, info.Server.IsConnected)
	assert.NotNil(t, info.ConnectedAt)
	assert.Equal(t, 1, reg.Len())

	conn, ok := dialer.Conn("fs")
	require.True(t, ok)

	reg.Remove(ctx, "fs")
	assert.Equal(t, 0, reg.Len())
	_, found := reg.Get("fs")
	assert.False(t, found)

	select {
	case <-conn.Closed():
	default:
		t.Fatal("connection was not closed on remove")
	}
}

func TestRegistry_DuplicateAdd(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	reg := newTestRegistry(t, dialer)
	ctx := context.Background()

	first, err := reg.Add(ctx, stdioDesc("fs"))
	require.NoError(t, err)

	dup := stdioDesc("fs")
	dup.Name = "other"
	_, err = reg.Add(ctx, dup)
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrDuplicateServer))

	// The existing session is untouched and no second connection was made.
	assert.Equal(t, 1, dialer.DialCount())
	got, ok := reg.Get("fs")
	require.True(t, ok)
	assert.Equal(t, "fs", got.Server.Name)
	assert.Equal(t, first.CreatedAt, got.CreatedAt)
	assert.Equal(t, mcp.StateConnected, got.State)
}

func TestRegistry_InvalidDescriptor(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	reg := newTestRegistry(t, dialer)

	_, err := reg.Add(context.Background(), mcp.ServerDescriptor{ID: "bad", Transport: mcp.TransportSSE, URL: "ftp://x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrInvalidDescriptor))
	assert.Equal(t, 0, dialer.DialCount())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_DialFailureLeavesNothing(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	dialer.AddServer(mcptest.MockServerConfig{ID: "broken", DialError: errors.New("handshake failed")})
	reg := newTestRegistry(t, dialer)

	_, err := reg.Add(context.Background(), stdioDesc("broken"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrConnectionFailed))
	assert.Contains(t, err.Error(), "handshake failed")
	assert.Equal(t, 0, reg.Len())

	// The ID is free again.
	dialer.AddServer(mcptest.MockServerConfig{ID: "broken"})
	_, err = reg.Add(context.Background(), stdioDesc("broken"))
	require.NoError(t, err)
}

func TestRegistry_AuthoritativeProbeFailure(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	reg := mcp.NewRegistry(mcp.RegistryConfig{
		Dialer: dialer,
		Prober: &mcptest.StaticProber{Result: mcp.ProbeResult{
			Authority: mcp.ProbeAuthoritative,
			Message:   "command not found",
		}},
	})

	_, err := reg.Add(context.Background(), stdioDesc("fs"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrConnectionFailed))
	assert.Equal(t, 0, dialer.DialCount())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_AdvisoryProbeFailureStillConnects(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	reg := mcp.NewRegistry(mcp.RegistryConfig{
		Dialer: dialer,
		Prober: &mcptest.StaticProber{Result: mcp.ProbeResult{
			Authority: mcp.ProbeAdvisory,
			Message:   "HEAD returned 500",
		}},
	})
	defer reg.DisconnectAll(context.Background())

	info, err := reg.Add(context.Background(), mcp.ServerDescriptor{ID: "remote", Transport: mcp.TransportSSE, URL: "http://localhost:1"})
	require.NoError(t, err)
	assert.Equal(t, mcp.StateConnected, info.State)
	assert.Equal(t, "HEAD returned 500", info.Probe.Message)
}

func TestRegistry_DoubleRemoveIsNoop(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	reg := newTestRegistry(t, dialer)
	ctx := context.Background()

	_, err := reg.Add(ctx, stdioDesc("fs"))
	require.NoError(t, err)

	reg.Remove(ctx, "fs")
	reg.Remove(ctx, "fs")
	reg.Remove(ctx, "never-added")

	conn, _ := dialer.Conn("fs")
	assert.Equal(t, 1, conn.CloseCount())
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_CloseErrorIsSwallowed(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	dialer.AddServer(mcptest.MockServerConfig{
		ID: "fs",
		Setup: func(c *mcptest.MockConn) {
			c.SetCloseFunc(func() error { return errors.New("broken pipe") })
		},
	})
	reg := newTestRegistry(t, dialer)

	_, err := reg.Add(context.Background(), stdioDesc("fs"))
	require.NoError(t, err)

	reg.Remove(context.Background(), "fs")
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_RemoveWhileConnecting(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	dialer.AddServer(mcptest.MockServerConfig{ID: "slow", DialDelay: 100 * time.Millisecond})
	reg := newTestRegistry(t, dialer)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := reg.Add(ctx, stdioDesc("slow"))
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		info, ok := reg.Get("slow")
		return ok && info.State == mcp.StateConnecting
	}, time.Second, 5*time.Millisecond)

	reg.Remove(ctx, "slow")

	err := <-errCh
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrConnectionFailed))
	assert.Equal(t, 0, reg.Len())

	// The connection dialed after removal was closed, not leaked.
	conn, ok := dialer.Conn("slow")
	require.True(t, ok)
	assert.Equal(t, 1, conn.CloseCount())
}

func TestRegistry_DisconnectAll(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	reg := newTestRegistry(t, dialer)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := reg.Add(ctx, stdioDesc(fmt.Sprintf("srv-%d", i)))
		require.NoError(t, err)
	}
	require.Equal(t, 5, reg.Len())

	reg.DisconnectAll(ctx)
	assert.Equal(t, 0, reg.Len())
	for i := 0; i < 5; i++ {
		conn, _ := dialer.Conn(fmt.Sprintf("srv-%d", i))
		assert.Equal(t, 1, conn.CloseCount())
	}
}

func TestRegistry_AllSortedAndToggle(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	reg := newTestRegistry(t, dialer)
	ctx := context.Background()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		_, err := reg.Add(ctx, stdioDesc(id))
		require.NoError(t, err)
	}

	all := reg.All()
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Server.ID)
	assert.Equal(t, "bravo", all[1].Server.ID)
	assert.Equal(t, "charlie", all[2].Server.ID)

	enabled, err := reg.Toggle("bravo")
	require.NoError(t, err)
	assert.False(t, enabled)

	info, _ := reg.Get("bravo")
	assert.Equal(t, mcp.StateConnected, info.State)
	assert.False(t, info.Server.IsConnected)
	assert.False(t, info.Connected())

	require.NoError(t, reg.SetEnabled("bravo", true))
	info, _ = reg.Get("bravo")
	assert.True(t, info.Server.IsConnected)

	_, err = reg.Toggle("missing")
	assert.True(t, errors.Is(err, mcp.ErrServerNotRegistered))
}

func TestRegistry_FailedAddEmitsFailedEvent(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	dialer.AddServer(mcptest.MockServerConfig{ID: "fs", DialError: errors.New("handshake refused")})
	reg := newTestRegistry(t, dialer)
	events, unsubscribe := reg.Events().Subscribe()
	defer unsubscribe()

	_, err := reg.Add(context.Background(), stdioDesc("fs"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, mcp.ErrConnectionFailed))

	event := <-events
	assert.Equal(t, mcp.EventFailed, event.Type)
	assert.Equal(t, "fs", event.ServerID)
	assert.Equal(t, "handshake refused", event.Details["error"])

	_, ok := reg.Get("fs")
	assert.False(t, ok, "failed reservation is released")
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_ConcurrentAddSameID(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	dialer.AddServer(mcptest.MockServerConfig{ID: "fs", DialDelay: 20 * time.Millisecond})
	reg := newTestRegistry(t, dialer)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, duplicates := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Add(context.Background(), stdioDesc("fs"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, mcp.ErrDuplicateServer):
				duplicates++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 9, duplicates)
	assert.Equal(t, 1, dialer.DialCount())
}

func TestRegistry_Events(t *testing.T) {
	dialer := mcptest.NewMockDialer()
	reg := newTestRegistry(t, dialer)
	events, unsubscribe := reg.Events().Subscribe()
	defer unsubscribe()

	ctx := context.Background()
	_, err := reg.Add(ctx, stdioDesc("fs"))
	require.NoError(t, err)
	reg.Remove(ctx, "fs")

	first := <-events
	assert.Equal(t, mcp.EventConnected, first.Type)
	assert.Equal(t, "fs", first.ServerID)

	second := <-events
	assert.Equal(t, mcp.EventRemoved, second.Type)
}
