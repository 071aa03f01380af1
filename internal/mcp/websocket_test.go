package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsToolServer is a JSON-RPC tool server over websocket. Calling the "hangup"
// tool closes the socket without answering. Every received method is
// recorded in arrival order, and initDelay holds back the initialize reply.
type wsToolServer struct {
	*httptest.Server
	connects  atomic.Int32
	initDelay atomic.Int64

	mu      sync.Mutex
	methods []string
}

func (s *wsToolServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

func newWSToolServer(t *testing.T) *wsToolServer {
	t.Helper()
	s := &wsToolServer{}
	upgrader := websocket.Upgrader{}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ok" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		sock, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.connects.Add(1)
		defer sock.Close()

		for {
			_, data, err := sock.ReadMessage()
			if err != nil {
				return
			}
			var req struct {
				ID     *int64          `json:"id"`
				Method string          `json:"method"`
				Params json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			s.mu.Lock()
			s.methods = append(s.methods, req.Method)
			s.mu.Unlock()
			if req.ID == nil {
				continue
			}

			var result any
			switch req.Method {
			case "initialize":
				time.Sleep(time.Duration(s.initDelay.Load()))
				result = map[string]any{
					"protocolVersion": "2025-06-18",
					"capabilities":    map[string]any{},
					"serverInfo":      map[string]any{"name": "ws-test", "version": "1"},
				}
			case "tools/list":
				result = map[string]any{"tools": []map[string]any{{"name": "upper", "description": "Uppercase text"}}}
			case "tools/call":
				var p struct {
					Name      string         `json:"name"`
					Arguments map[string]any `json:"arguments"`
				}
				_ = json.Unmarshal(req.Params, &p)
				if p.Name == "hangup" {
					return
				}
				text, _ := p.Arguments["text"].(string)
				result = map[string]any{"content": []map[string]any{{"type": "text", "text": strings.ToUpper(text)}}}
			default:
				resp, _ := json.Marshal(map[string]any{
					"jsonrpc": "2.0", "id": *req.ID,
					"error": map[string]any{"code": -32601, "message": "method not found"},
				})
				_ = sock.WriteMessage(websocket.TextMessage, resp)
				continue
			}

			resp, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": *req.ID, "result": result})
			if err := sock.WriteMessage(websocket.TextMessage, resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsToolServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func newTestWSConn(t *testing.T, url, token string) *wsConn {
	t.Helper()
	c := newWebSocketConn(ServerDescriptor{
		ID:        "ws",
		Transport: TransportWebSocket,
		URL:       url,
		Headers:   map[string]string{"Authorization": "Bearer " + token},
	}, ClientInfo{Name: "toolhub-test", Version: "0"}, 2, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestWSConn_DialsLazily(t *testing.T) {
	srv := newWSToolServer(t)
	conn := newTestWSConn(t, srv.wsURL(), "ok")

	assert.Equal(t, int32(0), srv.connects.Load())

	tools, err := conn.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "upper", tools[0].Name)
	assert.Equal(t, int32(1), srv.connects.Load())

	result, err := conn.CallTool(context.Background(), "upper", map[string]any{"text": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "ABC", result.Text())
	assert.Equal(t, int32(1), srv.connects.Load(), "socket is reused")
}

func TestWSConn_ConcurrentFirstCallsWaitForHandshake(t *testing.T) {
	srv := newWSToolServer(t)
	srv.initDelay.Store(int64(300 * time.Millisecond))
	conn := newTestWSConn(t, srv.wsURL(), "ok")
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i == 1 {
				time.Sleep(100 * time.Millisecond)
			}
			_, errs[i] = conn.ListTools(ctx)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), srv.connects.Load())
	assert.Equal(t,
		[]string{"initialize", "notifications/initialized", "tools/list", "tools/list"},
		srv.received())
}

func TestWSConn_RedialsAfterDrop(t *testing.T) {
	srv := newWSToolServer(t)
	conn := newTestWSConn(t, srv.wsURL(), "ok")
	ctx := context.Background()

	_, err := conn.CallTool(ctx, "hangup", nil)
	require.Error(t, err)

	result, err := conn.CallTool(ctx, "upper", map[string]any{"text": "again"})
	require.NoError(t, err)
	assert.Equal(t, "AGAIN", result.Text())
	assert.Equal(t, int32(2), srv.connects.Load())
}

func TestWSConn_RejectedHandshakeIsPermanent(t *testing.T) {
	srv := newWSToolServer(t)
	conn := newTestWSConn(t, srv.wsURL(), "wrong")

	_, err := conn.ListTools(context.Background())
	require.Error(t, err)

	var status *StatusError
	require.ErrorAs(t, err, &status)
	assert.Equal(t, http.StatusForbidden, status.StatusCode)
}

func TestWSConn_RPCError(t *testing.T) {
	srv := newWSToolServer(t)
	conn := newTestWSConn(t, srv.wsURL(), "ok")

	_, err := conn.request(context.Background(), "resources/list", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestWSConn_ClosedConnRefusesRequests(t *testing.T) {
	srv := newWSToolServer(t)
	conn := newTestWSConn(t, srv.wsURL(), "ok")

	_, err := conn.ListTools(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	_, err = conn.ListTools(context.Background())
	assert.ErrorIs(t, err, errSocketClosed)
}

func TestWSConn_Trace(t *testing.T) {
	srv := newWSToolServer(t)
	var buf strings.Builder
	c := newWebSocketConn(ServerDescriptor{
		ID:      "ws",
		URL:     srv.wsURL(),
		Headers: map[string]string{"Authorization": "Bearer ok"},
	}, ClientInfo{Name: "t", Version: "0"}, 1, &buf, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer c.Close()

	_, err := c.ListTools(context.Background())
	require.NoError(t, err)
	c.Close()

	out := buf.String()
	assert.Contains(t, out, "REQUEST initialize")
	assert.Contains(t, out, "REQUEST tools/list")
	assert.Contains(t, out, "RESPONSE")
}
