package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBridge struct {
	healthStatus atomic.Int32
	opStatus     atomic.Int32
	ops          atomic.Int32
	lastOp       atomic.Value
}

func newFakeBridge(t *testing.T) (*fakeBridge, *httptest.Server) {
	t.Helper()
	fb := &fakeBridge{}
	fb.healthStatus.Store(http.StatusOK)
	fb.opStatus.Store(http.StatusOK)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(fb.healthStatus.Load()))
	})
	mux.HandleFunc("POST /api/mcp/file-operations", func(w http.ResponseWriter, r *http.Request) {
		fb.ops.Add(1)
		var req operationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		fb.lastOp.Store(req)
		if status := int(fb.opStatus.Load()); status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"path":      req.Path,
			"operation": string(req.Operation),
			"real":      true,
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fb, srv
}

func TestParseOperation(t *testing.T) {
	for _, name := range []string{"list_files", "read_file", "analyze_project"} {
		op, err := ParseOperation(name)
		require.NoError(t, err)
		assert.Equal(t, Operation(name), op)
	}
	_, err := ParseOperation("delete_everything")
	assert.Error(t, err)
}

func TestSynthesizer_Deterministic(t *testing.T) {
	var s Synthesizer
	for _, op := range []Operation{OpListFiles, OpReadFile, OpAnalyzeProject} {
		t.Run(string(op), func(t *testing.T) {
			a := s.Synthesize(op, "/any/path")
			b := s.Synthesize(op, "/any/path")
			assert.Equal(t, a, b)
			assert.Equal(t, Note, a["note"])
			assert.True(t, a.Simulated())
		})
	}
}

func TestSynthesizer_AnalyzeProjectFields(t *testing.T) {
	var s Synthesizer
	r := s.Synthesize(OpAnalyzeProject, "/any/path")

	assert.Contains(t, []string{"go", "node", "python", "rust"}, r["type"])
	structure, ok := r["structure"].(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, structure["directories"])
}

func TestSynthesizer_ReadFileLanguage(t *testing.T) {
	var s Synthesizer
	assert.Equal(t, "go", s.Synthesize(OpReadFile, "/src/main.go")["language"])
	assert.Equal(t, "text", s.Synthesize(OpReadFile, "/src/notes")["language"])
	assert.Contains(t, s.Synthesize(OpReadFile, "/src/main.go")["content"], "/src/main.go")
}

func TestSynthesizer_ListFilesVariesByPath(t *testing.T) {
	var s Synthesizer
	a := s.Synthesize(OpListFiles, "/a")
	b := s.Synthesize(OpListFiles, "/b")
	assert.Equal(t, "/a", a["path"])
	assert.NotEqual(t, a["files"], b["files"])
}

func TestClient_UncheckedIsSynthetic(t *testing.T) {
	fb, srv := newFakeBridge(t)
	c := NewClient(srv.URL, srv.Client(), nil)

	r := c.AnalyzeProject(context.Background(), "/any/path")

	assert.True(t, r.Simulated())
	assert.Zero(t, fb.ops.Load(), "no request before a health check")
}

func TestClient_UnhealthyShortCircuits(t *testing.T) {
	fb, srv := newFakeBridge(t)
	fb.healthStatus.Store(http.StatusServiceUnavailable)
	c := NewClient(srv.URL, srv.Client(), nil)

	assert.False(t, c.CheckHealth(context.Background()))
	first := c.AnalyzeProject(context.Background(), "/any/path")
	second := c.AnalyzeProject(context.Background(), "/any/path")

	assert.True(t, first.Simulated())
	assert.Equal(t, first["type"], second["type"])
	assert.Equal(t, first["structure"], second["structure"])
	assert.Zero(t, fb.ops.Load())
}

func TestClient_HealthyUsesBridge(t *testing.T) {
	fb, srv := newFakeBridge(t)
	c := NewClient(srv.URL+"/", srv.Client(), nil)

	require.True(t, c.CheckHealth(context.Background()))
	r := c.ListFiles(context.Background(), "/work")

	assert.False(t, r.Simulated())
	assert.Equal(t, true, r["real"])
	assert.Equal(t, operationRequest{Operation: OpListFiles, Path: "/work"}, fb.lastOp.Load())
}

func TestClient_RequestFailureFallsBack(t *testing.T) {
	fb, srv := newFakeBridge(t)
	fb.opStatus.Store(http.StatusInternalServerError)
	c := NewClient(srv.URL, srv.Client(), nil)
	require.True(t, c.CheckHealth(context.Background()))

	r := c.ReadFile(context.Background(), "/work/main.go")

	assert.True(t, r.Simulated())
	assert.Equal(t, int32(1), fb.ops.Load())
	assert.True(t, c.Healthy(), "request failures do not change cached health")
}

func TestClient_UnreachableBridge(t *testing.T) {
	_, srv := newFakeBridge(t)
	url := srv.URL
	srv.Close()

	c := NewClient(url, nil, nil)
	assert.False(t, c.CheckHealth(context.Background()))
	assert.True(t, c.ListFiles(context.Background(), "/").Simulated())
}

func TestClient_EmptyBaseURL(t *testing.T) {
	c := NewClient("", nil, nil)
	assert.False(t, c.CheckHealth(context.Background()))
	assert.True(t, c.AnalyzeProject(context.Background(), ".").Simulated())
}

func TestClient_HealthLoop(t *testing.T) {
	fb, srv := newFakeBridge(t)
	fb.healthStatus.Store(http.StatusServiceUnavailable)
	c := NewClient(srv.URL, srv.Client(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartHealthLoop(ctx, 10*time.Millisecond)
	assert.False(t, c.Healthy())

	fb.healthStatus.Store(http.StatusOK)
	assert.Eventually(t, c.Healthy, time.Second, 5*time.Millisecond)
}
