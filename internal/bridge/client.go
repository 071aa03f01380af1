package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tombee/toolhub/internal/metrics"
)

// Operation names a bridge file operation.
type Operation string

const (
	OpListFiles      Operation = "list_files"
	OpReadFile       Operation = "read_file"
	OpAnalyzeProject Operation = "analyze_project"
)

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(s); op {
	case OpListFiles, OpReadFile, OpAnalyzeProject:
		return op, nil
	}
	return "", fmt.Errorf("unknown bridge operation %q (want list_files, read_file or analyze_project)", s)
}

const (
	healthPath     = "/health"
	operationsPath = "/api/mcp/file-operations"

	// DefaultRequestTimeout bounds health checks and operations.
	DefaultRequestTimeout = 10 * time.Second

	maxResponseBytes = 10 << 20
)

// Client calls one bridge base URL.
type Client struct {
	baseURL string
	http    *http.Client
	synth   Synthesizer
	timeout time.Duration
	logger  *slog.Logger

	// healthy is the result of the last CheckHealth. It starts false so
	// nothing reaches the network before the first check.
	healthy atomic.Bool
}

// NewClient creates a client for baseURL. An empty baseURL makes every
// operation synthetic. A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		timeout: DefaultRequestTimeout,
		logger:  logger.With("component", "bridge"),
	}
}

// BaseURL returns the configured bridge URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Healthy returns the cached result of the last health check.
func (c *Client) Healthy() bool {
	return c.healthy.Load()
}

// CheckHealth probes GET /health and caches the outcome.
func (c *Client) CheckHealth(ctx context.Context) bool {
	ok := c.probe(ctx)
	if prev := c.healthy.Swap(ok); prev != ok {
		c.logger.Info("bridge health changed", "url", c.baseURL, "healthy", ok)
	}
	return ok
}

func (c *Client) probe(ctx context.Context) bool {
	if c.baseURL == "" {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		c.logger.Debug("bridge health request invalid", "error", err)
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("bridge health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode/100 == 2
}

// StartHealthLoop checks health immediately and then every interval until
// ctx is cancelled. A non-positive interval checks only once.
func (c *Client) StartHealthLoop(ctx context.Context, interval time.Duration) {
	c.CheckHealth(ctx)
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.CheckHealth(ctx)
			}
		}
	}()
}

// ListFiles lists a directory.
func (c *Client) ListFiles(ctx context.Context, path string) Result {
	return c.Do(ctx, OpListFiles, path)
}

// ReadFile reads a file.
func (c *Client) ReadFile(ctx context.Context, path string) Result {
	return c.Do(ctx, OpReadFile, path)
}

// AnalyzeProject summarises a project directory.
func (c *Client) AnalyzeProject(ctx context.Context, path string) Result {
	return c.Do(ctx, OpAnalyzeProject, path)
}

// Do runs op against the bridge, falling back to simulated data when the
// bridge was last seen unhealthy or the request fails.
func (c *Client) Do(ctx context.Context, op Operation, path string) Result {
	if !c.Healthy() {
		metrics.RecordBridgeFallback(string(op), "unhealthy")
		return c.synth.Synthesize(op, path)
	}

	result, err := c.call(ctx, op, path)
	if err != nil {
		c.logger.Warn("bridge request failed, using simulated data",
			"operation", string(op),
			"path", path,
			"error", err,
		)
		metrics.RecordBridgeFallback(string(op), "request_failed")
		return c.synth.Synthesize(op, path)
	}
	return result
}

type operationRequest struct {
	Operation Operation `json:"operation"`
	Path      string    `json:"path"`
}

func (c *Client) call(ctx context.Context, op Operation, path string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(operationRequest{Operation: op, Path: path})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+operationsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("bridge returned %s", resp.Status)
	}
	var result Result
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if result == nil {
		return nil, fmt.Errorf("bridge returned an empty body")
	}
	return result, nil
}
