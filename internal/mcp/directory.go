package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/toolhub/internal/metrics"
)

// Directory fetches and caches tool catalogs for registry sessions. The
// cache lives on each Session so it disappears with the session.
type Directory struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDirectory creates a directory over reg. timeout bounds each per-server
// fetch during aggregation; zero uses DefaultCallTimeout.
func NewDirectory(reg *Registry, timeout time.Duration, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Directory{registry: reg, timeout: timeout, logger: logger}
}

// ListTools queries a connected, enabled server and replaces its cached
// catalog with the result.
func (d *Directory) ListTools(ctx context.Context, serverID string) ([]ToolDescriptor, error) {
	sess, ok := d.registry.session(serverID)
	if !ok {
		return nil, ErrNotConnected(serverID)
	}
	return d.fetch(ctx, sess)
}

func (d *Directory) fetch(ctx context.Context, sess *Session) ([]ToolDescriptor, error) {
	conn, ok := sess.usable()
	if !ok {
		return nil, ErrNotConnected(sess.ID())
	}

	tools, err := conn.ListTools(ctx)
	if err != nil {
		return nil, WrapError(err, ErrorCodeToolInvocation, fmt.Sprintf("Failed to list tools on MCP server '%s'", sess.ID()))
	}
	if tools == nil {
		tools = []ToolDescriptor{}
	}

	if !sess.storeTools(tools) {
		return nil, ErrNotConnected(sess.ID())
	}
	return cloneTools(tools), nil
}

// AllTools fetches every connected server's catalog concurrently. Servers
// whose fetch fails are logged and left out. The result is sorted by
// server ID.
func (d *Directory) AllTools(ctx context.Context) Catalog {
	var candidates []*Session
	for _, sess := range d.registry.snapshot() {
		if _, ok := sess.usable(); ok {
			candidates = append(candidates, sess)
		}
	}

	results := make([][]ToolDescriptor, len(candidates))
	var g errgroup.Group
	for i, sess := range candidates {
		g.Go(func() error {
			fetchCtx, cancel := context.WithTimeout(ctx, sess.Descriptor().CallTimeout(d.timeout))
			defer cancel()

			tools, err := d.fetch(fetchCtx, sess)
			if err != nil {
				metrics.RecordCatalogFailure(string(sess.desc.Transport))
				d.logger.Warn("skipping server in tool catalog",
					"server_id", sess.ID(),
					"error", err,
				)
				return nil
			}
			results[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	catalog := make(Catalog, 0, len(candidates))
	for i, sess := range candidates {
		// Drop servers removed while the fan-out was running.
		if results[i] == nil || !d.registry.current(sess) {
			continue
		}
		catalog = append(catalog, ServerTools{ServerID: sess.ID(), Tools: results[i]})
	}
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].ServerID < catalog[j].ServerID })
	return catalog
}

// Cached returns the last fetched catalog for a server and whether one
// has been fetched since connecting or since the last change notification.
func (d *Directory) Cached(serverID string) ([]ToolDescriptor, bool) {
	sess, ok := d.registry.session(serverID)
	if !ok {
		return nil, false
	}
	tools, fetched := sess.cachedTools()
	return cloneTools(tools), fetched
}

func cloneTools(tools []ToolDescriptor) []ToolDescriptor {
	if tools == nil {
		return nil
	}
	return append([]ToolDescriptor(nil), tools...)
}
