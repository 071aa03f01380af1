package mcp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Config configures an Orchestrator.
type Config struct {
	// Dialer establishes connections. Defaults to a TransportDialer using
	// HTTPClient and ClientInfo.
	Dialer Dialer

	// Prober runs pre-connection checks. Defaults to a Prober using HTTPClient.
	Prober ReachabilityChecker

	// HTTPClient is used by the default prober and sse connections.
	HTTPClient *http.Client

	// ClientInfo identifies toolhub in initialize handshakes.
	ClientInfo ClientInfo

	// ConnectTimeout bounds establishment (defaults to 30s).
	ConnectTimeout time.Duration

	// CallTimeout is the default per-call timeout (defaults to 30s).
	CallTimeout time.Duration

	// SerializeCalls allows at most one in-flight call per server.
	SerializeCalls bool

	// Trace receives websocket frames for debugging (optional).
	Trace io.Writer

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// Orchestrator is the single entry point the HTTP API and CLI use to manage
// servers and tools. Create one per process with New and pass it to
// whatever needs it; there is no package-level instance.
type Orchestrator struct {
	registry   *Registry
	directory  *Directory
	dispatcher *Dispatcher
	logger     *slog.Logger

	// catalog is the aggregated tool list of the newest refresh to finish.
	// Refreshes are numbered when they start; an older one finishing late
	// does not replace a newer catalog.
	refreshSeq atomic.Uint64
	catalogMu  sync.RWMutex
	catalog    Catalog
	catalogSeq uint64
	refreshed  time.Time
}

// New builds an orchestrator with an empty registry.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp")

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &TransportDialer{
			HTTPClient: cfg.HTTPClient,
			ClientInfo: cfg.ClientInfo,
			Trace:      cfg.Trace,
			Logger:     logger,
		}
	}
	prober := cfg.Prober
	if prober == nil {
		prober = NewProber(cfg.HTTPClient, 0, logger)
	}

	reg := NewRegistry(RegistryConfig{
		Dialer:         dialer,
		Prober:         prober,
		Events:         NewEventEmitter(logger),
		ConnectTimeout: cfg.ConnectTimeout,
		SerializeCalls: cfg.SerializeCalls,
		Logger:         logger,
	})
	dir := NewDirectory(reg, cfg.CallTimeout, logger)

	return &Orchestrator{
		registry:   reg,
		directory:  dir,
		dispatcher: NewDispatcher(reg, cfg.CallTimeout, logger),
		logger:     logger,
	}
}

// AddServer registers and connects a server, then refreshes the catalog.
// Registry errors are returned unchanged.
func (o *Orchestrator) AddServer(ctx context.Context, desc ServerDescriptor) (*SessionInfo, error) {
	info, err := o.registry.Add(ctx, desc)
	if err != nil {
		return nil, err
	}
	o.RefreshTools(ctx)

	// Re-read so the tool count reflects the refresh.
	if fresh, ok := o.registry.Get(info.Server.ID); ok {
		return &fresh, nil
	}
	return info, nil
}

// RemoveServer removes a server and refreshes the catalog. Unknown IDs are
// a no-op.
func (o *Orchestrator) RemoveServer(ctx context.Context, id string) {
	o.registry.Remove(ctx, id)
	o.RefreshTools(ctx)
}

// ToggleServer flips a server's enabled switch without touching its
// connection and returns the new value.
func (o *Orchestrator) ToggleServer(ctx context.Context, id string) (bool, error) {
	enabled, err := o.registry.Toggle(id)
	if err != nil {
		return false, err
	}
	o.RefreshTools(ctx)
	return enabled, nil
}

// CallTool dispatches a tool call.
func (o *Orchestrator) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*ToolResult, error) {
	return o.dispatcher.Call(ctx, serverID, toolName, args)
}

// ListTools fetches one server's tools.
func (o *Orchestrator) ListTools(ctx context.Context, serverID string) ([]ToolDescriptor, error) {
	return o.directory.ListTools(ctx, serverID)
}

// GetAllTools aggregates tools across connected servers and stores the
// result as the current catalog.
func (o *Orchestrator) GetAllTools(ctx context.Context) Catalog {
	return o.RefreshTools(ctx)
}

// RefreshTools re-aggregates the catalog and returns what this refresh saw.
// The stored catalog only moves forward: a refresh that started before
// another one already stored is discarded.
func (o *Orchestrator) RefreshTools(ctx context.Context) Catalog {
	seq := o.refreshSeq.Add(1)
	catalog := o.directory.AllTools(ctx)

	o.catalogMu.Lock()
	if seq > o.catalogSeq {
		o.catalog = catalog
		o.catalogSeq = seq
		o.refreshed = time.Now()
	} else {
		o.logger.Debug("discarding stale tool catalog", "refresh", seq, "current", o.catalogSeq)
	}
	o.catalogMu.Unlock()

	return catalog
}

// Catalog returns the last refreshed catalog without querying servers.
func (o *Orchestrator) Catalog() (Catalog, time.Time) {
	o.catalogMu.RLock()
	defer o.catalogMu.RUnlock()
	return o.catalog, o.refreshed
}

// Servers returns snapshots of every session sorted by ID.
func (o *Orchestrator) Servers() []SessionInfo {
	return o.registry.All()
}

// Server returns one session snapshot.
func (o *Orchestrator) Server(id string) (SessionInfo, bool) {
	return o.registry.Get(id)
}

// ServerLogs returns recent output captured from a server process.
func (o *Orchestrator) ServerLogs(id string, n int) ([]LogEntry, error) {
	return o.registry.Logs(id, n)
}

// Summary counts sessions by state.
func (o *Orchestrator) Summary() Summary {
	var s Summary
	for _, info := range o.registry.All() {
		s.Total++
		switch {
		case info.Connected():
			s.Connected++
		case info.State == StateFailed:
			s.Failed++
		case !info.Enabled:
			s.Disabled++
		}
	}
	return s
}

// Summary is a count of sessions by state.
type Summary struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
	Failed    int `json:"failed"`
	Disabled  int `json:"disabled"`
}

// Events returns the event emitter for session changes.
func (o *Orchestrator) Events() *EventEmitter {
	return o.registry.Events()
}

// Close disconnects every server.
func (o *Orchestrator) Close(ctx context.Context) {
	o.registry.DisconnectAll(ctx)

	o.catalogMu.Lock()
	o.catalog = nil
	o.catalogMu.Unlock()
}
