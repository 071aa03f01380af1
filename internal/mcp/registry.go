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

package mcp

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/toolhub/internal/metrics"
)

// DefaultConnectTimeout bounds process launch plus handshake.
const DefaultConnectTimeout = 30 * time.Second

// Registry owns every session, keyed by server ID.
type Registry struct {
	// sessions tracks all registered servers by ID
	sessions map[string]*Session

	dialer         Dialer
	prober         ReachabilityChecker
	events         *EventEmitter
	connectTimeout time.Duration
	serialize      bool
	logger         *slog.Logger

	// mu protects the sessions map
	mu sync.RWMutex
}

// RegistryConfig configures the registry.
type RegistryConfig struct {
	// Dialer establishes connections. Required.
	Dialer Dialer

	// Prober runs pre-connection checks. Defaults to a Prober on http.DefaultClient.
	Prober ReachabilityChecker

	// Events receives session events (optional).
	Events *EventEmitter

	// ConnectTimeout bounds establishment (defaults to 30s).
	ConnectTimeout time.Duration

	// SerializeCalls gives every session a FIFO queue so at most one call is
	// in flight per server.
	SerializeCalls bool

	// Logger is used for structured logging (optional)
	Logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var prober ReachabilityChecker = NewProber(nil, 0, logger)
	if cfg.Prober != nil {
		prober = cfg.Prober
	}
	events := cfg.Events
	if events == nil {
		events = NewEventEmitter(logger)
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	return &Registry{
		sessions:       make(map[string]*Session),
		dialer:         cfg.Dialer,
		prober:         prober,
		events:         events,
		connectTimeout: timeout,
		serialize:      cfg.SerializeCalls,
		logger:         logger,
	}
}

// Add validates the descriptor, reserves its ID, probes and connects. On any
// failure nothing is left registered and no process survives.
func (r *Registry) Add(ctx context.Context, desc ServerDescriptor) (*SessionInfo, error) {
	desc = desc.clone()
	desc.IsConnected = false
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	logger := r.logger.With("server_id", desc.ID, "transport", string(desc.Transport))

	r.mu.Lock()
	if _, exists := r.sessions[desc.ID]; exists {
		r.mu.Unlock()
		return nil, ErrServerAlreadyExists(desc.ID)
	}
	sess := newSession(desc, r.serialize)
	r.sessions[desc.ID] = sess
	r.mu.Unlock()

	probe := r.prober.Probe(ctx, desc)
	sess.setProbe(probe)
	if !probe.Reachable {
		switch probe.Authority {
		case ProbeAuthoritative:
			cause := errors.New(probe.Message)
			r.fail(desc.ID, sess, cause)
			metrics.RecordConnect(string(desc.Transport), metrics.OutcomeRejected)
			return nil, ErrConnectionFailure(desc.ID, cause)
		case ProbeAdvisory:
			logger.Warn("probe failed, connecting anyway", "probe", probe.Message)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	conn, err := r.dialer.Dial(dialCtx, desc)
	if err != nil {
		r.fail(desc.ID, sess, err)
		metrics.RecordConnect(string(desc.Transport), metrics.OutcomeError)
		logger.Warn("mcp server connection failed", "error", err)
		return nil, ErrConnectionFailure(desc.ID, err)
	}

	if !sess.attach(conn) {
		// Removed while connecting; the remover could not see this connection.
		if cerr := conn.Close(); cerr != nil {
			logger.Warn("failed to close orphaned connection", "error", cerr)
		}
		metrics.RecordConnect(string(desc.Transport), metrics.OutcomeError)
		return nil, ErrConnectionFailure(desc.ID, errors.New("server removed while connecting"))
	}

	if n, ok := conn.(ToolsChangedNotifier); ok {
		n.OnToolsChanged(func() { r.toolsChanged(sess) })
	}

	metrics.RecordConnect(string(desc.Transport), metrics.OutcomeSuccess)
	metrics.SessionAdded(string(desc.Transport))
	r.events.EmitConnected(desc.ID, desc.Transport)
	logger.Info("mcp server connected", "probe", probe.Message)

	info := sess.Info()
	return &info, nil
}

// fail moves a reservation to failed, announces it and releases it.
func (r *Registry) fail(id string, sess *Session, cause error) {
	if sess.fail(cause) {
		r.events.EmitFailed(id, cause)
	}
	r.release(id, sess)
}

// release drops a reservation if it still belongs to sess.
func (r *Registry) release(id string, sess *Session) {
	r.mu.Lock()
	if r.sessions[id] == sess {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	sess.detach()
}

func (r *Registry) toolsChanged(sess *Session) {
	if sess.isRemoved() {
		return
	}
	sess.invalidateTools()
	tools, _ := sess.cachedTools()
	r.events.EmitToolsChanged(sess.ID(), len(tools))
}

// Remove deletes the session and closes its connection. Removing an unknown
// ID is a no-op. Close errors are logged, never returned.
func (r *Registry) Remove(ctx context.Context, id string) {
	r.mu.Lock()
	sess, exists := r.sessions[id]
	if exists {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !exists {
		return
	}

	conn := sess.detach()
	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Warn("error closing mcp connection", "server_id", id, "error", err)
		}
		metrics.SessionRemoved(string(sess.desc.Transport))
	}
	r.events.EmitRemoved(id)
}

// DisconnectAll removes every session concurrently and waits for all closes.
func (r *Registry) DisconnectAll(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			r.Remove(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

// Get returns a snapshot of one session.
func (r *Registry) Get(id string) (SessionInfo, bool) {
	sess, ok := r.session(id)
	if !ok {
		return SessionInfo{}, false
	}
	return sess.Info(), true
}

// All returns snapshots of every session sorted by ID.
func (r *Registry) All() []SessionInfo {
	sessions := r.snapshot()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

// SetEnabled flips the logical switch without touching the connection.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	sess, ok := r.session(id)
	if !ok {
		return ErrServerNotFound(id)
	}
	sess.setEnabled(enabled)
	r.events.EmitToggled(id, enabled)
	return nil
}

// Toggle inverts the enabled switch and returns the new value.
func (r *Registry) Toggle(id string) (bool, error) {
	sess, ok := r.session(id)
	if !ok {
		return false, ErrServerNotFound(id)
	}
	enabled := !sess.isEnabled()
	sess.setEnabled(enabled)
	r.events.EmitToggled(id, enabled)
	return enabled, nil
}

// Logs returns the last n lines of output captured from a server. Only
// stdio sessions capture output; other transports return an empty slice.
func (r *Registry) Logs(id string, n int) ([]LogEntry, error) {
	sess, ok := r.session(id)
	if !ok {
		return nil, ErrServerNotFound(id)
	}
	return sess.logs(n), nil
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Events returns the registry's event emitter.
func (r *Registry) Events() *EventEmitter {
	return r.events
}

func (r *Registry) session(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// current reports whether sess is still the registered session for its ID.
func (r *Registry) current(sess *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sess.ID()] == sess
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
