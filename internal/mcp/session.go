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
	"sync"
	"time"
)

// SessionState represents the connection state of a session.
type SessionState string

const (
	// StateConnecting means the ID is reserved and the connection is being established.
	StateConnecting SessionState = "connecting"
	// StateConnected means the session has a live connection.
	StateConnected SessionState = "connected"
	// StateFailed means establishment did not complete. The registry releases
	// the reservation right after, so callers only see it in events. A failed
	// tool call never moves a connected session here.
	StateFailed SessionState = "failed"
)

// Session is the registry's record of one server. All fields are guarded by mu.
type Session struct {
	mu sync.RWMutex

	desc        ServerDescriptor
	state       SessionState
	enabled     bool
	conn        Conn
	probe       ProbeResult
	lastError   string
	createdAt   time.Time
	connectedAt time.Time
	removed     bool

	// tools is replaced as a whole slice, never mutated in place.
	tools        []ToolDescriptor
	toolsFetched bool
	toolsAt      time.Time

	queue *callQueue
}

func newSession(desc ServerDescriptor, serialize bool) *Session {
	s := &Session{
		desc:      desc,
		state:     StateConnecting,
		enabled:   true,
		createdAt: time.Now(),
	}
	if serialize {
		s.queue = &callQueue{}
	}
	return s
}

// SessionInfo is a point-in-time snapshot of a session.
type SessionInfo struct {
	Server      ServerDescriptor `json:"server"`
	State       SessionState     `json:"state"`
	Enabled     bool             `json:"enabled"`
	ToolCount   *int             `json:"toolCount,omitempty"`
	LastError   string           `json:"lastError,omitempty"`
	Probe       ProbeResult      `json:"probe"`
	CreatedAt   time.Time        `json:"createdAt"`
	ConnectedAt *time.Time       `json:"connectedAt,omitempty"`
}

// Connected reports whether the session can serve calls.
func (i SessionInfo) Connected() bool {
	return i.State == StateConnected && i.Enabled
}

// Info returns a snapshot. The descriptor's IsConnected is derived here.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := SessionInfo{
		Server:    s.desc.Redacted(),
		State:     s.state,
		Enabled:   s.enabled,
		LastError: s.lastError,
		Probe:     s.probe,
		CreatedAt: s.createdAt,
	}
	info.Server.IsConnected = s.usableLocked()
	if s.toolsFetched {
		n := len(s.tools)
		info.ToolCount = &n
	}
	if !s.connectedAt.IsZero() {
		t := s.connectedAt
		info.ConnectedAt = &t
	}
	return info
}

// ID returns the server ID.
func (s *Session) ID() string {
	return s.desc.ID
}

// Descriptor returns a copy of the descriptor.
func (s *Session) Descriptor() ServerDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.desc.clone()
}

func (s *Session) usableLocked() bool {
	return s.state == StateConnected && s.enabled && !s.removed && s.conn != nil
}

// usable returns the connection if the session can serve calls.
func (s *Session) usable() (Conn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.usableLocked() {
		return nil, false
	}
	return s.conn, true
}

// attach stores the connection and moves to connected. It returns false if
// the session was removed while connecting.
func (s *Session) attach(conn Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return false
	}
	s.conn = conn
	s.state = StateConnected
	s.connectedAt = time.Now()
	s.lastError = ""
	return true
}

func (s *Session) setProbe(p ProbeResult) {
	s.mu.Lock()
	s.probe = p
	s.mu.Unlock()
}

// fail moves a connecting session to failed. It reports whether the state
// changed.
func (s *Session) fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed || s.state != StateConnecting {
		return false
	}
	s.state = StateFailed
	if err != nil {
		s.lastError = err.Error()
	}
	return true
}

// noteError records err as the last error without changing state.
func (s *Session) noteError(err error) {
	s.mu.Lock()
	if !s.removed && err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()
}

// detach marks the session removed and returns its connection for closing.
func (s *Session) detach() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = true
	conn := s.conn
	s.conn = nil
	s.tools = nil
	s.toolsFetched = false
	return conn
}

func (s *Session) setEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *Session) isEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// storeTools replaces the cached catalog. It returns false and stores nothing
// if the session has been removed.
func (s *Session) storeTools(tools []ToolDescriptor) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return false
	}
	s.tools = tools
	s.toolsFetched = true
	s.toolsAt = time.Now()
	return true
}

func (s *Session) invalidateTools() {
	s.mu.Lock()
	s.toolsFetched = false
	s.mu.Unlock()
}

// cachedTools returns the last fetched catalog and whether one exists.
func (s *Session) cachedTools() ([]ToolDescriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tools, s.toolsFetched
}

// logs returns captured server output if the connection keeps any.
func (s *Session) logs(n int) []LogEntry {
	s.mu.RLock()
	src, ok := s.conn.(LogSource)
	s.mu.RUnlock()
	if !ok {
		return []LogEntry{}
	}
	return src.Logs(n)
}

func (s *Session) isRemoved() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.removed
}

// callQueue admits one holder at a time in arrival order.
type callQueue struct {
	mu      sync.Mutex
	busy    bool
	waiters []chan struct{}
}

func (q *callQueue) acquire(ctx context.Context) error {
	q.mu.Lock()
	if !q.busy {
		q.busy = true
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		for i, w := range q.waiters {
			if w == ch {
				q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
				q.mu.Unlock()
				return ctx.Err()
			}
		}
		q.mu.Unlock()
		// The slot was handed to us as we gave up; pass it on.
		q.release()
		return ctx.Err()
	}
}

func (q *callQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiters) == 0 {
		q.busy = false
		return
	}
	next := q.waiters[0]
	q.waiters = q.waiters[1:]
	close(next)
}
