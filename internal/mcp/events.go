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
	"log/slog"
	"sync"
	"time"
)

// EventType represents the type of server event.
type EventType string

const (
	// EventConnected indicates a session reached the connected state.
	EventConnected EventType = "connected"
	// EventRemoved indicates a session was removed.
	EventRemoved EventType = "removed"
	// EventFailed indicates a session could not be established.
	EventFailed EventType = "failed"
	// EventToolsChanged indicates the server's tool list has changed.
	EventToolsChanged EventType = "tools_changed"
	// EventToggled indicates a session was enabled or disabled.
	EventToggled EventType = "toggled"
)

// ServerEvent describes a change in a session.
type ServerEvent struct {
	// Type is the event type.
	Type EventType `json:"type"`

	// ServerID is the session the event concerns.
	ServerID string `json:"serverId"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Message is an optional human-readable message.
	Message string `json:"message,omitempty"`

	// Details contains additional event-specific information.
	Details map[string]any `json:"details,omitempty"`
}

// subscriberBuffer is the per-subscriber channel capacity. Slow subscribers
// miss events rather than block emitters.
const subscriberBuffer = 32

// EventEmitter logs server events and fans them out to subscribers.
type EventEmitter struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[int]chan ServerEvent
	next int
}

// NewEventEmitter creates a new event emitter.
func NewEventEmitter(logger *slog.Logger) *EventEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventEmitter{logger: logger, subs: make(map[int]chan ServerEvent)}
}

// Subscribe returns a channel of future events and a function that ends the
// subscription and closes the channel.
func (e *EventEmitter) Subscribe() (<-chan ServerEvent, func()) {
	ch := make(chan ServerEvent, subscriberBuffer)

	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			e.mu.Unlock()
			close(ch)
		})
	}
}

// Emit logs an event and delivers it to subscribers without blocking.
func (e *EventEmitter) Emit(event ServerEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	attrs := []any{
		"server_id", event.ServerID,
		"type", string(event.Type),
	}
	if event.Message != "" {
		attrs = append(attrs, "message", event.Message)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}
	e.logger.Info("mcp server event", attrs...)

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// EmitConnected emits a connected event.
func (e *EventEmitter) EmitConnected(serverID string, transport TransportType) {
	e.Emit(ServerEvent{
		Type:     EventConnected,
		ServerID: serverID,
		Message:  "Server connected",
		Details:  map[string]any{"transport": string(transport)},
	})
}

// EmitRemoved emits a removed event.
func (e *EventEmitter) EmitRemoved(serverID string) {
	e.Emit(ServerEvent{
		Type:     EventRemoved,
		ServerID: serverID,
		Message:  "Server removed",
	})
}

// EmitFailed emits a failed event.
func (e *EventEmitter) EmitFailed(serverID string, err error) {
	details := map[string]any{}
	if err != nil {
		details["error"] = err.Error()
	}
	e.Emit(ServerEvent{
		Type:     EventFailed,
		ServerID: serverID,
		Message:  "Server connection failed",
		Details:  details,
	})
}

// EmitToolsChanged emits a tools changed event.
func (e *EventEmitter) EmitToolsChanged(serverID string, toolCount int) {
	e.Emit(ServerEvent{
		Type:     EventToolsChanged,
		ServerID: serverID,
		Message:  "Server tools changed",
		Details:  map[string]any{"tool_count": toolCount},
	})
}

// EmitToggled emits an enabled/disabled event.
func (e *EventEmitter) EmitToggled(serverID string, enabled bool) {
	e.Emit(ServerEvent{
		Type:     EventToggled,
		ServerID: serverID,
		Message:  "Server toggled",
		Details:  map[string]any{"enabled": enabled},
	})
}
