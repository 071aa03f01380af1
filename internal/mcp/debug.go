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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// FrameTracer writes JSON-RPC frames in a readable form. It is used by the
// CLI's --trace flag to show websocket traffic.
type FrameTracer struct {
	mu             sync.Mutex
	writer         io.Writer
	serverID       string
	showTimestamps bool
}

// NewFrameTracer creates a tracer writing to w. A nil w discards output.
func NewFrameTracer(w io.Writer, serverID string, showTimestamps bool) *FrameTracer {
	if w == nil {
		w = io.Discard
	}
	return &FrameTracer{writer: w, serverID: serverID, showTimestamps: showTimestamps}
}

// Frame classifies a raw frame and writes it. direction is SEND or RECV.
func (f *FrameTracer) Frame(direction string, raw []byte) {
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.write("RAW "+direction, "", string(raw))
		return
	}

	if method, _ := msg["method"].(string); method != "" {
		kind := "REQUEST"
		if _, hasID := msg["id"]; !hasID {
			kind = "NOTIFICATION"
		}
		f.writeJSON(kind, method, msg["params"])
		return
	}

	if errData, ok := msg["error"]; ok {
		errMsg := "unknown error"
		if m, ok := errData.(map[string]any); ok {
			if s, ok := m["message"].(string); ok {
				errMsg = s
			}
		}
		f.write("ERROR", fmt.Sprint(msg["id"]), errMsg)
		return
	}
	f.writeJSON("RESPONSE", fmt.Sprint(msg["id"]), msg["result"])
}

func (f *FrameTracer) writeJSON(kind, label string, data any) {
	body := ""
	if data != nil {
		b, err := json.MarshalIndent(data, "  ", "  ")
		if err != nil {
			body = fmt.Sprintf("<unprintable: %v>", err)
		} else {
			body = string(b)
		}
	}
	f.write(kind, label, body)
}

func (f *FrameTracer) write(kind, label, body string) {
	var b strings.Builder
	if f.showTimestamps {
		b.WriteString(time.Now().Format("15:04:05.000"))
		b.WriteString(" ")
	}
	if f.serverID != "" {
		b.WriteString("[")
		b.WriteString(f.serverID)
		b.WriteString("] ")
	}
	b.WriteString(kind)
	if label != "" {
		b.WriteString(" ")
		b.WriteString(label)
	}
	b.WriteString("\n")
	if body != "" {
		b.WriteString("  ")
		b.WriteString(body)
		b.WriteString("\n")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	_, _ = io.WriteString(f.writer, b.String())
}
