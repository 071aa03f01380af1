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

package log

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tombee/toolhub/internal/tracing"
)

func TestHTTPMiddleware(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{name: "success", status: http.StatusOK, wantLevel: "INFO"},
		{name: "client error", status: http.StatusNotFound, wantLevel: "WARN"},
		{name: "server error", status: http.StatusBadGateway, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

			handler := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/servers", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}

			var entry map[string]any
			if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
				t.Fatalf("expected valid JSON output: %v", err)
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("expected level %q, got %v", tt.wantLevel, entry["level"])
			}
			if entry["event"] != "http_request" {
				t.Errorf("expected event 'http_request', got %v", entry["event"])
			}
			if entry["path"] != "/v1/servers" {
				t.Errorf("expected path '/v1/servers', got %v", entry["path"])
			}
			if int(entry["status"].(float64)) != tt.status {
				t.Errorf("expected status %d, got %v", tt.status, entry["status"])
			}
			if int(entry["bytes"].(float64)) != 4 {
				t.Errorf("expected 4 bytes, got %v", entry["bytes"])
			}
			if _, ok := entry[DurationKey]; !ok {
				t.Errorf("expected %s field", DurationKey)
			}
		})
	}
}

func TestHTTPMiddleware_ImplicitOK(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	handler := HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	if int(entry["status"].(float64)) != http.StatusOK {
		t.Errorf("expected status 200, got %v", entry["status"])
	}
}

func TestHTTPMiddleware_CorrelationID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})

	handler := tracing.CorrelationMiddleware(HTTPMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	req := httptest.NewRequest(http.MethodDelete, "/v1/servers/fs", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON output: %v", err)
	}
	want := rec.Header().Get(tracing.HeaderCorrelationID)
	if want == "" {
		t.Fatal("expected correlation header on response")
	}
	if entry[CorrelationIDKey] != want {
		t.Errorf("expected correlation_id %q, got %v", want, entry[CorrelationIDKey])
	}
}
