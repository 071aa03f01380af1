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

// Package httpclient builds the outbound HTTP client shared by the SSE
// transport, the reachability prober and the bridge client.
//
// Requests carry the caller's correlation ID, are logged with sensitive
// query parameters redacted, and idempotent requests are retried with
// exponential backoff on transient failures.
package httpclient

import (
	"fmt"
	"log/slog"
	"time"
)

// Config holds the client configuration.
type Config struct {
	// Timeout is the total request timeout including retries.
	// Default: 30s. Must be > 0.
	Timeout time.Duration

	// RetryAttempts is the maximum number of retries (0 = no retries).
	// Default: 2.
	RetryAttempts int

	// RetryBackoff is the initial delay before the first retry.
	// Default: 100ms.
	RetryBackoff time.Duration

	// MaxBackoff caps the delay between retries.
	// Default: 5s.
	MaxBackoff time.Duration

	// UserAgent is sent when the request does not set one.
	UserAgent string

	// AllowNonIdempotentRetry enables retry for POST, PUT, PATCH and DELETE.
	AllowNonIdempotentRetry bool

	// Logger receives one record per request (optional).
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		RetryAttempts: 2,
		RetryBackoff:  100 * time.Millisecond,
		MaxBackoff:    5 * time.Second,
		UserAgent:     "toolhub-http-client/1.0",
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0, got %v", c.Timeout)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be >= 0, got %d", c.RetryAttempts)
	}
	if c.RetryAttempts > 0 {
		if c.RetryBackoff <= 0 {
			return fmt.Errorf("retry_backoff must be > 0 when retry_attempts > 0, got %v", c.RetryBackoff)
		}
		if c.MaxBackoff < c.RetryBackoff {
			return fmt.Errorf("max_backoff (%v) must be >= retry_backoff (%v)", c.MaxBackoff, c.RetryBackoff)
		}
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}
	return nil
}
