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
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ServerIDRegex validates server IDs. The colon is excluded because it
// separates the server ID from the tool name in composite tool keys.
var ServerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,127}$`)

var envKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate checks the descriptor before any probe or resource allocation.
func (d ServerDescriptor) Validate() error {
	if err := ValidateServerID(d.ID); err != nil {
		return ErrInvalidServerDescriptor(d.ID, err.Error())
	}
	if !d.Transport.Valid() {
		return ErrInvalidServerDescriptor(d.ID, fmt.Sprintf("unknown transport %q", d.Transport))
	}

	switch d.Transport {
	case TransportStdio:
		if strings.TrimSpace(d.Command) == "" {
			return ErrInvalidServerDescriptor(d.ID, "command is required for stdio servers")
		}
		if d.URL != "" {
			return ErrInvalidServerDescriptor(d.ID, "url must be empty for stdio servers")
		}
		for _, arg := range d.Args {
			if err := ValidateArg(arg); err != nil {
				return ErrInvalidServerDescriptor(d.ID, err.Error())
			}
		}
		for _, env := range d.Env {
			if err := ValidateEnv(env); err != nil {
				return ErrInvalidServerDescriptor(d.ID, err.Error())
			}
		}
	case TransportSSE, TransportWebSocket:
		if d.Command != "" || len(d.Args) > 0 {
			return ErrInvalidServerDescriptor(d.ID, fmt.Sprintf("command must be empty for %s servers", d.Transport))
		}
		if err := validateURL(d.Transport, d.URL); err != nil {
			return ErrInvalidServerDescriptor(d.ID, err.Error())
		}
	}

	if d.Timeout < 0 {
		return ErrInvalidServerDescriptor(d.ID, "timeout must not be negative")
	}
	return nil
}

// ValidateServerID validates a server ID.
func ValidateServerID(id string) error {
	if id == "" {
		return fmt.Errorf("server id is required")
	}
	if !ServerIDRegex.MatchString(id) {
		return fmt.Errorf("invalid server id %q: must start with a letter or digit and contain only letters, digits, '.', '-' and '_'", id)
	}
	return nil
}

func validateURL(transport TransportType, raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required for %s servers", transport)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed url: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("url must be absolute: %s", raw)
	}

	var allowed []string
	switch transport {
	case TransportSSE:
		allowed = []string{"http", "https"}
	case TransportWebSocket:
		allowed = []string{"ws", "wss"}
	}
	for _, s := range allowed {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("%s url must use %s scheme, got %q", transport, strings.Join(allowed, " or "), u.Scheme)
}

// ValidateArg validates a command argument. Servers are spawned directly,
// never through a shell, so shell metacharacters are passed through
// literally; only NUL, which cannot cross exec, is rejected.
func ValidateArg(arg string) error {
	if strings.ContainsRune(arg, 0) {
		return fmt.Errorf("argument contains a NUL byte")
	}
	return nil
}

// ValidateEnv validates an environment variable in KEY=VALUE form.
func ValidateEnv(env string) error {
	key, value, ok := strings.Cut(env, "=")
	if !ok {
		return fmt.Errorf("environment variable must be in KEY=VALUE format")
	}
	if key == "" {
		return fmt.Errorf("environment variable key is required")
	}
	if !envKeyRegex.MatchString(key) {
		return fmt.Errorf("invalid environment variable key: %s", key)
	}

	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("environment value contains a NUL byte")
	}
	return nil
}

// sensitiveKeyPatterns are patterns that indicate a sensitive value.
var sensitiveKeyPatterns = []string{
	"SECRET", "TOKEN", "KEY", "PASSWORD", "CREDENTIAL", "AUTH", "COOKIE",
}

// IsSensitiveKey returns true if the env or header name appears to hold a secret.
func IsSensitiveKey(key string) bool {
	upper := strings.ToUpper(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(upper, pattern) {
			return true
		}
	}
	return false
}

// RedactEnv redacts sensitive values from an environment variable list.
func RedactEnv(envs []string) []string {
	result := make([]string, len(envs))
	for i, env := range envs {
		key, _, ok := strings.Cut(env, "=")
		if ok && IsSensitiveKey(key) {
			result[i] = key + "=***REDACTED***"
		} else {
			result[i] = env
		}
	}
	return result
}

// RedactHeaders redacts sensitive header values.
func RedactHeaders(headers map[string]string) map[string]string {
	result := make(map[string]string, len(headers))
	for k, v := range headers {
		if IsSensitiveKey(k) {
			result[k] = "***REDACTED***"
		} else {
			result[k] = v
		}
	}
	return result
}
