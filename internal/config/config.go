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

// Package config loads toolhub's YAML configuration, applies .env files and
// environment overrides, and watches the file for server list changes.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/secrets"
)

// Environment variables that override file settings.
const (
	EnvListen    = "TOOLHUB_LISTEN"
	EnvBridgeURL = "TOOLHUB_BRIDGE_URL"
)

// ErrInvalidConfig is matched by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// ConfigError describes a configuration problem.
type ConfigError struct {
	// Key is the configuration key that has the problem, e.g. "servers[2]".
	Key string
	// Reason explains what's wrong.
	Reason string
	// Cause is the underlying error, if any.
	Cause error
}

func (e *ConfigError) Error() string {
	msg := "config error"
	if e.Key != "" {
		msg += " at " + e.Key
	}
	msg += ": " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Config is the complete toolhub configuration.
type Config struct {
	// Listen is the HTTP API address.
	Listen string `yaml:"listen"`

	Bridge   BridgeConfig  `yaml:"bridge"`
	Timeouts TimeoutConfig `yaml:"timeouts"`
	Limits   LimitConfig   `yaml:"limits"`
	Log      LogConfig     `yaml:"log"`
	Tracing  TracingConfig `yaml:"tracing"`

	// CORSOrigins lists browser origins allowed to call the API. Empty
	// allows any origin.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`

	// SerializeCalls allows one in-flight call per server.
	SerializeCalls bool `yaml:"serialize_calls"`

	// Servers are connected at startup and reconciled on reload.
	Servers []mcp.ServerDescriptor `yaml:"servers"`

	// path is the file the config was read from, if any.
	path string
}

// BridgeConfig configures the file-operations bridge.
type BridgeConfig struct {
	// URL is the bridge base URL. Empty means always simulate.
	URL string `yaml:"url"`
	// HealthInterval is how often health is re-checked. Zero checks once.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// TimeoutConfig holds connection and call timeouts.
type TimeoutConfig struct {
	Connect time.Duration `yaml:"connect"`
	Call    time.Duration `yaml:"call"`
}

// LimitConfig bounds tool call throughput.
type LimitConfig struct {
	CallRate  float64 `yaml:"call_rate"`
	CallBurst int     `yaml:"call_burst"`
}

// LogConfig holds logging settings. Environment variables read by the log
// package take precedence.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig enables OpenTelemetry spans written to stderr.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with default values and no servers.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:8090",
		Bridge: BridgeConfig{
			URL:            "http://localhost:3001",
			HealthInterval: 30 * time.Second,
		},
		Timeouts: TimeoutConfig{
			Connect: mcp.DefaultConnectTimeout,
			Call:    mcp.DefaultCallTimeout,
		},
		Limits: LimitConfig{
			CallRate:  20,
			CallBurst: 40,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Path returns the file the config was loaded from, or "" for defaults.
func (c *Config) Path() string {
	return c.path
}

// Load reads configPath, or the XDG default when configPath is empty.
// A missing default file yields the defaults; a missing explicit file is
// an error. A .env file in the working directory or next to the config
// file is loaded first without overriding variables already set.
func Load(configPath string) (*Config, error) {
	explicit := configPath != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, &ConfigError{Key: "config_file", Reason: "cannot locate config directory", Cause: err}
		}
		configPath = p
	}
	configPath = expandHome(configPath)

	loadDotEnv(".env", filepath.Join(filepath.Dir(configPath), ".env"))

	cfg := Default()
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := cfg.parse(data); err != nil {
			return nil, &ConfigError{Key: "config_file", Reason: fmt.Sprintf("failed to parse %s", configPath), Cause: err}
		}
		cfg.path = configPath
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, &ConfigError{Key: "config_file", Reason: fmt.Sprintf("failed to load from %s", configPath), Cause: err}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML config without touching the environment or disk.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.parse(data); err != nil {
		return nil, &ConfigError{Key: "config_file", Reason: "failed to parse YAML", Cause: err}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) parse(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}
	return nil
}

func (c *Config) applyDefaults() {
	def := Default()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timeouts.Connect <= 0 {
		c.Timeouts.Connect = def.Timeouts.Connect
	}
	if c.Timeouts.Call <= 0 {
		c.Timeouts.Call = def.Timeouts.Call
	}
	if c.Limits.CallBurst <= 0 {
		c.Limits.CallBurst = def.Limits.CallBurst
	}
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v, ok := os.LookupEnv(EnvBridgeURL); ok {
		c.Bridge.URL = v
	}
}

// Validate checks every setting and every server descriptor.
func (c *Config) Validate() error {
	if c.Limits.CallRate < 0 {
		return &ConfigError{Key: "limits.call_rate", Reason: "must be >= 0", Cause: ErrInvalidConfig}
	}
	if c.Bridge.HealthInterval < 0 {
		return &ConfigError{Key: "bridge.health_interval", Reason: "must be >= 0", Cause: ErrInvalidConfig}
	}

	seen := make(map[string]int, len(c.Servers))
	for i, desc := range c.Servers {
		key := fmt.Sprintf("servers[%d]", i)
		if err := desc.Validate(); err != nil {
			return &ConfigError{Key: key, Reason: "invalid server", Cause: errors.Join(ErrInvalidConfig, err)}
		}
		if prev, dup := seen[desc.ID]; dup {
			return &ConfigError{
				Key:    key,
				Reason: fmt.Sprintf("duplicate server id %q (also servers[%d])", desc.ID, prev),
				Cause:  ErrInvalidConfig,
			}
		}
		seen[desc.ID] = i
	}
	return nil
}

// ResolveServers returns the server list with secret references in headers
// and environment values expanded. The config itself is not modified.
func (c *Config) ResolveServers(ctx context.Context, r *secrets.Resolver) ([]mcp.ServerDescriptor, error) {
	out := make([]mcp.ServerDescriptor, 0, len(c.Servers))
	for _, desc := range c.Servers {
		resolved, err := ResolveServer(ctx, r, desc)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

// ResolveServer expands secret references in one descriptor's headers and
// environment.
func ResolveServer(ctx context.Context, r *secrets.Resolver, desc mcp.ServerDescriptor) (mcp.ServerDescriptor, error) {
	headers, err := r.ResolveMap(ctx, desc.Headers)
	if err != nil {
		return desc, &ConfigError{Key: "servers." + desc.ID + ".headers", Reason: "cannot resolve secret", Cause: err}
	}
	env, err := r.ResolveEnv(ctx, desc.Env)
	if err != nil {
		return desc, &ConfigError{Key: "servers." + desc.ID + ".env", Reason: "cannot resolve secret", Cause: err}
	}
	desc.Headers = headers
	desc.Env = env
	return desc, nil
}

func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		_ = godotenv.Load(p)
	}
}

func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
	}
	return path
}
