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

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/secrets"
)

const sampleYAML = `
listen: 127.0.0.1:9999
bridge:
  url: http://localhost:4000
  health_interval: 5s
timeouts:
  call: 10s
serialize_calls: true
servers:
  - id: fs
    name: Files
    transport: stdio
    command: fs-server
    args: ["--root", "/tmp"]
    env: ["API_TOKEN=${FS_TOKEN}"]
  - id: github
    transport: sse
    url: https://tools.example.com/github
    headers:
      Authorization: "Bearer ${GH_TOKEN}"
    timeout: 60
`

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func clearOverrides(t *testing.T) {
	t.Helper()
	t.Setenv(EnvListen, "")
	os.Unsetenv(EnvListen)
	t.Setenv(EnvBridgeURL, "")
	os.Unsetenv(EnvBridgeURL)
}

func TestLoad(t *testing.T) {
	clearOverrides(t)
	path := writeConfig(t, t.TempDir(), sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path())
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
	assert.Equal(t, "http://localhost:4000", cfg.Bridge.URL)
	assert.Equal(t, 5*time.Second, cfg.Bridge.HealthInterval)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Call)
	assert.Equal(t, mcp.DefaultConnectTimeout, cfg.Timeouts.Connect, "unset values get defaults")
	assert.True(t, cfg.SerializeCalls)

	require.Len(t, cfg.Servers, 2)
	assert.Equal(t, mcp.TransportStdio, cfg.Servers[0].Transport)
	assert.Equal(t, []string{"--root", "/tmp"}, cfg.Servers[0].Args)
	assert.Equal(t, 60, cfg.Servers[1].Timeout)
}

func TestLoad_DefaultPathMissing(t *testing.T) {
	clearOverrides(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "", cfg.Path())
	assert.Equal(t, Default().Listen, cfg.Listen)
	assert.Empty(t, cfg.Servers)
}

func TestLoad_DefaultPathPresent(t *testing.T) {
	clearOverrides(t)
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	require.NoError(t, os.MkdirAll(filepath.Join(xdg, "toolhub"), 0700))
	writeConfig(t, filepath.Join(xdg, "toolhub"), "listen: 0.0.0.0:1\n")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:1", cfg.Listen)
}

func TestLoad_ExplicitPathMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config_file", cfgErr.Key)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), sampleYAML)
	t.Setenv(EnvListen, "127.0.0.1:7000")
	t.Setenv(EnvBridgeURL, "")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Listen)
	assert.Equal(t, "", cfg.Bridge.URL, "an empty override disables the bridge")
}

func TestLoad_DotEnv(t *testing.T) {
	clearOverrides(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "servers: []\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TOOLHUB_LISTEN=127.0.0.1:6000\n"), 0600))
	t.Cleanup(func() { os.Unsetenv(EnvListen) })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", cfg.Listen)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantKey string
	}{
		{name: "bad yaml", yaml: "servers: [", wantKey: "config_file"},
		{name: "invalid server", yaml: "servers:\n  - id: x\n    transport: stdio\n", wantKey: "servers[0]"},
		{name: "duplicate id", yaml: "servers:\n  - {id: a, transport: stdio, command: a}\n  - {id: a, transport: stdio, command: b}\n", wantKey: "servers[1]"},
		{name: "negative rate", yaml: "limits:\n  call_rate: -1\n", wantKey: "limits.call_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.wantKey, cfgErr.Key)
		})
	}
}

func TestParse_InvalidServerMatchesSentinels(t *testing.T) {
	_, err := Parse([]byte("servers:\n  - id: x\n    transport: carrier-pigeon\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, mcp.ErrInvalidDescriptor)
}

type staticBackend map[string]string

func (s staticBackend) Name() string { return "static" }

func (s staticBackend) Get(ctx context.Context, key string) (string, error) {
	if v, ok := s[key]; ok {
		return v, nil
	}
	return "", secrets.ErrSecretNotFound
}

func TestResolveServers(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	r := secrets.NewResolver(staticBackend{"FS_TOKEN": "fs-1", "GH_TOKEN": "gh-2"}, staticBackend{})
	servers, err := cfg.ResolveServers(context.Background(), r)
	require.NoError(t, err)

	assert.Equal(t, []string{"API_TOKEN=fs-1"}, servers[0].Env)
	assert.Equal(t, "Bearer gh-2", servers[1].Headers["Authorization"])
	assert.Equal(t, "Bearer ${GH_TOKEN}", cfg.Servers[1].Headers["Authorization"], "config is not modified")

	_, err = cfg.ResolveServers(context.Background(), secrets.NewResolver(staticBackend{}, staticBackend{}))
	assert.ErrorIs(t, err, secrets.ErrSecretNotFound)
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	clearOverrides(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "servers:\n  - {id: a, transport: stdio, command: a}\n")
	initial, err := Load(path)
	require.NoError(t, err)

	var mu sync.Mutex
	var changes [][2]int
	w, err := NewWatcher(WatcherConfig{
		Initial:       initial,
		DebounceDelay: 20 * time.Millisecond,
		OnChange: func(ctx context.Context, prev, cur *Config) {
			mu.Lock()
			defer mu.Unlock()
			changes = append(changes, [2]int{len(prev.Servers), len(cur.Servers)})
		},
	})
	require.NoError(t, err)
	defer w.Close()

	// An invalid file is ignored.
	writeConfig(t, dir, "servers: [")
	time.Sleep(100 * time.Millisecond)
	assert.Same(t, initial, w.Current())

	writeConfig(t, dir, "servers:\n  - {id: a, transport: stdio, command: a}\n  - {id: b, transport: stdio, command: b}\n")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(changes) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, [2]int{1, 2}, changes[len(changes)-1])
	mu.Unlock()
	assert.Len(t, w.Current().Servers, 2)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	clearOverrides(t)
	dir := t.TempDir()
	path := writeConfig(t, dir, "servers: []\n")
	initial, err := Load(path)
	require.NoError(t, err)

	called := make(chan struct{}, 1)
	w, err := NewWatcher(WatcherConfig{
		Initial:       initial,
		DebounceDelay: 10 * time.Millisecond,
		OnChange:      func(context.Context, *Config, *Config) { called <- struct{}{} },
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0600))

	select {
	case <-called:
		t.Fatal("unexpected reload")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestNewWatcher_RequiresFile(t *testing.T) {
	_, err := NewWatcher(WatcherConfig{Initial: Default(), OnChange: func(context.Context, *Config, *Config) {}})
	assert.Error(t, err)

	_, err = NewWatcher(WatcherConfig{})
	assert.Error(t, err)
}
