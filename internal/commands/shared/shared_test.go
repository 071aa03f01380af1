package shared

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/config"
	"github.com/tombee/toolhub/internal/mcp"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitFailure},
		{"exit error", &ExitError{Code: 42, Message: "x"}, 42},
		{"invalid config", fmt.Errorf("load: %w", config.ErrInvalidConfig), ExitInvalidConfig},
		{"invalid descriptor", mcp.ErrInvalidServerDescriptor("a", "no command"), ExitInvalidConfig},
		{"duplicate", mcp.ErrServerAlreadyExists("a"), ExitInvalidConfig},
		{"not connected", mcp.ErrNotConnected("a"), ExitUnavailable},
		{"connection failed", mcp.ErrConnectionFailure("a", errors.New("refused")), ExitUnavailable},
		{"unknown tool", mcp.ErrUnknownTool("a", "t"), ExitToolFailed},
		{"invocation", mcp.ErrInvocation("a", "t", errors.New("500")), ExitToolFailed},
		{"tool error keeps cause code", NewToolError("call failed", mcp.ErrUnknownTool("a", "t")), ExitToolFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCodeFor(tt.err))
		})
	}
}

func TestReportError_PrintsSuggestion(t *testing.T) {
	var buf bytes.Buffer
	err := fmt.Errorf("calling tool: %w", mcp.ErrNotConnected("fs"))

	code := ReportError(&buf, err)

	assert.Equal(t, ExitUnavailable, code)
	assert.Contains(t, buf.String(), "Error: calling tool")
	assert.Contains(t, buf.String(), "Suggestion:")
}

func TestReportError_NoSuggestion(t *testing.T) {
	var buf bytes.Buffer
	code := ReportError(&buf, errors.New("boom"))

	assert.Equal(t, ExitFailure, code)
	assert.NotContains(t, buf.String(), "Suggestion")
}

func TestEmitJSONError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EmitJSONError(&buf, "tools call", []JSONError{{Code: "TOOL_NOT_FOUND", Message: "nope"}}))

	out := buf.String()
	assert.Contains(t, out, `"success": false`)
	assert.Contains(t, out, `"command": "tools call"`)
	assert.Contains(t, out, `"TOOL_NOT_FOUND"`)
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: 127.0.0.1:9999\n"), 0o600))

	restore := SetFlagsForTest(false, path)
	defer restore()

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Listen)
}

func TestLoadConfig_MissingExplicitPath(t *testing.T) {
	restore := SetFlagsForTest(false, filepath.Join(t.TempDir(), "nope.yaml"))
	defer restore()

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Equal(t, ExitInvalidConfig, ExitCodeFor(err))
}

func TestNewLogger_ConfigLevel(t *testing.T) {
	t.Setenv("TOOLHUB_DEBUG", "")
	t.Setenv("TOOLHUB_LOG_LEVEL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")

	cfg := config.Default()
	cfg.Log.Level = "warn"
	cfg.Log.Format = "json"

	var buf bytes.Buffer
	logger := NewLogger(cfg, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
}

func TestNewLogger_EnvOverridesConfig(t *testing.T) {
	t.Setenv("TOOLHUB_DEBUG", "")
	t.Setenv("TOOLHUB_LOG_LEVEL", "debug")

	cfg := config.Default()
	cfg.Log.Level = "error"

	var buf bytes.Buffer
	NewLogger(cfg, &buf).Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
