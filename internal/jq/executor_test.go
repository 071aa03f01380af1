package jq

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/toolhub/internal/mcp"
)

func TestExecutor_Execute(t *testing.T) {
	result := &mcp.ToolResult{
		Content: []mcp.ContentItem{
			{Type: "text", Text: "first"},
			{Type: "text", Text: "second"},
		},
	}

	tests := []struct {
		name       string
		expression string
		data       any
		want       any
		wantErr    string
	}{
		{
			name:       "empty expression returns data unchanged",
			expression: "",
			data:       map[string]any{"foo": "bar"},
			want:       map[string]any{"foo": "bar"},
		},
		{
			name:       "field of plain map",
			expression: ".foo",
			data:       map[string]any{"foo": "bar"},
			want:       "bar",
		},
		{
			name:       "tool result struct is normalized",
			expression: ".content[0].text",
			data:       result,
			want:       "first",
		},
		{
			name:       "multiple outputs collected",
			expression: ".content[].text",
			data:       result,
			want:       []any{"first", "second"},
		},
		{
			name:       "numbers become float64",
			expression: "map(.x)",
			data:       []map[string]int{{"x": 1}, {"x": 2}},
			want:       []any{float64(1), float64(2)},
		},
		{
			name:       "empty output is nil",
			expression: "empty",
			data:       result,
			want:       nil,
		},
		{
			name:       "parse error",
			expression: ".[",
			data:       result,
			wantErr:    "invalid jq expression",
		},
		{
			name:       "runtime error",
			expression: ".content + 1",
			data:       result,
			wantErr:    "cannot add",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			executor := NewExecutor(0, 0)
			got, err := executor.Execute(context.Background(), tt.expression, tt.data)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecutor_Validate(t *testing.T) {
	executor := NewExecutor(0, 0)

	assert.NoError(t, executor.Validate(""))
	assert.NoError(t, executor.Validate(".content[] | select(.type == \"text\") | .text"))
	assert.Error(t, executor.Validate(".["))
	assert.Error(t, executor.Validate("undefined_function_xyz"))
}

func TestExecutor_InputSizeLimit(t *testing.T) {
	executor := NewExecutor(time.Second, 64)

	_, err := executor.Execute(context.Background(), ".", map[string]any{"blob": strings.Repeat("a", 100)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestExecutor_Timeout(t *testing.T) {
	executor := NewExecutor(50*time.Millisecond, 0)

	start := time.Now()
	_, err := executor.Execute(context.Background(), "while(true; . + 1)", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExecutor_UnmarshalableInput(t *testing.T) {
	executor := NewExecutor(0, 0)

	_, err := executor.Execute(context.Background(), ".", make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "marshal")
}
