package mcp

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_Wraps(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 1; i <= 5; i++ {
		rb.Add(LogEntry{Message: fmt.Sprintf("line %d", i)})
	}

	assert.Equal(t, 3, rb.Count())
	all := rb.Last(0)
	require.Len(t, all, 3)
	assert.Equal(t, "line 3", all[0].Message)
	assert.Equal(t, "line 5", all[2].Message)

	last := rb.Last(2)
	require.Len(t, last, 2)
	assert.Equal(t, "line 4", last[0].Message)

	assert.Len(t, rb.Last(10), 3)
}

func TestRingBuffer_Capture(t *testing.T) {
	rb := NewRingBuffer(10)
	input := "starting up\n\nWARN disk almost full\nlevel=ERROR msg=boom\n"
	rb.capture(strings.NewReader(input), "stderr")

	entries := rb.Last(0)
	require.Len(t, entries, 3)
	assert.Equal(t, LogLevelInfo, entries[0].Level)
	assert.Equal(t, LogLevelWarn, entries[1].Level)
	assert.Equal(t, LogLevelError, entries[2].Level)
	assert.Equal(t, "stderr", entries[2].Source)
}
