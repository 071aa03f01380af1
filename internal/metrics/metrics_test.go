package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordToolCall(t *testing.T) {
	before := testutil.ToFloat64(toolCalls.WithLabelValues("sse", OutcomeTimeout))
	RecordToolCall("sse", OutcomeTimeout, 30*time.Second)
	assert.Equal(t, before+1, testutil.ToFloat64(toolCalls.WithLabelValues("sse", OutcomeTimeout)))
}

func TestSessionGauge(t *testing.T) {
	g := sessions.WithLabelValues("websocket")
	start := testutil.ToFloat64(g)

	SessionAdded("websocket")
	SessionAdded("websocket")
	SessionRemoved("websocket")
	assert.Equal(t, start+1, testutil.ToFloat64(g))
}

func TestRecordBridgeFallback(t *testing.T) {
	c := bridgeFallbacks.WithLabelValues("read_file", "unhealthy")
	before := testutil.ToFloat64(c)
	RecordBridgeFallback("read_file", "unhealthy")
	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestRecordConnectAndCatalogFailure(t *testing.T) {
	c := connectAttempts.WithLabelValues("stdio", OutcomeRejected)
	before := testutil.ToFloat64(c)
	RecordConnect("stdio", OutcomeRejected)
	assert.Equal(t, before+1, testutil.ToFloat64(c))

	f := catalogFailures.WithLabelValues("stdio")
	before = testutil.ToFloat64(f)
	RecordCatalogFailure("stdio")
	assert.Equal(t, before+1, testutil.ToFloat64(f))
}
