package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/toolhub/internal/metrics"
)

// DefaultCallTimeout applies when a descriptor sets no timeout.
const DefaultCallTimeout = 30 * time.Second

// pingTimeout bounds the liveness check after a failed call.
const pingTimeout = 2 * time.Second

// Dispatcher routes tool calls to the session's transport. Calls are
// at-most-once: nothing is retried.
type Dispatcher struct {
	registry  *Registry
	validator *SchemaValidator
	timeout   time.Duration
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. timeout is the default per-call
// timeout; zero uses DefaultCallTimeout.
func NewDispatcher(reg *Registry, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Dispatcher{
		registry:  reg,
		validator: &SchemaValidator{},
		timeout:   timeout,
		tracer:    otel.Tracer("toolhub.mcp"),
		logger:    logger,
	}
}

// Call invokes toolName on serverID. A missing, failed or disabled server
// fails with ErrServerNotConnected before any transport call. A tool absent
// from a populated catalog fails with ErrToolNotFound. Everything else that
// goes wrong is an ErrToolInvocation.
func (d *Dispatcher) Call(ctx context.Context, serverID, toolName string, args map[string]any) (*ToolResult, error) {
	sess, ok := d.registry.session(serverID)
	if !ok {
		return nil, ErrNotConnected(serverID)
	}
	conn, ok := sess.usable()
	if !ok {
		return nil, ErrNotConnected(serverID)
	}

	desc := sess.Descriptor()
	transport := string(desc.Transport)
	logger := d.logger.With("server_id", serverID, "tool", toolName, "transport", transport)

	if tools, fetched := sess.cachedTools(); fetched && len(tools) > 0 {
		tool, found := findTool(tools, toolName)
		if !found {
			metrics.RecordToolCall(transport, metrics.OutcomeRejected, 0)
			return nil, ErrUnknownTool(serverID, toolName)
		}
		if err := d.validator.Validate(tool.InputSchema, args); err != nil {
			logger.Warn("arguments do not match tool input schema", "error", err)
		}
	}

	ctx, span := d.tracer.Start(ctx, "mcp.call_tool",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mcp.server_id", serverID),
			attribute.String("mcp.tool", toolName),
			attribute.String("mcp.transport", transport),
		),
	)
	defer span.End()

	if sess.queue != nil {
		if err := sess.queue.acquire(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "queue wait cancelled")
			return nil, ErrInvocation(serverID, toolName, err)
		}
		defer sess.queue.release()
	}

	timeout := desc.CallTimeout(d.timeout)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := conn.CallTool(callCtx, toolName, args)
	elapsed := time.Since(start)

	if err != nil {
		outcome := metrics.OutcomeError
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			outcome = metrics.OutcomeTimeout
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		} else {
			d.checkAlive(ctx, sess, conn, logger)
		}
		metrics.RecordToolCall(transport, outcome, elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		logger.Warn("tool call failed", "duration_ms", elapsed.Milliseconds(), "error", err)
		return nil, ErrInvocation(serverID, toolName, err)
	}

	metrics.RecordToolCall(transport, metrics.OutcomeSuccess, elapsed)
	span.SetStatus(codes.Ok, "")
	logger.Debug("tool call completed", "duration_ms", elapsed.Milliseconds())
	return result, nil
}

// checkAlive pings after a non-timeout failure and records a missing answer
// as the session's last error. State is left unchanged. Websocket
// connections do not implement Pinger because they redial on the next
// request.
func (d *Dispatcher) checkAlive(ctx context.Context, sess *Session, conn Conn, logger *slog.Logger) {
	pinger, ok := conn.(Pinger)
	if !ok {
		return
	}
	pingCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pingTimeout)
	defer cancel()

	if err := pinger.Ping(pingCtx); err != nil {
		logger.Warn("server did not answer ping", "error", err)
		sess.noteError(err)
	}
}

func findTool(tools []ToolDescriptor, name string) (ToolDescriptor, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return ToolDescriptor{}, false
}
