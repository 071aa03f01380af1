package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/exec"
	"time"
)

// ProbeAuthority says how much weight a probe result carries.
type ProbeAuthority string

const (
	// ProbeAuthoritative results decide whether a session can be created.
	ProbeAuthoritative ProbeAuthority = "authoritative"
	// ProbeAdvisory results are logged but the connection proceeds regardless.
	ProbeAdvisory ProbeAuthority = "advisory"
	// ProbeVacuous results carry no reachability information.
	ProbeVacuous ProbeAuthority = "vacuous"
)

// ProbeResult describes a pre-connection reachability check.
type ProbeResult struct {
	Reachable bool           `json:"reachable"`
	Authority ProbeAuthority `json:"authority"`
	Message   string         `json:"message,omitempty"`
	Latency   time.Duration  `json:"latency"`
}

// ReachabilityChecker runs the pre-connection check for a descriptor.
type ReachabilityChecker interface {
	Probe(ctx context.Context, desc ServerDescriptor) ProbeResult
}

// DefaultProbeTimeout bounds the SSE reachability check.
const DefaultProbeTimeout = 5 * time.Second

// Prober checks whether a server looks reachable before a session is
// established. It never returns an error; failures are encoded in the result.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewProber creates a prober. A nil client uses http.DefaultClient.
func NewProber(client *http.Client, timeout time.Duration, logger *slog.Logger) *Prober {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{client: client, timeout: timeout, logger: logger}
}

// Probe checks reachability according to the descriptor's transport.
func (p *Prober) Probe(ctx context.Context, desc ServerDescriptor) ProbeResult {
	start := time.Now()
	var result ProbeResult

	switch desc.Transport {
	case TransportStdio:
		result = p.probeStdio(desc)
	case TransportSSE:
		result = p.probeSSE(ctx, desc)
	case TransportWebSocket:
		result = p.probeWebSocket(desc)
	default:
		result = ProbeResult{
			Authority: ProbeAuthoritative,
			Message:   fmt.Sprintf("unknown transport %q", desc.Transport),
		}
	}

	result.Latency = time.Since(start)
	p.logger.Debug("probe finished",
		"server_id", desc.ID,
		"transport", string(desc.Transport),
		"reachable", result.Reachable,
		"authority", string(result.Authority),
		"duration_ms", result.Latency.Milliseconds(),
	)
	return result
}

// probeStdio only resolves the command. Launching the process and completing
// the initialize handshake is the real check and belongs to the dialer.
func (p *Prober) probeStdio(desc ServerDescriptor) ProbeResult {
	path, err := exec.LookPath(desc.Command)
	if err != nil {
		return ProbeResult{
			Reachable: false,
			Authority: ProbeAuthoritative,
			Message:   fmt.Sprintf("command %q not found: %v", desc.Command, err),
		}
	}
	return ProbeResult{
		Reachable: true,
		Authority: ProbeAuthoritative,
		Message:   "command resolved to " + path,
	}
}

func (p *Prober) probeSSE(ctx context.Context, desc ServerDescriptor) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, desc.URL, nil)
	if err != nil {
		return ProbeResult{Authority: ProbeAdvisory, Message: "build probe request: " + err.Error()}
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range desc.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return ProbeResult{Authority: ProbeAdvisory, Message: "probe request failed: " + err.Error()}
	}
	resp.Body.Close()

	// Some SSE servers only accept GET; a 405 still proves something is listening.
	if resp.StatusCode/100 == 2 || resp.StatusCode == http.StatusMethodNotAllowed {
		return ProbeResult{
			Reachable: true,
			Authority: ProbeAdvisory,
			Message:   fmt.Sprintf("HEAD returned %d", resp.StatusCode),
		}
	}
	return ProbeResult{
		Authority: ProbeAdvisory,
		Message:   fmt.Sprintf("HEAD returned %d", resp.StatusCode),
	}
}

func (p *Prober) probeWebSocket(desc ServerDescriptor) ProbeResult {
	u, err := url.Parse(desc.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return ProbeResult{
			Authority: ProbeAuthoritative,
			Message:   "websocket url must use ws or wss scheme",
		}
	}
	return ProbeResult{
		Reachable: true,
		Authority: ProbeVacuous,
		Message:   "reachability unknown until first use",
	}
}
