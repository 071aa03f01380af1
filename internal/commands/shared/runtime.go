package shared

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/tombee/toolhub/internal/config"
	"github.com/tombee/toolhub/internal/log"
	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/secrets"
	"github.com/tombee/toolhub/pkg/httpclient"
)

// LoadConfig loads the config named by --config, or the XDG default.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, NewConfigError("failed to load config", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger. Settings come from the config file,
// then the log environment variables, then --verbose or --quiet.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	lc := log.DefaultConfig()
	lc.Output = w
	if cfg.Log.Level != "" {
		lc.Level = cfg.Log.Level
	}
	if cfg.Log.Format != "" {
		lc.Format = log.Format(cfg.Log.Format)
	}

	env := log.FromEnv()
	if envSet("TOOLHUB_DEBUG", "TOOLHUB_LOG_LEVEL", "LOG_LEVEL") {
		lc.Level = env.Level
	}
	if envSet("LOG_FORMAT") {
		lc.Format = env.Format
	}
	lc.AddSource = env.AddSource

	switch {
	case GetVerbose():
		lc.Level = "debug"
	case GetQuiet():
		lc.Level = "error"
	}
	return log.New(lc)
}

func envSet(keys ...string) bool {
	for _, k := range keys {
		if os.Getenv(k) != "" {
			return true
		}
	}
	return false
}

// NewHTTPClient returns the shared outbound client used for probes, sse
// servers and the bridge.
func NewHTTPClient(logger *slog.Logger) (*http.Client, error) {
	hc := httpclient.DefaultConfig()
	v, _, _ := GetVersion()
	hc.UserAgent = "toolhub/" + v
	hc.Logger = logger
	return httpclient.New(hc)
}

// OrchestratorOptions tunes NewOrchestrator for one command.
type OrchestratorOptions struct {
	// Trace receives websocket frames when set.
	Trace io.Writer

	// Dialer and Prober replace the production transports (tests).
	Dialer mcp.Dialer
	Prober mcp.ReachabilityChecker
}

// NewOrchestrator builds an orchestrator from cfg.
func NewOrchestrator(cfg *config.Config, httpClient *http.Client, logger *slog.Logger, opts OrchestratorOptions) *mcp.Orchestrator {
	v, _, _ := GetVersion()
	return mcp.New(mcp.Config{
		HTTPClient:     httpClient,
		ClientInfo:     mcp.ClientInfo{Name: "toolhub", Version: v},
		ConnectTimeout: cfg.Timeouts.Connect,
		CallTimeout:    cfg.Timeouts.Call,
		SerializeCalls: cfg.SerializeCalls,
		Trace:          opts.Trace,
		Dialer:         opts.Dialer,
		Prober:         opts.Prober,
		Logger:         logger,
	})
}

// ConnectConfigured resolves secrets in the configured servers and adds
// them to orch. Servers that fail to connect are reported in the result
// and do not stop the others.
func ConnectConfigured(ctx context.Context, orch *mcp.Orchestrator, cfg *config.Config) ([]mcp.ServerDescriptor, mcp.ReconcileResult, error) {
	servers, err := cfg.ResolveServers(ctx, secrets.NewResolver(nil, nil))
	if err != nil {
		return nil, mcp.ReconcileResult{}, NewConfigError("failed to resolve server secrets", err)
	}
	return servers, orch.Reconcile(ctx, nil, servers), nil
}

// Runtime is what a one-shot command needs to talk to the configured
// servers without a running API.
type Runtime struct {
	Config       *config.Config
	Logger       *slog.Logger
	HTTPClient   *http.Client
	Orchestrator *mcp.Orchestrator
	Connect      mcp.ReconcileResult
}

// OpenRuntime loads the config, connects every configured server and
// returns the result. Logs go to stderr. Callers must Close it.
func OpenRuntime(ctx context.Context, opts OrchestratorOptions) (*Runtime, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg, os.Stderr)

	httpClient, err := NewHTTPClient(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create http client: %w", err)
	}

	orch := NewOrchestrator(cfg, httpClient, logger, opts)
	_, result, err := ConnectConfigured(ctx, orch, cfg)
	if err != nil {
		orch.Close(ctx)
		return nil, err
	}
	return &Runtime{Config: cfg, Logger: logger, HTTPClient: httpClient, Orchestrator: orch, Connect: result}, nil
}

// Close disconnects every server, killing stdio processes.
func (r *Runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r.Orchestrator.Close(ctx)
}
