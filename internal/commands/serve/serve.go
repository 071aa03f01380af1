// Package serve implements the serve command, which runs the HTTP API.
package serve

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/toolhub/internal/api"
	"github.com/tombee/toolhub/internal/bridge"
	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/config"
	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/secrets"
	"github.com/tombee/toolhub/internal/tracing"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	listen   string
	noWatch  bool
	traceOut bool
}

// NewCommand creates the serve command.
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the toolhub HTTP API",
		Long: `Start the HTTP API used by the chat client.

Configured servers are connected at startup. When the config file changes
the server list is reconciled without a restart: removed servers are
disconnected, new ones connected and changed ones reconnected.`,
		Example: `  # Serve with the default config
  toolhub serve

  # Serve on another address with an explicit config
  toolhub serve --listen :9000 --config ./toolhub.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "Address to listen on (overrides config)")
	cmd.Flags().BoolVar(&opts.noWatch, "no-watch", false, "Do not reload the config file on change")
	cmd.Flags().BoolVar(&opts.traceOut, "trace-frames", false, "Write websocket frames to stderr")

	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}

	logger := shared.NewLogger(cfg, os.Stderr)
	v, _, _ := shared.GetVersion()
	logger.Info("toolhub starting", "version", v, "config", cfg.Path())

	provider, err := tracing.Setup(tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		Output:         os.Stderr,
		ServiceName:    "toolhub",
		ServiceVersion: v,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	httpClient, err := shared.NewHTTPClient(logger)
	if err != nil {
		return fmt.Errorf("failed to create http client: %w", err)
	}

	var orchOpts shared.OrchestratorOptions
	if opts.traceOut {
		orchOpts.Trace = os.Stderr
	}
	orch := shared.NewOrchestrator(cfg, httpClient, logger, orchOpts)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		orch.Close(shutdownCtx)
	}()

	applied, result, err := shared.ConnectConfigured(ctx, orch, cfg)
	if err != nil {
		return err
	}
	logReconcile(logger, result)

	if !opts.noWatch && cfg.Path() != "" {
		r := &reloader{orch: orch, applied: applied, resolver: secrets.NewResolver(nil, nil), logger: logger}
		watcher, err := config.NewWatcher(config.WatcherConfig{
			Initial:  cfg,
			OnChange: r.onChange,
			Logger:   logger,
		})
		if err != nil {
			logger.Warn("config reload disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	bridgeClient := bridge.NewClient(cfg.Bridge.URL, httpClient, logger)
	bridgeClient.StartHealthLoop(ctx, cfg.Bridge.HealthInterval)

	srv := api.New(api.Config{
		Listen:         cfg.Listen,
		Version:        v,
		AllowedOrigins: cfg.CORSOrigins,
		CallRate:       cfg.Limits.CallRate,
		CallBurst:      cfg.Limits.CallBurst,
		ReadTimeout:    api.DefaultConfig().ReadTimeout,
		Logger:         logger,
	}, orch, bridgeClient)

	logger.Info("toolhub ready", "listen", cfg.Listen, "servers", orch.Summary().Total, "bridge", cfg.Bridge.URL)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// reloader applies server list changes from the config watcher.
type reloader struct {
	mu       sync.Mutex
	orch     *mcp.Orchestrator
	applied  []mcp.ServerDescriptor
	resolver *secrets.Resolver
	logger   *slog.Logger
}

func (r *reloader) onChange(ctx context.Context, _, current *config.Config) {
	desired, err := current.ResolveServers(ctx, r.resolver)
	if err != nil {
		r.logger.Error("config reload skipped", "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	result := r.orch.Reconcile(ctx, r.applied, desired)
	r.applied = desired
	logReconcile(r.logger, result)
}

func logReconcile(logger *slog.Logger, result mcp.ReconcileResult) {
	for id, err := range result.Failed {
		logger.Warn("server not connected", "server_id", id, "error", err)
	}
	if len(result.Added) > 0 || len(result.Removed) > 0 {
		logger.Info("servers reconciled", "added", result.Added, "removed", result.Removed, "failed", len(result.Failed))
	}
}
