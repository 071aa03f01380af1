package servers

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/config"
	"github.com/tombee/toolhub/internal/mcp"
	"github.com/tombee/toolhub/internal/secrets"
)

func newValidateCommand(opts shared.OrchestratorOptions) *cobra.Command {
	var probe bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check server descriptors without connecting",
		Long: `Check the config file and every server descriptor in it.

Checks:
- The config file parses and its settings are in range
- Server IDs are unique
- stdio servers have a command, sse and websocket servers an absolute URL
- Secret references in headers and env resolve (with --probe)
- sse servers answer a HEAD request (with --probe)

Examples:
  toolhub servers validate
  toolhub servers validate --probe --config ./toolhub.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.Context(), cmd.OutOrStdout(), probe, opts)
		},
	}

	cmd.Flags().BoolVar(&probe, "probe", false, "Resolve secrets and run the reachability probe")
	return cmd
}

type validateResult struct {
	ID     string           `json:"id"`
	Valid  bool             `json:"valid"`
	Error  string           `json:"error,omitempty"`
	Probe  *mcp.ProbeResult `json:"probe,omitempty"`
	Secret string           `json:"secret_error,omitempty"`
}

type validateResponse struct {
	shared.JSONResponse
	Path    string           `json:"path,omitempty"`
	Servers []validateResult `json:"servers"`
}

func runValidate(ctx context.Context, out io.Writer, probe bool, opts shared.OrchestratorOptions) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		if shared.GetJSON() {
			_ = shared.EmitJSONError(out, "servers validate", configErrors(err))
		}
		return err
	}

	var prober mcp.ReachabilityChecker
	if probe {
		prober = opts.Prober
		if prober == nil {
			logger := shared.NewLogger(cfg, io.Discard)
			httpClient, err := shared.NewHTTPClient(logger)
			if err != nil {
				return fmt.Errorf("failed to create http client: %w", err)
			}
			prober = mcp.NewProber(httpClient, 0, logger)
		}
	}
	resolver := secrets.NewResolver(nil, nil)

	results := make([]validateResult, 0, len(cfg.Servers))
	problems := 0
	for _, desc := range cfg.Servers {
		r := validateResult{ID: desc.ID, Valid: true}
		if probe {
			resolved, err := config.ResolveServer(ctx, resolver, desc)
			if err != nil {
				r.Valid = false
				r.Secret = err.Error()
			} else {
				p := prober.Probe(ctx, resolved)
				r.Probe = &p
				if !p.Reachable {
					r.Valid = false
				}
			}
		}
		if !r.Valid {
			problems++
		}
		results = append(results, r)
	}

	if shared.GetJSON() {
		resp := validateResponse{
			JSONResponse: shared.NewJSONResponse("servers validate"),
			Path:         cfg.Path(),
			Servers:      results,
		}
		resp.Success = problems == 0
		if err := shared.EmitJSON(out, resp); err != nil {
			return err
		}
	} else {
		printResults(out, cfg.Path(), results)
	}

	if problems > 0 {
		return &shared.ExitError{Code: shared.ExitUnavailable, Message: fmt.Sprintf("%d server(s) failed validation", problems)}
	}
	return nil
}

func printResults(out io.Writer, path string, results []validateResult) {
	if path == "" {
		path = "(defaults)"
	}
	fmt.Fprintf(out, "Config: %s\n\n", path)
	if len(results) == 0 {
		fmt.Fprintln(out, "No servers configured.")
		return
	}
	for _, r := range results {
		switch {
		case r.Secret != "":
			fmt.Fprintln(out, shared.RenderError(fmt.Sprintf("%s: %s", r.ID, r.Secret)))
		case r.Probe == nil:
			fmt.Fprintln(out, shared.RenderOK(r.ID))
		case r.Probe.Reachable && r.Probe.Authority != mcp.ProbeAuthoritative:
			fmt.Fprintln(out, shared.RenderWarn(fmt.Sprintf("%s: %s (%s)", r.ID, r.Probe.Message, r.Probe.Authority)))
		case r.Probe.Reachable:
			fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s: %s", r.ID, r.Probe.Message)))
		default:
			fmt.Fprintln(out, shared.RenderError(fmt.Sprintf("%s: %s", r.ID, r.Probe.Message)))
		}
	}
}

// configErrors describes a config load failure for --json output.
func configErrors(err error) []shared.JSONError {
	je := shared.JSONError{Code: "INVALID_CONFIG", Message: err.Error()}
	if mcpErr := mcp.GetMCPError(err); mcpErr != nil {
		je.ServerID = mcpErr.ServerID
		je.Suggestion = mcpErr.Suggestion()
	}
	return []shared.JSONError{je}
}
