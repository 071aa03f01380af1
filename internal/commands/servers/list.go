package servers

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/mcp"
)

func newListCommand(opts shared.OrchestratorOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Connect to every configured server and show its state",
		Long: `Connect to every configured server and show its state.

Servers that fail to connect are listed as failed with the reason.

Examples:
  toolhub servers list
  toolhub servers list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
}

type listResponse struct {
	shared.JSONResponse
	Servers []mcp.SessionInfo `json:"servers"`
	Failed  map[string]string `json:"failed,omitempty"`
	Summary mcp.Summary       `json:"summary"`
}

func runList(ctx context.Context, out io.Writer, opts shared.OrchestratorOptions) error {
	rt, err := shared.OpenRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	// Refresh so tool counts are populated.
	rt.Orchestrator.RefreshTools(ctx)
	servers := rt.Orchestrator.Servers()

	failed := make(map[string]string, len(rt.Connect.Failed))
	for id, err := range rt.Connect.Failed {
		failed[id] = err.Error()
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, listResponse{
			JSONResponse: shared.NewJSONResponse("servers list"),
			Servers:      servers,
			Failed:       failed,
			Summary:      rt.Orchestrator.Summary(),
		})
	}

	if len(servers) == 0 && len(failed) == 0 {
		fmt.Fprintln(out, "No servers configured.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTRANSPORT\tSTATE\tTOOLS\tDETAIL")
	for _, s := range servers {
		tools := "-"
		if s.ToolCount != nil {
			tools = strconv.Itoa(*s.ToolCount)
		}
		detail := s.LastError
		if detail == "" {
			detail = s.Probe.Message
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Server.ID, s.Server.Transport, shared.RenderState(s), tools, detail)
	}

	ids := make([]string, 0, len(failed))
	for id := range failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, transportOf(rt.Config.Servers, id), shared.StatusError.Render("failed"), "-", failed[id])
	}
	return tw.Flush()
}

func transportOf(descs []mcp.ServerDescriptor, id string) mcp.TransportType {
	for _, d := range descs {
		if d.ID == id {
			return d.Transport
		}
	}
	return ""
}
