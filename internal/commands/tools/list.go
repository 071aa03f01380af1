package tools

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/mcp"
)

const descriptionWidth = 72

func newListCommand(opts shared.OrchestratorOptions) *cobra.Command {
	var serverID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tools of every connected server",
		Long: `List the aggregated tool catalog of the configured servers.

Servers that fail to connect are reported on stderr and left out.

Examples:
  toolhub tools list
  toolhub tools list --server fs
  toolhub tools list --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), serverID, opts)
		},
	}

	cmd.Flags().StringVar(&serverID, "server", "", "Only list tools of this server")
	return cmd
}

type listResponse struct {
	shared.JSONResponse
	Servers mcp.Catalog       `json:"servers"`
	Failed  map[string]string `json:"failed,omitempty"`
}

func runList(ctx context.Context, out, errOut io.Writer, serverID string, opts shared.OrchestratorOptions) error {
	rt, err := shared.OpenRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	var catalog mcp.Catalog
	if serverID != "" {
		tools, err := rt.Orchestrator.ListTools(ctx, serverID)
		if err != nil {
			return shared.NewToolError("failed to list tools", err)
		}
		catalog = mcp.Catalog{{ServerID: serverID, Tools: tools}}
	} else {
		catalog = rt.Orchestrator.GetAllTools(ctx)
	}

	failed := make(map[string]string, len(rt.Connect.Failed))
	for id, err := range rt.Connect.Failed {
		failed[id] = err.Error()
	}

	if shared.GetJSON() {
		if catalog == nil {
			catalog = mcp.Catalog{}
		}
		return shared.EmitJSON(out, listResponse{
			JSONResponse: shared.NewJSONResponse("tools list"),
			Servers:      catalog,
			Failed:       failed,
		})
	}

	for id, msg := range failed {
		fmt.Fprintln(errOut, shared.RenderWarn(fmt.Sprintf("%s: %s", id, msg)))
	}

	if !shared.IsTerminal(out) {
		for _, t := range catalog.Flatten() {
			fmt.Fprintf(out, "%s\t%s\t%s\n", t.ServerID, t.Tool.Name, t.Tool.Description)
		}
		return nil
	}

	if len(catalog.Flatten()) == 0 {
		fmt.Fprintln(out, "No tools available.")
		return nil
	}

	desc := lipgloss.NewStyle().Width(descriptionWidth).PaddingLeft(4).Inherit(shared.Muted)
	for _, st := range catalog {
		fmt.Fprintln(out, shared.Header.Render(st.ServerID))
		for _, t := range st.Tools {
			fmt.Fprintf(out, "  %s\n", mcp.ToolKey(st.ServerID, t.Name))
			if t.Description != "" {
				fmt.Fprintln(out, desc.Render(t.Description))
			}
		}
		fmt.Fprintln(out)
	}
	return nil
}
