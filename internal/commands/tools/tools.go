// Package tools implements the tools command group, which lists and calls
// tools on the configured servers without a running API.
package tools

import (
	"github.com/spf13/cobra"

	"github.com/tombee/toolhub/internal/commands/shared"
)

// NewCommand creates the tools command group.
func NewCommand() *cobra.Command {
	return newCommand(shared.OrchestratorOptions{})
}

func newCommand(opts shared.OrchestratorOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List and call tools on the configured servers",
		Long: `List and call tools on the servers in the config file.

Each invocation connects to the configured servers, does its work and
disconnects again. Use 'toolhub serve' for a long-running API.

Commands:
  list      List tools of every connected server
  call      Call one tool`,
	}

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newCallCommand(opts))
	return cmd
}
