// Package servers implements the servers command group.
package servers

import (
	"github.com/spf13/cobra"

	"github.com/tombee/toolhub/internal/commands/shared"
)

// NewCommand creates the servers command group.
func NewCommand() *cobra.Command {
	return newCommand(shared.OrchestratorOptions{})
}

func newCommand(opts shared.OrchestratorOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect the configured tool servers",
		Long: `Inspect the tool servers listed in the config file.

Commands:
  list      Connect to every server and show its state
  validate  Check server descriptors without connecting`,
	}

	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	return cmd
}
