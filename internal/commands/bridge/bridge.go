// Package bridge implements the bridge command, which runs one file
// operation through the configured bridge.
package bridge

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tombee/toolhub/internal/bridge"
	"github.com/tombee/toolhub/internal/commands/shared"
)

// NewCommand creates the bridge command.
func NewCommand() *cobra.Command {
	var simulate bool

	cmd := &cobra.Command{
		Use:   "bridge <list_files|read_file|analyze_project> <path>",
		Short: "Run a file operation through the bridge",
		Long: `Run one file operation through the file-operations bridge.

When the bridge is unreachable the result is synthesized locally and
carries a note saying so. The command never fails because of the bridge.

Examples:
  toolhub bridge list_files ./src
  toolhub bridge read_file README.md --json
  toolhub bridge analyze_project . --simulate`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(bridge.OpListFiles), string(bridge.OpReadFile), string(bridge.OpAnalyzeProject)},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], simulate)
		},
	}

	cmd.Flags().BoolVar(&simulate, "simulate", false, "Skip the bridge and synthesize the result")
	return cmd
}

type response struct {
	shared.JSONResponse
	Operation bridge.Operation `json:"operation"`
	Simulated bool             `json:"simulated"`
	Result    bridge.Result    `json:"result"`
}

func run(ctx context.Context, out io.Writer, opName, path string, simulate bool) error {
	op, err := bridge.ParseOperation(opName)
	if err != nil {
		return err
	}

	cfg, err := shared.LoadConfig()
	if err != nil {
		return err
	}
	logger := shared.NewLogger(cfg, io.Discard)

	baseURL := cfg.Bridge.URL
	if simulate {
		baseURL = ""
	}
	httpClient, err := shared.NewHTTPClient(logger)
	if err != nil {
		return fmt.Errorf("failed to create http client: %w", err)
	}
	client := bridge.NewClient(baseURL, httpClient, logger)
	client.CheckHealth(ctx)

	result := client.Do(ctx, op, path)

	if shared.GetJSON() {
		return shared.EmitJSON(out, response{
			JSONResponse: shared.NewJSONResponse("bridge"),
			Operation:    op,
			Simulated:    result.Simulated(),
			Result:       result,
		})
	}

	if result.Simulated() {
		fmt.Fprintln(out, shared.RenderWarn(bridge.Note))
	}
	if content, ok := result["content"].(string); ok && op == bridge.OpReadFile {
		fmt.Fprint(out, content)
		return nil
	}
	return shared.EmitJSON(out, result)
}
