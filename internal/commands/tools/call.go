package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/toolhub/internal/commands/shared"
	"github.com/tombee/toolhub/internal/jq"
	"github.com/tombee/toolhub/internal/mcp"
)

type callOptions struct {
	argsJSON jsonObject
	args     []string
	query    string
	trace    bool
}

// jsonObject is a flag value holding a JSON object.
type jsonObject map[string]any

var _ pflag.Value = (*jsonObject)(nil)

func (j *jsonObject) String() string {
	if len(*j) == 0 {
		return ""
	}
	b, _ := json.Marshal(map[string]any(*j))
	return string(b)
}

func (j *jsonObject) Set(s string) error {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return fmt.Errorf("must be a JSON object: %w", err)
	}
	*j = m
	return nil
}

func (j *jsonObject) Type() string {
	return "json"
}

func newCallCommand(opts shared.OrchestratorOptions) *cobra.Command {
	var co callOptions

	cmd := &cobra.Command{
		Use:   "call <server> <tool>",
		Short: "Call one tool",
		Long: `Call a tool on a configured server and print the result.

Arguments come from --args as a JSON object, from repeated --arg key=value
pairs, or both (pairs win). Values of --arg are parsed as JSON when they
are valid JSON and used as strings otherwise.

--query filters the result with a jq expression before printing.

Examples:
  toolhub tools call fs read_file --arg path=README.md
  toolhub tools call calc add --args '{"a": 1, "b": 2}'
  toolhub tools call fs list --query '.content[].text'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := opts
			if co.trace {
				o.Trace = cmd.ErrOrStderr()
			}
			return runCall(cmd.Context(), cmd.OutOrStdout(), args[0], args[1], co, o)
		},
	}

	cmd.Flags().Var(&co.argsJSON, "args", "Tool arguments as a JSON object")
	cmd.Flags().StringArrayVarP(&co.args, "arg", "a", nil, "Tool argument as key=value (repeatable)")
	cmd.Flags().StringVarP(&co.query, "query", "Q", "", "jq expression applied to the result")
	cmd.Flags().BoolVar(&co.trace, "trace", false, "Write websocket frames to stderr")
	return cmd
}

type callResponse struct {
	shared.JSONResponse
	ServerID string `json:"server_id"`
	Tool     string `json:"tool"`
	Result   any    `json:"result"`
}

func runCall(ctx context.Context, out io.Writer, serverID, toolName string, co callOptions, opts shared.OrchestratorOptions) error {
	arguments, err := buildArguments(co.argsJSON, co.args)
	if err != nil {
		return &shared.ExitError{Code: shared.ExitFailure, Message: "invalid arguments", Cause: err}
	}

	filter := jq.NewExecutor(0, 0)
	if err := filter.Validate(co.query); err != nil {
		return &shared.ExitError{Code: shared.ExitFailure, Message: "invalid --query", Cause: err}
	}

	rt, err := shared.OpenRuntime(ctx, opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.Orchestrator.CallTool(ctx, serverID, toolName, arguments)
	if err != nil {
		if shared.GetJSON() {
			_ = shared.EmitJSONError(out, "tools call", []shared.JSONError{jsonError(serverID, err)})
		}
		return shared.NewToolError("tool call failed", err)
	}

	var output any = result
	if co.query != "" {
		output, err = filter.Execute(ctx, co.query, result)
		if err != nil {
			return &shared.ExitError{Code: shared.ExitFailure, Message: "query failed", Cause: err}
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, callResponse{
			JSONResponse: shared.NewJSONResponse("tools call"),
			ServerID:     serverID,
			Tool:         toolName,
			Result:       output,
		})
	}

	if co.query == "" {
		if text := result.Text(); text != "" {
			fmt.Fprintln(out, text)
			return nil
		}
	}
	if s, ok := output.(string); ok {
		fmt.Fprintln(out, s)
		return nil
	}
	return shared.EmitJSON(out, output)
}

// buildArguments merges a JSON object with key=value pairs.
func buildArguments(base map[string]any, pairs []string) (map[string]any, error) {
	args := make(map[string]any, len(base)+len(pairs))
	for k, v := range base {
		args[k] = v
	}
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--arg %q: expected key=value", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			args[key] = decoded
		} else {
			args[key] = value
		}
	}
	return args, nil
}

func jsonError(serverID string, err error) shared.JSONError {
	je := shared.JSONError{Code: string(mcp.ErrorCodeInternalError), Message: err.Error(), ServerID: serverID}
	if mcpErr := mcp.GetMCPError(err); mcpErr != nil {
		je.Code = string(mcpErr.Code)
		je.Suggestion = mcpErr.Suggestion()
	}
	return je
}
