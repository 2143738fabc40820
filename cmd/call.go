package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var callArgs string

var callCmd = &cobra.Command{
	Use:          "call <tool>",
	Short:        "Calls a tool on a running MCP server",
	Example:      `  medplum-mcp call fhir-request --token $TOKEN --args '{"method":"get","path":"Patient?name=Homer"}'`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		toolArgs := map[string]any{}
		if callArgs != "" {
			if err := json.Unmarshal([]byte(callArgs), &toolArgs); err != nil {
				return fmt.Errorf("--args must be a JSON object: %w", err)
			}
		}

		client := newMCPClient(clientURL, clientToken, clientTimeout)
		if err := client.initialize(cmd.Context()); err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		result, err := client.callTool(cmd.Context(), args[0], toolArgs)
		if err != nil {
			return fmt.Errorf("failed to call %s: %w", args[0], err)
		}
		if result.IsError {
			return fmt.Errorf("%s returned an error: %s", args[0], result.Text())
		}

		fmt.Fprintln(cmd.OutOrStdout(), result.Text())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(callCmd)
	addClientFlags(callCmd)
	callCmd.Flags().StringVar(&callArgs, "args", "", "The tool arguments as a JSON object")
}
