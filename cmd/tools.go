package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsCmd = &cobra.Command{
	Use:          "tools",
	Short:        "Lists the tools a running MCP server exposes",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newMCPClient(clientURL, clientToken, clientTimeout)
		if err := client.initialize(cmd.Context()); err != nil {
			return fmt.Errorf("failed to initialize: %w", err)
		}
		list, err := client.listTools(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list tools: %w", err)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, tool := range list.Tools {
			fmt.Fprintf(w, "%s\t%s\n", tool.Name, tool.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	addClientFlags(toolsCmd)
}
