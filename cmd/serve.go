package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"medplum-mcp/internal/config"
	"medplum-mcp/internal/server"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Runs the Medplum MCP server",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgViper)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		s, err := server.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Int("port", config.DefaultPort, "The port to listen on")
	serveCmd.Flags().String("base-url", config.DefaultBaseURL, "The base URL of the Medplum server")
	serveCmd.Flags().Duration("sse-keepalive", config.DefaultSSEKeepAlive, "Keep-alive interval for legacy SSE streams, 0 to disable")

	config.BindFlag(cfgViper, config.KeyPort, serveCmd.Flags().Lookup("port"))
	config.BindFlag(cfgViper, config.KeyBaseURL, serveCmd.Flags().Lookup("base-url"))
	config.BindFlag(cfgViper, config.KeySSEKeepAlive, serveCmd.Flags().Lookup("sse-keepalive"))
}
