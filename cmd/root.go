package cmd

import (
	"fmt"
	"os"
	"time"

	"medplum-mcp/internal/config"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgViper = config.NewViper()
	envFile  string
)

var rootCmd = &cobra.Command{
	Use:   "medplum-mcp",
	Short: "An MCP server for Medplum",
	Long: `An MCP server that exposes a Medplum FHIR server to AI assistants.
Callers authenticate with their own Medplum access token, which is forwarded
on every FHIR request.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ReadEnvFile(cfgViper, envFile); err != nil {
			return err
		}
		return setupLogging(cmd, cfgViper.GetString(config.KeyLogLevel))
	},
}

func setupLogging(cmd *cobra.Command, levelName string) error {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(cmd.ErrOrStderr()).Level(level).With().Timestamp().Logger()
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "A dotenv file to read settings from, if it exists")
	rootCmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "The log level: trace, debug, info, warn or error")
	config.BindFlag(cfgViper, config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
