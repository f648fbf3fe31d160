// Package cli provides the command-line interface for oraclebot.
package cli

import (
	"log/slog"

	"github.com/raphaelgruber/oraclebot/internal/config"
	"github.com/raphaelgruber/oraclebot/internal/db"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global config, logger and db client, wired before any subcommand runs.
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
	dbClient   *db.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "oraclebot",
	Short: "Conversational oracle front-end",
	Long: `Oraclebot is the conversational front-end of the oracle system: it
receives messaging-transport events over a webhook, drives a per-user
conversation state machine, and durably persists every user's current
step and data in Postgres so conversations survive restarts.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Skip wiring for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return
		}

		cfg = config.Load()
		logger, logCleanup = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		slog.SetDefault(logger)

		// The client connects lazily: an unreachable store at start-up is
		// a cold start, not a fatal error.
		dbClient = db.NewClient(db.Config{
			URL:          cfg.DatabaseURL,
			MaxConns:     cfg.DBMaxConns,
			QueryTimeout: cfg.DBQueryTimeout,
		}, logger)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dbClient != nil {
			if err := dbClient.Close(); err != nil {
				logger.Warn("failed to close database pool", "error", err)
			}
		}
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
