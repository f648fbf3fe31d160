package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/oraclebot/internal/conversation"
	"github.com/raphaelgruber/oraclebot/internal/metrics"
	"github.com/raphaelgruber/oraclebot/internal/oracle"
	"github.com/raphaelgruber/oraclebot/internal/server"
	"github.com/raphaelgruber/oraclebot/internal/store"
	"github.com/raphaelgruber/oraclebot/internal/telegram"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Restores conversation state from Postgres, registers the transport
webhook, and serves inbound events until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		collector := metrics.NewCollector()
		dbClient.SetCollector(collector)

		bot := telegram.NewClient(cfg.BotAPIURL, cfg.BotToken, logger)
		bot.SetCollector(collector)

		records := store.New(dbClient, logger)
		engine := conversation.NewEngine(records, bot, collector, logger)

		analyzer := oracle.NewAnalyzer(dbClient, logger)
		engine.RegisterHandler(conversation.StepAskQuery, analyzer.Handler(bot))

		// Seed the in-memory step cache. An unreachable store comes back
		// empty and the engine runs with process-lifetime state only.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		engine.Restore(ctx)
		cancel()

		if cfg.WebhookURL != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := bot.SetWebhook(ctx, cfg.WebhookURL+"/webhook")
			cancel()
			if err != nil {
				return err
			}
		} else {
			logger.Warn("WEBHOOK_URL not set, skipping webhook registration")
		}

		srv := server.New(cfg.Port, engine, dbClient, collector, logger)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-quit:
			logger.Info("received signal, shutting down", "signal", sig.String())
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
