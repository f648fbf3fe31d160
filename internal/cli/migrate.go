package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Initialize the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		return dbClient.InitSchema(ctx)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
