package db

import (
	"context"
	"fmt"
)

// schemaStatements define the durable schema. Each statement runs in its
// own transaction (the pgx extended protocol rejects multi-statement
// strings). All statements are idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS telegram_conversations (
		user_id           BIGINT PRIMARY KEY,
		chat_id           BIGINT NOT NULL,
		current_step      TEXT,
		conversation_data JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS asset_prices (
		asset_symbol TEXT             NOT NULL,
		price        DOUBLE PRECISION NOT NULL,
		time         TIMESTAMPTZ      NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS asset_prices_symbol_time_idx
		ON asset_prices (asset_symbol, time DESC)`,
}

// InitSchema initializes the database schema. Unlike Execute callers,
// migration wants a hard failure when the store is unreachable.
func (c *Client) InitSchema(ctx context.Context) error {
	c.logger.Info("initializing database schema")
	for _, stmt := range schemaStatements {
		if _, err := c.Execute(ctx, stmt, nil, ModeNone); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	c.logger.Info("schema initialization complete")
	return nil
}
