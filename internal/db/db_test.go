// Package db_test contains integration tests for the connection manager.
// They need a live Postgres instance and skip otherwise.
package db_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/oraclebot/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liveClient(t *testing.T) (*db.Client, context.Context) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	client := db.NewClient(db.Config{URL: url, MaxConns: 4, QueryTimeout: 5 * time.Second},
		slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = client.Close() })
	return client, ctx
}

func TestExecuteModes(t *testing.T) {
	client, ctx := liveClient(t)

	rows, err := client.Execute(ctx, `SELECT n FROM generate_series(1, 3) AS n ORDER BY n`, nil, db.ModeAll)
	require.NoError(t, err)
	require.Len(t, rows, 3, "ModeAll returns every row in declared order")
	assert.Equal(t, int64(1), asInt(rows[0]["n"]))
	assert.Equal(t, int64(3), asInt(rows[2]["n"]))

	rows, err = client.Execute(ctx, `SELECT n FROM generate_series(1, 3) AS n ORDER BY n`, nil, db.ModeOne)
	require.NoError(t, err)
	require.Len(t, rows, 1, "ModeOne returns the first row only")
	assert.Equal(t, int64(1), asInt(rows[0]["n"]))

	rows, err = client.Execute(ctx, `SELECT 1 WHERE false`, nil, db.ModeOne)
	require.NoError(t, err)
	assert.Empty(t, rows, "ModeOne with no match returns empty, not an error")

	rows, err = client.Execute(ctx, `SELECT 1`, nil, db.ModeNone)
	require.NoError(t, err)
	assert.Nil(t, rows, "ModeNone returns no rows")
}

func TestFailedQueryDoesNotPoisonPool(t *testing.T) {
	client, ctx := liveClient(t)

	_, err := client.Execute(ctx, `SELECT definitely_not_a_column`, nil, db.ModeOne)
	require.Error(t, err)
	assert.ErrorIs(t, err, db.ErrUnavailable)

	// The rolled-back failure must not take the pool down.
	rows, err := client.Execute(ctx, `SELECT 42 AS answer`, nil, db.ModeOne)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(42), asInt(rows[0]["answer"]))
}

func TestPing(t *testing.T) {
	client, ctx := liveClient(t)
	assert.True(t, client.Ping(ctx))
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	default:
		return 0
	}
}
