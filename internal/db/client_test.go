package db

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// unreachableClient points at a port nothing listens on, with a short
// timeout so connect attempts fail fast.
func unreachableClient() *Client {
	return NewClient(Config{
		URL:          "postgres://127.0.0.1:1/oracle?sslmode=disable",
		MaxConns:     2,
		QueryTimeout: 500 * time.Millisecond,
	}, testLogger())
}

func TestExecuteUnreachableStore(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	ctx := context.Background()

	for _, mode := range []Mode{ModeNone, ModeOne, ModeAll} {
		rows, err := client.Execute(ctx, "SELECT 1", nil, mode)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.Nil(t, rows)
	}
}

func TestOutageDoesNotSerializeCallers(t *testing.T) {
	client := unreachableClient()
	defer client.Close()
	ctx := context.Background()

	// The first caller pays for the dial attempt and records the failure.
	_, err := client.Execute(ctx, "SELECT 1", nil, ModeOne)
	require.ErrorIs(t, err, ErrUnavailable)

	// While the failure is fresh, concurrent callers fail fast instead of
	// queueing behind a shared reconnect attempt.
	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Execute(ctx, "SELECT 1", nil, ModeOne)
			assert.ErrorIs(t, err, ErrUnavailable)
		}()
	}
	wg.Wait()

	elapsed := time.Since(start)
	assert.Less(t, elapsed, 400*time.Millisecond,
		"callers during an outage must not stack behind the dial, took %v", elapsed)
}

func TestPingUnreachableStore(t *testing.T) {
	client := unreachableClient()
	defer client.Close()

	assert.False(t, client.Ping(context.Background()))
}

func TestOpenFailureIsUnavailable(t *testing.T) {
	orig := openDB
	openDB = func(driverName, dsn string) (*sql.DB, error) {
		return nil, errors.New("driver misconfigured")
	}
	t.Cleanup(func() { openDB = orig })

	client := NewClient(Config{URL: "postgres://x", QueryTimeout: time.Second}, testLogger())
	defer client.Close()

	_, err := client.Execute(context.Background(), "SELECT 1", nil, ModeNone)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCloseWithoutConnect(t *testing.T) {
	client := unreachableClient()
	assert.NoError(t, client.Close())
	assert.NoError(t, client.Close(), "close is idempotent")
}

func TestConfigDefaults(t *testing.T) {
	client := NewClient(Config{URL: "postgres://x"}, nil)
	assert.Equal(t, 8, client.cfg.MaxConns)
	assert.Equal(t, 5*time.Second, client.cfg.QueryTimeout)
}
