// Package db provides PostgreSQL connectivity with a bounded connection
// pool, lazy reconnect, and mode-based query execution.
package db

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/raphaelgruber/oraclebot/internal/metrics"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// Mode selects how Execute treats the result set.
type Mode int

const (
	// ModeNone executes the statement and commits; no rows are returned.
	ModeNone Mode = iota
	// ModeOne returns the first row of the result, or none.
	ModeOne
	// ModeAll returns every row in the order the store emits them.
	ModeAll
)

// Row is a single result row keyed by column name.
type Row map[string]any

// Config holds Postgres connection configuration.
type Config struct {
	URL          string
	MaxConns     int
	QueryTimeout time.Duration
}

// reconnectCooldown gates how often a failed connect is retried. While
// the cooldown holds, callers fail fast with ErrUnavailable instead of
// dialing again.
const reconnectCooldown = 2 * time.Second

// Client manages a bounded pool of Postgres connections. The pool is
// opened lazily on first use and re-attempted while the store is
// unreachable, so callers degrade instead of crashing. At most one
// caller dials at a time; the rest fail fast rather than queueing
// behind the reconnect attempt.
// All methods are safe for concurrent use.
type Client struct {
	mu         sync.Mutex
	pool       *sql.DB
	connecting bool
	lastFailed time.Time
	closed     bool
	cfg        Config
	logger     *slog.Logger
	collector  *metrics.Collector
}

// NewClient creates a client without connecting. The first Execute (or
// Ping) establishes the pool.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = 8
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	return &Client{cfg: cfg, logger: logger}
}

// SetCollector attaches a metrics collector recording query timings and
// failures. Optional; call before serving traffic.
func (c *Client) SetCollector(collector *metrics.Collector) {
	c.collector = collector
}

// ensureConnected returns the pool, establishing it if absent.
// Returns nil when the store is unreachable; the failure is logged,
// never raised. The dial happens outside the client lock: one caller
// attempts it while concurrent callers return nil immediately, as does
// every caller during the post-failure cooldown.
func (c *Client) ensureConnected(ctx context.Context) *sql.DB {
	c.mu.Lock()
	if c.pool != nil || c.closed {
		pool := c.pool
		c.mu.Unlock()
		return pool
	}
	if c.connecting || time.Since(c.lastFailed) < reconnectCooldown {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	pool := c.connect(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connecting = false
	if pool == nil {
		c.lastFailed = time.Now()
		return nil
	}
	if c.closed {
		_ = pool.Close()
		return nil
	}
	c.pool = pool
	return c.pool
}

// connect dials Postgres and verifies the pool with a bounded ping.
func (c *Client) connect(ctx context.Context) *sql.DB {
	c.logger.Warn("database pool absent, attempting to connect")

	pool, err := openDB("pgx", c.cfg.URL)
	if err != nil {
		c.logger.Error("failed to open database", "error", err)
		return nil
	}
	pool.SetMaxOpenConns(c.cfg.MaxConns)
	pool.SetMaxIdleConns(c.cfg.MaxConns)
	pool.SetConnMaxIdleTime(5 * time.Minute)

	// Short capped backoff: enough to ride out a restarting server
	// without stalling unrelated users' events.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = time.Second

	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	ping := func() error { return pool.PingContext(ctx) }
	if err := backoff.Retry(ping, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), 3)); err != nil {
		c.logger.Error("could not connect to Postgres", "error", err)
		_ = pool.Close()
		return nil
	}

	c.logger.Info("Postgres connection pool established", "max_conns", c.cfg.MaxConns)
	return pool
}

// Execute runs a single statement in its own transaction against a pooled
// connection. While the store is unreachable it returns ErrUnavailable
// rather than blocking or panicking; a statement-level failure rolls the
// transaction back and also reports ErrUnavailable, without discarding
// the pool.
func (c *Client) Execute(ctx context.Context, query string, args []any, mode Mode) ([]Row, error) {
	start := time.Now()
	rows, err := c.execute(ctx, query, args, mode)
	if c.collector != nil {
		if err != nil {
			c.collector.RecordFailure(metrics.OpDBQuery)
		} else {
			c.collector.RecordTiming(metrics.OpDBQuery, time.Since(start))
		}
	}
	return rows, err
}

func (c *Client) execute(ctx context.Context, query string, args []any, mode Mode) ([]Row, error) {
	pool := c.ensureConnected(ctx)
	if pool == nil {
		return nil, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueryTimeout)
	defer cancel()

	tx, err := pool.BeginTx(ctx, nil)
	if err != nil {
		c.logger.Error("begin transaction failed", "error", err)
		return nil, ErrUnavailable
	}

	var result []Row
	switch mode {
	case ModeNone:
		_, err = tx.ExecContext(ctx, query, args...)
	case ModeOne, ModeAll:
		result, err = fetch(ctx, tx, query, args, mode)
	}
	if err != nil {
		c.logger.Error("query failed", "error", err)
		_ = tx.Rollback()
		return nil, ErrUnavailable
	}

	if err := tx.Commit(); err != nil {
		c.logger.Error("commit failed", "error", err)
		return nil, ErrUnavailable
	}
	return result, nil
}

// fetch reads rows into generic column-keyed maps. ModeOne stops after
// the first row; ModeAll preserves the store-declared order.
func fetch(ctx context.Context, tx *sql.Tx, query string, args []any, mode Mode) ([]Row, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
		if mode == ModeOne {
			break
		}
	}
	return out, rows.Err()
}

// Ping reports whether the store is currently reachable.
func (c *Client) Ping(ctx context.Context) bool {
	pool := c.ensureConnected(ctx)
	if pool == nil {
		return false
	}
	return pool.PingContext(ctx) == nil
}

// Close closes the connection pool. A dial still in flight discards its
// result instead of resurrecting the pool.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.pool == nil {
		return nil
	}
	c.logger.Info("closing Postgres connection pool")
	err := c.pool.Close()
	c.pool = nil
	return err
}
