// Package exec runs approved statements against target Postgres servers.
package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownServer is returned when no DSN is configured for a target server.
var ErrUnknownServer = errors.New("unknown target server")

// RowSet is the materialized result of one statement run.
type RowSet struct {
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	RowsAffected int64    `json:"rows_affected"`
}

// Runner executes a statement against a named target server. The context is
// the cancellation contract: timeouts and cancellations from the execution
// coordinator arrive through it, and implementations must honor it.
type Runner interface {
	Run(ctx context.Context, statement, server string) (*RowSet, error)
}

// PgxRunner keeps one connection pool per configured target server. Pools
// are created lazily on first use.
type PgxRunner struct {
	mu     sync.Mutex
	dsns   map[string]string
	pools  map[string]*pgxpool.Pool
	logger *log.Logger
}

// NewPgxRunner creates a runner for the given server name to DSN mapping.
func NewPgxRunner(dsns map[string]string, logger *log.Logger) *PgxRunner {
	if logger == nil {
		logger = log.Default()
	}
	return &PgxRunner{
		dsns:   dsns,
		pools:  make(map[string]*pgxpool.Pool),
		logger: logger,
	}
}

func (r *PgxRunner) pool(ctx context.Context, server string) (*pgxpool.Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pool, ok := r.pools[server]; ok {
		return pool, nil
	}

	dsn, ok := r.dsns[server]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, server)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN for server %s: %w", server, err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to server %s: %w", server, err)
	}

	r.logger.Debug("connection pool created", "server", server)
	r.pools[server] = pool
	return pool, nil
}

// Run executes the statement on the named server and materializes the result.
// Cancelling the context aborts the query cooperatively.
func (r *PgxRunner) Run(ctx context.Context, statement, server string) (*RowSet, error) {
	pool, err := r.pool(ctx, server)
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, statement)
	if err != nil {
		return nil, fmt.Errorf("executing statement on %s: %w", server, err)
	}
	defer rows.Close()

	rs := &RowSet{}
	for _, field := range rows.FieldDescriptions() {
		rs.Columns = append(rs.Columns, field.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row from %s: %w", server, err)
		}
		rs.Rows = append(rs.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows from %s: %w", server, err)
	}
	rs.RowsAffected = rows.CommandTag().RowsAffected()

	return rs, nil
}

// Servers returns the configured target server names.
func (r *PgxRunner) Servers() []string {
	names := make([]string, 0, len(r.dsns))
	for name := range r.dsns {
		names = append(names, name)
	}
	return names
}

// Close closes all pools.
func (r *PgxRunner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for server, pool := range r.pools {
		pool.Close()
		delete(r.pools, server)
	}
}
