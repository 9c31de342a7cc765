package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolOptions struct {
	MaxConns int32
}

// NewPool parses the DSN and applies the pool size cap. Everything else
// (lifetimes, health checks) rides on DSN parameters or pgx defaults.
func NewPool(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}
