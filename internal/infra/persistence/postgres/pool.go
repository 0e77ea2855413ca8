package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shoplytics/pulse/errs"
)

// NewPool builds a pgx pool from the DSN and verifies connectivity.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.New(errs.CodeConfig, errs.WithOp("postgres.pool"),
			errs.WithMessage("parse store DSN"), errs.WithCause(err))
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, classify("postgres.pool", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, classify("postgres.ping", err)
	}
	return pool, nil
}
