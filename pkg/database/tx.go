package database

import (
	"context"

	crdbpgx "github.com/cockroachdb/cockroach-go/v2/crdb/crdbpgxv5"
	"github.com/jackc/pgx/v5"
)

// TxRunner runs fn inside a transaction, retrying it on serialization failures.
type TxRunner interface {
	InTx(ctx context.Context, fn func(db DB) error) error
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// PoolTx implements TxRunner with cockroach-go's retry loop.
type PoolTx struct {
	Pool TxBeginner
}

// InTx executes fn in a retryable transaction.
func (p PoolTx) InTx(ctx context.Context, fn func(db DB) error) error {
	return crdbpgx.ExecuteTx(ctx, p.Pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(tx)
	})
}
