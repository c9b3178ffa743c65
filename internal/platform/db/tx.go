package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// DBTxKey carries an open transaction through a context so repositories
// join it instead of grabbing their own connection.
const DBTxKey contextKey = "db_tx"

// TxFromContext returns the transaction in ctx, if one is open.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// InTx runs fn inside one transaction on the tenant-scoped connection in
// ctx, so a multi-row write commits or rolls back as a unit. Any error from
// fn rolls the transaction back and is returned as-is. When ctx carries no
// scoped connection fn runs directly; callers backed by in-memory
// repositories keep working without one.
func InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	conn := ConnFromContext(ctx)
	if conn == nil {
		return fn(ctx)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
