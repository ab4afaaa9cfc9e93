package store

import (
	"context"
	"database/sql"
	"time"

	dErrors "titledeed/pkg/domain-errors"
)

const defaultTxTimeout = 5 * time.Second

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// commitTxKey carries the open commit transaction so every write in
// CommitIssuance lands in it.
type commitTxKey struct{}

func withTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, commitTxKey{}, tx)
}

func txFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(commitTxKey{}).(*sql.Tx)
	return tx, ok && tx != nil
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return s.db
}

// runInTx runs fn inside one local transaction carried on the context. The
// transaction gets a default deadline when the caller has none.
func (s *PostgresStore) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := txFrom(ctx); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(withTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}
