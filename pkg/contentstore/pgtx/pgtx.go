// Package pgtx carries a PostgreSQL transaction through a context so the session and the
// large object driver of one request share it.
package pgtx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Beginner starts transactions; *pgxpool.Pool and *pgx.Conn satisfy it
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// CommitHook runs inside the transaction right before it commits.
type CommitHook func(ctx context.Context, tx pgx.Tx) error

// Tx is a pgx.Tx with commit hooks and per-transaction values.
type Tx struct {
	pgx.Tx

	mu     sync.Mutex
	hooks  []CommitHook
	values map[any]any
}

// BeforeCommit registers fn to run before commit, in registration order.
func (t *Tx) BeforeCommit(fn CommitHook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// Value returns the value stored under key, creating it with init on first use.
func (t *Tx) Value(key any, init func() any) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.values == nil {
		t.values = make(map[any]any)
	}
	v, ok := t.values[key]
	if !ok && init != nil {
		v = init()
		t.values[key] = v
	}
	return v
}

func (t *Tx) runHooks(ctx context.Context) error {
	t.mu.Lock()
	hooks := append([]CommitHook(nil), t.hooks...)
	t.mu.Unlock()

	for _, fn := range hooks {
		if err := fn(ctx, t.Tx); err != nil {
			return err
		}
	}
	return nil
}

type ctxKey struct{}

// WithTx returns a context carrying tx
func WithTx(ctx context.Context, tx *Tx) context.Context {
	return context.WithValue(ctx, ctxKey{}, tx)
}

// FromContext returns the transaction carried by ctx
func FromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*Tx)
	return tx, ok && tx != nil
}

// RunInTx runs fn in a transaction begun on db and commits when fn succeeds. When ctx
// already carries a transaction fn joins it and the outer call decides the outcome.
func RunInTx(ctx context.Context, db Beginner, fn func(ctx context.Context) error) (err error) {
	if _, ok := FromContext(ctx); ok {
		return fn(ctx)
	}

	pgxTx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Tx{Tx: pgxTx}

	defer func() {
		if p := recover(); p != nil {
			_ = pgxTx.Rollback(context.WithoutCancel(ctx))
			panic(p)
		}
	}()

	txCtx := WithTx(ctx, tx)
	if err := fn(txCtx); err != nil {
		return rollback(ctx, pgxTx, err)
	}
	if err := tx.runHooks(txCtx); err != nil {
		return rollback(ctx, pgxTx, err)
	}
	if err := pgxTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return multierror.Append(cause, fmt.Errorf("failed to roll back transaction: %w", err))
	}
	return cause
}

// Conn returns the ambient transaction when ctx carries one and db otherwise.
func Conn(ctx context.Context, db DBTX) DBTX {
	if tx, ok := FromContext(ctx); ok {
		return tx
	}
	return db
}

// Runner binds RunInTx to a database
type Runner struct {
	DB Beginner
}

func (r Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunInTx(ctx, r.DB, fn)
}
