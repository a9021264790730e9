package pgtx_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/content-versions/pkg/contentstore/pgtx"
)

// fakeTx records commit and rollback; other pgx.Tx methods are not used here
type fakeTx struct {
	pgx.Tx
	committed   bool
	rolledBack  bool
	rollbackErr error
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	f.rolledBack = true
	return f.rollbackErr
}

type fakeDB struct {
	tx    *fakeTx
	began int
}

func (d *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	d.began++
	return d.tx, nil
}

func TestRunInTxCommits(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	var order []string

	err := pgtx.RunInTx(context.Background(), db, func(ctx context.Context) error {
		tx, ok := pgtx.FromContext(ctx)
		require.True(t, ok)
		tx.BeforeCommit(func(ctx context.Context, _ pgx.Tx) error {
			order = append(order, "hook")
			return nil
		})
		order = append(order, "fn")
		return nil
	})

	require.NoError(t, err)
	assert.True(t, db.tx.committed)
	assert.False(t, db.tx.rolledBack)
	assert.Equal(t, []string{"fn", "hook"}, order)
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	boom := errors.New("boom")

	err := pgtx.RunInTx(context.Background(), db, func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.True(t, db.tx.rolledBack)
	assert.False(t, db.tx.committed)
}

func TestRunInTxHookFailure(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{rollbackErr: errors.New("connection lost")}}
	stale := errors.New("stale row")

	err := pgtx.RunInTx(context.Background(), db, func(ctx context.Context) error {
		tx, _ := pgtx.FromContext(ctx)
		tx.BeforeCommit(func(context.Context, pgx.Tx) error { return stale })
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, stale)
	assert.Contains(t, err.Error(), "connection lost")
	assert.False(t, db.tx.committed)
}

func TestRunInTxJoinsAmbient(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}

	err := pgtx.RunInTx(context.Background(), db, func(ctx context.Context) error {
		outer, _ := pgtx.FromContext(ctx)
		return pgtx.RunInTx(ctx, db, func(ctx context.Context) error {
			inner, _ := pgtx.FromContext(ctx)
			assert.Same(t, outer, inner)
			return nil
		})
	})

	require.NoError(t, err)
	assert.Equal(t, 1, db.began)
}

func TestRunInTxRollsBackOnPanic(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}

	assert.Panics(t, func() {
		_ = pgtx.RunInTx(context.Background(), db, func(ctx context.Context) error {
			panic("unexpected")
		})
	})
	assert.True(t, db.tx.rolledBack)
}

func TestTxValue(t *testing.T) {
	tx := &pgtx.Tx{}
	calls := 0
	init := func() any {
		calls++
		return map[string]int{}
	}

	a := tx.Value("k", init)
	b := tx.Value("k", init)
	assert.Equal(t, 1, calls)
	assert.Equal(t, a, b)
	assert.Nil(t, tx.Value("other", nil))
}

func TestFromContextWithoutTx(t *testing.T) {
	_, ok := pgtx.FromContext(context.Background())
	assert.False(t, ok)
}

func TestRunnerBindsDatabase(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{}}
	runner := pgtx.Runner{DB: db}

	err := runner.RunInTx(context.Background(), func(ctx context.Context) error {
		_, ok := pgtx.FromContext(ctx)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, db.began)
	assert.True(t, db.tx.committed)
}
