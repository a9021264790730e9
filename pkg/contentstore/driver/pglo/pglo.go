// Package pglo stores content as PostgreSQL large objects, indexed by storage key in the
// content_blobs table. Calls join the transaction carried by the context, if any, so that
// content and entity metadata commit or roll back together.
package pglo

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/tendant/content-versions/pkg/contentstore"
	"github.com/tendant/content-versions/pkg/contentstore/driver"
	"github.com/tendant/content-versions/pkg/contentstore/pgtx"
)

// Schema creates the key index used by the driver
const Schema = `
CREATE TABLE IF NOT EXISTS content_blobs (
	key        TEXT PRIMARY KEY,
	oid        OID NOT NULL,
	length     BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

// DB is satisfied by *pgxpool.Pool
type DB interface {
	pgtx.Beginner
	pgtx.DBTX
}

// Driver is a PostgreSQL large object implementation of the contentstore.Driver interface
type Driver struct {
	db DB
}

func New(db DB) *Driver {
	return &Driver{db: db}
}

func (d *Driver) Name() string {
	return "pglo"
}

// Migrate creates the content_blobs table
func (d *Driver) Migrate(ctx context.Context) error {
	if _, err := d.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate content_blobs: %w", err)
	}
	return nil
}

// Store writes r into a new large object and swaps it in for any previous one
func (d *Driver) Store(ctx context.Context, key string, r io.Reader) (int64, error) {
	var written int64
	err := d.inTx(ctx, func(tx pgx.Tx) error {
		var previous uint32
		err := tx.QueryRow(ctx, `SELECT oid FROM content_blobs WHERE key = $1 FOR UPDATE`, key).Scan(&previous)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to look up blob: %w", err)
		}

		los := tx.LargeObjects()
		oid, err := los.Create(ctx, 0)
		if err != nil {
			return fmt.Errorf("failed to create large object: %w", err)
		}
		obj, err := los.Open(ctx, oid, pgx.LargeObjectModeWrite)
		if err != nil {
			return fmt.Errorf("failed to open large object: %w", err)
		}
		written, err = io.Copy(obj, driver.ContextReader(ctx, r))
		if closeErr := obj.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return fmt.Errorf("failed to write large object: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO content_blobs (key, oid, length, updated_at) VALUES ($1, $2, $3, NOW())
			ON CONFLICT (key) DO UPDATE SET oid = EXCLUDED.oid, length = EXCLUDED.length, updated_at = NOW()`,
			key, oid, written)
		if err != nil {
			return fmt.Errorf("failed to index blob: %w", err)
		}

		if previous != 0 {
			if err := los.Unlink(ctx, previous); err != nil {
				return fmt.Errorf("failed to unlink previous large object: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (d *Driver) Retrieve(ctx context.Context, key string) (contentstore.Resource, error) {
	var oid uint32
	var length int64
	err := pgtx.Conn(ctx, d.db).QueryRow(ctx, `SELECT oid, length FROM content_blobs WHERE key = $1`, key).Scan(&oid, &length)
	if errors.Is(err, pgx.ErrNoRows) {
		return contentstore.Missing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up blob: %w", err)
	}
	return &blob{driver: d, oid: oid, length: length}, nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	return d.inTx(ctx, func(tx pgx.Tx) error {
		var oid uint32
		err := tx.QueryRow(ctx, `DELETE FROM content_blobs WHERE key = $1 RETURNING oid`, key).Scan(&oid)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to delete blob: %w", err)
		}
		los := tx.LargeObjects()
		if err := los.Unlink(ctx, oid); err != nil {
			return fmt.Errorf("failed to unlink large object: %w", err)
		}
		return nil
	})
}

// inTx runs fn on the ambient transaction, or on a short transaction of its own.
func (d *Driver) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if tx, ok := pgtx.FromContext(ctx); ok {
		return fn(tx.Tx)
	}
	return pgtx.RunInTx(ctx, d.db, func(ctx context.Context) error {
		tx, _ := pgtx.FromContext(ctx)
		return fn(tx.Tx)
	})
}

// blob is a large object handle. Large objects can only be read inside a transaction, so
// Open outside of one begins a read transaction that ends when the stream is closed.
type blob struct {
	driver *Driver
	oid    uint32
	length int64
}

func (b *blob) Exists() bool         { return true }
func (b *blob) ContentLength() int64 { return b.length }

func (b *blob) Open(ctx context.Context) (io.ReadCloser, error) {
	if tx, ok := pgtx.FromContext(ctx); ok {
		los := tx.LargeObjects()
		obj, err := los.Open(ctx, b.oid, pgx.LargeObjectModeRead)
		if err != nil {
			return nil, fmt.Errorf("failed to open large object: %w", err)
		}
		return obj, nil
	}

	tx, err := b.driver.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	los := tx.LargeObjects()
	obj, err := los.Open(ctx, b.oid, pgx.LargeObjectModeRead)
	if err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to open large object: %w", err)
	}
	return &txReader{ctx: ctx, obj: obj, tx: tx}, nil
}

type txReader struct {
	ctx context.Context
	obj *pgx.LargeObject
	tx  pgx.Tx
}

func (r *txReader) Read(p []byte) (int, error) {
	return r.obj.Read(p)
}

func (r *txReader) Close() error {
	err := r.obj.Close()
	if rbErr := r.tx.Rollback(context.WithoutCancel(r.ctx)); err == nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
		err = rbErr
	}
	return err
}
