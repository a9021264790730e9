package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tendant/content-versions/pkg/contentstore"
	"github.com/tendant/content-versions/pkg/contentstore/pgtx"
	"github.com/tendant/content-versions/pkg/contentstore/session/postgres"
)

// Schema creates the documents table
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	id               TEXT PRIMARY KEY,
	title            TEXT NOT NULL DEFAULT '',
	mime_type        TEXT NOT NULL DEFAULT '',
	version          BIGINT NOT NULL DEFAULT 1,
	content_id       TEXT NOT NULL DEFAULT '',
	content_length   BIGINT NOT NULL DEFAULT 0,
	rendition_id     TEXT NOT NULL DEFAULT '',
	rendition_length BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Table maps Document for the postgres session. The content columns and updated_at are
// written back on commit.
func Table() postgres.Table {
	return postgres.Table{
		Name:          "documents",
		IDColumn:      "id",
		VersionColumn: "version",
		Columns: []postgres.Column{
			postgres.Col("content_id", func(d *Document) any { return d.ContentID }),
			postgres.Col("content_length", func(d *Document) any { return d.ContentLength }),
			postgres.Col("rendition_id", func(d *Document) any { return d.RenditionID }),
			postgres.Col("rendition_length", func(d *Document) any { return d.RenditionLength }),
			postgres.Col("updated_at", func(d *Document) any { return d.UpdatedAt }),
		},
	}
}

// Database is what PostgresRepository needs from a pool
type Database interface {
	pgtx.DBTX
	pgtx.Beginner
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db      Database
	session *postgres.Session
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a repository whose session resolves entities with registry
func NewPostgresRepository(db Database, registry *contentstore.Registry, opts ...postgres.Option) (*PostgresRepository, error) {
	opts = append([]postgres.Option{postgres.WithTable(EntityName, Table())}, opts...)
	session, err := postgres.New(registry, opts...)
	if err != nil {
		return nil, err
	}
	return &PostgresRepository{db: db, session: session}, nil
}

// Migrate creates the documents table
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

func (r *PostgresRepository) Session() contentstore.Session {
	return r.session
}

func (r *PostgresRepository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return pgtx.RunInTx(ctx, r.db, fn)
}

// Error handling helper
func (r *PostgresRepository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrExists
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *PostgresRepository) Create(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	prepare(doc, time.Now().UTC())

	query := `
		INSERT INTO documents (
			id, title, mime_type, version, content_id, content_length,
			rendition_id, rendition_length, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := pgtx.Conn(ctx, r.db).Exec(ctx, query,
		doc.ID, doc.Title, doc.MimeType, doc.Version, doc.ContentID, doc.ContentLength,
		doc.RenditionID, doc.RenditionLength, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create document", err)
	}
	return nil
}

const selectDocument = `
	SELECT id, title, mime_type, version, content_id, content_length,
	       rendition_id, rendition_length, created_at, updated_at
	FROM documents`

func scanDocument(row pgx.Row) (*Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.Title, &doc.MimeType, &doc.Version, &doc.ContentID, &doc.ContentLength,
		&doc.RenditionID, &doc.RenditionLength, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Get returns the transaction's managed instance when ctx's transaction already holds one.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Document, error) {
	if managed, ok := r.session.Managed(ctx, EntityName, id); ok {
		return managed.(*Document), nil
	}
	doc, err := scanDocument(pgtx.Conn(ctx, r.db).QueryRow(ctx, selectDocument+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, r.handlePostgresError("get document", err)
	}
	return doc, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]*Document, error) {
	rows, err := pgtx.Conn(ctx, r.db).Query(ctx, selectDocument+` ORDER BY id`)
	if err != nil {
		return nil, r.handlePostgresError("list documents", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, r.handlePostgresError("list documents", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list documents", err)
	}
	return docs, nil
}

// Delete removes the row on commit with a version check
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	return r.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		return r.session.Remove(ctx, doc)
	})
}
