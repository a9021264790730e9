package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/content-versions/pkg/contentstore"
	"github.com/tendant/content-versions/pkg/contentstore/session/memory"
)

// MemoryRepository keeps documents in an in-process memory database
type MemoryRepository struct {
	db      *memory.Database
	session *memory.Session
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates a repository on db. The Document mapping must be
// registered with db's registry.
func NewMemoryRepository(db *memory.Database) *MemoryRepository {
	return &MemoryRepository{db: db, session: memory.NewSession(db)}
}

func (r *MemoryRepository) Session() contentstore.Session {
	return r.session
}

func (r *MemoryRepository) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.db.RunInTx(ctx, fn)
}

func (r *MemoryRepository) Create(ctx context.Context, doc *Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	prepare(doc, time.Now().UTC())

	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := memory.Find[*Document](ctx, r.session, doc.ID); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, doc.ID)
		} else if !errors.Is(err, memory.ErrNotFound) {
			return err
		}
		_, err := r.session.Merge(ctx, doc)
		return err
	})
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := memory.Find[*Document](ctx, r.session, id)
	if errors.Is(err, memory.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return doc, err
}

func (r *MemoryRepository) List(ctx context.Context) ([]*Document, error) {
	return memory.All[*Document](r.session)
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	return r.db.RunInTx(ctx, func(ctx context.Context) error {
		doc, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		return r.session.Remove(ctx, doc)
	})
}
