package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// LockingStore enforces version-consistent content mutation on top of a ContentStore.
//
// Every content call merges the entity into the session's transaction, takes an optimistic
// lock on its version and only then reaches the wrapped store, with the managed instance
// in place of the caller's. Successful setContent and unsetContent calls advance the version
// by one. Entity types without a version attribute are merged but never locked.
type LockingStore[E any] struct {
	store    ContentStore[E]
	session  Session
	registry *Registry
	logger   *slog.Logger
	metrics  *Metrics
	hooks    *Hooks
}

var _ ContentStore[any] = (*LockingStore[any])(nil)

// NewLockingStore wraps store. When no registry option is given the wrapped store's
// registry is shared if it exposes one.
func NewLockingStore[E any](store ContentStore[E], session Session, opts ...Option) (*LockingStore[E], error) {
	if store == nil {
		return nil, errors.New("content store is required")
	}
	if session == nil {
		return nil, errors.New("session is required")
	}

	o := collectOptions(opts)
	if o.registry == nil {
		if rs, ok := store.(interface{ Registry() *Registry }); ok {
			o.registry = rs.Registry()
		}
	}
	o.applyDefaults()

	return &LockingStore[E]{
		store:    store,
		session:  session,
		registry: o.registry,
		logger:   o.logger,
		metrics:  o.metrics,
		hooks:    o.hooks,
	}, nil
}

func (l *LockingStore[E]) GetContent(ctx context.Context, entity E) (io.ReadCloser, error) {
	return intercept(ctx, l, "getContent", entity, DefaultPath, false, func(managed E) (io.ReadCloser, error) {
		return l.store.GetContent(ctx, managed)
	})
}

func (l *LockingStore[E]) GetContentAt(ctx context.Context, entity E, path PropertyPath) (io.ReadCloser, error) {
	return intercept(ctx, l, "getContent", entity, path, false, func(managed E) (io.ReadCloser, error) {
		return l.store.GetContentAt(ctx, managed, path)
	})
}

func (l *LockingStore[E]) SetContent(ctx context.Context, entity E, content io.Reader) (E, error) {
	return intercept(ctx, l, "setContent", entity, DefaultPath, true, func(managed E) (E, error) {
		return l.store.SetContent(ctx, managed, content)
	})
}

func (l *LockingStore[E]) SetContentAt(ctx context.Context, entity E, path PropertyPath, content io.Reader) (E, error) {
	return intercept(ctx, l, "setContent", entity, path, true, func(managed E) (E, error) {
		return l.store.SetContentAt(ctx, managed, path, content)
	})
}

func (l *LockingStore[E]) SetResource(ctx context.Context, entity E, res Resource) (E, error) {
	return intercept(ctx, l, "setContent", entity, DefaultPath, true, func(managed E) (E, error) {
		return l.store.SetResource(ctx, managed, res)
	})
}

func (l *LockingStore[E]) SetResourceAt(ctx context.Context, entity E, path PropertyPath, res Resource) (E, error) {
	return intercept(ctx, l, "setContent", entity, path, true, func(managed E) (E, error) {
		return l.store.SetResourceAt(ctx, managed, path, res)
	})
}

func (l *LockingStore[E]) UnsetContent(ctx context.Context, entity E) (E, error) {
	return intercept(ctx, l, "unsetContent", entity, DefaultPath, true, func(managed E) (E, error) {
		return l.store.UnsetContent(ctx, managed)
	})
}

func (l *LockingStore[E]) UnsetContentAt(ctx context.Context, entity E, path PropertyPath) (E, error) {
	return intercept(ctx, l, "unsetContent", entity, path, true, func(managed E) (E, error) {
		return l.store.UnsetContentAt(ctx, managed, path)
	})
}

// Associative operations do not move bytes and pass through unlocked.

func (l *LockingStore[E]) GetResource(ctx context.Context, entity E) (Resource, error) {
	return l.store.GetResource(ctx, entity)
}

func (l *LockingStore[E]) GetResourceAt(ctx context.Context, entity E, path PropertyPath) (Resource, error) {
	return l.store.GetResourceAt(ctx, entity, path)
}

func (l *LockingStore[E]) Associate(entity E, contentID string) error {
	return l.store.Associate(entity, contentID)
}

func (l *LockingStore[E]) AssociateAt(entity E, path PropertyPath, contentID string) error {
	return l.store.AssociateAt(entity, path, contentID)
}

func (l *LockingStore[E]) Unassociate(entity E) error {
	return l.store.Unassociate(entity)
}

func (l *LockingStore[E]) UnassociateAt(entity E, path PropertyPath) error {
	return l.store.UnassociateAt(entity, path)
}

// intercept runs merge, lock, proceed and version advance for one call.
func intercept[E, R any](ctx context.Context, l *LockingStore[E], op string, entity E, path PropertyPath,
	mutation bool, proceed func(managed E) (R, error)) (result R, err error) {
	start := time.Now()
	defer func() {
		l.metrics.observe("locked_"+op, "session", start, err)
	}()

	t, err := describeAs(l.registry, entity)
	if err != nil {
		return result, err
	}

	merged, err := l.session.Merge(ctx, entity)
	if err != nil {
		return result, fmt.Errorf("failed to merge %s: %w", t.Name(), err)
	}
	managed, err := asManaged[E](merged)
	if err != nil {
		return result, err
	}

	if t.Versioned() {
		if err := l.session.Lock(ctx, managed, LockOptimistic); err != nil {
			var conflict *ConflictError
			if errors.As(err, &conflict) {
				l.metrics.conflict(t.Name())
				l.hooks.executeOnConflict(NewHookContext(ctx, managed, path), conflict)
				l.logger.WarnContext(ctx, "optimistic lock conflict", "op", op, "entity", t.Name(),
					"id", conflict.ID, "expected", conflict.Expected, "actual", conflict.Actual)
			}
			return result, fmt.Errorf("failed to lock %s %s: %w", t.Name(), t.ID(managed), err)
		}
	}

	result, err = proceed(managed)
	if err != nil {
		return result, err
	}

	if mutation && t.Versioned() {
		next := t.Version(managed) + 1
		t.SetVersion(managed, next)
		l.logger.DebugContext(ctx, "entity version advanced", "op", op, "entity", t.Name(), "id", t.ID(managed), "version", next)
	}
	return result, nil
}
