package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Option configures a Store or a LockingStore
type Option func(*options)

type options struct {
	driver    Driver
	placement Placement
	registry  *Registry
	logger    *slog.Logger
	metrics   *Metrics
	hooks     *Hooks
}

// WithDriver sets the storage backend strategy
func WithDriver(driver Driver) Option {
	return func(o *options) {
		o.driver = driver
	}
}

// WithPlacement sets how content ids and storage keys are derived
func WithPlacement(placement Placement) Option {
	return func(o *options) {
		o.placement = placement
	}
}

// WithRegistry sets the registry used to resolve entity mappings
func WithRegistry(registry *Registry) Option {
	return func(o *options) {
		o.registry = registry
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(metrics *Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithHooks installs lifecycle hooks
func WithHooks(hooks *Hooks) Option {
	return func(o *options) {
		o.hooks = hooks
	}
}

func collectOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

func (o *options) applyDefaults() {
	if o.placement == nil {
		o.placement = DefaultPlacement{}
	}
	if o.registry == nil {
		o.registry = NewRegistry()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
}

var errNilResource = errors.New("resource is nil")

// Store translates entity level content calls into placement and driver calls.
// It holds no versioning state; wrap it in a LockingStore for optimistic locking.
type Store[E any] struct {
	driver    Driver
	placement Placement
	registry  *Registry
	logger    *slog.Logger
	metrics   *Metrics
	hooks     *Hooks
}

var _ ContentStore[any] = (*Store[any])(nil)

// New creates a store for entities of type E
func New[E any](opts ...Option) (*Store[E], error) {
	o := collectOptions(opts)
	o.applyDefaults()
	if o.driver == nil {
		return nil, errors.New("storage driver is required")
	}

	return &Store[E]{
		driver:    o.driver,
		placement: o.placement,
		registry:  o.registry,
		logger:    o.logger.With("backend", o.driver.Name()),
		metrics:   o.metrics,
		hooks:     o.hooks,
	}, nil
}

// Registry returns the registry the store resolves entities with
func (s *Store[E]) Registry() *Registry {
	return s.registry
}

// Driver returns the backend strategy
func (s *Store[E]) Driver() Driver {
	return s.driver
}

func (s *Store[E]) GetContent(ctx context.Context, entity E) (io.ReadCloser, error) {
	return s.GetContentAt(ctx, entity, DefaultPath)
}

func (s *Store[E]) GetContentAt(ctx context.Context, entity E, path PropertyPath) (rc io.ReadCloser, err error) {
	defer s.finish(ctx, "getContent", entity, path, time.Now(), &err)

	_, prop, err := s.property(entity, path)
	if err != nil {
		return nil, err
	}

	id := prop.ContentID(entity)
	if id == "" {
		return nil, nil
	}

	key, err := s.storageKey(id)
	if err != nil {
		return nil, err
	}

	res, err := s.driver.Retrieve(ctx, key)
	if err != nil {
		return nil, s.accessError("getContent", key, err)
	}
	if res == nil || !res.Exists() {
		s.logger.DebugContext(ctx, "content not found", "content_id", id, "key", key)
		return nil, nil
	}

	rc, err = res.Open(ctx)
	if err != nil {
		return nil, s.accessError("getContent", key, err)
	}

	hctx := NewHookContext(ctx, entity, path)
	hctx.ContentID, hctx.Key = id, key
	return s.hooks.executeAfterGetContent(hctx, rc)
}

func (s *Store[E]) SetContent(ctx context.Context, entity E, content io.Reader) (E, error) {
	return s.SetContentAt(ctx, entity, DefaultPath, content)
}

func (s *Store[E]) SetContentAt(ctx context.Context, entity E, path PropertyPath, content io.Reader) (result E, err error) {
	defer s.finish(ctx, "setContent", entity, path, time.Now(), &err)

	t, prop, err := s.property(entity, path)
	if err != nil {
		return result, err
	}

	id := prop.ContentID(entity)
	if id == "" {
		id, err = s.placement.NewContentID(entity, t, path)
		if err != nil {
			return result, fmt.Errorf("failed to assign content id: %w", err)
		}
	}

	key, err := s.storageKey(id)
	if err != nil {
		return result, err
	}

	hctx := NewHookContext(ctx, entity, path)
	hctx.ContentID, hctx.Key = id, key
	r, err := s.hooks.executeBeforeSetContent(hctx, content)
	if err != nil {
		return result, err
	}

	n, err := s.driver.Store(ctx, key, r)
	if err != nil {
		return result, s.accessError("setContent", key, err)
	}

	prop.SetContentID(entity, id)
	prop.SetContentLength(entity, n)
	s.metrics.addBytes(s.driver.Name(), n)
	s.logger.DebugContext(ctx, "content set", "entity", t.Name(), "path", path.String(), "content_id", id, "bytes", n)

	if err := s.hooks.executeAfterSetContent(hctx, n); err != nil {
		return result, err
	}
	return entity, nil
}

func (s *Store[E]) SetResource(ctx context.Context, entity E, res Resource) (E, error) {
	return s.SetResourceAt(ctx, entity, DefaultPath, res)
}

// SetResourceAt opens res and delegates to SetContentAt.
func (s *Store[E]) SetResourceAt(ctx context.Context, entity E, path PropertyPath, res Resource) (E, error) {
	if res == nil {
		var zero E
		return zero, s.accessError("setContent", "", errNilResource)
	}

	rc, err := res.Open(ctx)
	if err != nil {
		var zero E
		return zero, s.accessError("setContent", "", err)
	}
	defer rc.Close()

	return s.SetContentAt(ctx, entity, path, rc)
}

func (s *Store[E]) UnsetContent(ctx context.Context, entity E) (E, error) {
	return s.UnsetContentAt(ctx, entity, DefaultPath)
}

func (s *Store[E]) UnsetContentAt(ctx context.Context, entity E, path PropertyPath) (result E, err error) {
	defer s.finish(ctx, "unsetContent", entity, path, time.Now(), &err)

	t, prop, err := s.property(entity, path)
	if err != nil {
		return result, err
	}

	id := prop.ContentID(entity)
	if id == "" {
		return entity, nil
	}

	key, err := s.storageKey(id)
	if err != nil {
		return result, err
	}

	hctx := NewHookContext(ctx, entity, path)
	hctx.ContentID, hctx.Key = id, key
	if err := s.hooks.executeBeforeUnsetContent(hctx); err != nil {
		return result, err
	}

	res, err := s.driver.Retrieve(ctx, key)
	if err != nil {
		return result, s.accessError("unsetContent", key, err)
	}
	if res != nil && res.Exists() {
		if err := s.driver.Delete(ctx, key); err != nil {
			return result, s.accessError("unsetContent", key, err)
		}
	}

	unassociate(entity, prop)
	s.logger.DebugContext(ctx, "content unset", "entity", t.Name(), "path", path.String(), "content_id", id)

	if err := s.hooks.executeAfterUnsetContent(hctx); err != nil {
		return result, err
	}
	return entity, nil
}

func (s *Store[E]) GetResource(ctx context.Context, entity E) (Resource, error) {
	return s.GetResourceAt(ctx, entity, DefaultPath)
}

// GetResourceAt returns the backend handle for the entity's content, or nil when no content id is set.
func (s *Store[E]) GetResourceAt(ctx context.Context, entity E, path PropertyPath) (res Resource, err error) {
	defer s.finish(ctx, "getResource", entity, path, time.Now(), &err)

	_, prop, err := s.property(entity, path)
	if err != nil {
		return nil, err
	}

	id := prop.ContentID(entity)
	if id == "" {
		return nil, nil
	}

	key, err := s.storageKey(id)
	if err != nil {
		return nil, err
	}

	res, err = s.driver.Retrieve(ctx, key)
	if err != nil {
		return nil, s.accessError("getResource", key, err)
	}
	return res, nil
}

func (s *Store[E]) Associate(entity E, contentID string) error {
	return s.AssociateAt(entity, DefaultPath, contentID)
}

// AssociateAt points the entity at existing content without moving bytes.
func (s *Store[E]) AssociateAt(entity E, path PropertyPath, contentID string) error {
	_, prop, err := s.property(entity, path)
	if err != nil {
		return err
	}
	prop.SetContentID(entity, contentID)
	return nil
}

func (s *Store[E]) Unassociate(entity E) error {
	return s.UnassociateAt(entity, DefaultPath)
}

// UnassociateAt clears the content id without touching the backend. A content id that is
// also the entity's identity is left in place.
func (s *Store[E]) UnassociateAt(entity E, path PropertyPath) error {
	_, prop, err := s.property(entity, path)
	if err != nil {
		return err
	}
	unassociate(entity, prop)
	return nil
}

func unassociate(entity any, prop ContentProperty) {
	if !prop.SharesEntityID() {
		prop.SetContentID(entity, "")
	}
	prop.SetContentLength(entity, 0)
}

func (s *Store[E]) property(entity E, path PropertyPath) (*EntityType, ContentProperty, error) {
	t, err := describeAs(s.registry, entity)
	if err != nil {
		return nil, ContentProperty{}, err
	}
	prop, err := t.Property(path)
	if err != nil {
		return nil, ContentProperty{}, err
	}
	return t, prop, nil
}

func (s *Store[E]) storageKey(contentID string) (string, error) {
	key, err := s.placement.StorageKey(contentID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage key for %s: %w", contentID, err)
	}
	return key, nil
}

func (s *Store[E]) accessError(op, key string, err error) error {
	return &StoreAccessError{Op: op, Backend: s.driver.Name(), Key: key, Err: err}
}

func (s *Store[E]) finish(ctx context.Context, op string, entity E, path PropertyPath, start time.Time, errp *error) {
	err := *errp
	s.metrics.observe(op, s.driver.Name(), start, err)
	if err != nil {
		s.hooks.executeOnError(NewHookContext(ctx, entity, path), op, err)
		s.logger.DebugContext(ctx, "content operation failed", "op", op, "path", path.String(), "err", err)
	}
}
