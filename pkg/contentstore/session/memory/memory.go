// Package memory is an in-process metadata store with transactions and per-row locks.
// It implements contentstore.Session for tests, demos and single-node deployments.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/tendant/content-versions/pkg/contentstore"
)

// ErrNotFound is returned by Find when no row exists for the id
var ErrNotFound = errors.New("entity not found")

type rowKey struct {
	entity string
	id     string
}

type row struct {
	sem      chan struct{} // held by one transaction at a time
	exists   bool
	version  int64
	snapshot any
}

// Database holds committed entity snapshots keyed by entity name and id.
type Database struct {
	registry *contentstore.Registry
	logger   *slog.Logger

	mu   sync.Mutex
	rows map[rowKey]*row
}

// NewDatabase creates an empty database resolving entities with registry.
func NewDatabase(registry *contentstore.Registry, logger *slog.Logger) *Database {
	if registry == nil {
		registry = contentstore.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Database{
		registry: registry,
		logger:   logger,
		rows:     make(map[rowKey]*row),
	}
}

func (db *Database) row(key rowKey) *row {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.rows[key]
	if !ok {
		r = &row{sem: make(chan struct{}, 1)}
		db.rows[key] = r
	}
	return r
}

// Version returns the committed version of a row.
func (db *Database) Version(entity, id string) (int64, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	r, ok := db.rows[rowKey{entity, id}]
	if !ok || !r.exists {
		return 0, false
	}
	return r.version, true
}

// Tx is one unit of work: an identity map of managed instances plus the row locks it holds.
type Tx struct {
	db       *Database
	managed  map[rowKey]any
	observed map[rowKey]int64
	removed  map[rowKey]bool
	held     map[rowKey]*row
}

type ctxKey struct{}

// FromContext returns the transaction carried by ctx
func FromContext(ctx context.Context) (*Tx, bool) {
	tx, ok := ctx.Value(ctxKey{}).(*Tx)
	return tx, ok
}

// RunInTx runs fn in a transaction and commits when fn succeeds. A ctx already carrying
// a transaction joins it.
func (db *Database) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := FromContext(ctx); ok {
		return fn(ctx)
	}

	tx := &Tx{
		db:       db,
		managed:  make(map[rowKey]any),
		observed: make(map[rowKey]int64),
		removed:  make(map[rowKey]bool),
		held:     make(map[rowKey]*row),
	}
	defer tx.release()

	if err := fn(context.WithValue(ctx, ctxKey{}, tx)); err != nil {
		return err
	}
	return tx.commit(ctx)
}

// lock acquires the row for the rest of the transaction
func (tx *Tx) lock(ctx context.Context, key rowKey) (*row, error) {
	if r, ok := tx.held[key]; ok {
		return r, nil
	}
	r := tx.db.row(key)
	select {
	case r.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for lock on %s %s: %w", key.entity, key.id, ctx.Err())
	}
	tx.held[key] = r
	return r, nil
}

func (tx *Tx) unlock(key rowKey) {
	if r, ok := tx.held[key]; ok {
		<-r.sem
		delete(tx.held, key)
	}
}

func (tx *Tx) release() {
	for key, r := range tx.held {
		<-r.sem
		delete(tx.held, key)
	}
}

func (tx *Tx) commit(ctx context.Context) error {
	// Rows are acquired in key order so concurrent commits cannot deadlock
	keys := make([]rowKey, 0, len(tx.managed))
	for key := range tx.managed {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].entity != keys[j].entity {
			return keys[i].entity < keys[j].entity
		}
		return keys[i].id < keys[j].id
	})

	for _, key := range keys {
		entity := tx.managed[key]
		t, err := tx.db.registry.Describe(entity)
		if err != nil {
			return err
		}
		r, err := tx.lock(ctx, key)
		if err != nil {
			return err
		}

		if t.Versioned() && r.exists && r.version != tx.observed[key] {
			return &contentstore.ConflictError{Entity: key.entity, ID: key.id, Expected: tx.observed[key], Actual: r.version}
		}
	}

	// Rows are written holding both the row lock and db.mu
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	for key, entity := range tx.managed {
		r := tx.held[key]
		if tx.removed[key] {
			r.exists, r.version, r.snapshot = false, 0, nil
			continue
		}
		t, _ := tx.db.registry.Describe(entity)
		r.exists = true
		r.version = t.Version(entity)
		r.snapshot = clone(entity)
	}
	tx.db.logger.DebugContext(ctx, "transaction committed", "rows", len(tx.managed))
	return nil
}

// Session implements contentstore.Session on top of a Database.
type Session struct {
	db *Database
}

var _ contentstore.Session = (*Session)(nil)

func NewSession(db *Database) *Session {
	return &Session{db: db}
}

// Merge returns the transaction's managed instance for entity, copying the caller's state
// onto it. Entities without an identity are returned unchanged and are not tracked.
func (s *Session) Merge(ctx context.Context, entity any) (any, error) {
	tx, ok := FromContext(ctx)
	if !ok {
		return nil, contentstore.ErrNoTransaction
	}
	t, err := s.db.registry.Describe(entity)
	if err != nil {
		return nil, err
	}
	if err := checkStruct(t, entity); err != nil {
		return nil, err
	}

	id := t.ID(entity)
	if id == "" {
		return entity, nil
	}
	key := rowKey{t.Name(), id}

	if managed, ok := tx.managed[key]; ok {
		if t.Versioned() && t.Version(entity) < t.Version(managed) {
			return nil, &contentstore.ConflictError{Entity: t.Name(), ID: id, Expected: t.Version(entity), Actual: t.Version(managed)}
		}
		copyInto(managed, entity)
		return managed, nil
	}

	managed := clone(entity)
	tx.managed[key] = managed
	tx.observed[key] = t.Version(managed)
	return managed, nil
}

// Lock holds the entity's row until the transaction ends and fails with a ConflictError
// when the committed version differs from the entity's. An entity without a committed
// row is new and always lockable. Rows already held by the transaction were checked
// when first locked.
func (s *Session) Lock(ctx context.Context, entity any, mode contentstore.LockMode) error {
	if mode == contentstore.LockNone {
		return nil
	}
	tx, ok := FromContext(ctx)
	if !ok {
		return contentstore.ErrNoTransaction
	}
	t, err := s.db.registry.Describe(entity)
	if err != nil {
		return err
	}
	id := t.ID(entity)
	if !t.Versioned() || id == "" {
		return nil
	}
	key := rowKey{t.Name(), id}
	if _, held := tx.held[key]; held {
		return nil
	}

	r, err := tx.lock(ctx, key)
	if err != nil {
		return err
	}
	version := t.Version(entity)
	if r.exists && r.version != version {
		tx.unlock(key)
		return &contentstore.ConflictError{Entity: t.Name(), ID: id, Expected: version, Actual: r.version}
	}
	tx.observed[key] = version
	return nil
}

// Remove deletes the entity's row on commit.
func (s *Session) Remove(ctx context.Context, entity any) error {
	managed, err := s.Merge(ctx, entity)
	if err != nil {
		return err
	}
	tx, _ := FromContext(ctx)
	t, _ := s.db.registry.Describe(managed)
	if t.ID(managed) == "" {
		return nil
	}
	tx.removed[rowKey{t.Name(), t.ID(managed)}] = true
	return nil
}

// Find loads the entity of type E with the given id. Inside a transaction the managed
// instance is returned; outside, a detached copy.
func Find[E any](ctx context.Context, s *Session, id string) (E, error) {
	var zero E
	goType := reflect.TypeOf((*E)(nil)).Elem()
	if goType.Kind() != reflect.Pointer || goType.Elem().Kind() != reflect.Struct {
		return zero, fmt.Errorf("%s is not a pointer to a struct", goType)
	}
	t, err := s.db.registry.Describe(reflect.New(goType.Elem()).Interface())
	if err != nil {
		return zero, err
	}
	key := rowKey{t.Name(), id}

	tx, inTx := FromContext(ctx)
	if inTx {
		if managed, ok := tx.managed[key]; ok && !tx.removed[key] {
			return managed.(E), nil
		}
	}

	s.db.mu.Lock()
	r, ok := s.db.rows[key]
	var snapshot any
	if ok && r.exists {
		snapshot = clone(r.snapshot)
	}
	s.db.mu.Unlock()
	if snapshot == nil {
		return zero, fmt.Errorf("%s %s: %w", t.Name(), id, ErrNotFound)
	}

	if inTx {
		tx.managed[key] = snapshot
		tx.observed[key] = t.Version(snapshot)
	}
	return snapshot.(E), nil
}

// All returns detached copies of every committed entity of type E, ordered by id.
func All[E any](s *Session) ([]E, error) {
	goType := reflect.TypeOf((*E)(nil)).Elem()
	if goType.Kind() != reflect.Pointer || goType.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s is not a pointer to a struct", goType)
	}
	t, err := s.db.registry.Describe(reflect.New(goType.Elem()).Interface())
	if err != nil {
		return nil, err
	}

	s.db.mu.Lock()
	keys := make([]rowKey, 0)
	snapshots := make(map[rowKey]any)
	for key, r := range s.db.rows {
		if key.entity == t.Name() && r.exists {
			keys = append(keys, key)
			snapshots[key] = clone(r.snapshot)
		}
	}
	s.db.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].id < keys[j].id })
	out := make([]E, 0, len(keys))
	for _, key := range keys {
		out = append(out, snapshots[key].(E))
	}
	return out, nil
}

func checkStruct(t *contentstore.EntityType, entity any) error {
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return &contentstore.ConfigurationError{Type: t.Name(), Reason: "memory session requires pointers to structs"}
	}
	return nil
}

func clone(entity any) any {
	src := reflect.ValueOf(entity)
	dst := reflect.New(src.Elem().Type())
	dst.Elem().Set(src.Elem())
	return dst.Interface()
}

func copyInto(dst, src any) {
	reflect.ValueOf(dst).Elem().Set(reflect.ValueOf(src).Elem())
}
