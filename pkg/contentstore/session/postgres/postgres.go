// Package postgres implements contentstore.Session on PostgreSQL. Entities are merged into
// the transaction carried by the context (see pgtx), locked with SELECT ... FOR UPDATE and
// written back with a version-checked UPDATE right before commit.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/tendant/content-versions/pkg/contentstore"
	"github.com/tendant/content-versions/pkg/contentstore/pgtx"
)

// Column maps one entity attribute to a table column
type Column struct {
	Name  string
	Value func(entity any) any
}

// Col builds a Column from a typed getter
func Col[E any](name string, get func(E) any) Column {
	return Column{Name: name, Value: func(e any) any { return get(e.(E)) }}
}

// Table describes where an entity type is persisted. Columns are the attributes the
// session writes back on commit, typically the content id and length columns.
type Table struct {
	Name          string
	IDColumn      string
	VersionColumn string
	Columns       []Column
}

// Option configures a Session
type Option func(*Session)

// WithTable maps the entity named entity (see contentstore.Mapping.Name) to table
func WithTable(entity string, table Table) Option {
	return func(s *Session) {
		s.tables[entity] = table
	}
}

// WithLogger sets the structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// Session implements contentstore.Session against the ambient pgtx transaction.
type Session struct {
	registry *contentstore.Registry
	tables   map[string]Table
	logger   *slog.Logger
}

var _ contentstore.Session = (*Session)(nil)

// New creates a session resolving entities with registry.
func New(registry *contentstore.Registry, opts ...Option) (*Session, error) {
	if registry == nil {
		return nil, errors.New("registry is required")
	}
	s := &Session{
		registry: registry,
		tables:   make(map[string]Table),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for name, t := range s.tables {
		if t.Name == "" || t.IDColumn == "" {
			return nil, &contentstore.ConfigurationError{Type: name, Reason: "table and id column are required"}
		}
	}
	return s, nil
}

type rowKey struct {
	entity string
	id     string
}

// txState is the per-transaction identity map
type txState struct {
	managed  map[rowKey]any
	original map[rowKey]any
	observed map[rowKey]int64
	locked   map[rowKey]bool
	missing  map[rowKey]bool
	removed  map[rowKey]bool
}

type stateKey struct{ s *Session }

func (s *Session) state(tx *pgtx.Tx) *txState {
	return tx.Value(stateKey{s}, func() any {
		st := &txState{
			managed:  make(map[rowKey]any),
			original: make(map[rowKey]any),
			observed: make(map[rowKey]int64),
			locked:   make(map[rowKey]bool),
			missing:  make(map[rowKey]bool),
			removed:  make(map[rowKey]bool),
		}
		tx.BeforeCommit(func(ctx context.Context, ptx pgx.Tx) error {
			return s.flush(ctx, ptx, st)
		})
		return st
	}).(*txState)
}

// Merge returns the transaction's managed instance for entity, copying the caller's
// state onto it. Entities without an identity are returned unchanged.
func (s *Session) Merge(ctx context.Context, entity any) (any, error) {
	tx, ok := pgtx.FromContext(ctx)
	if !ok {
		return nil, contentstore.ErrNoTransaction
	}
	t, err := s.registry.Describe(entity)
	if err != nil {
		return nil, err
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return nil, &contentstore.ConfigurationError{Type: t.Name(), Reason: "postgres session requires pointers to structs"}
	}

	id := t.ID(entity)
	if id == "" {
		return entity, nil
	}
	key := rowKey{t.Name(), id}
	st := s.state(tx)

	if managed, ok := st.managed[key]; ok {
		if t.Versioned() && t.Version(entity) < t.Version(managed) {
			return nil, &contentstore.ConflictError{Entity: t.Name(), ID: id, Expected: t.Version(entity), Actual: t.Version(managed)}
		}
		reflect.ValueOf(managed).Elem().Set(v.Elem())
		return managed, nil
	}

	managed := clone(entity)
	st.managed[key] = managed
	st.original[key] = clone(entity)
	st.observed[key] = t.Version(entity)
	return managed, nil
}

// Lock takes a row lock with SELECT ... FOR UPDATE and compares versions. A missing row
// means the entity is not persisted yet; it is lockable and skipped on flush.
func (s *Session) Lock(ctx context.Context, entity any, mode contentstore.LockMode) error {
	if mode == contentstore.LockNone {
		return nil
	}
	tx, ok := pgtx.FromContext(ctx)
	if !ok {
		return contentstore.ErrNoTransaction
	}
	t, err := s.registry.Describe(entity)
	if err != nil {
		return err
	}
	id := t.ID(entity)
	if !t.Versioned() || id == "" {
		return nil
	}
	table, err := s.table(t)
	if err != nil {
		return err
	}
	if table.VersionColumn == "" {
		return &contentstore.ConfigurationError{Type: t.Name(), Reason: "table has no version column"}
	}

	key := rowKey{t.Name(), id}
	st := s.state(tx)
	if st.locked[key] {
		return nil
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1 FOR UPDATE`,
		ident(table.VersionColumn), ident(table.Name), ident(table.IDColumn))
	var current int64
	err = tx.QueryRow(ctx, query, id).Scan(&current)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		st.missing[key] = true
	case err != nil:
		return fmt.Errorf("failed to lock %s %s: %w", t.Name(), id, err)
	default:
		if version := t.Version(entity); current != version {
			return &contentstore.ConflictError{Entity: t.Name(), ID: id, Expected: version, Actual: current}
		}
	}

	st.locked[key] = true
	st.observed[key] = t.Version(entity)
	s.logger.DebugContext(ctx, "row locked", "entity", t.Name(), "id", id, "version", current)
	return nil
}

// Managed returns the instance the transaction in ctx manages for entity name and id.
func (s *Session) Managed(ctx context.Context, entity, id string) (any, bool) {
	tx, ok := pgtx.FromContext(ctx)
	if !ok {
		return nil, false
	}
	key := rowKey{entity, id}
	st := s.state(tx)
	managed, ok := st.managed[key]
	if !ok || st.removed[key] {
		return nil, false
	}
	return managed, true
}

// Remove deletes the entity's row before commit, with the same version check as updates.
func (s *Session) Remove(ctx context.Context, entity any) error {
	managed, err := s.Merge(ctx, entity)
	if err != nil {
		return err
	}
	tx, _ := pgtx.FromContext(ctx)
	t, err := s.registry.Describe(managed)
	if err != nil {
		return err
	}
	id := t.ID(managed)
	if id == "" {
		return nil
	}
	if _, err := s.table(t); err != nil {
		return err
	}
	s.state(tx).removed[rowKey{t.Name(), id}] = true
	return nil
}

// flush writes changed managed entities back in key order
func (s *Session) flush(ctx context.Context, tx pgx.Tx, st *txState) error {
	keys := make([]rowKey, 0, len(st.managed))
	for key := range st.managed {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].entity != keys[j].entity {
			return keys[i].entity < keys[j].entity
		}
		return keys[i].id < keys[j].id
	})

	for _, key := range keys {
		managed := st.managed[key]
		if st.missing[key] || (!st.removed[key] && reflect.DeepEqual(managed, st.original[key])) {
			continue
		}
		t, err := s.registry.Describe(managed)
		if err != nil {
			return err
		}
		table, ok := s.tables[t.Name()]
		if !ok {
			s.logger.DebugContext(ctx, "no table mapped, skipping flush", "entity", t.Name())
			continue
		}
		if st.removed[key] {
			err = s.remove(ctx, tx, t, table, key, st.observed[key])
		} else {
			err = s.update(ctx, tx, t, table, key, managed, st.observed[key])
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) update(ctx context.Context, tx pgx.Tx, t *contentstore.EntityType, table Table, key rowKey, entity any, observed int64) error {
	var sets []string
	var args []any
	for _, c := range table.Columns {
		args = append(args, c.Value(entity))
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(c.Name), len(args)))
	}
	versioned := t.Versioned() && table.VersionColumn != ""
	if versioned {
		args = append(args, t.Version(entity))
		sets = append(sets, fmt.Sprintf("%s = $%d", ident(table.VersionColumn), len(args)))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, key.id)
	where := fmt.Sprintf("%s = $%d", ident(table.IDColumn), len(args))
	if versioned {
		args = append(args, observed)
		where += fmt.Sprintf(" AND %s = $%d", ident(table.VersionColumn), len(args))
	}

	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", ident(table.Name), strings.Join(sets, ", "), where)
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", key.entity, key.id, err)
	}
	if versioned && tag.RowsAffected() == 0 {
		return &contentstore.ConflictError{Entity: key.entity, ID: key.id, Expected: observed, Actual: -1}
	}
	s.logger.DebugContext(ctx, "entity flushed", "entity", key.entity, "id", key.id)
	return nil
}

func (s *Session) remove(ctx context.Context, tx pgx.Tx, t *contentstore.EntityType, table Table, key rowKey, observed int64) error {
	args := []any{key.id}
	where := fmt.Sprintf("%s = $1", ident(table.IDColumn))
	versioned := t.Versioned() && table.VersionColumn != ""
	if versioned {
		args = append(args, observed)
		where += fmt.Sprintf(" AND %s = $2", ident(table.VersionColumn))
	}

	tag, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", ident(table.Name), where), args...)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", key.entity, key.id, err)
	}
	if versioned && tag.RowsAffected() == 0 {
		return &contentstore.ConflictError{Entity: key.entity, ID: key.id, Expected: observed, Actual: -1}
	}
	s.logger.DebugContext(ctx, "entity removed", "entity", key.entity, "id", key.id)
	return nil
}

func (s *Session) table(t *contentstore.EntityType) (Table, error) {
	table, ok := s.tables[t.Name()]
	if !ok {
		return Table{}, &contentstore.ConfigurationError{Type: t.Name(), Reason: "no table mapped"}
	}
	return table, nil
}

func ident(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

func clone(entity any) any {
	src := reflect.ValueOf(entity)
	dst := reflect.New(src.Elem().Type())
	dst.Elem().Set(src.Elem())
	return dst.Interface()
}
