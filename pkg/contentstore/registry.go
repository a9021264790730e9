package contentstore

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Capability interfaces an entity type may implement instead of registering a Mapping.

// ContentEntity exposes the primary content attribute.
type ContentEntity interface {
	ContentID() string
	SetContentID(id string)
	ContentLength() int64
	SetContentLength(n int64)
}

// Identified exposes the entity's own identity.
type Identified interface {
	EntityID() string
}

// Versioned exposes the version attribute used for optimistic locking.
type Versioned interface {
	Version() int64
	SetVersion(v int64)
}

// SharedContentID is implemented by entities whose content id is also their identity.
type SharedContentID interface {
	ContentIDIsEntityID() bool
}

// PropertyAccessor reads and writes one content attribute of E.
type PropertyAccessor[E any] struct {
	ContentID        func(E) string
	SetContentID     func(E, string)
	ContentLength    func(E) int64
	SetContentLength func(E, int64)

	// SharesEntityID marks a content id stored in the entity's identity attribute.
	// Unassociating such a property never clears the id.
	SharesEntityID bool
}

// Mapping describes how the stores and sessions see entity type E.
type Mapping[E any] struct {
	// Name is the logical entity name; defaults to the Go type name
	Name string

	ID         func(E) string
	Version    func(E) int64
	SetVersion func(E, int64)

	Properties map[PropertyPath]PropertyAccessor[E]
}

// ContentProperty is the type-erased accessor for one content attribute.
type ContentProperty struct {
	path   PropertyPath
	getID  func(any) string
	setID  func(any, string)
	getLen func(any) int64
	setLen func(any, int64)
	shared bool
}

func (p ContentProperty) Path() PropertyPath {
	return p.path
}

func (p ContentProperty) ContentID(entity any) string {
	return p.getID(entity)
}

func (p ContentProperty) SetContentID(entity any, id string) {
	p.setID(entity, id)
}

func (p ContentProperty) ContentLength(entity any) int64 {
	return p.getLen(entity)
}

func (p ContentProperty) SetContentLength(entity any, n int64) {
	p.setLen(entity, n)
}

// SharesEntityID reports whether the content id doubles as the entity's identity.
func (p ContentProperty) SharesEntityID() bool {
	return p.shared
}

// EntityType is the resolved description of one entity type.
type EntityType struct {
	name       string
	goType     reflect.Type
	id         func(any) string
	version    func(any) int64
	setVersion func(any, int64)
	properties map[PropertyPath]ContentProperty
}

func (t *EntityType) Name() string         { return t.name }
func (t *EntityType) GoType() reflect.Type { return t.goType }
func (t *EntityType) HasID() bool          { return t.id != nil }
func (t *EntityType) Versioned() bool      { return t.version != nil }

// ID returns the entity's identity, or "" when the type declares none.
func (t *EntityType) ID(entity any) string {
	if t.id == nil {
		return ""
	}
	return t.id(entity)
}

// Version returns the entity's version; unversioned types report 0.
func (t *EntityType) Version(entity any) int64 {
	if t.version == nil {
		return 0
	}
	return t.version(entity)
}

func (t *EntityType) SetVersion(entity any, v int64) {
	if t.setVersion != nil {
		t.setVersion(entity, v)
	}
}

// Property returns the accessor registered for path.
func (t *EntityType) Property(path PropertyPath) (ContentProperty, error) {
	p, ok := t.properties[path]
	if !ok {
		return ContentProperty{}, &ConfigurationError{Type: t.name, Path: path, Reason: "no content property mapped"}
	}
	return p, nil
}

// Paths lists the mapped property paths in sorted order.
func (t *EntityType) Paths() []PropertyPath {
	paths := make([]PropertyPath, 0, len(t.properties))
	for p := range t.properties {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

// Registry resolves entity types once and caches the result.
type Registry struct {
	mu    sync.RWMutex
	types map[reflect.Type]*EntityType
}

// NewRegistry creates an empty registry. Types implementing ContentEntity resolve without registration.
func NewRegistry() *Registry {
	return &Registry{types: make(map[reflect.Type]*EntityType)}
}

// Register adds a mapping for E, replacing any previous one.
func Register[E any](r *Registry, m Mapping[E]) error {
	goType := reflect.TypeOf((*E)(nil)).Elem()
	name := m.Name
	if name == "" {
		name = typeName(goType)
	}

	if len(m.Properties) == 0 {
		return &ConfigurationError{Type: name, Reason: "mapping declares no content properties"}
	}
	if (m.Version == nil) != (m.SetVersion == nil) {
		return &ConfigurationError{Type: name, Reason: "version getter and setter must be declared together"}
	}

	t := &EntityType{
		name:       name,
		goType:     goType,
		properties: make(map[PropertyPath]ContentProperty, len(m.Properties)),
	}
	if m.ID != nil {
		id := m.ID
		t.id = func(e any) string { return id(e.(E)) }
	}
	if m.Version != nil {
		get, set := m.Version, m.SetVersion
		t.version = func(e any) int64 { return get(e.(E)) }
		t.setVersion = func(e any, v int64) { set(e.(E), v) }
	}

	for path, acc := range m.Properties {
		if acc.ContentID == nil || acc.SetContentID == nil || acc.ContentLength == nil || acc.SetContentLength == nil {
			return &ConfigurationError{Type: name, Path: path, Reason: "content property accessors are incomplete"}
		}
		acc := acc
		t.properties[path] = ContentProperty{
			path:   path,
			getID:  func(e any) string { return acc.ContentID(e.(E)) },
			setID:  func(e any, id string) { acc.SetContentID(e.(E), id) },
			getLen: func(e any) int64 { return acc.ContentLength(e.(E)) },
			setLen: func(e any, n int64) { acc.SetContentLength(e.(E), n) },
			shared: acc.SharesEntityID,
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[goType] = t
	return nil
}

// MustRegister is Register for package initialization.
func MustRegister[E any](r *Registry, m Mapping[E]) {
	if err := Register(r, m); err != nil {
		panic(err)
	}
}

// Describe returns the EntityType for entity's dynamic type.
func (r *Registry) Describe(entity any) (*EntityType, error) {
	if entity == nil {
		return nil, &ConfigurationError{Type: "<nil>", Reason: "entity is nil"}
	}
	goType := reflect.TypeOf(entity)

	r.mu.RLock()
	t, ok := r.types[goType]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := fromCapabilities(goType, entity)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.types[goType]; ok {
		return existing, nil
	}
	r.types[goType] = t
	return t, nil
}

func fromCapabilities(goType reflect.Type, entity any) (*EntityType, error) {
	name := typeName(goType)
	if _, ok := entity.(ContentEntity); !ok {
		return nil, &ConfigurationError{Type: name, Reason: "type declares no content attributes"}
	}

	shared := false
	if s, ok := entity.(SharedContentID); ok {
		shared = s.ContentIDIsEntityID()
	}

	t := &EntityType{
		name:   name,
		goType: goType,
		properties: map[PropertyPath]ContentProperty{
			DefaultPath: {
				path:   DefaultPath,
				getID:  func(e any) string { return e.(ContentEntity).ContentID() },
				setID:  func(e any, id string) { e.(ContentEntity).SetContentID(id) },
				getLen: func(e any) int64 { return e.(ContentEntity).ContentLength() },
				setLen: func(e any, n int64) { e.(ContentEntity).SetContentLength(n) },
				shared: shared,
			},
		},
	}
	if _, ok := entity.(Identified); ok {
		t.id = func(e any) string { return e.(Identified).EntityID() }
	} else if shared {
		t.id = func(e any) string { return e.(ContentEntity).ContentID() }
	}
	if _, ok := entity.(Versioned); ok {
		t.version = func(e any) int64 { return e.(Versioned).Version() }
		t.setVersion = func(e any, v int64) { e.(Versioned).SetVersion(v) }
	}
	return t, nil
}

func typeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}

// describeAs resolves entity and reports a ConfigurationError for typed-nil values.
func describeAs[E any](r *Registry, entity E) (*EntityType, error) {
	v := reflect.ValueOf(any(entity))
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return nil, &ConfigurationError{Type: typeName(reflect.TypeOf((*E)(nil)).Elem()), Reason: "entity is nil"}
	}
	t, err := r.Describe(any(entity))
	if err != nil {
		return nil, err
	}
	return t, nil
}

var errNotManaged = errors.New("session returned an instance of a different type")

// asManaged converts a session result back to E.
func asManaged[E any](managed any) (E, error) {
	m, ok := managed.(E)
	if !ok {
		var zero E
		return zero, fmt.Errorf("%w: got %T, want %s", errNotManaged, managed, reflect.TypeOf((*E)(nil)).Elem())
	}
	return m, nil
}
