package contentstore

import (
	"context"
	"io"
)

// Driver executes raw store/retrieve/delete operations against one storage backend
type Driver interface {
	// Name identifies the backend in errors, logs and metrics
	Name() string

	// Store writes the stream under key, replacing existing content, and returns the byte count
	Store(ctx context.Context, key string, r io.Reader) (int64, error)

	// Retrieve returns a handle for key; a missing object is a Resource whose Exists is false
	Retrieve(ctx context.Context, key string) (Resource, error)

	// Delete removes the object stored under key
	Delete(ctx context.Context, key string) error
}

// Placement maps entities and content ids to storage keys
type Placement interface {
	// NewContentID returns the content id for an entity that has none yet
	NewContentID(entity any, t *EntityType, path PropertyPath) (string, error)

	// StorageKey resolves a content id to the backend key
	StorageKey(contentID string) (string, error)
}

// Session is the metadata store's unit of work. Implementations read the ambient
// transaction from ctx.
type Session interface {
	// Merge attaches entity to the active transaction and returns the managed instance
	Merge(ctx context.Context, entity any) (any, error)

	// Lock checks the managed entity's version; a stale version yields a *ConflictError
	Lock(ctx context.Context, entity any, mode LockMode) error
}

// AssociativeStore manages the link between an entity and its content without moving bytes
type AssociativeStore[E any] interface {
	GetResource(ctx context.Context, entity E) (Resource, error)
	GetResourceAt(ctx context.Context, entity E, path PropertyPath) (Resource, error)

	Associate(entity E, contentID string) error
	AssociateAt(entity E, path PropertyPath, contentID string) error

	Unassociate(entity E) error
	UnassociateAt(entity E, path PropertyPath) error
}

// ContentStore reads and writes the content associated with an entity.
//
// GetContent returns (nil, nil) when the entity has no content. Mutations return the
// entity that now carries the updated content id and length.
type ContentStore[E any] interface {
	AssociativeStore[E]

	GetContent(ctx context.Context, entity E) (io.ReadCloser, error)
	GetContentAt(ctx context.Context, entity E, path PropertyPath) (io.ReadCloser, error)

	SetContent(ctx context.Context, entity E, content io.Reader) (E, error)
	SetContentAt(ctx context.Context, entity E, path PropertyPath, content io.Reader) (E, error)

	SetResource(ctx context.Context, entity E, res Resource) (E, error)
	SetResourceAt(ctx context.Context, entity E, path PropertyPath, res Resource) (E, error)

	UnsetContent(ctx context.Context, entity E) (E, error)
	UnsetContentAt(ctx context.Context, entity E, path PropertyPath) (E, error)
}
