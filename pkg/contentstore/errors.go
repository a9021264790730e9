package contentstore

import (
	"errors"
	"fmt"
)

// Error types
var (
	// ErrConflict indicates an optimistic lock check failed because the entity version is stale
	ErrConflict = errors.New("optimistic lock conflict")

	// ErrStoreAccess indicates the storage backend or a content payload failed with an I/O error
	ErrStoreAccess = errors.New("store access failed")

	// ErrConfiguration indicates an entity type is missing the attributes required by an operation
	ErrConfiguration = errors.New("content configuration error")

	// ErrNoTransaction indicates a session was used outside of an ambient transaction
	ErrNoTransaction = errors.New("no active transaction")
)

// ConflictError is returned when the version an entity carries no longer matches the stored one.
// Callers must reload the entity and retry.
type ConflictError struct {
	Entity   string
	ID       string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("optimistic lock conflict on %s %s: expected version %d, found %d",
		e.Entity, e.ID, e.Expected, e.Actual)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StoreAccessError wraps any I/O failure raised by a driver or by reading a content payload.
type StoreAccessError struct {
	Op      string
	Backend string
	Key     string
	Err     error
}

func (e *StoreAccessError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store operation %s failed on backend %s: %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("store operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StoreAccessError) Unwrap() error {
	return e.Err
}

func (e *StoreAccessError) Is(target error) bool {
	return target == ErrStoreAccess
}

// ConfigurationError reports an entity type that cannot serve the requested property path.
type ConfigurationError struct {
	Type   string
	Path   PropertyPath
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Path.IsDefault() {
		return fmt.Sprintf("content configuration error for %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("content configuration error for %s at path %q: %s", e.Type, e.Path, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}

// IsConflict reports whether err is, or wraps, an optimistic lock conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsStoreAccess reports whether err is, or wraps, a store access failure.
func IsStoreAccess(err error) bool {
	return errors.Is(err, ErrStoreAccess)
}
