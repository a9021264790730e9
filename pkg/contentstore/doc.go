// Package contentstore associates binary content with domain entities whose metadata
// lives in a separate, versioned store.
//
// A Store translates entity level calls (get, set and unset content, optionally at a
// PropertyPath) into Placement and Driver calls. Drivers for memory, filesystem, S3,
// PostgreSQL large objects, MongoDB GridFS and NATS object stores live under driver/.
//
// A LockingStore wraps any ContentStore and keeps content mutation consistent with the
// entity's version: each call merges the entity into the ambient transaction of a Session,
// takes an optimistic lock on its version, delegates, and advances the version after a
// successful mutation. Two writers holding the same version are serialized by the lock;
// the loser receives a *ConflictError before any byte reaches the backend.
//
// Entity Mapping
//
// Entity types describe their content attributes either by implementing ContentEntity
// (and optionally Versioned, Identified and SharedContentID) or by registering a
// Mapping[E] with a Registry. Mappings are resolved once per type.
//
// Errors
//
// Backend and payload I/O failures surface as *StoreAccessError wrapping the cause,
// stale versions as *ConflictError and unmapped property paths as *ConfigurationError.
package contentstore
