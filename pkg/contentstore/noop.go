package contentstore

import "context"

// NoopSession is a Session for callers without a metadata store. Merge returns the entity
// unchanged and Lock always succeeds.
type NoopSession struct{}

// NewNoopSession creates a pass-through session
func NewNoopSession() Session {
	return NoopSession{}
}

func (NoopSession) Merge(ctx context.Context, entity any) (any, error) {
	return entity, nil
}

func (NoopSession) Lock(ctx context.Context, entity any, mode LockMode) error {
	return nil
}
