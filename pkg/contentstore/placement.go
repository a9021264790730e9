package contentstore

import (
	"errors"

	"github.com/google/uuid"
)

// DefaultPlacement assigns random UUID content ids and uses the id as the storage key.
// A property that shares the entity's identity reuses that identity when one is set.
type DefaultPlacement struct{}

func (DefaultPlacement) NewContentID(entity any, t *EntityType, path PropertyPath) (string, error) {
	if prop, err := t.Property(path); err == nil && prop.SharesEntityID() {
		if id := t.ID(entity); id != "" {
			return id, nil
		}
	}
	return uuid.NewString(), nil
}

func (DefaultPlacement) StorageKey(contentID string) (string, error) {
	if contentID == "" {
		return "", errors.New("content id is empty")
	}
	return contentID, nil
}
