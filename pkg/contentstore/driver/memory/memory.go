package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/tendant/content-versions/pkg/contentstore"
)

// Driver is an in-memory implementation of the contentstore.Driver interface
type Driver struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates a new in-memory storage driver
func New() *Driver {
	return &Driver{
		objects: make(map[string][]byte),
	}
}

func (d *Driver) Name() string {
	return "memory"
}

// Store replaces the content held under key
func (d *Driver) Store(ctx context.Context, key string, r io.Reader) (int64, error) {
	if key == "" {
		return 0, errors.New("storage key is empty")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.objects[key] = data
	return int64(len(data)), nil
}

// Retrieve returns a snapshot of the content held under key
func (d *Driver) Retrieve(ctx context.Context, key string) (contentstore.Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	data, exists := d.objects[key]
	if !exists {
		return contentstore.Missing, nil
	}
	return contentstore.BytesResource(bytes.Clone(data)), nil
}

// Delete removes key; deleting a missing key is not an error
func (d *Driver) Delete(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.objects, key)
	return nil
}

// Keys lists the stored keys in sorted order
func (d *Driver) Keys() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]string, 0, len(d.objects))
	for k := range d.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
