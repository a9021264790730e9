// Package natsobj stores content in a NATS JetStream object store bucket.
package natsobj

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/tendant/content-versions/pkg/contentstore"
)

// Config options for the NATS object store driver
type Config struct {
	URL         string // NATS server URL
	Bucket      string // Object store bucket name
	Description string
	Replicas    int
}

// Driver is a NATS object store implementation of the contentstore.Driver interface
type Driver struct {
	store jetstream.ObjectStore
}

// Connect dials NATS, creates or updates the bucket and returns a driver with a close func
func Connect(ctx context.Context, config Config) (*Driver, func(), error) {
	if config.Bucket == "" {
		return nil, nil, errors.New("bucket name is required")
	}
	url := config.URL
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url, nats.Name("content-versions"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	store, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      config.Bucket,
		Description: config.Description,
		Replicas:    config.Replicas,
	})
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create object store %s: %w", config.Bucket, err)
	}
	return New(store), nc.Close, nil
}

// New creates a driver on an existing object store
func New(store jetstream.ObjectStore) *Driver {
	return &Driver{store: store}
}

func (d *Driver) Name() string {
	return "nats"
}

// Store puts a new revision of the object; the object store keeps only the latest
func (d *Driver) Store(ctx context.Context, key string, r io.Reader) (int64, error) {
	info, err := d.store.Put(ctx, jetstream.ObjectMeta{Name: key}, r)
	if err != nil {
		return 0, fmt.Errorf("failed to put object: %w", err)
	}
	return int64(info.Size), nil
}

func (d *Driver) Retrieve(ctx context.Context, key string) (contentstore.Resource, error) {
	info, err := d.store.GetInfo(ctx, key)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return contentstore.Missing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object info: %w", err)
	}
	return &object{store: d.store, name: key, length: int64(info.Size)}, nil
}

func (d *Driver) Delete(ctx context.Context, key string) error {
	err := d.store.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

type object struct {
	store  jetstream.ObjectStore
	name   string
	length int64
}

func (o *object) Exists() bool         { return true }
func (o *object) ContentLength() int64 { return o.length }

func (o *object) Open(ctx context.Context) (io.ReadCloser, error) {
	result, err := o.store.Get(ctx, o.name)
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return result, nil
}
