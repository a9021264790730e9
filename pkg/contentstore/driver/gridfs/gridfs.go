// Package gridfs stores content in a MongoDB GridFS bucket, one file per storage key.
package gridfs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tendant/content-versions/pkg/contentstore"
	"github.com/tendant/content-versions/pkg/contentstore/driver"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config options for the GridFS driver
type Config struct {
	URI        string // MongoDB connection string
	Database   string // Database holding the bucket
	Bucket     string // Bucket name (default: fs)
	ChunkBytes int32  // Chunk size (default: 255 KiB)
}

// Driver is a MongoDB GridFS implementation of the contentstore.Driver interface
type Driver struct {
	db     *mongo.Database
	config Config
}

// Connect dials MongoDB and returns a driver with a disconnect func
func Connect(ctx context.Context, config Config) (*Driver, func(context.Context) error, error) {
	if config.URI == "" {
		return nil, nil, errors.New("mongodb uri is required")
	}
	if config.Database == "" {
		return nil, nil, errors.New("mongodb database is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	return New(client.Database(config.Database), config), client.Disconnect, nil
}

// New creates a driver on an existing database handle
func New(db *mongo.Database, config Config) *Driver {
	if config.Bucket == "" {
		config.Bucket = "fs"
	}
	return &Driver{db: db, config: config}
}

func (d *Driver) Name() string {
	return "gridfs"
}

// bucket returns a fresh handle; a gridfs.Bucket reuses its buffers and is not safe for concurrent use
func (d *Driver) bucket() (*gridfs.Bucket, error) {
	opts := options.GridFSBucket().SetName(d.config.Bucket)
	if d.config.ChunkBytes > 0 {
		opts.SetChunkSizeBytes(d.config.ChunkBytes)
	}
	return gridfs.NewBucket(d.db, opts)
}

// Store uploads a new revision of key and then removes the older ones
func (d *Driver) Store(ctx context.Context, key string, r io.Reader) (int64, error) {
	b, err := d.bucket()
	if err != nil {
		return 0, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = b.SetWriteDeadline(deadline)
	}

	stream, err := b.OpenUploadStream(key)
	if err != nil {
		return 0, fmt.Errorf("failed to open upload stream: %w", err)
	}
	n, err := io.Copy(stream, driver.ContextReader(ctx, r))
	if err != nil {
		_ = stream.Abort()
		return 0, fmt.Errorf("failed to upload to gridfs: %w", err)
	}
	if err := stream.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish gridfs upload: %w", err)
	}

	if err := d.deleteRevisions(ctx, b, bson.M{"filename": key, "_id": bson.M{"$ne": stream.FileID}}); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *Driver) Retrieve(ctx context.Context, key string) (contentstore.Resource, error) {
	b, err := d.bucket()
	if err != nil {
		return nil, err
	}

	opts := options.GridFSFind().SetSort(bson.D{{Key: "uploadDate", Value: -1}}).SetLimit(1)
	cursor, err := b.FindContext(ctx, bson.M{"filename": key}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find gridfs file: %w", err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		if err := cursor.Err(); err != nil {
			return nil, fmt.Errorf("failed to find gridfs file: %w", err)
		}
		return contentstore.Missing, nil
	}
	var file gridfs.File
	if err := cursor.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode gridfs file: %w", err)
	}
	return &object{driver: d, id: file.ID, length: file.Length}, nil
}

// Delete removes every revision stored under key
func (d *Driver) Delete(ctx context.Context, key string) error {
	b, err := d.bucket()
	if err != nil {
		return err
	}
	return d.deleteRevisions(ctx, b, bson.M{"filename": key})
}

func (d *Driver) deleteRevisions(ctx context.Context, b *gridfs.Bucket, filter bson.M) error {
	cursor, err := b.FindContext(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to find gridfs files: %w", err)
	}
	var files []gridfs.File
	if err := cursor.All(ctx, &files); err != nil {
		return fmt.Errorf("failed to decode gridfs files: %w", err)
	}

	for _, f := range files {
		if err := b.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return fmt.Errorf("failed to delete gridfs file: %w", err)
		}
	}
	return nil
}

type object struct {
	driver *Driver
	id     interface{}
	length int64
}

func (o *object) Exists() bool         { return true }
func (o *object) ContentLength() int64 { return o.length }

func (o *object) Open(ctx context.Context) (io.ReadCloser, error) {
	b, err := o.driver.bucket()
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = b.SetReadDeadline(deadline)
	}
	stream, err := b.OpenDownloadStream(o.id)
	if err != nil {
		return nil, fmt.Errorf("failed to open gridfs download stream: %w", err)
	}
	return stream, nil
}
