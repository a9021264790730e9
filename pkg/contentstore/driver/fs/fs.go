package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/content-versions/pkg/contentstore"
	"github.com/tendant/content-versions/pkg/contentstore/driver"
)

// Driver is a filesystem implementation of the contentstore.Driver interface
type Driver struct {
	baseDir string
}

// Config options for the filesystem driver
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage driver
func New(config Config) (*Driver, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	baseDir, err := filepath.Abs(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base directory: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Driver{baseDir: baseDir}, nil
}

func (d *Driver) Name() string {
	return "fs"
}

// Store writes to a temporary file next to the target and renames it into place,
// so readers never observe a partially written file.
func (d *Driver) Store(ctx context.Context, key string, r io.Reader) (int64, error) {
	filePath, err := d.path(key)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, driver.ContextReader(ctx, r))
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return 0, fmt.Errorf("failed to move file into place: %w", err)
	}
	return n, nil
}

func (d *Driver) Retrieve(ctx context.Context, key string) (contentstore.Resource, error) {
	filePath, err := d.path(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return contentstore.Missing, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("key %s is a directory", key)
	}
	return contentstore.FileResource(filePath), nil
}

// Delete removes the file and any directories left empty by it
func (d *Driver) Delete(ctx context.Context, key string) error {
	filePath, err := d.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	d.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

// path maps key below baseDir and rejects keys escaping it
func (d *Driver) path(key string) (string, error) {
	if key == "" {
		return "", errors.New("storage key is empty")
	}
	p := filepath.Join(d.baseDir, filepath.FromSlash(key))
	if p != d.baseDir && !strings.HasPrefix(p, d.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("storage key %q escapes base directory", key)
	}
	return p, nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (d *Driver) cleanupEmptyDirectories(dir string) {
	if dir == d.baseDir || !strings.HasPrefix(dir, d.baseDir) {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			d.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
