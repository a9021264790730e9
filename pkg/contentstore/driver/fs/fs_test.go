package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestFSDriver_BasicOps(t *testing.T) {
	tmp := t.TempDir()
	d, err := New(Config{BaseDir: tmp})
	if err != nil {
		t.Fatalf("new fs driver: %v", err)
	}

	ctx := context.Background()
	key := "objects/ab/cdef/file.txt"

	// Store
	data := []byte("hello fs")
	n, err := d.Store(ctx, key, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if n != int64(len(data)) {
		t.Fatalf("expected %d bytes written, got %d", len(data), n)
	}

	// Retrieve
	res, err := d.Retrieve(ctx, key)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if !res.Exists() || res.ContentLength() != int64(len(data)) {
		t.Fatalf("unexpected resource: exists=%v length=%d", res.Exists(), res.ContentLength())
	}
	rc, err := res.Open(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(got) != string(data) {
		t.Fatalf("content mismatch: %q", string(got))
	}

	// Delete
	if err := d.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmp, key)); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
	// Empty shard directories are cleaned up
	if _, err := os.Stat(filepath.Join(tmp, "objects")); !os.IsNotExist(err) {
		t.Fatalf("expected empty directories removed, stat err=%v", err)
	}

	// Missing keys
	res, err = d.Retrieve(ctx, key)
	if err != nil {
		t.Fatalf("retrieve missing: %v", err)
	}
	if res.Exists() {
		t.Fatalf("expected missing resource")
	}
	if err := d.Delete(ctx, key); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestFSDriver_Overwrite(t *testing.T) {
	d, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new fs driver: %v", err)
	}
	ctx := context.Background()

	if _, err := d.Store(ctx, "k", bytes.NewReader([]byte("first version"))); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := d.Store(ctx, "k", bytes.NewReader([]byte("v2"))); err != nil {
		t.Fatalf("store: %v", err)
	}
	res, _ := d.Retrieve(ctx, "k")
	if res.ContentLength() != 2 {
		t.Fatalf("expected overwritten content, length=%d", res.ContentLength())
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestFSDriver_FailedStoreLeavesPrevious(t *testing.T) {
	d, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new fs driver: %v", err)
	}
	ctx := context.Background()

	if _, err := d.Store(ctx, "k", bytes.NewReader([]byte("keep"))); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := d.Store(ctx, "k", failingReader{}); err == nil {
		t.Fatalf("expected store error")
	}
	res, _ := d.Retrieve(ctx, "k")
	if res.ContentLength() != 4 {
		t.Fatalf("previous content should survive, length=%d", res.ContentLength())
	}
}

func TestFSDriver_RejectsEscapingKeys(t *testing.T) {
	d, err := New(Config{BaseDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new fs driver: %v", err)
	}
	if _, err := d.Store(context.Background(), "../outside", bytes.NewReader(nil)); err == nil {
		t.Fatalf("expected escaping key to be rejected")
	}
	if _, err := d.Retrieve(context.Background(), ""); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestFSDriver_RequiresBaseDir(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for empty base dir")
	}
}
