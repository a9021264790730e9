package contentstore_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/tendant/content-versions/pkg/contentstore"
)

// claim is versioned, identified and carries one content attribute.
type claim struct {
	ID      string
	Ver     int64
	Content string
	Length  int64
}

func (c *claim) EntityID() string         { return c.ID }
func (c *claim) Version() int64           { return c.Ver }
func (c *claim) SetVersion(v int64)       { c.Ver = v }
func (c *claim) ContentID() string        { return c.Content }
func (c *claim) SetContentID(id string)   { c.Content = id }
func (c *claim) ContentLength() int64     { return c.Length }
func (c *claim) SetContentLength(n int64) { c.Length = n }

// note is a plain, unversioned content entity.
type note struct {
	Content string
	Length  int64
}

func (n *note) ContentID() string        { return n.Content }
func (n *note) SetContentID(id string)   { n.Content = id }
func (n *note) ContentLength() int64     { return n.Length }
func (n *note) SetContentLength(l int64) { n.Length = l }

// sharedNote stores its content under its own identity.
type sharedNote struct {
	note
	Ver int64
}

func (s *sharedNote) ContentIDIsEntityID() bool { return true }
func (s *sharedNote) Version() int64            { return s.Ver }
func (s *sharedNote) SetVersion(v int64)        { s.Ver = v }

// report is described by a registered mapping with a secondary rendition.
type report struct {
	ID              string
	Version         int64
	ContentID       string
	ContentLength   int64
	RenditionID     string
	RenditionLength int64
}

func reportMapping() contentstore.Mapping[*report] {
	return contentstore.Mapping[*report]{
		Name:       "Report",
		ID:         func(r *report) string { return r.ID },
		Version:    func(r *report) int64 { return r.Version },
		SetVersion: func(r *report, v int64) { r.Version = v },
		Properties: map[contentstore.PropertyPath]contentstore.PropertyAccessor[*report]{
			contentstore.DefaultPath: {
				ContentID:        func(r *report) string { return r.ContentID },
				SetContentID:     func(r *report, id string) { r.ContentID = id },
				ContentLength:    func(r *report) int64 { return r.ContentLength },
				SetContentLength: func(r *report, n int64) { r.ContentLength = n },
			},
			"rendition": {
				ContentID:        func(r *report) string { return r.RenditionID },
				SetContentID:     func(r *report, id string) { r.RenditionID = id },
				ContentLength:    func(r *report) int64 { return r.RenditionLength },
				SetContentLength: func(r *report, n int64) { r.RenditionLength = n },
			},
		},
	}
}

func newRegistry() *contentstore.Registry {
	r := contentstore.NewRegistry()
	contentstore.MustRegister(r, reportMapping())
	return r
}

// fakeDriver is an in-memory Driver with injectable failures.
type fakeDriver struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   []string

	storeErr    error
	retrieveErr error
	deleteErr   error
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{objects: make(map[string][]byte)}
}

func (d *fakeDriver) Name() string { return "fake" }

func (d *fakeDriver) Store(ctx context.Context, key string, r io.Reader) (int64, error) {
	d.record("store:" + key)
	if d.storeErr != nil {
		return 0, d.storeErr
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

func (d *fakeDriver) Retrieve(ctx context.Context, key string) (contentstore.Resource, error) {
	d.record("retrieve:" + key)
	if d.retrieveErr != nil {
		return nil, d.retrieveErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.objects[key]
	if !ok {
		return contentstore.BytesResource(nil), nil
	}
	return contentstore.BytesResource(bytes.Clone(data)), nil
}

func (d *fakeDriver) Delete(ctx context.Context, key string) error {
	d.record("delete:" + key)
	if d.deleteErr != nil {
		return d.deleteErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.objects, key)
	return nil
}

func (d *fakeDriver) put(key, data string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[key] = []byte(data)
}

func (d *fakeDriver) has(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.objects[key]
	return ok
}

func (d *fakeDriver) record(call string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
}

func (d *fakeDriver) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// spySession records merges and locks. Merge hands back managed when set.
type spySession struct {
	mu       sync.Mutex
	merged   []any
	locked   []any
	managed  any
	mergeErr error
	lockErr  error
}

func (s *spySession) Merge(ctx context.Context, entity any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merged = append(s.merged, entity)
	if s.mergeErr != nil {
		return nil, s.mergeErr
	}
	if s.managed != nil {
		return s.managed, nil
	}
	return entity, nil
}

func (s *spySession) Lock(ctx context.Context, entity any, mode contentstore.LockMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mode != contentstore.LockOptimistic {
		return errors.New("unexpected lock mode")
	}
	s.locked = append(s.locked, entity)
	return s.lockErr
}

// failingResource cannot be opened.
type failingResource struct{ err error }

func (f failingResource) Exists() bool         { return true }
func (f failingResource) ContentLength() int64 { return -1 }
func (f failingResource) Open(ctx context.Context) (io.ReadCloser, error) {
	return nil, f.err
}

func readAll(rc io.ReadCloser) string {
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	return string(data)
}
