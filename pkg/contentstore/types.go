package contentstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// PropertyPath identifies which content-bearing attribute of an entity an operation targets.
// The zero value is the entity's primary content attribute.
type PropertyPath string

// DefaultPath denotes the primary, unqualified content attribute.
const DefaultPath PropertyPath = ""

// Path builds a PropertyPath from its segments.
func Path(segments ...string) PropertyPath {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, ". ")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return PropertyPath(strings.Join(parts, "."))
}

// ParsePath accepts dotted ("a.b") or slash separated ("a/b") notation.
func ParsePath(s string) PropertyPath {
	return Path(strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '/' })...)
}

// IsDefault reports whether p denotes the primary content attribute.
func (p PropertyPath) IsDefault() bool {
	return p == DefaultPath
}

// Segments returns the path split on dots.
func (p PropertyPath) Segments() []string {
	if p.IsDefault() {
		return nil
	}
	return strings.Split(string(p), ".")
}

func (p PropertyPath) String() string {
	return string(p)
}

// LockMode selects how a Session checks an entity's version.
type LockMode int

const (
	// LockNone skips version checking.
	LockNone LockMode = iota
	// LockOptimistic verifies the entity's version against the stored one and holds the row
	// until the ambient transaction ends.
	LockOptimistic
)

func (m LockMode) String() string {
	switch m {
	case LockNone:
		return "none"
	case LockOptimistic:
		return "optimistic"
	default:
		return fmt.Sprintf("LockMode(%d)", int(m))
	}
}

// Resource is a transient handle on stored content: existence, length and a stream.
type Resource interface {
	Exists() bool
	ContentLength() int64
	Open(ctx context.Context) (io.ReadCloser, error)
}

// BytesResource is an in-memory Resource.
type BytesResource []byte

func (b BytesResource) Exists() bool         { return b != nil }
func (b BytesResource) ContentLength() int64 { return int64(len(b)) }

func (b BytesResource) Open(ctx context.Context) (io.ReadCloser, error) {
	if b == nil {
		return nil, errors.New("resource does not exist")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// ReaderResource adapts a single-use stream. It can be opened once.
type ReaderResource struct {
	r      io.Reader
	length int64
	opened bool
}

// NewReaderResource wraps r; length may be -1 when unknown.
func NewReaderResource(r io.Reader, length int64) *ReaderResource {
	return &ReaderResource{r: r, length: length}
}

func (r *ReaderResource) Exists() bool         { return r.r != nil }
func (r *ReaderResource) ContentLength() int64 { return r.length }

func (r *ReaderResource) Open(ctx context.Context) (io.ReadCloser, error) {
	if r.r == nil {
		return nil, errors.New("resource does not exist")
	}
	if r.opened {
		return nil, errors.New("stream already consumed")
	}
	r.opened = true
	if rc, ok := r.r.(io.ReadCloser); ok {
		return rc, nil
	}
	return io.NopCloser(r.r), nil
}

// FileResource is a Resource backed by a local file.
type FileResource string

func (f FileResource) Exists() bool {
	info, err := os.Stat(string(f))
	return err == nil && !info.IsDir()
}

func (f FileResource) ContentLength() int64 {
	info, err := os.Stat(string(f))
	if err != nil {
		return -1
	}
	return info.Size()
}

func (f FileResource) Open(ctx context.Context) (io.ReadCloser, error) {
	return os.Open(string(f))
}

// Missing is the Resource drivers return for keys that hold no content.
var Missing Resource = missingResource{}

type missingResource struct{}

func (missingResource) Exists() bool         { return false }
func (missingResource) ContentLength() int64 { return -1 }

func (missingResource) Open(ctx context.Context) (io.ReadCloser, error) {
	return nil, errors.New("resource does not exist")
}
