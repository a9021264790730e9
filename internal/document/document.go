// Package document is the demo domain served by contentd: a versioned document with
// a primary content attribute and a rendition.
package document

import (
	"context"
	"errors"
	"time"

	"github.com/tendant/content-versions/pkg/contentstore"
)

// EntityName is the logical entity name used by sessions and metrics
const EntityName = "Document"

// RenditionPath addresses the document's rendition content
var RenditionPath = contentstore.Path("rendition")

var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
)

// Document is a versioned entity whose bytes live in a content store
type Document struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	MimeType string `json:"mime_type"`
	Version  int64  `json:"version"`

	ContentID       string `json:"content_id,omitempty"`
	ContentLength   int64  `json:"content_length"`
	RenditionID     string `json:"rendition_id,omitempty"`
	RenditionLength int64  `json:"rendition_length"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Repository persists document metadata. Implementations join the transaction carried
// by ctx when there is one.
type Repository interface {
	Create(ctx context.Context, doc *Document) error
	Get(ctx context.Context, id string) (*Document, error)
	List(ctx context.Context) ([]*Document, error)
	Delete(ctx context.Context, id string) error

	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	Session() contentstore.Session
}

// Mapping describes Document to the content stores and sessions
func Mapping() contentstore.Mapping[*Document] {
	return contentstore.Mapping[*Document]{
		Name:       EntityName,
		ID:         func(d *Document) string { return d.ID },
		Version:    func(d *Document) int64 { return d.Version },
		SetVersion: func(d *Document, v int64) { d.Version = v },
		Properties: map[contentstore.PropertyPath]contentstore.PropertyAccessor[*Document]{
			contentstore.DefaultPath: {
				ContentID:        func(d *Document) string { return d.ContentID },
				SetContentID:     func(d *Document, id string) { d.ContentID = id },
				ContentLength:    func(d *Document) int64 { return d.ContentLength },
				SetContentLength: func(d *Document, n int64) { d.ContentLength = n },
			},
			RenditionPath: {
				ContentID:        func(d *Document) string { return d.RenditionID },
				SetContentID:     func(d *Document, id string) { d.RenditionID = id },
				ContentLength:    func(d *Document) int64 { return d.RenditionLength },
				SetContentLength: func(d *Document, n int64) { d.RenditionLength = n },
			},
		},
	}
}

// Register adds the Document mapping to r
func Register(r *contentstore.Registry) error {
	return contentstore.Register(r, Mapping())
}

// Hooks stamps UpdatedAt whenever a document's content changes
func Hooks(now func() time.Time) *contentstore.Hooks {
	if now == nil {
		now = time.Now
	}
	touch := func(hctx *contentstore.HookContext) {
		if d, ok := hctx.Entity.(*Document); ok {
			d.UpdatedAt = now().UTC()
		}
	}
	return &contentstore.Hooks{
		AfterSetContent: []contentstore.AfterSetContentHook{
			func(hctx *contentstore.HookContext, _ int64) error {
				touch(hctx)
				return nil
			},
		},
		AfterUnsetContent: []contentstore.AfterUnsetContentHook{
			func(hctx *contentstore.HookContext) error {
				touch(hctx)
				return nil
			},
		},
	}
}

// prepare fills defaults for a new document
func prepare(doc *Document, now time.Time) {
	if doc.Version == 0 {
		doc.Version = 1
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.UpdatedAt.IsZero() {
		doc.UpdatedAt = doc.CreatedAt
	}
}
