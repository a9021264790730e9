// Package api exposes a content store over HTTP. Each request runs in one metadata
// transaction so the optimistic lock taken by the locking store covers the whole call.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/content-versions/pkg/contentstore"
)

// TxRunner runs fn in a metadata transaction carried by ctx
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Loader fetches an entity by id inside the transaction carried by ctx
type Loader[E any] func(ctx context.Context, id string) (E, error)

// Config wires a ContentHandler
type Config[E any] struct {
	Store    contentstore.ContentStore[E] // usually a *contentstore.LockingStore
	Registry *contentstore.Registry
	Load     Loader[E]
	Tx       TxRunner

	// NotFound is the error Load wraps for unknown ids
	NotFound error

	// ContentType optionally names the media type served for a property
	ContentType func(entity E, path contentstore.PropertyPath) string

	Logger *slog.Logger
}

// ContentResponse describes an entity's content after a mutation
type ContentResponse struct {
	ID            string `json:"id"`
	Path          string `json:"path"`
	Version       int64  `json:"version"`
	ContentID     string `json:"content_id,omitempty"`
	ContentLength int64  `json:"content_length"`
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
}

var (
	errNoContent   = errors.New("entity has no content")
	errUnknownPath = errors.New("unknown content property")
)

// ContentHandler serves GET, PUT and DELETE on /{id}/content[/{path}]
type ContentHandler[E any] struct {
	store       contentstore.ContentStore[E]
	registry    *contentstore.Registry
	load        Loader[E]
	tx          TxRunner
	notFound    error
	contentType func(E, contentstore.PropertyPath) string
	logger      *slog.Logger
}

// NewContentHandler creates a new content handler
func NewContentHandler[E any](cfg Config[E]) (*ContentHandler[E], error) {
	if cfg.Store == nil || cfg.Load == nil || cfg.Tx == nil {
		return nil, errors.New("store, loader and transaction runner are required")
	}
	if cfg.Registry == nil {
		cfg.Registry = contentstore.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ContentHandler[E]{
		store:       cfg.Store,
		registry:    cfg.Registry,
		load:        cfg.Load,
		tx:          cfg.Tx,
		notFound:    cfg.NotFound,
		contentType: cfg.ContentType,
		logger:      cfg.Logger,
	}, nil
}

// Routes registers the content routes on r
func (h *ContentHandler[E]) Routes(r chi.Router) {
	r.Get("/{id}/content", h.GetContent)
	r.Get("/{id}/content/*", h.GetContent)
	r.Put("/{id}/content", h.SetContent)
	r.Put("/{id}/content/*", h.SetContent)
	r.Delete("/{id}/content", h.UnsetContent)
	r.Delete("/{id}/content/*", h.UnsetContent)
}

// GetContent streams the content of one property
func (h *ContentHandler[E]) GetContent(w http.ResponseWriter, r *http.Request) {
	id, path := chi.URLParam(r, "id"), contentstore.ParsePath(chi.URLParam(r, "*"))
	expected, err := ifMatch(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	started := false
	err = h.tx.RunInTx(r.Context(), func(ctx context.Context) error {
		entity, et, err := h.entity(ctx, id, path, expected)
		if err != nil {
			return err
		}
		rc, err := h.store.GetContentAt(ctx, entity, path)
		if err != nil {
			return err
		}
		if rc == nil {
			return errNoContent
		}
		defer rc.Close()

		prop, _ := et.Property(path)
		mediaType := "application/octet-stream"
		if h.contentType != nil {
			if ct := h.contentType(entity, path); ct != "" {
				mediaType = ct
			}
		}
		w.Header().Set("Content-Type", mediaType)
		if n := prop.ContentLength(entity); n > 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(n, 10))
		}
		if et.Versioned() {
			w.Header().Set("ETag", etag(et.Version(entity)))
		}
		w.WriteHeader(http.StatusOK)
		started = true

		_, err = io.Copy(w, rc)
		return err
	})
	if err != nil {
		if started {
			h.logger.ErrorContext(r.Context(), "content stream interrupted", "id", id, "path", path.String(), "err", err)
			return
		}
		h.fail(w, r, err, expected != nil)
	}
}

// SetContent stores the request body as the content of one property
func (h *ContentHandler[E]) SetContent(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, entity E, path contentstore.PropertyPath) (E, error) {
		return h.store.SetContentAt(ctx, entity, path, r.Body)
	})
}

// UnsetContent deletes the content of one property
func (h *ContentHandler[E]) UnsetContent(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, func(ctx context.Context, entity E, path contentstore.PropertyPath) (E, error) {
		return h.store.UnsetContentAt(ctx, entity, path)
	})
}

func (h *ContentHandler[E]) mutate(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, entity E, path contentstore.PropertyPath) (E, error)) {
	id, path := chi.URLParam(r, "id"), contentstore.ParsePath(chi.URLParam(r, "*"))
	expected, err := ifMatch(r)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, err)
		return
	}

	var resp ContentResponse
	err = h.tx.RunInTx(r.Context(), func(ctx context.Context) error {
		entity, _, err := h.entity(ctx, id, path, expected)
		if err != nil {
			return err
		}
		updated, err := op(ctx, entity, path)
		if err != nil {
			return err
		}
		resp, err = h.describe(updated, path)
		return err
	})
	if err != nil {
		h.fail(w, r, err, expected != nil)
		return
	}

	if resp.Version > 0 {
		w.Header().Set("ETag", etag(resp.Version))
	}
	render.JSON(w, r, resp)
}

// entity loads id, checks path and applies the If-Match version
func (h *ContentHandler[E]) entity(ctx context.Context, id string, path contentstore.PropertyPath, expected *int64) (E, *contentstore.EntityType, error) {
	entity, err := h.load(ctx, id)
	if err != nil {
		return entity, nil, err
	}
	et, err := h.registry.Describe(entity)
	if err != nil {
		return entity, nil, err
	}
	if _, err := et.Property(path); err != nil {
		return entity, nil, fmt.Errorf("%w %q", errUnknownPath, path)
	}
	if expected != nil && et.Versioned() {
		et.SetVersion(entity, *expected)
	}
	return entity, et, nil
}

func (h *ContentHandler[E]) describe(entity E, path contentstore.PropertyPath) (ContentResponse, error) {
	et, err := h.registry.Describe(entity)
	if err != nil {
		return ContentResponse{}, err
	}
	prop, err := et.Property(path)
	if err != nil {
		return ContentResponse{}, err
	}
	return ContentResponse{
		ID:            et.ID(entity),
		Path:          path.String(),
		Version:       et.Version(entity),
		ContentID:     prop.ContentID(entity),
		ContentLength: prop.ContentLength(entity),
	}, nil
}

func (h *ContentHandler[E]) fail(w http.ResponseWriter, r *http.Request, err error, precondition bool) {
	status := h.status(err, precondition)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "content request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	h.writeError(w, r, status, err)
}

// status maps an error to an HTTP status. A conflict under If-Match is a failed precondition.
func (h *ContentHandler[E]) status(err error, precondition bool) int {
	switch {
	case h.notFound != nil && errors.Is(err, h.notFound),
		errors.Is(err, errNoContent),
		errors.Is(err, errUnknownPath):
		return http.StatusNotFound
	case errors.Is(err, contentstore.ErrConflict):
		if precondition {
			return http.StatusPreconditionFailed
		}
		return http.StatusConflict
	case errors.Is(err, contentstore.ErrStoreAccess):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *ContentHandler[E]) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: err.Error()})
}

func etag(version int64) string {
	return strconv.Quote(strconv.FormatInt(version, 10))
}

// ifMatch parses an If-Match header carrying one entity version. "*" matches any version.
func ifMatch(r *http.Request) (*int64, error) {
	raw := strings.TrimSpace(r.Header.Get("If-Match"))
	if raw == "" || raw == "*" {
		return nil, nil
	}
	raw = strings.Trim(strings.TrimPrefix(raw, "W/"), `"`)
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, fmt.Errorf("invalid If-Match version %q", r.Header.Get("If-Match"))
	}
	return &v, nil
}
