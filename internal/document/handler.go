package document

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/content-versions/pkg/contentstore"
)

// CreateDocumentRequest is the request body for creating a document
type CreateDocumentRequest struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title"`
	MimeType string `json:"mime_type"`
}

// Handler serves document metadata. Deleting a document removes its content first.
type Handler struct {
	repo   Repository
	store  contentstore.ContentStore[*Document]
	logger *slog.Logger
}

// NewHandler creates a new document handler
func NewHandler(repo Repository, store contentstore.ContentStore[*Document], logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, store: store, logger: logger}
}

// Routes registers the document routes on r
func (h *Handler) Routes(r chi.Router) {
	r.Post("/", h.CreateDocument)
	r.Get("/", h.ListDocuments)
	r.Get("/{id}", h.GetDocument)
	r.Delete("/{id}", h.DeleteDocument)
}

// Load fetches a document for the content handler
func (h *Handler) Load(ctx context.Context, id string) (*Document, error) {
	return h.repo.Get(ctx, id)
}

func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var req CreateDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	doc := &Document{ID: req.ID, Title: req.Title, MimeType: req.MimeType}
	if err := h.repo.Create(r.Context(), doc); err != nil {
		h.fail(w, r, "create document", err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, doc)
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.repo.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get document", err)
		return
	}
	render.JSON(w, r, doc)
}

func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.repo.List(r.Context())
	if err != nil {
		h.fail(w, r, "list documents", err)
		return
	}
	if docs == nil {
		docs = []*Document{}
	}
	render.JSON(w, r, docs)
}

// DeleteDocument unsets every content property and removes the row in one transaction
func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.repo.RunInTx(r.Context(), func(ctx context.Context) error {
		doc, err := h.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		for _, path := range []contentstore.PropertyPath{contentstore.DefaultPath, RenditionPath} {
			if doc, err = h.store.UnsetContentAt(ctx, doc, path); err != nil {
				return err
			}
		}
		return h.repo.Delete(ctx, id)
	})
	if err != nil {
		h.fail(w, r, "delete document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrExists), errors.Is(err, contentstore.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, contentstore.ErrStoreAccess):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "document request failed", "op", op, "err", err)
	}
	http.Error(w, err.Error(), status)
}
