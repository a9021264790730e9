package contentstore

import (
	"context"
	"io"
	"log/slog"
)

// Hook system allows extending store behavior without modifying core code.
// Hooks are called at specific points of a content operation.

// Hooks defines all available lifecycle hooks
type Hooks struct {
	BeforeSetContent   []BeforeSetContentHook
	AfterSetContent    []AfterSetContentHook
	AfterGetContent    []AfterGetContentHook
	BeforeUnsetContent []BeforeUnsetContentHook
	AfterUnsetContent  []AfterUnsetContentHook

	// OnConflict runs when the locking store rejects a stale entity
	OnConflict []ConflictHook

	OnError []ErrorHook
}

// HookContext carries information through the hook chain
type HookContext struct {
	Context   context.Context
	Entity    any
	Path      PropertyPath
	ContentID string
	Key       string
	Metadata  map[string]interface{} // Custom metadata passed between hooks
	StopChain bool                   // Set to true to stop processing remaining hooks
}

// NewHookContext creates a new hook context
func NewHookContext(ctx context.Context, entity any, path PropertyPath) *HookContext {
	return &HookContext{
		Context:  ctx,
		Entity:   entity,
		Path:     path,
		Metadata: make(map[string]interface{}),
	}
}

// BeforeSetContentHook may replace the stream that is about to be stored
type BeforeSetContentHook func(hctx *HookContext, r io.Reader) (io.Reader, error)

// AfterSetContentHook is called once the driver stored the content
type AfterSetContentHook func(hctx *HookContext, written int64) error

// AfterGetContentHook may wrap the stream handed to the caller
type AfterGetContentHook func(hctx *HookContext, rc io.ReadCloser) (io.ReadCloser, error)

// BeforeUnsetContentHook is called before content is deleted from the backend
type BeforeUnsetContentHook func(hctx *HookContext) error

// AfterUnsetContentHook is called after content is deleted and unassociated
type AfterUnsetContentHook func(hctx *HookContext) error

// ConflictHook observes optimistic lock conflicts
type ConflictHook func(hctx *HookContext, err *ConflictError)

// ErrorHook is called when an operation fails
type ErrorHook func(hctx *HookContext, operation string, err error)

func (h *Hooks) executeBeforeSetContent(hctx *HookContext, r io.Reader) (io.Reader, error) {
	if h == nil || len(h.BeforeSetContent) == 0 {
		return r, nil
	}

	current := r
	for _, hook := range h.BeforeSetContent {
		modified, err := hook(hctx, current)
		if err != nil {
			return nil, err
		}
		if modified != nil {
			current = modified
		}
		if hctx.StopChain {
			break
		}
	}
	return current, nil
}

func (h *Hooks) executeAfterSetContent(hctx *HookContext, written int64) error {
	if h == nil {
		return nil
	}
	for _, hook := range h.AfterSetContent {
		if err := hook(hctx, written); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeAfterGetContent(hctx *HookContext, rc io.ReadCloser) (io.ReadCloser, error) {
	if h == nil || len(h.AfterGetContent) == 0 {
		return rc, nil
	}

	current := rc
	for _, hook := range h.AfterGetContent {
		modified, err := hook(hctx, current)
		if err != nil {
			current.Close()
			return nil, err
		}
		if modified != nil {
			current = modified
		}
		if hctx.StopChain {
			break
		}
	}
	return current, nil
}

func (h *Hooks) executeBeforeUnsetContent(hctx *HookContext) error {
	if h == nil {
		return nil
	}
	for _, hook := range h.BeforeUnsetContent {
		if err := hook(hctx); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeAfterUnsetContent(hctx *HookContext) error {
	if h == nil {
		return nil
	}
	for _, hook := range h.AfterUnsetContent {
		if err := hook(hctx); err != nil {
			return err
		}
		if hctx.StopChain {
			break
		}
	}
	return nil
}

func (h *Hooks) executeOnConflict(hctx *HookContext, err *ConflictError) {
	if h == nil {
		return
	}
	for _, hook := range h.OnConflict {
		hook(hctx, err)
		if hctx.StopChain {
			break
		}
	}
}

func (h *Hooks) executeOnError(hctx *HookContext, operation string, err error) {
	if h == nil {
		return
	}
	for _, hook := range h.OnError {
		hook(hctx, operation, err)
		if hctx.StopChain {
			break
		}
	}
}

// LoggingHooks logs stores, deletions, conflicts and failures
func LoggingHooks(logger *slog.Logger) *Hooks {
	return &Hooks{
		AfterSetContent: []AfterSetContentHook{
			func(hctx *HookContext, written int64) error {
				logger.InfoContext(hctx.Context, "content stored", "content_id", hctx.ContentID, "key", hctx.Key, "bytes", written)
				return nil
			},
		},
		AfterUnsetContent: []AfterUnsetContentHook{
			func(hctx *HookContext) error {
				logger.InfoContext(hctx.Context, "content removed", "content_id", hctx.ContentID, "key", hctx.Key)
				return nil
			},
		},
		OnConflict: []ConflictHook{
			func(hctx *HookContext, err *ConflictError) {
				logger.WarnContext(hctx.Context, "stale entity rejected", "entity", err.Entity, "id", err.ID,
					"expected", err.Expected, "actual", err.Actual)
			},
		},
		OnError: []ErrorHook{
			func(hctx *HookContext, operation string, err error) {
				logger.ErrorContext(hctx.Context, "content operation failed", "op", operation, "path", hctx.Path.String(), "err", err)
			},
		},
	}
}

// MergeHooks concatenates hook sets in order
func MergeHooks(sets ...*Hooks) *Hooks {
	merged := &Hooks{}
	for _, h := range sets {
		if h == nil {
			continue
		}
		merged.BeforeSetContent = append(merged.BeforeSetContent, h.BeforeSetContent...)
		merged.AfterSetContent = append(merged.AfterSetContent, h.AfterSetContent...)
		merged.AfterGetContent = append(merged.AfterGetContent, h.AfterGetContent...)
		merged.BeforeUnsetContent = append(merged.BeforeUnsetContent, h.BeforeUnsetContent...)
		merged.AfterUnsetContent = append(merged.AfterUnsetContent, h.AfterUnsetContent...)
		merged.OnConflict = append(merged.OnConflict, h.OnConflict...)
		merged.OnError = append(merged.OnError, h.OnError...)
	}
	return merged
}
