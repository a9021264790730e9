// Package placement provides content id and storage key strategies for a contentstore.Store.
package placement

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/content-versions/pkg/contentstore"
)

var errEmptyID = errors.New("content id is empty")

// Flat stores content under prefix + content id
// Example: C/3f0c9a62-5a8e-4cbe-9d0e-2b1b9c2f3d11
type Flat struct {
	contentstore.DefaultPlacement
	Prefix string
}

func NewFlat(prefix string) *Flat {
	return &Flat{Prefix: prefix}
}

func (p *Flat) StorageKey(contentID string) (string, error) {
	if contentID == "" {
		return "", errEmptyID
	}
	if p.Prefix == "" {
		return contentID, nil
	}
	return strings.TrimSuffix(p.Prefix, "/") + "/" + sanitizePathComponent(contentID), nil
}

// GitLike provides Git-style sharded keys
// Example: objects/3f/0c9a625a8e4cbe9d0e2b1b9c2f3d11
type GitLike struct {
	contentstore.DefaultPlacement

	// ShardLength controls how many characters are used for the shard directory (default: 2)
	ShardLength int
	Prefix      string
}

func NewGitLike() *GitLike {
	return &GitLike{ShardLength: 2, Prefix: "objects"}
}

func (p *GitLike) StorageKey(contentID string) (string, error) {
	if contentID == "" {
		return "", errEmptyID
	}
	return shard(p.Prefix, sanitizePathComponent(strings.ReplaceAll(contentID, "-", "")), p.ShardLength), nil
}

// Hashed shards on a SHA-256 of the content id, spreading sequential or
// human readable ids evenly across shard directories.
type Hashed struct {
	contentstore.DefaultPlacement
	ShardLength int
	Prefix      string
}

func NewHashed() *Hashed {
	return &Hashed{ShardLength: 2, Prefix: "objects"}
}

func (p *Hashed) StorageKey(contentID string) (string, error) {
	if contentID == "" {
		return "", errEmptyID
	}
	sum := sha256.Sum256([]byte(contentID))
	return shard(p.Prefix, fmt.Sprintf("%x", sum), p.ShardLength), nil
}

// Deterministic derives content ids from the entity's identity and the property path, so
// re-setting the same property of the same entity always targets the same key.
// Entities without an identity fall back to random ids.
type Deterministic struct {
	Namespace uuid.UUID
	Base      contentstore.Placement
}

// NewDeterministic uses uuid.NameSpaceOID when namespace is uuid.Nil.
func NewDeterministic(namespace uuid.UUID, base contentstore.Placement) *Deterministic {
	if namespace == uuid.Nil {
		namespace = uuid.NameSpaceOID
	}
	if base == nil {
		base = contentstore.DefaultPlacement{}
	}
	return &Deterministic{Namespace: namespace, Base: base}
}

func (p *Deterministic) NewContentID(entity any, t *contentstore.EntityType, path contentstore.PropertyPath) (string, error) {
	id := t.ID(entity)
	if id == "" {
		return p.Base.NewContentID(entity, t, path)
	}
	if prop, err := t.Property(path); err == nil && prop.SharesEntityID() {
		return id, nil
	}
	name := t.Name() + "/" + id + "/" + path.String()
	return uuid.NewSHA1(p.Namespace, []byte(name)).String(), nil
}

func (p *Deterministic) StorageKey(contentID string) (string, error) {
	return p.Base.StorageKey(contentID)
}

// Tenant prefixes every key produced by Base with tenants/{tenant}/
type Tenant struct {
	Base   contentstore.Placement
	Tenant string
}

func NewTenant(tenant string, base contentstore.Placement) *Tenant {
	if tenant == "" {
		tenant = "default"
	}
	if base == nil {
		base = NewGitLike()
	}
	return &Tenant{Base: base, Tenant: tenant}
}

func (p *Tenant) NewContentID(entity any, t *contentstore.EntityType, path contentstore.PropertyPath) (string, error) {
	return p.Base.NewContentID(entity, t, path)
}

func (p *Tenant) StorageKey(contentID string) (string, error) {
	key, err := p.Base.StorageKey(contentID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("tenants/%s/%s", sanitizePathComponent(p.Tenant), key), nil
}

// Func lets callers supply their own key function. A nil NewID assigns random ids.
type Func struct {
	NewID func(entity any, t *contentstore.EntityType, path contentstore.PropertyPath) (string, error)
	Key   func(contentID string) (string, error)
}

func (p Func) NewContentID(entity any, t *contentstore.EntityType, path contentstore.PropertyPath) (string, error) {
	if p.NewID == nil {
		return contentstore.DefaultPlacement{}.NewContentID(entity, t, path)
	}
	return p.NewID(entity, t, path)
}

func (p Func) StorageKey(contentID string) (string, error) {
	if p.Key == nil {
		return contentstore.DefaultPlacement{}.StorageKey(contentID)
	}
	return p.Key(contentID)
}

// ByName returns a named strategy: "flat", "gitlike", "hashed" or "deterministic".
func ByName(name string) (contentstore.Placement, error) {
	switch strings.ToLower(name) {
	case "", "flat":
		return contentstore.DefaultPlacement{}, nil
	case "gitlike", "git-like":
		return NewGitLike(), nil
	case "hashed":
		return NewHashed(), nil
	case "deterministic":
		return NewDeterministic(uuid.Nil, NewGitLike()), nil
	default:
		return nil, fmt.Errorf("unknown placement strategy %q", name)
	}
}

func shard(prefix, s string, n int) string {
	if n <= 0 {
		n = 2
	}
	if len(s) <= n {
		return joinKey(prefix, s)
	}
	return joinKey(prefix, s[:n], s[n:])
}

func joinKey(parts ...string) string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.Trim(p, "/"); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}

func sanitizePathComponent(component string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(component)
}
