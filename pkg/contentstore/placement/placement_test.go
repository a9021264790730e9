package placement_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/content-versions/pkg/contentstore"
	"github.com/tendant/content-versions/pkg/contentstore/placement"
)

type item struct {
	ID      string
	Content string
	Length  int64
}

func (i *item) EntityID() string         { return i.ID }
func (i *item) ContentID() string        { return i.Content }
func (i *item) SetContentID(id string)   { i.Content = id }
func (i *item) ContentLength() int64     { return i.Length }
func (i *item) SetContentLength(n int64) { i.Length = n }

const contentID = "3f0c9a62-5a8e-4cbe-9d0e-2b1b9c2f3d11"

func TestFlat(t *testing.T) {
	key, err := placement.NewFlat("C/").StorageKey(contentID)
	require.NoError(t, err)
	assert.Equal(t, "C/"+contentID, key)

	key, err = placement.NewFlat("").StorageKey("a b")
	require.NoError(t, err)
	assert.Equal(t, "a b", key)

	_, err = placement.NewFlat("C").StorageKey("")
	assert.Error(t, err)
}

func TestGitLike(t *testing.T) {
	key, err := placement.NewGitLike().StorageKey(contentID)
	require.NoError(t, err)
	assert.Equal(t, "objects/3f/0c9a625a8e4cbe9d0e2b1b9c2f3d11", key)

	p := &placement.GitLike{ShardLength: 3}
	key, err = p.StorageKey(contentID)
	require.NoError(t, err)
	assert.Equal(t, "3f0/c9a625a8e4cbe9d0e2b1b9c2f3d11", key)

	key, err = p.StorageKey("ab")
	require.NoError(t, err)
	assert.Equal(t, "ab", key)
}

func TestHashed(t *testing.T) {
	p := placement.NewHashed()
	a, err := p.StorageKey("doc-1")
	require.NoError(t, err)
	b, err := p.StorageKey("doc-1")
	require.NoError(t, err)
	c, err := p.StorageKey("doc-2")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^objects/[0-9a-f]{2}/[0-9a-f]{62}$`, a)
}

func TestDeterministic(t *testing.T) {
	reg := contentstore.NewRegistry()
	p := placement.NewDeterministic(uuid.Nil, nil)

	e := &item{ID: "e1"}
	et, err := reg.Describe(e)
	require.NoError(t, err)

	a, err := p.NewContentID(e, et, contentstore.DefaultPath)
	require.NoError(t, err)
	b, err := p.NewContentID(&item{ID: "e1"}, et, contentstore.DefaultPath)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := p.NewContentID(&item{ID: "e2"}, et, contentstore.DefaultPath)
	require.NoError(t, err)
	assert.NotEqual(t, a, other)

	anon1, err := p.NewContentID(&item{}, et, contentstore.DefaultPath)
	require.NoError(t, err)
	anon2, err := p.NewContentID(&item{}, et, contentstore.DefaultPath)
	require.NoError(t, err)
	assert.NotEqual(t, anon1, anon2)
}

func TestTenant(t *testing.T) {
	p := placement.NewTenant("Acme Corp", nil)
	key, err := p.StorageKey(contentID)
	require.NoError(t, err)
	assert.Equal(t, "tenants/Acme_Corp/objects/3f/0c9a625a8e4cbe9d0e2b1b9c2f3d11", key)

	_, err = p.StorageKey("")
	assert.Error(t, err)
}

func TestFunc(t *testing.T) {
	p := placement.Func{Key: func(id string) (string, error) { return "custom/" + id, nil }}
	key, err := p.StorageKey("x")
	require.NoError(t, err)
	assert.Equal(t, "custom/x", key)

	var zero placement.Func
	key, err = zero.StorageKey("x")
	require.NoError(t, err)
	assert.Equal(t, "x", key)
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "flat", "gitlike", "hashed", "deterministic"} {
		p, err := placement.ByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, p)
	}
	_, err := placement.ByName("random")
	assert.Error(t, err)
}
