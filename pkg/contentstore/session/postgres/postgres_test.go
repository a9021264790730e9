package postgres_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/content-versions/internal/testdb"
	"github.com/tendant/content-versions/pkg/contentstore"
	memorydriver "github.com/tendant/content-versions/pkg/contentstore/driver/memory"
	"github.com/tendant/content-versions/pkg/contentstore/pgtx"
	"github.com/tendant/content-versions/pkg/contentstore/session/postgres"
)

type page struct {
	ID      string
	Ver     int64
	Content string
	Length  int64
}

func (p *page) EntityID() string         { return p.ID }
func (p *page) Version() int64           { return p.Ver }
func (p *page) SetVersion(v int64)       { p.Ver = v }
func (p *page) ContentID() string        { return p.Content }
func (p *page) SetContentID(id string)   { p.Content = id }
func (p *page) ContentLength() int64     { return p.Length }
func (p *page) SetContentLength(n int64) { p.Length = n }

var pagesTable = postgres.Table{
	Name:          "session_test_pages",
	IDColumn:      "id",
	VersionColumn: "version",
	Columns: []postgres.Column{
		postgres.Col("content_id", func(p *page) any { return p.Content }),
		postgres.Col("content_length", func(p *page) any { return p.Length }),
	},
}

func newSession(t *testing.T) *postgres.Session {
	t.Helper()
	s, err := postgres.New(contentstore.NewRegistry(), postgres.WithTable("page", pagesTable))
	require.NoError(t, err)
	return s
}

func TestNewValidatesTables(t *testing.T) {
	_, err := postgres.New(nil)
	assert.Error(t, err)

	_, err = postgres.New(contentstore.NewRegistry(), postgres.WithTable("page", postgres.Table{Name: "pages"}))
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)
}

func TestSessionRequiresTransaction(t *testing.T) {
	s := newSession(t)

	_, err := s.Merge(context.Background(), &page{ID: "p1"})
	assert.ErrorIs(t, err, contentstore.ErrNoTransaction)

	err = s.Lock(context.Background(), &page{ID: "p1", Ver: 1}, contentstore.LockOptimistic)
	assert.ErrorIs(t, err, contentstore.ErrNoTransaction)
}

func TestMergeIdentityMap(t *testing.T) {
	s := newSession(t)
	ctx := pgtx.WithTx(context.Background(), &pgtx.Tx{})

	detached := &page{ID: "p1", Ver: 3}
	m1, err := s.Merge(ctx, detached)
	require.NoError(t, err)
	assert.NotSame(t, detached, m1)

	m2, err := s.Merge(ctx, &page{ID: "p1", Ver: 3, Content: "c"})
	require.NoError(t, err)
	assert.Same(t, m1, m2)
	assert.Equal(t, "c", m2.(*page).Content)

	m2.(*page).SetVersion(4)
	_, err = s.Merge(ctx, &page{ID: "p1", Ver: 3})
	assert.True(t, contentstore.IsConflict(err))
}

func TestManagedAndRemove(t *testing.T) {
	s := newSession(t)
	ctx := pgtx.WithTx(context.Background(), &pgtx.Tx{})

	_, ok := s.Managed(ctx, "page", "p1")
	assert.False(t, ok)

	m, err := s.Merge(ctx, &page{ID: "p1", Ver: 1})
	require.NoError(t, err)
	got, ok := s.Managed(ctx, "page", "p1")
	require.True(t, ok)
	assert.Same(t, m, got)

	require.NoError(t, s.Remove(ctx, &page{ID: "p1", Ver: 1}))
	_, ok = s.Managed(ctx, "page", "p1")
	assert.False(t, ok)

	_, ok = s.Managed(context.Background(), "page", "p1")
	assert.False(t, ok)
}

func TestLockUnmappedEntity(t *testing.T) {
	s, err := postgres.New(contentstore.NewRegistry())
	require.NoError(t, err)
	ctx := pgtx.WithTx(context.Background(), &pgtx.Tx{})

	err = s.Lock(ctx, &page{ID: "p1", Ver: 1}, contentstore.LockOptimistic)
	assert.ErrorIs(t, err, contentstore.ErrConfiguration)
}

func TestSessionWithPostgres(t *testing.T) {
	pool := testdb.Open(t)
	testdb.Exec(t, pool,
		`CREATE TABLE IF NOT EXISTS session_test_pages (
			id TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			content_id TEXT NOT NULL DEFAULT '',
			content_length BIGINT NOT NULL DEFAULT 0
		)`,
		`DELETE FROM session_test_pages`,
		`INSERT INTO session_test_pages (id, version) VALUES ('p1', 1)`,
	)

	s := newSession(t)
	store, err := contentstore.New[*page](contentstore.WithDriver(memorydriver.New()))
	require.NoError(t, err)
	locking, err := contentstore.NewLockingStore[*page](store, s)
	require.NoError(t, err)
	ctx := context.Background()

	var saved *page
	err = pgtx.RunInTx(ctx, pool, func(ctx context.Context) error {
		var err error
		saved, err = locking.SetContent(ctx, &page{ID: "p1", Ver: 1}, strings.NewReader("body"))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), saved.Ver)

	var version, length int64
	var contentID string
	err = pool.QueryRow(ctx, `SELECT version, content_id, content_length FROM session_test_pages WHERE id = 'p1'`).
		Scan(&version, &contentID, &length)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
	assert.Equal(t, saved.Content, contentID)
	assert.Equal(t, int64(4), length)

	// A writer still holding version 1 loses
	err = pgtx.RunInTx(ctx, pool, func(ctx context.Context) error {
		_, err := locking.SetContent(ctx, &page{ID: "p1", Ver: 1}, strings.NewReader("stale"))
		return err
	})
	require.Error(t, err)
	assert.True(t, contentstore.IsConflict(err))

	err = pool.QueryRow(ctx, `SELECT version FROM session_test_pages WHERE id = 'p1'`).Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, int64(2), version)
}

func TestRemoveDeletesRowOnCommit(t *testing.T) {
	pool := testdb.Open(t)
	testdb.Exec(t, pool,
		`CREATE TABLE IF NOT EXISTS session_test_pages (
			id TEXT PRIMARY KEY,
			version BIGINT NOT NULL,
			content_id TEXT NOT NULL DEFAULT '',
			content_length BIGINT NOT NULL DEFAULT 0
		)`,
		`DELETE FROM session_test_pages`,
		`INSERT INTO session_test_pages (id, version) VALUES ('p2', 3)`,
	)
	s := newSession(t)
	ctx := context.Background()

	// A stale removal is rejected on flush
	err := pgtx.RunInTx(ctx, pool, func(ctx context.Context) error {
		return s.Remove(ctx, &page{ID: "p2", Ver: 2})
	})
	assert.True(t, contentstore.IsConflict(err))

	err = pgtx.RunInTx(ctx, pool, func(ctx context.Context) error {
		return s.Remove(ctx, &page{ID: "p2", Ver: 3})
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM session_test_pages WHERE id = 'p2'`).Scan(&count))
	assert.Equal(t, 0, count)
}
