package search

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/wikigraph/internal/graph"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	n, err := db.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOpen_Memory(t *testing.T) {
	db, err := Open("")
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.Upsert(PageRow{Path: "a.wiki", Fingerprint: "1", UpdatedAt: time.Now()}, "body"))
	n, err := db.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpsertAndFingerprint(t *testing.T) {
	db := testDB(t)
	row := PageRow{Path: "hello.wiki", Key: "hello", Title: "Hello", Fingerprint: "abc123", Tags: []string{"go"}, UpdatedAt: time.Now()}
	require.NoError(t, db.Upsert(row, "a hello world page"))
	fp, err := db.Fingerprint("hello.wiki")
	require.NoError(t, err)
	assert.Equal(t, "abc123", fp)

	row.Fingerprint = "def456"
	require.NoError(t, db.Upsert(row, "changed"))
	fp, _ = db.Fingerprint("hello.wiki")
	assert.Equal(t, "def456", fp)
}

func TestDelete(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Upsert(PageRow{Path: "del.wiki", Fingerprint: "x", UpdatedAt: time.Now()}, "body"))
	require.NoError(t, db.Delete("del.wiki"))
	fp, _ := db.Fingerprint("del.wiki")
	assert.Empty(t, fp)
}

func TestSearch(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Upsert(PageRow{Path: "a.wiki", Title: "Alpha", UpdatedAt: time.Now()}, "the quick brown fox"))
	require.NoError(t, db.Upsert(PageRow{Path: "b.wiki", Title: "Beta", UpdatedAt: time.Now()}, "lazy dog"))

	res, err := db.Search("quick", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a.wiki", res[0].Path)
}

func TestProjector_FollowsCommits(t *testing.T) {
	db := testDB(t)
	store := graph.NewStore()
	proj := NewProjector(db, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	pageID := graph.NewID()
	para := &graph.Entity{ID: graph.NewID(), Kind: graph.KindParagraph, Page: pageID, Parent: pageID, Text: "searchable words"}
	tag := &graph.Entity{ID: graph.NewID(), Kind: graph.KindTag, Page: pageID, Parent: para.ID, Text: "idea", Payload: graph.TagPayload{Name: "idea"}}
	para.Children = []graph.ID{tag.ID}
	pg := &graph.Entity{ID: pageID, Kind: graph.KindPage, Page: pageID, Children: []graph.ID{para.ID},
		Payload: graph.PagePayload{Path: "a.wiki", Key: "a", Title: "A", Fingerprint: "fp1"}}

	c, err := store.Apply(&graph.Patch{Inserts: []*graph.Entity{pg, para, tag}})
	require.NoError(t, err)
	proj.OnCommit(c)

	res, err := db.Search("searchable", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "A", res[0].Title)

	moved := pg.Clone()
	moved.Payload = graph.PagePayload{Path: "b.wiki", Key: "b", Title: "A", Fingerprint: "fp1"}
	c, err = store.Apply(&graph.Patch{Updates: []*graph.Entity{moved}})
	require.NoError(t, err)
	proj.OnCommit(c)
	fp, _ := db.Fingerprint("a.wiki")
	assert.Empty(t, fp)
	fp, _ = db.Fingerprint("b.wiki")
	assert.Equal(t, "fp1", fp)

	c, err = store.Apply(&graph.Patch{Removals: []graph.ID{pageID, para.ID, tag.ID}})
	require.NoError(t, err)
	proj.OnCommit(c)
	n, _ := db.Count()
	assert.Zero(t, n)
}

func TestProjector_Reconcile(t *testing.T) {
	db := testDB(t)
	store := graph.NewStore()
	proj := NewProjector(db, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	pageID := graph.NewID()
	pg := &graph.Entity{ID: pageID, Kind: graph.KindPage, Page: pageID,
		Payload: graph.PagePayload{Path: "live.wiki", Key: "live", Fingerprint: "fp"}}
	c, err := store.Apply(&graph.Patch{Inserts: []*graph.Entity{pg}})
	require.NoError(t, err)
	proj.OnCommit(c)

	// Left over from an earlier run.
	require.NoError(t, db.Upsert(PageRow{Path: "gone.wiki", Fingerprint: "old", UpdatedAt: time.Now()}, "stale"))

	removed, err := proj.Reconcile()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	paths, err := db.Paths()
	require.NoError(t, err)
	assert.Equal(t, []string{"live.wiki"}, paths)
}
