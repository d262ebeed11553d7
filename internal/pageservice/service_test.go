package pageservice

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/wikigraph/internal/apperr"
	"github.com/starford/wikigraph/internal/graph"
	"github.com/starford/wikigraph/internal/index"
	"github.com/starford/wikigraph/internal/storage"
	"github.com/starford/wikigraph/internal/testutil"
	"github.com/starford/wikigraph/internal/writer"
)

type fixture struct {
	svc    *Service
	fs     *storage.FS
	engine *index.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := testutil.NewPipeline(t)
	logger := testutil.Logger()
	return &fixture{
		svc:    NewService(p.Engine, p.Scheduler, writer.New(p.FS, logger), p.FS, p.DB, logger),
		fs:     p.FS,
		engine: p.Engine,
	}
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func firstOfKind(t *testing.T, n *EntityNode, kind graph.Kind) *graph.Entity {
	t.Helper()
	e := findKind(n, kind)
	require.NotNil(t, e, "no %s entity in tree", kind)
	return e
}

func findKind(n *EntityNode, kind graph.Kind) *graph.Entity {
	if n.Kind == kind {
		return n.Entity
	}
	for _, c := range n.Nodes {
		if e := findKind(c, kind); e != nil {
			return e
		}
	}
	return nil
}

func TestCreatePage_ResolvesBacklinks(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	a, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "a", Content: "see [[b]]\n"})
	require.NoError(t, err)
	assert.Equal(t, "a.wiki", a.Path)
	link := firstOfKind(t, a.Tree, graph.KindLink)

	bl, err := f.svc.Backlinks(ctx, "b")
	require.NoError(t, err)
	require.Len(t, bl, 1)
	assert.False(t, bl[0].Resolved)
	assert.Equal(t, "a.wiki", bl[0].Path)

	b, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "b.wiki", Content: "# B"})
	require.NoError(t, err)
	require.Len(t, b.Backlinks, 1)
	assert.Equal(t, link.ID, b.Backlinks[0].Source)
	assert.True(t, b.Backlinks[0].Resolved)
	assert.Equal(t, b.ID, b.Backlinks[0].Target)
	assert.NoError(t, f.engine.Store().Check())
}

func TestCreatePage_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	_, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "a", Content: "x"})
	require.NoError(t, err)
	_, err = f.svc.CreatePage(ctx, CreatePageInput{Path: "a.wiki", Content: "y"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
}

func TestCreatePage_RejectsBadPaths(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	for _, p := range []string{"", "../escape", "notes/.hidden"} {
		_, err := f.svc.CreatePage(ctx, CreatePageInput{Path: p})
		assert.ErrorIs(t, err, apperr.ErrInvalid, "path %q", p)
	}
}

func TestEditEntity_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	page, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "p", Content: "= Title =\nold text\n\nkeep me\n"})
	require.NoError(t, err)
	para := firstOfKind(t, page.Tree, graph.KindParagraph)

	res, err := f.svc.EditEntity(ctx, EditEntityInput{ID: string(para.ID), Content: "new text"})
	require.NoError(t, err)
	require.NotNil(t, res.Entity)
	assert.Equal(t, para.ID, res.Entity.ID)
	assert.Equal(t, "new text", res.Entity.Text)

	data, err := f.fs.Read("p.wiki")
	require.NoError(t, err)
	assert.Equal(t, "= Title =\nnew text\n\nkeep me\n", string(data))

	got, err := f.svc.Page(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, page.ID, got.ID)
	assert.Greater(t, got.Version, page.Version)
}

func TestEditEntity_SingleLineKinds(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	page, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "p", Content: "= Title =\nbody\n"})
	require.NoError(t, err)
	section := firstOfKind(t, page.Tree, graph.KindSection)

	_, err = f.svc.EditEntity(ctx, EditEntityInput{ID: string(section.ID), Content: "two\nlines"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)

	data, err := f.fs.Read("p.wiki")
	require.NoError(t, err)
	assert.Equal(t, "= Title =\nbody\n", string(data))
}

func allOfKind(n *EntityNode, kind graph.Kind) []*graph.Entity {
	var out []*graph.Entity
	if n.Kind == kind {
		out = append(out, n.Entity)
	}
	for _, c := range n.Nodes {
		out = append(out, allOfKind(c, kind)...)
	}
	return out
}

func TestEditEntity_ConcurrentEditsSamePage(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	for round := range 10 {
		p := fmt.Sprintf("p%d", round)
		page, err := f.svc.CreatePage(ctx, CreatePageInput{Path: p, Content: "= One =\n\n= Two =\n"})
		require.NoError(t, err)
		sections := allOfKind(page.Tree, graph.KindSection)
		require.Len(t, sections, 2)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, title := range []string{"EditedA", "EditedB"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = f.svc.EditEntity(ctx, EditEntityInput{ID: string(sections[i].ID), Content: title})
			}()
		}
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		data, err := f.fs.Read(p + ".wiki")
		require.NoError(t, err)
		assert.Equal(t, "= EditedA =\n\n= EditedB =\n", string(data), "round %d", round)

		got, err := f.svc.Page(ctx, p)
		require.NoError(t, err)
		after := allOfKind(got.Tree, graph.KindSection)
		require.Len(t, after, 2)
		assert.Equal(t, sections[0].ID, after[0].ID)
		assert.Equal(t, sections[1].ID, after[1].ID)
	}
}

func TestEditEntity_UnknownID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.EditEntity(testCtx(t), EditEntityInput{ID: "missing", Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEditEntity_RetriesAfterExternalChange(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	page, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "p", Content: "= T =\nalpha beta\n"})
	require.NoError(t, err)
	para := firstOfKind(t, page.Tree, graph.KindParagraph)

	// Changed on disk, not yet synced.
	require.NoError(t, f.fs.Write("p.wiki", []byte("= T =\nalpha beta\n\nextra\n")))

	res, err := f.svc.EditEntity(ctx, EditEntityInput{ID: string(para.ID), Content: "gamma"})
	require.NoError(t, err)
	assert.Equal(t, para.ID, res.Entity.ID)

	data, err := f.fs.Read("p.wiki")
	require.NoError(t, err)
	assert.Equal(t, "= T =\ngamma\n\nextra\n", string(data))
}

func TestDeleteEntity(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	page, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "p", Content: "first\n\nsecond\n"})
	require.NoError(t, err)
	first := firstOfKind(t, page.Tree, graph.KindParagraph)

	res, err := f.svc.DeleteEntity(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, res.Entity)

	data, err := f.fs.Read("p.wiki")
	require.NoError(t, err)
	assert.NotContains(t, string(data), "first")
	assert.Contains(t, string(data), "second")

	_, err = f.svc.Entity(ctx, first.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeletePage(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	_, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "a", Content: "see [[b]]"})
	require.NoError(t, err)
	_, err = f.svc.CreatePage(ctx, CreatePageInput{Path: "b", Content: "target"})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeletePage(ctx, "b"))
	_, err = f.svc.Page(ctx, "b")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	bl, err := f.svc.Backlinks(ctx, "b")
	require.NoError(t, err)
	require.Len(t, bl, 1)
	assert.False(t, bl[0].Resolved)

	assert.ErrorIs(t, f.svc.DeletePage(ctx, "b"), apperr.ErrNotFound)
	assert.Len(t, f.svc.Pages(ctx), 1)
}

func TestMovePage_KeepsIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	_, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "a", Content: "[[b]] and [[c]]"})
	require.NoError(t, err)
	b, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "b", Content: "= Heading =\ntext\n"})
	require.NoError(t, err)
	section := firstOfKind(t, b.Tree, graph.KindSection)

	moved, err := f.svc.MovePage(ctx, MovePageInput{From: "b", To: "c"})
	require.NoError(t, err)
	assert.Equal(t, b.ID, moved.ID)
	assert.Equal(t, "c.wiki", moved.Path)
	assert.Equal(t, section.ID, firstOfKind(t, moved.Tree, graph.KindSection).ID)

	old, err := f.svc.Backlinks(ctx, "b")
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.False(t, old[0].Resolved)

	require.Len(t, moved.Backlinks, 1)
	assert.True(t, moved.Backlinks[0].Resolved)

	ok, err := f.fs.Exists("b.wiki")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, f.engine.Store().Check())
}

func TestMovePage_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	_, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "a", Content: "a"})
	require.NoError(t, err)
	_, err = f.svc.CreatePage(ctx, CreatePageInput{Path: "b", Content: "b"})
	require.NoError(t, err)

	_, err = f.svc.MovePage(ctx, MovePageInput{From: "a", To: "b"})
	assert.ErrorIs(t, err, apperr.ErrAlreadyExists)
	_, err = f.svc.MovePage(ctx, MovePageInput{From: "missing", To: "z"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = f.svc.MovePage(ctx, MovePageInput{From: "a", To: "a.wiki"})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestQueries(t *testing.T) {
	f := newFixture(t)
	ctx := testCtx(t)

	_, err := f.svc.CreatePage(ctx, CreatePageInput{Path: "a", Content: "quokka notes :animal: [[b]] [site](https://example.com)\n"})
	require.NoError(t, err)
	_, err = f.svc.CreatePage(ctx, CreatePageInput{Path: "b", Content: "links to [[c]]\n"})
	require.NoError(t, err)
	_, err = f.svc.CreatePage(ctx, CreatePageInput{Path: "c", Content: "end #animal\n"})
	require.NoError(t, err)

	tagged, err := f.svc.SearchTag(ctx, ":animal:")
	require.NoError(t, err)
	assert.Len(t, tagged, 2)

	links, err := f.svc.Links(ctx, "a")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, "b", links[0].Key)
	assert.NotEmpty(t, links[0].Resolved)
	assert.True(t, links[1].External)

	hits, err := f.svc.Related(ctx, "a", 2)
	require.NoError(t, err)
	paths := make([]string, 0, len(hits))
	for _, h := range hits {
		paths = append(paths, h.Path)
	}
	assert.ElementsMatch(t, []string{"b.wiki", "c.wiki"}, paths)

	res, err := f.svc.Search(ctx, "quokka", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a.wiki", res[0].Path)

	_, err = f.svc.Search(ctx, " ", 10)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = f.svc.SearchTag(ctx, "")
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}
