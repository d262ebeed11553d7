// Package testutil provides shared test helpers for setting up wikis,
// search databases and a running sync pipeline.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/wikigraph/internal/graph"
	"github.com/starford/wikigraph/internal/index"
	"github.com/starford/wikigraph/internal/search"
	"github.com/starford/wikigraph/internal/storage"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestDB creates a temporary SQLite search database that is automatically cleaned up.
func TestDB(t *testing.T) *search.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "wikigraph-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := search.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestWiki creates a temporary wiki directory with a storage.FS for .wiki pages.
func TestWiki(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fsys, err := storage.NewFS(dir, ".wiki")
	if err != nil {
		t.Fatal(err)
	}
	return dir, fsys
}

// Pipeline is a store, engine and running scheduler over a temporary wiki,
// with the search projection attached.
type Pipeline struct {
	Dir       string
	FS        *storage.FS
	Store     *graph.Store
	Engine    *index.Engine
	Scheduler *index.Scheduler
	DB        *search.DB
}

// NewPipeline builds a Pipeline and stops its scheduler on cleanup.
func NewPipeline(t *testing.T) *Pipeline {
	t.Helper()
	logger := Logger()
	dir, fsys := TestWiki(t)
	db := TestDB(t)

	store := graph.NewStore()
	engine := index.NewEngine(store, fsys, logger)
	engine.OnCommit(search.NewProjector(db, store, logger).OnCommit)
	sched := index.NewScheduler(engine, 2, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sched.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &Pipeline{Dir: dir, FS: fsys, Store: store, Engine: engine, Scheduler: sched, DB: db}
}
