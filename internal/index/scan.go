package index

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scan walks the wiki and brings the store up to date:
//   - every page file is reparsed through the normal path (unchanged
//     fingerprints short-circuit)
//   - pages whose files are gone are removed
//
// Scan calls the engine directly, so nothing else may touch the same paths
// meanwhile. Use Scheduler.Scan when a watcher is already running.
func (e *Engine) Scan(ctx context.Context, workers int) error {
	return e.scan(ctx, workers, func(ctx context.Context, it Item) error {
		_, err := e.Do(ctx, it)
		return err
	})
}

// Scan is Engine.Scan with every item queued on the scheduler, where it is
// serialized with watcher and mutation work for the same path.
func (s *Scheduler) Scan(ctx context.Context) error {
	return s.engine.scan(ctx, s.workers, func(ctx context.Context, it Item) error {
		_, err := s.Submit(it, false).Wait(ctx)
		return err
	})
}

func (e *Engine) scan(ctx context.Context, workers int, do func(context.Context, Item) error) error {
	start := time.Now()
	metas, err := e.fs.List("")
	if err != nil {
		return err
	}
	if workers < 1 {
		workers = 1
	}

	disk := make(map[string]struct{}, len(metas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, m := range metas {
		disk[m.Path] = struct{}{}
		path := m.Path
		g.Go(func() error {
			if err := do(gctx, Item{Path: path, Op: OpReparse}); err != nil {
				e.logger.Warn("scan: reparse failed", slog.String("path", path), slog.String("error", err.Error()))
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, p := range e.store.Pages() {
		pp, _ := p.PagePayload()
		if _, ok := disk[pp.Path]; ok {
			continue
		}
		if err := do(ctx, Item{Path: pp.Path, Op: OpRemove}); err != nil {
			e.logger.Warn("scan: remove stale failed", slog.String("path", pp.Path), slog.String("error", err.Error()))
		} else {
			e.logger.Debug("scan: removed stale", slog.String("path", pp.Path))
		}
	}

	e.logger.Info("scan: complete",
		slog.Int("files", len(metas)),
		slog.Int("pages", len(e.store.Pages())),
		slog.Duration("took", time.Since(start)))
	return nil
}
