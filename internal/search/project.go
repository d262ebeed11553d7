package search

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/starford/wikigraph/internal/apperr"
	"github.com/starford/wikigraph/internal/graph"
)

// Projector mirrors committed pages into the search tables. It is
// registered as an engine commit hook.
type Projector struct {
	db     *DB
	store  *graph.Store
	logger *slog.Logger
}

// NewProjector creates a projector reading from store.
func NewProjector(db *DB, store *graph.Store, logger *slog.Logger) *Projector {
	return &Projector{db: db, store: store, logger: logger}
}

// OnCommit updates every page touched by c.
func (p *Projector) OnCommit(c graph.Commit) {
	for _, pc := range c.Pages {
		if pc.OldPath != "" {
			if err := p.db.Delete(pc.OldPath); err != nil {
				p.logger.Warn("search: delete failed", slog.String("path", pc.OldPath), slog.String("error", err.Error()))
			}
		}
		if pc.Removed {
			if err := p.db.Delete(pc.Path); err != nil {
				p.logger.Warn("search: delete failed", slog.String("path", pc.Path), slog.String("error", err.Error()))
			}
			continue
		}
		row, body, err := p.snapshot(pc.ID)
		if err != nil {
			// Removed again by a later commit; that commit's hook cleans up.
			p.logger.Debug("search: page vanished", slog.String("path", pc.Path))
			continue
		}
		if fp, _ := p.db.Fingerprint(row.Path); fp != "" && fp == row.Fingerprint {
			continue
		}
		if err := p.db.Upsert(row, body); err != nil {
			p.logger.Warn("search: upsert failed", slog.String("path", pc.Path), slog.String("error", err.Error()))
		}
	}
}

// Reconcile deletes projected pages the store no longer has. A persistent
// projection can hold pages whose files were deleted while the process was
// down; call it after the initial scan.
func (p *Projector) Reconcile() (int, error) {
	paths, err := p.db.Paths()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range paths {
		if _, err := p.store.PageByPath(path); !errors.Is(err, apperr.ErrNotFound) {
			continue
		}
		if err := p.db.Delete(path); err != nil {
			return removed, err
		}
		removed++
	}
	if removed > 0 {
		p.logger.Info("search: reconciled", slog.Int("removed", removed))
	}
	return removed, nil
}

func (p *Projector) snapshot(id graph.ID) (PageRow, string, error) {
	var row PageRow
	var body strings.Builder
	err := p.store.View(func(v *graph.View) error {
		sub, err := v.Subtree(id)
		if err != nil {
			return err
		}
		pp, _ := sub[0].PagePayload()
		row = PageRow{Path: pp.Path, Key: pp.Key, Title: pp.Title, Fingerprint: pp.Fingerprint, UpdatedAt: pp.SyncedAt}
		seen := make(map[string]bool)
		for _, e := range sub[1:] {
			switch e.Kind {
			case graph.KindTag:
				if tp, ok := e.Payload.(graph.TagPayload); ok && !seen[tp.Name] {
					seen[tp.Name] = true
					row.Tags = append(row.Tags, tp.Name)
				}
			case graph.KindSection, graph.KindParagraph, graph.KindListItem, graph.KindCodeBlock,
				graph.KindMathBlock, graph.KindBlockquote, graph.KindTable, graph.KindTerm, graph.KindDefinition:
				body.WriteString(e.Text)
				body.WriteByte('\n')
			}
		}
		return nil
	})
	return row, body.String(), err
}
