// Package writer turns entity edits into file bytes. It splices new content
// into the byte span recorded for an entity and writes the result
// atomically; the graph picks the change up through the normal reparse path.
package writer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/starford/wikigraph/internal/apperr"
	"github.com/starford/wikigraph/internal/checksum"
	"github.com/starford/wikigraph/internal/graph"
	"github.com/starford/wikigraph/internal/storage"
)

// Edit replaces the bytes in Span with Content. Fingerprint is the content
// fingerprint the span was computed against; a file that no longer matches
// it is rejected with apperr.ErrConflict.
type Edit struct {
	Span        graph.Span
	Content     string
	Fingerprint string
}

// Writer applies edits to wiki files.
type Writer struct {
	fs     storage.Provider
	logger *slog.Logger
}

// New creates a writer on top of fsys.
func New(fsys storage.Provider, logger *slog.Logger) *Writer {
	return &Writer{fs: fsys, logger: logger}
}

// Write splices edit into the file at path.
func (w *Writer) Write(ctx context.Context, path string, edit Edit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := w.current(path, edit.Fingerprint)
	if err != nil {
		return err
	}
	if edit.Span.Start < 0 || edit.Span.End < edit.Span.Start || edit.Span.End > len(data) {
		return apperr.Invalid("span", "span %d-%d outside file of %d bytes", edit.Span.Start, edit.Span.End, len(data))
	}

	out := make([]byte, 0, len(data)-(edit.Span.End-edit.Span.Start)+len(edit.Content))
	out = append(out, data[:edit.Span.Start]...)
	out = append(out, edit.Content...)
	out = append(out, data[edit.Span.End:]...)
	if err := w.fs.Write(path, out); err != nil {
		return err
	}
	w.logger.Debug("writer: spliced",
		slog.String("path", path),
		slog.Int("start", edit.Span.Start),
		slog.Int("end", edit.Span.End),
		slog.Int("bytes", len(edit.Content)))
	return nil
}

// Remove deletes the bytes in span. When the span covers whole lines the
// trailing line break goes with it.
func (w *Writer) Remove(ctx context.Context, path string, span graph.Span, fingerprint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := w.current(path, fingerprint)
	if err != nil {
		return err
	}
	if span.Start < 0 || span.End < span.Start || span.End > len(data) {
		return apperr.Invalid("span", "span %d-%d outside file of %d bytes", span.Start, span.End, len(data))
	}
	atLineStart := span.Start == 0 || data[span.Start-1] == '\n'
	if atLineStart && span.End < len(data) && data[span.End] == '\n' {
		span.End++
	} else if atLineStart && span.End+1 < len(data) && data[span.End] == '\r' && data[span.End+1] == '\n' {
		span.End += 2
	}
	return w.Write(ctx, path, Edit{Span: span, Fingerprint: fingerprint})
}

// Create writes a new file and fails if one already exists.
func (w *Writer) Create(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	exists, err := w.fs.Exists(path)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", apperr.ErrAlreadyExists, path)
	}
	return w.fs.Write(path, content)
}

func (w *Writer) current(path, fingerprint string) ([]byte, error) {
	data, err := w.fs.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	if fingerprint != "" && !checksum.Equal(fingerprint, data) {
		return nil, fmt.Errorf("%w: %s changed on disk", apperr.ErrConflict, path)
	}
	return data, nil
}
