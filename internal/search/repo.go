package search

import (
	"encoding/json"
	"fmt"
	"time"
)

// PageRow represents a row in the pages table.
type PageRow struct {
	Path        string
	Key         string
	Title       string
	Fingerprint string
	Tags        []string
	UpdatedAt   time.Time
}

// Result represents one search hit.
type Result struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// Upsert inserts or replaces a page and its FTS entry within a transaction.
func (db *DB) Upsert(p PageRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("search: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if p.Tags == nil {
		p.Tags = []string{}
	}
	tagsJSON, _ := json.Marshal(p.Tags)

	_, err = tx.Exec(`
		INSERT INTO pages (path, key, title, fingerprint, tags, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			key         = excluded.key,
			title       = excluded.title,
			fingerprint = excluded.fingerprint,
			tags        = excluded.tags,
			body        = excluded.body,
			updated_at  = excluded.updated_at
	`, p.Path, p.Key, p.Title, p.Fingerprint, string(tagsJSON), body, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("search: upsert page: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, p.Path, p.Title, body, p.Tags); err != nil {
		return err
	}
	return tx.Commit()
}

// Delete removes a page and its FTS entry.
func (db *DB) Delete(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("search: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	if _, err := tx.Exec(`DELETE FROM pages WHERE path = ?`, path); err != nil {
		return fmt.Errorf("search: delete page: %w", err)
	}
	return tx.Commit()
}

// Fingerprint returns the stored fingerprint for a page, or "" if absent.
func (db *DB) Fingerprint(path string) (string, error) {
	var fp string
	err := db.conn.QueryRow(`SELECT fingerprint FROM pages WHERE path = ?`, path).Scan(&fp)
	if err != nil {
		return "", nil // not found is fine
	}
	return fp, nil
}

// Paths returns every projected page path in order.
func (db *DB) Paths() ([]string, error) {
	rows, err := db.conn.Query(`SELECT path FROM pages ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("search: list paths: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("search: scan path: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Count returns the number of projected pages.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT count(*) FROM pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("search: count: %w", err)
	}
	return n, nil
}
