// Package index provides an embedded SQLite index over the vault's notes.
//
// The index is a query cache, not the source of truth: the markdown files
// in the working copy remain authoritative, and the index is rebuilt from
// them at any time with Resync. It exists so list- and tag-style queries
// do not have to re-read and re-parse the whole vault on every request.
//
// The database runs in embedded mode with WAL enabled for concurrent
// readers during writes.
package index

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection holding the note index.
type DB struct {
	conn *sql.DB
	path string
}

// Entry is one indexed note.
type Entry struct {
	// Path is the vault-relative note path.
	Path string `json:"path"`

	// Title is the filename stem, used for title lookups.
	Title string `json:"title"`

	// Tags are the note's tags.
	Tags []string `json:"tags,omitempty"`

	// Frontmatter is the parsed metadata header.
	Frontmatter map[string]any `json:"frontmatter,omitempty"`

	// SizeBytes and Modified mirror the file's stat at index time.
	SizeBytes int64     `json:"size_bytes"`
	Modified  time.Time `json:"modified"`
}

// Open opens (or creates) the index database at path and prepares it for
// concurrent access. The caller must Close it.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping index: %w", err)
	}

	db := &DB{conn: conn, path: path}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := db.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Close releases the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the index database file path.
func (db *DB) Path() string { return db.path }

func (db *DB) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS notes (
    path        TEXT PRIMARY KEY,
    title       TEXT NOT NULL,
    tags        TEXT NOT NULL DEFAULT '[]',
    frontmatter TEXT NOT NULL DEFAULT '{}',
    size_bytes  INTEGER NOT NULL,
    modified    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_title ON notes(title);
CREATE INDEX IF NOT EXISTS idx_notes_modified ON notes(modified);
`
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return nil
}

// Upsert inserts or replaces the index row for one note.
func (db *DB) Upsert(entry Entry) error {
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags for %s: %w", entry.Path, err)
	}
	frontmatter, err := json.Marshal(entry.Frontmatter)
	if err != nil {
		return fmt.Errorf("failed to encode frontmatter for %s: %w", entry.Path, err)
	}

	_, err = db.conn.Exec(`
INSERT INTO notes (path, title, tags, frontmatter, size_bytes, modified)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
    title = excluded.title,
    tags = excluded.tags,
    frontmatter = excluded.frontmatter,
    size_bytes = excluded.size_bytes,
    modified = excluded.modified`,
		entry.Path, entry.Title, string(tags), string(frontmatter),
		entry.SizeBytes, entry.Modified.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", entry.Path, err)
	}
	return nil
}

// Delete removes a note's index row. Deleting an unindexed path is a no-op.
func (db *DB) Delete(path string) error {
	if _, err := db.conn.Exec("DELETE FROM notes WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete %s from index: %w", path, err)
	}
	return nil
}

// Get returns the indexed entry for path, or ok=false when not indexed.
func (db *DB) Get(path string) (Entry, bool, error) {
	row := db.conn.QueryRow(
		"SELECT path, title, tags, frontmatter, size_bytes, modified FROM notes WHERE path = ?", path)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read %s from index: %w", path, err)
	}
	return entry, true, nil
}

// SearchTitles returns entries whose title contains the query,
// case-insensitively, ordered by path.
func (db *DB) SearchTitles(query string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.Query(
		"SELECT path, title, tags, frontmatter, size_bytes, modified FROM notes WHERE title LIKE ? COLLATE NOCASE ORDER BY path LIMIT ?",
		"%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("title search failed: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// FindByTag returns entries carrying the exact tag, ordered by path.
func (db *DB) FindByTag(tag string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	// Tags are stored as a JSON array; an exact tag always appears as a
	// quoted element.
	quoted, err := json.Marshal(tag)
	if err != nil {
		return nil, fmt.Errorf("invalid tag %q: %w", tag, err)
	}

	rows, err := db.conn.Query(
		"SELECT path, title, tags, frontmatter, size_bytes, modified FROM notes WHERE tags LIKE ? ORDER BY path LIMIT ?",
		"%"+string(quoted)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("tag search failed: %w", err)
	}
	defer rows.Close()

	return collectEntries(rows)
}

// Count returns the number of indexed notes.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM notes").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count index rows: %w", err)
	}
	return n, nil
}

// Paths returns every indexed note path.
func (db *DB) Paths() ([]string, error) {
	rows, err := db.conn.Query("SELECT path FROM notes ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("failed to list index paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		entry       Entry
		tags        string
		frontmatter string
		modified    int64
	)
	if err := s.Scan(&entry.Path, &entry.Title, &tags, &frontmatter, &entry.SizeBytes, &modified); err != nil {
		return Entry{}, err
	}

	if err := json.Unmarshal([]byte(tags), &entry.Tags); err != nil {
		return Entry{}, fmt.Errorf("corrupt tags for %s: %w", entry.Path, err)
	}
	if err := json.Unmarshal([]byte(frontmatter), &entry.Frontmatter); err != nil {
		return Entry{}, fmt.Errorf("corrupt frontmatter for %s: %w", entry.Path, err)
	}
	entry.Modified = time.Unix(modified, 0)
	return entry, nil
}

func collectEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
