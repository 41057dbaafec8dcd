package index

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/vaultmcp/vaultd/internal/vault"
)

// Resync rebuilds the index from the notes under root. Notes on disk are
// upserted; rows whose files no longer exist are removed. It returns the
// number of notes indexed.
func (db *DB) Resync(root string) (int, error) {
	seen := make(map[string]bool)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, rerr := filepath.Rel(root, path)
		if rerr != nil {
			return rerr
		}
		if rel == "." {
			return nil
		}
		if strings.HasPrefix(filepath.Base(rel), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if d.IsDir() || (ext != ".md" && ext != ".markdown") {
			return nil
		}

		entry, rerr := buildEntry(root, rel)
		if rerr != nil {
			return rerr
		}
		if rerr := db.Upsert(entry); rerr != nil {
			return rerr
		}
		seen[filepath.ToSlash(rel)] = true
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("index resync failed: %w", err)
	}

	stale, err := db.Paths()
	if err != nil {
		return 0, err
	}
	for _, p := range stale {
		if !seen[p] {
			if err := db.Delete(p); err != nil {
				return 0, err
			}
		}
	}

	return len(seen), nil
}

// Index upserts one note from disk, by vault-relative path.
func (db *DB) Index(root, rel string) error {
	entry, err := buildEntry(root, filepath.FromSlash(rel))
	if err != nil {
		return err
	}
	return db.Upsert(entry)
}

func buildEntry(root, rel string) (Entry, error) {
	path := filepath.Join(root, rel)

	raw, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read %s: %w", rel, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat %s: %w", rel, err)
	}

	content := string(raw)
	frontmatter, _ := vault.ParseFrontmatter(content)

	return Entry{
		Path:        filepath.ToSlash(rel),
		Title:       strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel)),
		Tags:        vault.ExtractTags(content, frontmatter),
		Frontmatter: frontmatter,
		SizeBytes:   info.Size(),
		Modified:    info.ModTime(),
	}, nil
}
