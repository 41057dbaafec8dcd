package vault

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultMaxResults caps search output when the caller does not.
const DefaultMaxResults = 50

// contextWindow is how many characters of surrounding text a content match
// carries on each side.
const contextWindow = 50

// SearchOptions selects which note facets a query is matched against.
// The zero value searches nothing; use DefaultSearchOptions.
type SearchOptions struct {
	Content    bool
	Titles     bool
	Tags       bool
	MaxResults int
}

// DefaultSearchOptions searches every facet with the default result cap.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Content: true, Titles: true, Tags: true, MaxResults: DefaultMaxResults}
}

// SearchMatch describes one way a note matched the query.
type SearchMatch struct {
	// Type is "title", "tags", or "content".
	Type string `json:"type"`

	// Match is the matching title for title matches.
	Match string `json:"match,omitempty"`

	// Tags are the matching tags for tag matches.
	Tags []string `json:"tags,omitempty"`

	// Context is the surrounding excerpt for content matches.
	Context string `json:"context,omitempty"`
}

// SearchResult collects all matches for one note.
type SearchResult struct {
	Path    string        `json:"path"`
	Matches []SearchMatch `json:"matches"`
}

// Search scans the vault's notes for a case-insensitive query across
// titles, tags, and content. Hidden files are skipped. Results are capped
// at opts.MaxResults.
func (s *Store) Search(query string, opts SearchOptions) ([]SearchResult, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = DefaultMaxResults
	}
	queryLower := strings.ToLower(query)

	var results []SearchResult
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if len(results) >= opts.MaxResults {
			return fs.SkipAll
		}

		rel, rerr := filepath.Rel(s.root, path)
		if rerr != nil {
			return rerr
		}
		if hiddenPath(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !noteExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		raw, rerr := os.ReadFile(path)
		if rerr != nil {
			return rerr
		}
		content := string(raw)

		var matches []SearchMatch

		if opts.Titles {
			stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
			if strings.Contains(strings.ToLower(stem), queryLower) {
				matches = append(matches, SearchMatch{Type: "title", Match: stem})
			}
		}

		frontmatter, _ := ParseFrontmatter(content)

		if opts.Tags {
			var matching []string
			for _, tag := range ExtractTags(content, frontmatter) {
				if strings.Contains(strings.ToLower(tag), queryLower) {
					matching = append(matching, tag)
				}
			}
			if len(matching) > 0 {
				matches = append(matches, SearchMatch{Type: "tags", Tags: matching})
			}
		}

		if opts.Content {
			if idx := strings.Index(strings.ToLower(content), queryLower); idx >= 0 {
				matches = append(matches, SearchMatch{Type: "content", Context: excerpt(content, idx, len(query))})
			}
		}

		if len(matches) > 0 {
			results = append(results, SearchResult{Path: rel, Matches: matches})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return results, nil
}

// excerpt cuts a context window around a match, with ellipses marking
// truncated sides.
func excerpt(content string, idx, matchLen int) string {
	start := idx - contextWindow
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + contextWindow
	if end > len(content) {
		end = len(content)
	}

	out := content[start:end]
	if start > 0 {
		out = "..." + out
	}
	if end < len(content) {
		out = out + "..."
	}
	return out
}
