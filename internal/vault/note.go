package vault

import (
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Note is a fully parsed markdown document from the vault.
type Note struct {
	// Path is the vault-relative path, extension included.
	Path string `json:"path"`

	// Content is the raw file content, frontmatter included.
	Content string `json:"content"`

	// Body is the content with the frontmatter block stripped.
	Body string `json:"body"`

	// Frontmatter holds the parsed YAML metadata header, nil when absent.
	Frontmatter map[string]any `json:"frontmatter,omitempty"`

	// Tags are the union of frontmatter tags and inline #tags, sorted.
	Tags []string `json:"tags,omitempty"`
}

// inlineTagPattern matches Obsidian-style inline tags: a hash followed by a
// letter and then letters, digits, underscores, slashes, or hyphens.
var inlineTagPattern = regexp.MustCompile(`#([a-zA-Z][a-zA-Z0-9_/-]*)`)

const frontmatterFence = "---"

// ParseFrontmatter splits content into its YAML frontmatter and body.
//
// A frontmatter block is a leading "---" fence, YAML, and a closing fence.
// Malformed YAML inside the fences is tolerated: the metadata comes back
// empty and the body is still the text after the closing fence.
func ParseFrontmatter(content string) (map[string]any, string) {
	if !strings.HasPrefix(content, frontmatterFence) {
		return nil, content
	}

	parts := strings.SplitN(content, frontmatterFence, 3)
	if len(parts) < 3 {
		return nil, content
	}

	var frontmatter map[string]any
	if err := yaml.Unmarshal([]byte(parts[1]), &frontmatter); err != nil {
		frontmatter = nil
	}

	return frontmatter, strings.TrimLeft(parts[2], "\n ")
}

// BuildContent serializes frontmatter and body back into file content.
// A nil or empty frontmatter produces the bare body.
func BuildContent(body string, frontmatter map[string]any) (string, error) {
	if len(frontmatter) == 0 {
		return body, nil
	}

	meta, err := yaml.Marshal(frontmatter)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(frontmatterFence)
	b.WriteString("\n")
	b.Write(meta)
	b.WriteString(frontmatterFence)
	b.WriteString("\n\n")
	b.WriteString(body)
	return b.String(), nil
}

// ExtractTags collects the note's tags: the frontmatter "tags" key (a
// string or a list) unioned with inline #tags from the content. The result
// is sorted and duplicate-free.
func ExtractTags(content string, frontmatter map[string]any) []string {
	seen := make(map[string]bool)

	switch v := frontmatter["tags"].(type) {
	case string:
		seen[v] = true
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				seen[s] = true
			}
		}
	case []string:
		for _, s := range v {
			seen[s] = true
		}
	}

	for _, m := range inlineTagPattern.FindAllStringSubmatch(content, -1) {
		seen[m[1]] = true
	}

	if len(seen) == 0 {
		return nil
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// parseNote builds a Note from raw file content.
func parseNote(path, content string) *Note {
	frontmatter, body := ParseFrontmatter(content)
	return &Note{
		Path:        path,
		Content:     content,
		Body:        body,
		Frontmatter: frontmatter,
		Tags:        ExtractTags(content, frontmatter),
	}
}
