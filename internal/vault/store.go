package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vaultmcp/vaultd/internal/gitx"
)

// Common errors returned by store operations. Path containment violations
// are reported separately as *PathSecurityError and never degrade to
// ErrNotFound.
var (
	ErrNoteNotFound       = errors.New("note not found")
	ErrNoteExists         = errors.New("note already exists")
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrUnsupportedType    = errors.New("unsupported attachment type")
	ErrNotFolder          = errors.New("not a folder")
	ErrFolderNotFound     = errors.New("folder not found")
)

// noteExtensions are the file extensions treated as notes.
var noteExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
}

// attachmentExtensions is the allow-list for binary attachments.
var attachmentExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".pdf": true, ".svg": true, ".mp3": true, ".mp4": true, ".webm": true,
}

// Syncer publishes vault mutations to the remote. Satisfied by
// *gitx.Engine.
type Syncer interface {
	Sync(ctx context.Context, message string) gitx.Outcome
}

// Config configures a Store.
type Config struct {
	// Root is the vault directory. Must exist at construction.
	Root string

	// Syncer, when set together with AutoSync, is invoked after every
	// successful mutation.
	Syncer Syncer

	// AutoSync enables best-effort synchronization after mutations.
	AutoSync bool

	// Logger receives store activity. Nil disables logging.
	Logger *log.Logger

	// OnSyncOutcome, when set, observes every auto-sync outcome (e.g.
	// for telemetry or event broadcast). Must not block.
	OnSyncOutcome func(message string, outcome gitx.Outcome)
}

// Store exposes note and attachment operations over the vault root. Every
// caller-supplied path is passed through ValidatePath before any filesystem
// access.
type Store struct {
	root     string
	syncer   Syncer
	autoSync bool
	logger   *log.Logger
	onSync   func(string, gitx.Outcome)
}

// NewStore canonicalizes and verifies the vault root. The root is fixed for
// the store's lifetime; every path the store touches must canonicalize to a
// descendant of it.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("vault root is required")
	}

	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid vault root %q: %w", cfg.Root, err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("vault root does not exist: %s", cfg.Root)
	}
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("vault root is not a directory: %s", cfg.Root)
	}

	return &Store{
		root:     root,
		syncer:   cfg.Syncer,
		autoSync: cfg.AutoSync,
		logger:   cfg.Logger,
		onSync:   cfg.OnSyncOutcome,
	}, nil
}

// Root returns the canonical vault root directory.
func (s *Store) Root() string { return s.root }

// resolve validates a caller-supplied relative path against the root.
func (s *Store) resolve(relative string) (string, error) {
	return ValidatePath(s.root, relative)
}

// NormalizeNotePath appends the default note extension when the path has no
// recognized note extension.
func NormalizeNotePath(path string) string {
	if noteExtensions[strings.ToLower(filepath.Ext(path))] {
		return path
	}
	return path + ".md"
}

// ReadNote reads and parses the note at the given vault-relative path.
func (s *Store) ReadNote(path string) (*Note, error) {
	path = NormalizeNotePath(path)
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoteNotFound, path)
		}
		return nil, fmt.Errorf("failed to read note %s: %w", path, err)
	}

	return parseNote(path, string(raw)), nil
}

// CreateNote writes a new note. It fails with ErrNoteExists when the note
// is already present; use UpdateNote for existing notes. Returns the
// normalized vault-relative path.
func (s *Store) CreateNote(ctx context.Context, path, body string, frontmatter map[string]any) (string, error) {
	path = NormalizeNotePath(path)
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(full); err == nil {
		return "", fmt.Errorf("%w: %s", ErrNoteExists, path)
	}

	content, err := BuildContent(body, frontmatter)
	if err != nil {
		return "", fmt.Errorf("failed to serialize frontmatter: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write note %s: %w", path, err)
	}

	s.dispatchSync(ctx, "Created: "+path)
	return path, nil
}

// UpdateRequest describes an update to an existing note. A nil Content
// keeps the existing body; Frontmatter entries are merged over the existing
// metadata.
type UpdateRequest struct {
	Content     *string
	Frontmatter map[string]any
	Append      bool
}

// UpdateNote rewrites an existing note according to req. Returns the
// normalized vault-relative path.
func (s *Store) UpdateNote(ctx context.Context, path string, req UpdateRequest) (string, error) {
	path = NormalizeNotePath(path)
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	raw, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNoteNotFound, path)
		}
		return "", fmt.Errorf("failed to read note %s: %w", path, err)
	}

	frontmatter, body := ParseFrontmatter(string(raw))
	if len(req.Frontmatter) > 0 {
		if frontmatter == nil {
			frontmatter = make(map[string]any, len(req.Frontmatter))
		}
		for k, v := range req.Frontmatter {
			frontmatter[k] = v
		}
	}

	if req.Content != nil {
		if req.Append {
			body = body + "\n" + *req.Content
		} else {
			body = *req.Content
		}
	}

	content, err := BuildContent(body, frontmatter)
	if err != nil {
		return "", fmt.Errorf("failed to serialize frontmatter: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write note %s: %w", path, err)
	}

	s.dispatchSync(ctx, "Updated: "+path)
	return path, nil
}

// DeleteNote removes a note from the vault.
func (s *Store) DeleteNote(ctx context.Context, path string) (string, error) {
	path = NormalizeNotePath(path)
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}

	if err := os.Remove(full); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNoteNotFound, path)
		}
		return "", fmt.Errorf("failed to delete note %s: %w", path, err)
	}

	s.dispatchSync(ctx, "Deleted: "+path)
	return path, nil
}

// NoteInfo is a listing entry for one note.
type NoteInfo struct {
	Path        string         `json:"path"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
}

// Listing is the result of a folder listing.
type Listing struct {
	Folder  string     `json:"folder"`
	Notes   []NoteInfo `json:"notes"`
	Folders []string   `json:"folders"`
}

// List enumerates notes and folders under the given vault-relative folder
// ("" means the vault root). Hidden entries (dot-prefixed) are skipped.
// When withMetadata is set, each note's frontmatter and tags are included.
func (s *Store) List(folder string, recursive, withMetadata bool) (*Listing, error) {
	base := s.root
	if folder != "" {
		full, err := s.resolve(folder)
		if err != nil {
			return nil, err
		}
		base = full
	}

	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFolderNotFound, folder)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFolder, folder)
	}

	listing := &Listing{
		Folder:  displayFolder(folder),
		Notes:   []NoteInfo{},
		Folders: []string{},
	}

	walk := func(path string, d fs.DirEntry) error {
		if path == base {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if hiddenPath(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			listing.Folders = append(listing.Folders, rel)
			return nil
		}
		if !noteExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		entry := NoteInfo{Path: rel}
		if withMetadata {
			raw, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			fm, _ := ParseFrontmatter(string(raw))
			entry.Frontmatter = fm
			entry.Tags = ExtractTags(string(raw), fm)
		}
		listing.Notes = append(listing.Notes, entry)
		return nil
	}

	if recursive {
		err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			return walk(path, d)
		})
	} else {
		var entries []fs.DirEntry
		entries, err = os.ReadDir(base)
		if err == nil {
			for _, entry := range entries {
				if werr := walk(filepath.Join(base, entry.Name()), entry); werr != nil && werr != fs.SkipDir {
					err = werr
					break
				}
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", displayFolder(folder), err)
	}

	sort.Slice(listing.Notes, func(i, j int) bool { return listing.Notes[i].Path < listing.Notes[j].Path })
	sort.Strings(listing.Folders)
	return listing, nil
}

// Metadata describes a note without its content.
type Metadata struct {
	Path        string         `json:"path"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	SizeBytes   int64          `json:"size_bytes"`
	Modified    time.Time      `json:"modified"`
}

// ReadMetadata returns a note's frontmatter, tags, and file information.
func (s *Store) ReadMetadata(path string) (*Metadata, error) {
	path = NormalizeNotePath(path)
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoteNotFound, path)
		}
		return nil, fmt.Errorf("failed to read note %s: %w", path, err)
	}
	info, err := os.Stat(full)
	if err != nil {
		return nil, fmt.Errorf("failed to stat note %s: %w", path, err)
	}

	frontmatter, _ := ParseFrontmatter(string(raw))
	return &Metadata{
		Path:        path,
		Frontmatter: frontmatter,
		Tags:        ExtractTags(string(raw), frontmatter),
		SizeBytes:   info.Size(),
		Modified:    info.ModTime(),
	}, nil
}

// Attachment is a binary vault file transported as base64.
type Attachment struct {
	Path          string `json:"path"`
	MIMEType      string `json:"mime_type"`
	SizeBytes     int    `json:"size_bytes"`
	ContentBase64 string `json:"content_base64"`
}

// ReadAttachment reads a binary file (image, PDF, media) as base64.
func (s *Store) ReadAttachment(path string) (*Attachment, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !attachmentExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}

	raw, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, path)
		}
		return nil, fmt.Errorf("failed to read attachment %s: %w", path, err)
	}

	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return &Attachment{
		Path:          path,
		MIMEType:      mimeType,
		SizeBytes:     len(raw),
		ContentBase64: base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// WriteAttachment decodes base64 content and writes it to the vault.
// Returns the decoded size in bytes.
func (s *Store) WriteAttachment(ctx context.Context, path, contentBase64 string) (int, error) {
	full, err := s.resolve(path)
	if err != nil {
		return 0, err
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !attachmentExtensions[ext] {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}

	raw, err := base64.StdEncoding.DecodeString(contentBase64)
	if err != nil {
		return 0, fmt.Errorf("invalid base64 content: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create parent directory: %w", err)
	}
	if err := os.WriteFile(full, raw, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write attachment %s: %w", path, err)
	}

	s.dispatchSync(ctx, "Added attachment: "+path)
	return len(raw), nil
}

// dispatchSync runs the configured syncer after a successful mutation.
//
// This is an explicit best-effort contract: the outcome is computed,
// logged, and handed to the observer, but a sync failure never rolls back
// or fails the mutation that triggered it.
func (s *Store) dispatchSync(ctx context.Context, message string) {
	if !s.autoSync || s.syncer == nil {
		return
	}

	outcome := s.syncer.Sync(ctx, message)
	if outcome.Success {
		s.logf("auto-sync ok: %s", message)
	} else {
		s.logf("auto-sync failed at %s: %s", outcome.Step, outcome.Error)
	}
	if s.onSync != nil {
		s.onSync(message, outcome)
	}
}

func (s *Store) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}

// hiddenPath reports whether any component of a relative path is
// dot-prefixed (e.g. .git, .obsidian).
func hiddenPath(rel string) bool {
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}

func displayFolder(folder string) string {
	if folder == "" {
		return "/"
	}
	return folder
}
