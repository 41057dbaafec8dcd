package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/vaultmcp/vaultd/internal/gitx"
	"github.com/vaultmcp/vaultd/internal/vault"
)

// GitService is the slice of the sync engine the tool surface needs.
// Satisfied by *gitx.Engine.
type GitService interface {
	Pull(ctx context.Context) gitx.Outcome
	Push(ctx context.Context, message string) gitx.Outcome
	Sync(ctx context.Context, message string) gitx.Outcome
	Status(ctx context.Context) gitx.Snapshot
	Root() string
	Branch() string
	RemoteURL() string
}

// ServerInfo describes the running instance for the server_info tool.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Vault   string `json:"vault"`
	Branch  string `json:"branch,omitempty"`
	Remote  string `json:"remote,omitempty"`
	Notes   int    `json:"notes"`
}

// NoteCounter reports how many notes are indexed. Satisfied by *index.DB.
type NoteCounter interface {
	Count() (int, error)
}

// ToolHandler serves the POST /tools/<name> surface.
type ToolHandler struct {
	store   *vault.Store
	git     GitService
	counter NoteCounter
	version string
	logger  *log.Logger
}

// NewToolHandler wires the tool surface. git and counter may be nil; the
// corresponding tools then report an error instead of panicking.
func NewToolHandler(store *vault.Store, git GitService, counter NoteCounter, version string, logger *log.Logger) *ToolHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &ToolHandler{store: store, git: git, counter: counter, version: version, logger: logger}
}

func (h *ToolHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/tools/")
	if name == "" || strings.Contains(name, "/") {
		writeError(w, http.StatusNotFound, "unknown tool")
		return
	}

	var req toolRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	h.logger.Printf("Tool call: %s path=%q", name, req.Path)
	h.dispatch(w, r, name, req)
}

// toolRequest is the union of all tool arguments. Unused fields are simply
// absent from a given call.
type toolRequest struct {
	Path        string         `json:"path,omitempty"`
	Content     *string        `json:"content,omitempty"`
	Frontmatter map[string]any `json:"frontmatter,omitempty"`
	Append      bool           `json:"append,omitempty"`

	Folder       string `json:"folder,omitempty"`
	Recursive    bool   `json:"recursive,omitempty"`
	WithMetadata bool   `json:"with_metadata,omitempty"`

	Query         string `json:"query,omitempty"`
	SearchContent *bool  `json:"search_content,omitempty"`
	SearchTitles  *bool  `json:"search_titles,omitempty"`
	SearchTags    *bool  `json:"search_tags,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`

	ContentBase64 string `json:"content_base64,omitempty"`

	Action  string `json:"action,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *ToolHandler) dispatch(w http.ResponseWriter, r *http.Request, name string, req toolRequest) {
	ctx := r.Context()

	switch name {
	case "read_note":
		note, err := h.store.ReadNote(req.Path)
		h.respond(w, note, err)

	case "create_note":
		var body string
		if req.Content != nil {
			body = *req.Content
		}
		path, err := h.store.CreateNote(ctx, req.Path, body, req.Frontmatter)
		h.respond(w, map[string]any{"path": path, "created": err == nil}, err)

	case "update_note":
		path, err := h.store.UpdateNote(ctx, req.Path, vault.UpdateRequest{
			Content:     req.Content,
			Frontmatter: req.Frontmatter,
			Append:      req.Append,
		})
		h.respond(w, map[string]any{"path": path, "updated": err == nil}, err)

	case "delete_note":
		path, err := h.store.DeleteNote(ctx, req.Path)
		h.respond(w, map[string]any{"path": path, "deleted": err == nil}, err)

	case "list_vault":
		listing, err := h.store.List(req.Folder, req.Recursive, req.WithMetadata)
		h.respond(w, listing, err)

	case "search_notes":
		opts := vault.DefaultSearchOptions()
		if req.SearchContent != nil {
			opts.Content = *req.SearchContent
		}
		if req.SearchTitles != nil {
			opts.Titles = *req.SearchTitles
		}
		if req.SearchTags != nil {
			opts.Tags = *req.SearchTags
		}
		if req.MaxResults > 0 {
			opts.MaxResults = req.MaxResults
		}
		results, err := h.store.Search(req.Query, opts)
		h.respond(w, map[string]any{"query": req.Query, "results": results, "count": len(results)}, err)

	case "read_metadata":
		meta, err := h.store.ReadMetadata(req.Path)
		h.respond(w, meta, err)

	case "read_attachment":
		attachment, err := h.store.ReadAttachment(req.Path)
		h.respond(w, attachment, err)

	case "write_attachment":
		size, err := h.store.WriteAttachment(ctx, req.Path, req.ContentBase64)
		h.respond(w, map[string]any{"path": req.Path, "size_bytes": size}, err)

	case "sync_vault":
		h.handleSync(w, r, req)

	case "server_info":
		h.handleServerInfo(w)

	default:
		writeError(w, http.StatusNotFound, "unknown tool: "+name)
	}
}

func (h *ToolHandler) handleSync(w http.ResponseWriter, r *http.Request, req toolRequest) {
	if h.git == nil {
		writeError(w, http.StatusServiceUnavailable, "git sync is not configured")
		return
	}

	ctx := r.Context()
	message := req.Message
	if message == "" {
		message = "Vault sync"
	}

	switch req.Action {
	case "pull":
		writeJSON(w, http.StatusOK, h.git.Pull(ctx))
	case "push":
		writeJSON(w, http.StatusOK, h.git.Push(ctx, message))
	case "", "sync":
		writeJSON(w, http.StatusOK, h.git.Sync(ctx, message))
	case "status":
		writeJSON(w, http.StatusOK, h.git.Status(ctx))
	case "debug":
		writeJSON(w, http.StatusOK, map[string]any{
			"vault":  h.store.Root(),
			"remote": h.git.RemoteURL(),
			"branch": h.git.Branch(),
			"status": h.git.Status(ctx),
		})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"error":   "Unknown action: " + req.Action,
		})
	}
}

func (h *ToolHandler) handleServerInfo(w http.ResponseWriter) {
	info := ServerInfo{
		Name:    "vaultd",
		Version: h.version,
		Vault:   h.store.Root(),
	}
	if h.git != nil {
		info.Branch = h.git.Branch()
		info.Remote = h.git.RemoteURL()
	}
	if h.counter != nil {
		if n, err := h.counter.Count(); err == nil {
			info.Notes = n
		}
	}
	writeJSON(w, http.StatusOK, info)
}

// respond maps store errors onto HTTP status codes. Containment violations
// are forbidden, never not-found.
func (h *ToolHandler) respond(w http.ResponseWriter, result any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, result)
		return
	}

	switch {
	case vault.IsPathSecurityError(err):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, vault.ErrNoteNotFound),
		errors.Is(err, vault.ErrAttachmentNotFound),
		errors.Is(err, vault.ErrFolderNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, vault.ErrNoteExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, vault.ErrUnsupportedType), errors.Is(err, vault.ErrNotFolder):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Printf("Tool error: %v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
