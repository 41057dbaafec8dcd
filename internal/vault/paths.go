// Package vault implements the versioned document store: note and attachment
// read-modify-write operations over a sandboxed directory tree, with
// best-effort git synchronization after mutations.
package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PathSecurityError reports a caller-supplied path that attempted to resolve
// outside the vault root. It is deliberately distinct from a not-found
// error: a security decision must never blur into a routine I/O outcome.
type PathSecurityError struct {
	// Path is the offending input as supplied by the caller.
	Path string

	// Reason describes which check rejected the path.
	Reason string
}

func (e *PathSecurityError) Error() string {
	return fmt.Sprintf("path security violation (%s): %s", e.Reason, e.Path)
}

// IsPathSecurityError reports whether err is a containment rejection.
func IsPathSecurityError(err error) bool {
	var pse *PathSecurityError
	return errors.As(err, &pse)
}

// ValidatePath resolves a caller-supplied relative path against root and
// rejects any resolution landing outside it.
//
// The check runs in two phases. First a lexical pre-check: the path is
// normalized without touching the filesystem and rejected if any
// parent-directory segment survives normalization. Then the canonical
// post-check: the joined path is resolved through symlinks and verified to
// be root or a descendant of root. The post-check is the actual security
// boundary; a lexically clean path can still escape the root through an
// intermediate symlink. Root must already be canonical (see NewStore).
//
// ValidatePath never mutates the filesystem.
func ValidatePath(root, relative string) (string, error) {
	if relative == "" {
		return "", &PathSecurityError{Path: relative, Reason: "empty path"}
	}
	if filepath.IsAbs(relative) {
		return "", &PathSecurityError{Path: relative, Reason: "absolute path"}
	}

	// Phase 1: lexical. Clean collapses "." and inner ".." segments, so
	// any parent-directory traversal that survives is at the front.
	normalized := filepath.Clean(relative)
	if normalized == ".." || strings.HasPrefix(normalized, ".."+string(filepath.Separator)) {
		return "", &PathSecurityError{Path: relative, Reason: "path traversal"}
	}

	// Phase 2: canonical. Resolve symlinks and verify containment.
	full, err := canonicalize(filepath.Join(root, normalized))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", relative, err)
	}
	if !contains(root, full) {
		return "", &PathSecurityError{Path: relative, Reason: "escapes vault root"}
	}

	return full, nil
}

// canonicalize resolves path to a canonical absolute form, following
// symlinks. The path itself need not exist: the deepest existing ancestor
// is resolved and the remaining segments are rejoined lexically, matching
// how a subsequent create would place the file.
func canonicalize(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	suffix := ""
	for p := path; ; {
		parent := filepath.Dir(p)
		if parent == p {
			return "", fmt.Errorf("no resolvable ancestor for %s", path)
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
		p = parent

		resolved, err := filepath.EvalSymlinks(p)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
	}
}

// contains reports whether target is root itself or a descendant of root.
func contains(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
