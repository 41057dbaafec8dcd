package gitx

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Remote describes one configured git remote. URLs are token-free.
type Remote struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Snapshot is a read-only view of the local repository's state relative to
// its remote, used by the status and debug surfaces. Producing a Snapshot
// never mutates sync state.
//
// Ahead/behind counts are computed against the shallow clone's known
// commits, so depth-1 semantics bound how far divergence can be measured.
type Snapshot struct {
	Root      string     `json:"root"`
	Branch    string     `json:"branch"`
	RemoteURL string     `json:"remote_url"`
	LastSync  *time.Time `json:"last_sync,omitempty"`

	Clean        bool     `json:"clean"`
	ChangedFiles []string `json:"changed_files,omitempty"`
	LastCommit   string   `json:"last_commit,omitempty"`
	Remotes      []Remote `json:"remotes,omitempty"`

	Ahead  int `json:"ahead"`
	Behind int `json:"behind"`

	// Errors collects non-fatal problems hit while gathering the
	// snapshot, so a partially broken repository still reports what it can.
	Errors []string `json:"errors,omitempty"`
}

// Status gathers a debug snapshot: working tree status, current branch,
// last commit, configured remotes, and ahead/behind counts after refreshing
// remote knowledge.
func (e *Engine) Status(ctx context.Context) Snapshot {
	snap := Snapshot{
		Root:      e.binding.root,
		Branch:    e.binding.branch,
		RemoteURL: e.binding.safeURL,
	}
	if t, ok := e.LastSync(); ok {
		snap.LastSync = &t
	}

	record := func(what string, res Result, err error) {
		snap.Errors = append(snap.Errors, what+": "+detail(res, err))
	}

	// Working tree status.
	if res, err := e.run(ctx, statusPorcelainArgs()); ok(res, err) {
		for _, line := range strings.Split(res.Stdout, "\n") {
			if strings.TrimSpace(line) != "" {
				snap.ChangedFiles = append(snap.ChangedFiles, strings.TrimSpace(line))
			}
		}
		snap.Clean = len(snap.ChangedFiles) == 0
	} else {
		record("status", res, err)
	}

	// Checked-out branch.
	if res, err := e.run(ctx, currentBranchArgs()); ok(res, err) {
		snap.Branch = strings.TrimSpace(res.Stdout)
	} else {
		record("branch", res, err)
	}

	// Last commit summary.
	if res, err := e.run(ctx, lastCommitArgs()); ok(res, err) {
		snap.LastCommit = strings.TrimSpace(res.Stdout)
	} else {
		record("last commit", res, err)
	}

	// Configured remotes, token-free.
	if res, err := e.run(ctx, remotesArgs()); ok(res, err) {
		snap.Remotes = parseRemotes(res.Stdout, e.binding.url, e.binding.safeURL)
	} else {
		record("remotes", res, err)
	}

	// Ahead/behind relative to the remote branch, after refreshing
	// remote knowledge.
	if res, err := e.run(ctx, fetchArgs(e.binding.branch)); !ok(res, err) {
		record("fetch", res, err)
	}
	remoteRef := "origin/" + e.binding.branch
	if res, err := e.run(ctx, revListCountArgs(remoteRef, "HEAD")); ok(res, err) {
		snap.Ahead = parseCount(res.Stdout)
	} else {
		record("ahead", res, err)
	}
	if res, err := e.run(ctx, revListCountArgs("HEAD", remoteRef)); ok(res, err) {
		snap.Behind = parseCount(res.Stdout)
	} else {
		record("behind", res, err)
	}

	return snap
}

// parseRemotes parses "git remote -v" output, deduplicating fetch/push
// lines and replacing the token-bearing URL with its safe form.
func parseRemotes(output, tokenURL, safeURL string) []Remote {
	seen := make(map[string]bool)
	var remotes []Remote

	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		name, url := fields[0], fields[1]
		if seen[name] {
			continue
		}
		seen[name] = true

		if url == tokenURL {
			url = safeURL
		}
		remotes = append(remotes, Remote{Name: name, URL: url})
	}

	return remotes
}

func parseCount(output string) int {
	n, err := strconv.Atoi(strings.TrimSpace(output))
	if err != nil {
		return 0
	}
	return n
}
