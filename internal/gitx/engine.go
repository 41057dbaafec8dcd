package gitx

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBranch is the branch synchronized when none is configured.
const DefaultBranch = "main"

// Binding fixes the remote a vault is synchronized against. It is immutable
// for the engine's lifetime.
type Binding struct {
	// url is the remote URL, with the access token embedded when one was
	// configured. Only ever passed as a subprocess argument.
	url string

	// safeURL is the token-free URL retained for display and status.
	safeURL string

	// branch is the synchronized branch name.
	branch string

	// root is the local working copy directory.
	root string
}

// Config configures an Engine.
type Config struct {
	// RemoteURL is the git remote to synchronize with (required).
	RemoteURL string

	// Root is the local working copy directory (required).
	Root string

	// Branch defaults to DefaultBranch.
	Branch string

	// Token, when set, is embedded into the URL authority for outbound
	// calls. It is never persisted or logged.
	Token string

	// Runner overrides the subprocess runner (used by tests). When nil a
	// runner with the default timeout is created, redacting Token.
	Runner *Runner

	// Logger receives engine activity. Nil disables logging.
	Logger *log.Logger
}

// Engine reconciles the local vault working copy with its remote branch.
//
// Engine is not safe for concurrent use: operations mutate the shared
// working tree and staged index, so callers must serialize all operations
// against a given root.
type Engine struct {
	binding Binding
	runner  commandRunner
	logger  *log.Logger

	// lastSync is the wall-clock time of the last successful
	// clone/pull/push. Zero until the first success.
	lastSync time.Time

	// identitySet tracks whether commit author identity has been
	// configured for this repository. Set at most once, lazily, before
	// the first commit.
	identitySet bool
}

// NewEngine validates cfg and constructs an Engine. Configuration problems
// are the only failures that surface as errors; everything after
// construction is reported through Outcomes.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.RemoteURL == "" {
		return nil, fmt.Errorf("remote URL is required")
	}
	if cfg.Root == "" {
		return nil, fmt.Errorf("local root is required")
	}

	branch := cfg.Branch
	if branch == "" {
		branch = DefaultBranch
	}

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("invalid local root %q: %w", cfg.Root, err)
	}

	runner := cfg.Runner
	if runner == nil {
		runner = NewRunner(cfg.Logger, cfg.Token)
	}

	return &Engine{
		binding: Binding{
			url:     injectToken(cfg.RemoteURL, cfg.Token),
			safeURL: cfg.RemoteURL,
			branch:  branch,
			root:    root,
		},
		runner: runner,
		logger: cfg.Logger,
	}, nil
}

// injectToken embeds an access token into the authority component of an
// https URL. Non-https URLs (ssh remotes) are returned unchanged.
func injectToken(url, token string) string {
	if token == "" {
		return url
	}
	if rest, ok := strings.CutPrefix(url, "https://"); ok {
		return "https://" + token + "@" + rest
	}
	return url
}

// Root returns the local working copy directory.
func (e *Engine) Root() string { return e.binding.root }

// Branch returns the synchronized branch name.
func (e *Engine) Branch() string { return e.binding.branch }

// RemoteURL returns the token-free remote URL.
func (e *Engine) RemoteURL() string { return e.binding.safeURL }

// LastSync returns the time of the last successful clone, pull, or push.
// ok is false until the first success.
func (e *Engine) LastSync() (t time.Time, ok bool) {
	return e.lastSync, !e.lastSync.IsZero()
}

// isRepo reports whether the local root contains an initialized repository.
func (e *Engine) isRepo() bool {
	_, err := os.Stat(filepath.Join(e.binding.root, ".git"))
	return err == nil
}

// Clone ensures the local root holds a working copy of the bound branch.
//
// When the root already contains a repository this delegates to Pull, so
// callers can always invoke Clone to mean "make the vault up to date".
func (e *Engine) Clone(ctx context.Context) Outcome {
	if e.isRepo() {
		e.logf("repository already present at %s, pulling instead", e.binding.root)
		return e.Pull(ctx)
	}

	parent := filepath.Dir(e.binding.root)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return failed(ActionClone, "", fmt.Sprintf("failed to create %s: %v", parent, err))
	}

	res, err := e.runner.Run(ctx, parent, cloneArgs(e.binding.branch, e.binding.url, e.binding.root)...)
	if !ok(res, err) {
		return failed(ActionClone, "", detail(res, err))
	}

	e.lastSync = time.Now()
	e.logf("cloned %s to %s", e.binding.safeURL, e.binding.root)

	out := succeeded(ActionClone)
	out.Path = e.binding.root
	return out
}

// Pull reconciles the local working copy with the remote branch.
//
// Uncommitted local changes are stashed around the rebase. If the pull
// fails after something was stashed, the stash is restored before the
// failure is returned so local edits are not silently lost; the
// restoration itself is best-effort.
func (e *Engine) Pull(ctx context.Context) Outcome {
	if _, err := os.Stat(e.binding.root); os.IsNotExist(err) {
		return e.Clone(ctx)
	}

	// Stash only when the tree is actually dirty. Inspecting porcelain
	// status beforehand avoids parsing the stash command's human-readable
	// "nothing to stash" output, which varies across git versions.
	res, err := e.run(ctx, statusPorcelainArgs())
	if !ok(res, err) {
		return failed(ActionPull, StepPull, detail(res, err))
	}

	stashed := false
	if strings.TrimSpace(res.Stdout) != "" {
		res, err = e.run(ctx, stashPushArgs())
		if !ok(res, err) {
			return failed(ActionPull, StepPull, detail(res, err))
		}
		stashed = true
		e.logf("stashed local changes before pull")
	}

	res, err = e.run(ctx, pullRebaseArgs(e.binding.branch))
	if !ok(res, err) {
		out := failed(ActionPull, StepPull, detail(res, err))
		if stashed {
			if popRes, popErr := e.run(ctx, stashPopArgs()); !ok(popRes, popErr) {
				e.logf("warning: failed to restore stash after failed pull: %s", detail(popRes, popErr))
			}
		}
		return out
	}

	if stashed {
		if popRes, popErr := e.run(ctx, stashPopArgs()); !ok(popRes, popErr) {
			e.logf("warning: failed to restore stash after pull: %s", detail(popRes, popErr))
		}
	}

	e.lastSync = time.Now()
	e.logf("pulled latest changes")
	return succeeded(ActionPull)
}

// Push commits every local change with message and publishes it, then
// verifies the remote actually accepted the commits.
//
// A clean working tree is a successful no-op (ActionNoChanges), not an
// error. A commit failure leaves the staged changes in place so the caller
// can retry with a different message without redoing the filesystem
// mutation.
func (e *Engine) Push(ctx context.Context, message string) Outcome {
	// Step 1: nothing to do on a clean tree.
	res, err := e.run(ctx, statusPorcelainArgs())
	if !ok(res, err) {
		return failed(ActionPush, StepAdd, detail(res, err))
	}
	if strings.TrimSpace(res.Stdout) == "" {
		e.logf("no changes to push")
		return succeeded(ActionNoChanges)
	}

	// Step 2: stage everything.
	res, err = e.run(ctx, addAllArgs())
	if !ok(res, err) {
		return failed(ActionPush, StepAdd, detail(res, err))
	}

	// Step 3: the staged diff can still be empty, e.g. when every change
	// matched an ignore rule. Exit 0 means empty.
	res, err = e.run(ctx, diffCachedQuietArgs())
	if err != nil {
		return failed(ActionPush, StepAdd, detail(res, err))
	}
	if res.ExitCode == 0 {
		e.logf("staged diff empty, nothing to commit")
		return succeeded(ActionNoChanges)
	}

	// Step 4: commit identity, configured at most once per lifetime.
	if err := e.ensureIdentity(ctx); err != nil {
		return failed(ActionPush, StepCommit, err.Error())
	}

	// Step 5: commit.
	res, err = e.run(ctx, commitArgs(message))
	if !ok(res, err) {
		return failed(ActionPush, StepCommit, detail(res, err))
	}

	// Step 6: refresh remote knowledge, then push.
	if res, err = e.run(ctx, fetchArgs(e.binding.branch)); !ok(res, err) {
		e.logf("warning: pre-push fetch failed: %s", detail(res, err))
	}
	res, err = e.run(ctx, pushArgs(e.binding.branch))
	if !ok(res, err) {
		return failed(ActionPush, StepPush, detail(res, err))
	}

	// Step 7: a zero push exit is not proof of remote acceptance. Refresh
	// and confirm no local commits remain unreachable from the remote tip.
	if res, err = e.run(ctx, fetchArgs(e.binding.branch)); !ok(res, err) {
		e.logf("warning: post-push fetch failed: %s", detail(res, err))
	}
	res, err = e.run(ctx, revListUnpushedArgs(e.binding.branch))
	if !ok(res, err) {
		return failed(ActionPush, StepVerify, detail(res, err))
	}
	if unpushed := strings.Fields(res.Stdout); len(unpushed) > 0 {
		return failed(ActionPush, StepVerify,
			fmt.Sprintf("push reported success but %d commit(s) are not on the remote", len(unpushed)))
	}

	e.lastSync = time.Now()
	e.logf("pushed changes: %s", message)

	out := succeeded(ActionPush)
	out.ChangesPushed = true
	return out
}

// Sync composes Pull then Push. Pull-then-push ordering is load-bearing:
// pushing first risks a non-fast-forward rejection this engine does not
// resolve automatically. If the pull fails the push is never attempted.
func (e *Engine) Sync(ctx context.Context, message string) Outcome {
	pull := e.Pull(ctx)
	if !pull.Success {
		out := failed(ActionSync, StepPull, pull.Error)
		out.Pull = &pull
		return out
	}

	push := e.Push(ctx, message)
	if !push.Success {
		out := failed(ActionSync, StepPush, push.Error)
		out.Pull = &pull
		out.Push = &push
		return out
	}

	out := succeeded(ActionSync)
	out.Pull = &pull
	out.Push = &push
	out.ChangesPushed = push.ChangesPushed
	return out
}

// ensureIdentity configures a commit author for the local repository when
// none is set. Runs at most once per engine lifetime; configuring twice is
// harmless but unnecessary.
func (e *Engine) ensureIdentity(ctx context.Context) error {
	if e.identitySet {
		return nil
	}

	res, err := e.run(ctx, configGetArgs("user.name"))
	if err != nil {
		return err
	}
	if strings.TrimSpace(res.Stdout) == "" {
		if res, err = e.run(ctx, configSetArgs("user.name", "vaultd")); !ok(res, err) {
			return fmt.Errorf("failed to set user.name: %s", detail(res, err))
		}
		if res, err = e.run(ctx, configSetArgs("user.email", "vaultd@localhost")); !ok(res, err) {
			return fmt.Errorf("failed to set user.email: %s", detail(res, err))
		}
		e.logf("configured commit identity")
	}

	e.identitySet = true
	return nil
}

// run invokes git in the local root.
func (e *Engine) run(ctx context.Context, args []string) (Result, error) {
	return e.runner.Run(ctx, e.binding.root, args...)
}

func (e *Engine) logf(format string, v ...any) {
	if e.logger != nil {
		e.logger.Printf(format, v...)
	}
}

// ok reports whether a runner invocation both ran and exited zero.
func ok(res Result, err error) bool {
	return err == nil && res.OK()
}

// detail extracts the most useful failure text from a runner invocation.
func detail(res Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if s := strings.TrimSpace(res.Stderr); s != "" {
		return s
	}
	if s := strings.TrimSpace(res.Stdout); s != "" {
		return s
	}
	return fmt.Sprintf("git exited with status %d", res.ExitCode)
}
