package gitx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// gitCmd runs a raw git command for test setup and assertions.
func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

// setupRemote creates a bare repository with one commit on main, acting as
// the remote the engine synchronizes against.
func setupRemote(t *testing.T) string {
	t.Helper()

	tmp := t.TempDir()
	bare := filepath.Join(tmp, "remote.git")
	gitCmd(t, tmp, "init", "--bare", "-b", "main", bare)

	seed := filepath.Join(tmp, "seed")
	gitCmd(t, tmp, "clone", bare, seed)
	gitCmd(t, seed, "config", "user.name", "Test User")
	gitCmd(t, seed, "config", "user.email", "test@example.com")

	readme := filepath.Join(seed, "README.md")
	if err := os.WriteFile(readme, []byte("# Vault\n"), 0o644); err != nil {
		t.Fatalf("failed to write README: %v", err)
	}
	gitCmd(t, seed, "add", "README.md")
	gitCmd(t, seed, "commit", "-m", "initial")
	gitCmd(t, seed, "push", "origin", "HEAD:main")

	return bare
}

func newTestEngine(t *testing.T, remote, root string) *Engine {
	t.Helper()

	e, err := NewEngine(Config{RemoteURL: remote, Root: root, Branch: "main"})
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}
	return e
}

func TestNewEngineValidation(t *testing.T) {
	if _, err := NewEngine(Config{Root: "/tmp/v"}); err == nil {
		t.Error("NewEngine() accepted empty remote URL")
	}
	if _, err := NewEngine(Config{RemoteURL: "https://example.com/v.git"}); err == nil {
		t.Error("NewEngine() accepted empty root")
	}
}

func TestInjectToken(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		token string
		want  string
	}{
		{"https with token", "https://example.com/vault.git", "tok123", "https://tok123@example.com/vault.git"},
		{"https without token", "https://example.com/vault.git", "", "https://example.com/vault.git"},
		{"ssh unchanged", "git@example.com:me/vault.git", "tok123", "git@example.com:me/vault.git"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := injectToken(tt.url, tt.token); got != tt.want {
				t.Errorf("injectToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRemoteURLNeverExposesToken(t *testing.T) {
	e, err := NewEngine(Config{
		RemoteURL: "https://example.com/vault.git",
		Root:      t.TempDir(),
		Token:     "tok123",
	})
	if err != nil {
		t.Fatalf("NewEngine() failed: %v", err)
	}

	if strings.Contains(e.RemoteURL(), "tok123") {
		t.Errorf("RemoteURL() = %q leaks the token", e.RemoteURL())
	}
	if !strings.Contains(e.binding.url, "tok123") {
		t.Errorf("binding url = %q, want embedded token", e.binding.url)
	}
}

func TestCloneCreatesWorkingCopy(t *testing.T) {
	remote := setupRemote(t)
	root := filepath.Join(t.TempDir(), "vault")
	e := newTestEngine(t, remote, root)

	out := e.Clone(context.Background())
	if !out.Success {
		t.Fatalf("Clone() failed: %s", out.Error)
	}
	if out.Action != ActionClone {
		t.Errorf("Action = %q, want %q", out.Action, ActionClone)
	}
	if out.Path != root {
		t.Errorf("Path = %q, want %q", out.Path, root)
	}

	if _, err := os.Stat(filepath.Join(root, "README.md")); err != nil {
		t.Errorf("cloned tree missing README.md: %v", err)
	}
	if _, ok := e.LastSync(); !ok {
		t.Error("LastSync() not set after successful clone")
	}
}

func TestCloneIdempotent(t *testing.T) {
	remote := setupRemote(t)
	root := filepath.Join(t.TempDir(), "vault")
	e := newTestEngine(t, remote, root)

	if out := e.Clone(context.Background()); !out.Success {
		t.Fatalf("first Clone() failed: %s", out.Error)
	}

	// Second clone delegates to pull.
	out := e.Clone(context.Background())
	if !out.Success {
		t.Fatalf("second Clone() failed: %s", out.Error)
	}
	if out.Action != ActionPull {
		t.Errorf("Action = %q, want %q", out.Action, ActionPull)
	}
}

func TestPullMissingRootClones(t *testing.T) {
	remote := setupRemote(t)
	root := filepath.Join(t.TempDir(), "vault")
	e := newTestEngine(t, remote, root)

	out := e.Pull(context.Background())
	if !out.Success {
		t.Fatalf("Pull() failed: %s", out.Error)
	}
	if out.Action != ActionClone {
		t.Errorf("Action = %q, want %q", out.Action, ActionClone)
	}
}

func TestPullPicksUpRemoteCommits(t *testing.T) {
	remote := setupRemote(t)
	tmp := t.TempDir()
	root := filepath.Join(tmp, "vault")
	e := newTestEngine(t, remote, root)

	if out := e.Clone(context.Background()); !out.Success {
		t.Fatalf("Clone() failed: %s", out.Error)
	}

	// Advance the remote from a second working copy.
	other := filepath.Join(tmp, "other")
	gitCmd(t, tmp, "clone", remote, other)
	gitCmd(t, other, "config", "user.name", "Other User")
	gitCmd(t, other, "config", "user.email", "other@example.com")
	if err := os.WriteFile(filepath.Join(other, "new.md"), []byte("# New\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	gitCmd(t, other, "add", "new.md")
	gitCmd(t, other, "commit", "-m", "remote change")
	gitCmd(t, other, "push", "origin", "HEAD:main")

	out := e.Pull(context.Background())
	if !out.Success {
		t.Fatalf("Pull() failed: %s", out.Error)
	}
	if _, err := os.Stat(filepath.Join(root, "new.md")); err != nil {
		t.Errorf("pulled tree missing new.md: %v", err)
	}
}

func TestPushCleanTreeIsNoChanges(t *testing.T) {
	remote := setupRemote(t)
	root := filepath.Join(t.TempDir(), "vault")
	e := newTestEngine(t, remote, root)

	if out := e.Clone(context.Background()); !out.Success {
		t.Fatalf("Clone() failed: %s", out.Error)
	}

	out := e.Push(context.Background(), "msg")
	if !out.Success {
		t.Fatalf("Push() failed: %s", out.Error)
	}
	if out.Action != ActionNoChanges {
		t.Errorf("Action = %q, want %q", out.Action, ActionNoChanges)
	}
	if out.ChangesPushed {
		t.Error("ChangesPushed = true for clean tree, want false")
	}

	// No commit was issued.
	if msg := gitCmd(t, remote, "log", "-1", "--format=%s"); msg != "initial" {
		t.Errorf("remote tip message = %q, want initial", msg)
	}
}

func TestPushPublishesChanges(t *testing.T) {
	remote := setupRemote(t)
	root := filepath.Join(t.TempDir(), "vault")
	e := newTestEngine(t, remote, root)

	if out := e.Clone(context.Background()); !out.Success {
		t.Fatalf("Clone() failed: %s", out.Error)
	}

	note := filepath.Join(root, "note.md")
	if err := os.WriteFile(note, []byte("# Note\n"), 0o644); err != nil {
		t.Fatalf("failed to write note: %v", err)
	}

	out := e.Push(context.Background(), "add note")
	if !out.Success {
		t.Fatalf("Push() failed at step %q: %s", out.Step, out.Error)
	}
	if out.Action != ActionPush {
		t.Errorf("Action = %q, want %q", out.Action, ActionPush)
	}
	if !out.ChangesPushed {
		t.Error("ChangesPushed = false, want true")
	}

	// Remote tip carries the new commit and matches the local tip.
	if msg := gitCmd(t, remote, "log", "-1", "--format=%s"); msg != "add note" {
		t.Errorf("remote tip message = %q, want %q", msg, "add note")
	}
	localTip := gitCmd(t, root, "rev-parse", "HEAD")
	remoteTip := gitCmd(t, remote, "rev-parse", "main")
	if localTip != remoteTip {
		t.Errorf("remote tip %s != local tip %s", remoteTip, localTip)
	}
}

func TestSyncPullThenPush(t *testing.T) {
	remote := setupRemote(t)
	root := filepath.Join(t.TempDir(), "vault")
	e := newTestEngine(t, remote, root)

	if out := e.Clone(context.Background()); !out.Success {
		t.Fatalf("Clone() failed: %s", out.Error)
	}

	if err := os.WriteFile(filepath.Join(root, "note.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("failed to write note: %v", err)
	}

	out := e.Sync(context.Background(), "sync note")
	if !out.Success {
		t.Fatalf("Sync() failed at step %q: %s", out.Step, out.Error)
	}
	if out.Pull == nil || !out.Pull.Success {
		t.Error("Sync() missing successful pull sub-result")
	}
	if out.Push == nil || !out.Push.Success {
		t.Error("Sync() missing successful push sub-result")
	}
	if !out.ChangesPushed {
		t.Error("ChangesPushed = false, want true")
	}
}

func TestStatusSnapshot(t *testing.T) {
	remote := setupRemote(t)
	root := filepath.Join(t.TempDir(), "vault")
	e := newTestEngine(t, remote, root)

	if out := e.Clone(context.Background()); !out.Success {
		t.Fatalf("Clone() failed: %s", out.Error)
	}

	snap := e.Status(context.Background())
	if !snap.Clean {
		t.Errorf("Clean = false for fresh clone, changed: %v", snap.ChangedFiles)
	}
	if snap.Branch != "main" {
		t.Errorf("Branch = %q, want main", snap.Branch)
	}
	if !strings.Contains(snap.LastCommit, "initial") {
		t.Errorf("LastCommit = %q, want initial commit summary", snap.LastCommit)
	}
	if snap.Ahead != 0 || snap.Behind != 0 {
		t.Errorf("Ahead/Behind = %d/%d, want 0/0", snap.Ahead, snap.Behind)
	}
	if len(snap.Remotes) == 0 || snap.Remotes[0].Name != "origin" {
		t.Errorf("Remotes = %v, want origin", snap.Remotes)
	}

	// A dirty tree is reported without mutating sync state.
	before, _ := e.LastSync()
	if err := os.WriteFile(filepath.Join(root, "dirty.md"), []byte("x\n"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	snap = e.Status(context.Background())
	if snap.Clean {
		t.Error("Clean = true with uncommitted file, want false")
	}
	if after, _ := e.LastSync(); !after.Equal(before) {
		t.Error("Status() mutated the last-sync timestamp")
	}
}

// ===================
// Scripted-runner tests
// ===================

// fakeRunner replays canned results per git subcommand and records the
// command sequence, so failure branches can be exercised without inducing
// real repository corruption.
type fakeRunner struct {
	calls   [][]string
	respond func(args []string) (Result, error)
}

func (f *fakeRunner) Run(_ context.Context, _ string, args ...string) (Result, error) {
	f.calls = append(f.calls, args)
	return f.respond(args)
}

func (f *fakeRunner) sawSubcommand(name string) bool {
	for _, call := range f.calls {
		if len(call) > 0 && call[0] == name {
			return true
		}
	}
	return false
}

// newFakeEngine builds an engine over an existing fake repository root.
func newFakeEngine(t *testing.T, fake *fakeRunner) *Engine {
	t.Helper()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatalf("failed to create repo marker: %v", err)
	}

	return &Engine{
		binding: Binding{
			url:     "https://example.com/vault.git",
			safeURL: "https://example.com/vault.git",
			branch:  "main",
			root:    root,
		},
		runner: fake,
	}
}

func TestSyncShortCircuitsOnPullFailure(t *testing.T) {
	fake := &fakeRunner{
		respond: func(args []string) (Result, error) {
			switch args[0] {
			case "status":
				return Result{Stdout: ""}, nil
			case "pull":
				return Result{ExitCode: 1, Stderr: "fatal: couldn't find remote ref main"}, nil
			}
			return Result{}, nil
		},
	}
	e := newFakeEngine(t, fake)

	out := e.Sync(context.Background(), "msg")
	if out.Success {
		t.Fatal("Sync() succeeded despite pull failure")
	}
	if out.Step != StepPull {
		t.Errorf("Step = %q, want %q", out.Step, StepPull)
	}
	if out.Pull == nil || out.Pull.Success {
		t.Error("Sync() missing failed pull sub-result")
	}
	if out.Push != nil {
		t.Error("Sync() attached a push sub-result after pull failure")
	}

	// Push must never be attempted.
	if fake.sawSubcommand("push") || fake.sawSubcommand("add") || fake.sawSubcommand("commit") {
		t.Errorf("Sync() issued push-side commands after pull failure: %v", fake.calls)
	}
}

func TestPullRestoresStashOnFailure(t *testing.T) {
	fake := &fakeRunner{
		respond: func(args []string) (Result, error) {
			switch args[0] {
			case "status":
				return Result{Stdout: " M note.md\n"}, nil
			case "stash":
				return Result{}, nil
			case "pull":
				return Result{ExitCode: 1, Stderr: "CONFLICT (content): merge conflict in note.md"}, nil
			}
			return Result{}, nil
		},
	}
	e := newFakeEngine(t, fake)

	out := e.Pull(context.Background())
	if out.Success {
		t.Fatal("Pull() succeeded despite rebase failure")
	}
	if !strings.Contains(out.Error, "CONFLICT") {
		t.Errorf("Error = %q, want rebase conflict text", out.Error)
	}

	// Sequence must be: stash push, pull, stash pop.
	var stashOps []string
	for _, call := range fake.calls {
		if call[0] == "stash" {
			stashOps = append(stashOps, call[1])
		}
	}
	if len(stashOps) != 2 || stashOps[0] != "push" || stashOps[1] != "pop" {
		t.Errorf("stash operations = %v, want [push pop]", stashOps)
	}
}

func TestPullSkipsStashOnCleanTree(t *testing.T) {
	fake := &fakeRunner{
		respond: func(args []string) (Result, error) {
			return Result{}, nil
		},
	}
	e := newFakeEngine(t, fake)

	if out := e.Pull(context.Background()); !out.Success {
		t.Fatalf("Pull() failed: %s", out.Error)
	}
	if fake.sawSubcommand("stash") {
		t.Errorf("Pull() stashed on a clean tree: %v", fake.calls)
	}
}

func TestPushVerifyFailure(t *testing.T) {
	fake := &fakeRunner{
		respond: func(args []string) (Result, error) {
			switch args[0] {
			case "status":
				return Result{Stdout: "?? note.md\n"}, nil
			case "diff":
				return Result{ExitCode: 1}, nil // staged diff non-empty
			case "config":
				return Result{Stdout: "Existing User\n"}, nil
			case "rev-list":
				// The push claimed success but a commit is still missing
				// from the remote.
				return Result{Stdout: "deadbeefcafe\n"}, nil
			}
			return Result{}, nil
		},
	}
	e := newFakeEngine(t, fake)

	out := e.Push(context.Background(), "msg")
	if out.Success {
		t.Fatal("Push() succeeded despite unpushed commits after verification")
	}
	if out.Step != StepVerify {
		t.Errorf("Step = %q, want %q", out.Step, StepVerify)
	}
}

func TestPushCommitFailureLeavesStagedChanges(t *testing.T) {
	fake := &fakeRunner{
		respond: func(args []string) (Result, error) {
			switch args[0] {
			case "status":
				return Result{Stdout: "?? note.md\n"}, nil
			case "diff":
				return Result{ExitCode: 1}, nil
			case "config":
				return Result{Stdout: "Existing User\n"}, nil
			case "commit":
				return Result{ExitCode: 1, Stderr: "commit hook rejected"}, nil
			}
			return Result{}, nil
		},
	}
	e := newFakeEngine(t, fake)

	out := e.Push(context.Background(), "msg")
	if out.Success {
		t.Fatal("Push() succeeded despite commit failure")
	}
	if out.Step != StepCommit {
		t.Errorf("Step = %q, want %q", out.Step, StepCommit)
	}

	// Staged changes stay in place for retry: no reset or checkout issued.
	if fake.sawSubcommand("reset") || fake.sawSubcommand("checkout") {
		t.Errorf("Push() rolled back staged changes: %v", fake.calls)
	}
}

func TestIdentityConfiguredOnce(t *testing.T) {
	configSets := 0
	fake := &fakeRunner{}
	fake.respond = func(args []string) (Result, error) {
		switch args[0] {
		case "status":
			return Result{Stdout: "?? note.md\n"}, nil
		case "diff":
			return Result{ExitCode: 1}, nil
		case "config":
			if len(args) == 2 {
				return Result{ExitCode: 1}, nil // unset
			}
			configSets++
			return Result{}, nil
		}
		return Result{}, nil
	}
	e := newFakeEngine(t, fake)

	for i := 0; i < 3; i++ {
		if out := e.Push(context.Background(), "msg"); !out.Success {
			t.Fatalf("Push() %d failed: %s", i, out.Error)
		}
	}

	// user.name and user.email, exactly once.
	if configSets != 2 {
		t.Errorf("config writes = %d, want 2", configSets)
	}
}
