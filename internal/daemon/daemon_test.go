package daemon

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vaultmcp/vaultd/internal/gitx"
	"github.com/vaultmcp/vaultd/internal/index"
)

func testConfig() *Config {
	return &Config{
		DebounceInterval: 20 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// startDaemon runs a daemon over a fresh vault and index until test cleanup.
func startDaemon(t *testing.T, config *Config, syncer Syncer) (string, *index.DB) {
	t.Helper()

	root := t.TempDir()
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("index.Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	d, err := New(root, db, syncer, config)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
	})

	// Give the watcher a moment to register before tests mutate the tree.
	time.Sleep(50 * time.Millisecond)
	return root, db
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()

	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("index.Open() failed: %v", err)
	}
	defer db.Close()

	if _, err := New("", db, nil, nil); err == nil {
		t.Error("New() accepted empty root")
	}
	if _, err := New(t.TempDir(), nil, nil, nil); err == nil {
		t.Error("New() accepted nil index")
	}
}

func TestStartIndexesExistingNotes(t *testing.T) {
	root := t.TempDir()
	writeNote(t, root, "existing.md", "already here\n")

	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("index.Open() failed: %v", err)
	}
	defer db.Close()

	d, err := New(root, db, nil, testConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()
	defer func() { cancel(); <-done }()

	waitFor(t, "initial resync", func() bool {
		_, ok, _ := db.Get("existing.md")
		return ok
	})
}

func TestCreateIsIndexed(t *testing.T) {
	root, db := startDaemon(t, testConfig(), nil)

	writeNote(t, root, "fresh.md", "new note #tagged\n")

	waitFor(t, "fresh.md to be indexed", func() bool {
		entry, ok, _ := db.Get("fresh.md")
		return ok && len(entry.Tags) == 1
	})
}

func TestModifyIsReindexed(t *testing.T) {
	root, db := startDaemon(t, testConfig(), nil)

	writeNote(t, root, "note.md", "short\n")
	waitFor(t, "initial index", func() bool {
		_, ok, _ := db.Get("note.md")
		return ok
	})

	writeNote(t, root, "note.md", "a considerably longer body than before\n")
	waitFor(t, "reindex after modify", func() bool {
		entry, ok, _ := db.Get("note.md")
		return ok && entry.SizeBytes > 10
	})
}

func TestDeleteIsRemoved(t *testing.T) {
	root, db := startDaemon(t, testConfig(), nil)

	writeNote(t, root, "doomed.md", "bye\n")
	waitFor(t, "index before delete", func() bool {
		_, ok, _ := db.Get("doomed.md")
		return ok
	})

	if err := os.Remove(filepath.Join(root, "doomed.md")); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	waitFor(t, "index removal", func() bool {
		_, ok, _ := db.Get("doomed.md")
		return !ok
	})
}

func TestNewDirectoryIsWatched(t *testing.T) {
	root, db := startDaemon(t, testConfig(), nil)

	if err := os.MkdirAll(filepath.Join(root, "projects"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	// Let the create event register the new watch first.
	time.Sleep(100 * time.Millisecond)

	writeNote(t, root, "projects/inner.md", "inside a new directory\n")

	waitFor(t, "note in new directory", func() bool {
		_, ok, _ := db.Get("projects/inner.md")
		return ok
	})
}

func TestHiddenAndNonNoteFilesIgnored(t *testing.T) {
	root, db := startDaemon(t, testConfig(), nil)

	writeNote(t, root, "visible.md", "seen\n")
	writeNote(t, root, ".obsidian/workspace.md", "config\n")
	writeNote(t, root, "image.png", "not markdown")

	waitFor(t, "visible note", func() bool {
		_, ok, _ := db.Get("visible.md")
		return ok
	})

	if n, err := db.Count(); err != nil || n != 1 {
		t.Errorf("Count() = %d, %v; want 1", n, err)
	}
}

func TestOnChangeCallback(t *testing.T) {
	var (
		mu      sync.Mutex
		changed []string
	)
	config := testConfig()
	config.OnChange = func(paths []string) {
		mu.Lock()
		changed = append(changed, paths...)
		mu.Unlock()
	}

	root, _ := startDaemon(t, config, nil)
	writeNote(t, root, "ping.md", "hello\n")

	waitFor(t, "change callback", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range changed {
			if p == "ping.md" {
				return true
			}
		}
		return false
	})
}

type fakeSyncer struct {
	mu       sync.Mutex
	calls    int
	messages []string
}

func (f *fakeSyncer) Sync(_ context.Context, message string) gitx.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = append(f.messages, message)
	return gitx.Outcome{Success: true, Action: gitx.ActionSync}
}

func (f *fakeSyncer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestPeriodicSync(t *testing.T) {
	syncer := &fakeSyncer{}

	config := testConfig()
	config.SyncInterval = 30 * time.Millisecond

	var (
		mu       sync.Mutex
		outcomes []gitx.Outcome
	)
	config.OnSyncOutcome = func(o gitx.Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}

	startDaemon(t, config, syncer)

	waitFor(t, "periodic sync", func() bool { return syncer.count() >= 2 })

	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) == 0 || !outcomes[0].Success {
		t.Errorf("outcomes = %+v", outcomes)
	}
}

func TestPeriodicSyncDisabledWithoutSyncer(t *testing.T) {
	config := testConfig()
	config.SyncInterval = 10 * time.Millisecond

	// No syncer configured; the daemon must still run and index.
	root, db := startDaemon(t, config, nil)
	writeNote(t, root, "ok.md", "fine\n")

	waitFor(t, "indexing without syncer", func() bool {
		_, ok, _ := db.Get("ok.md")
		return ok
	})
}
