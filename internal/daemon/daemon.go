// Package daemon provides the background watcher that keeps the note index
// and the git remote in step with the working copy.
//
// The daemon:
//  1. Performs a full index resync on startup
//  2. Watches the vault tree for note changes
//  3. Reindexes changed notes with debouncing
//  4. Periodically syncs the vault with its remote
//  5. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vaultmcp/vaultd/internal/gitx"
	"github.com/vaultmcp/vaultd/internal/index"
)

// Syncer pushes and pulls the vault's git state.
type Syncer interface {
	Sync(ctx context.Context, message string) gitx.Outcome
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long to wait before reindexing changed
	// files. This batches rapid editor saves together.
	DebounceInterval time.Duration

	// SyncInterval is how often to sync with the remote. Zero disables
	// periodic sync.
	SyncInterval time.Duration

	// Logger for daemon activity.
	Logger *log.Logger

	// OnChange, when set, is called after a batch of note changes has
	// been reindexed. Paths are vault-relative.
	OnChange func(paths []string)

	// OnSyncOutcome, when set, receives the result of each periodic sync.
	OnSyncOutcome func(outcome gitx.Outcome)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 200 * time.Millisecond,
		SyncInterval:     5 * time.Minute,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the vault tree and keeps the index and remote current.
type Daemon struct {
	root   string
	db     *index.DB
	syncer Syncer
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon watching the vault at root. The syncer may be nil,
// which disables periodic remote sync.
func New(root string, db *index.DB, syncer Syncer, config *Config) (*Daemon, error) {
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if db == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		root:        root,
		db:          db,
		syncer:      syncer,
		config:      config,
		watcher:     watcher,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	n, err := d.db.Resync(d.root)
	if err != nil {
		return fmt.Errorf("initial index resync failed: %w", err)
	}
	d.config.Logger.Printf("Indexed %d notes", n)

	if err := d.watchTree(d.root); err != nil {
		return fmt.Errorf("failed to watch vault: %w", err)
	}
	d.config.Logger.Printf("Watching: %s", d.root)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	if d.syncer != nil && d.config.SyncInterval > 0 {
		d.wg.Add(1)
		go d.periodicSync()
	}

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// watchTree registers dir and every visible subdirectory with the watcher.
// fsnotify watches are not recursive, so new directories are added as
// create events arrive.
func (d *Daemon) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(filepath.Base(path), ".") {
			return fs.SkipDir
		}
		return d.watcher.Add(path)
	})
}

// watchFileEvents monitors filesystem events and queues note changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(event)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	rel, err := filepath.Rel(d.root, event.Name)
	if err != nil || hidden(rel) {
		return
	}

	// New directories need their own watch before events inside them
	// can be seen.
	if event.Has(fsnotify.Create) {
		if info, serr := os.Stat(event.Name); serr == nil && info.IsDir() {
			if werr := d.watchTree(event.Name); werr != nil {
				d.config.Logger.Printf("Failed to watch %s: %v", event.Name, werr)
			}
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(event.Name))
	if ext != ".md" && ext != ".markdown" {
		return
	}

	d.queueChange(filepath.ToSlash(rel))
}

// queueChange adds a note to the change queue with debouncing.
func (d *Daemon) queueChange(rel string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[rel] = time.Now()
}

// processChangeQueue reindexes queued changes once they settle.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges reindexes notes that have been quiet long enough.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for rel, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, rel)
		delete(d.changeQueue, rel)
	}
	d.changeQueueMu.Unlock()

	if len(ready) == 0 {
		return
	}

	for _, rel := range ready {
		if err := d.reindex(rel); err != nil {
			d.config.Logger.Printf("Error reindexing %s: %v", rel, err)
		}
	}

	if d.config.OnChange != nil {
		d.config.OnChange(ready)
	}
}

// reindex updates one note's index row, removing it when the file is gone.
func (d *Daemon) reindex(rel string) error {
	path := filepath.Join(d.root, filepath.FromSlash(rel))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		d.config.Logger.Printf("Removing from index: %s", rel)
		return d.db.Delete(rel)
	}

	d.config.Logger.Printf("Reindexing: %s", rel)
	return d.db.Index(d.root, rel)
}

// periodicSync pushes and pulls the vault on a fixed interval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			outcome := d.syncer.Sync(d.ctx, "Periodic vault sync")
			if !outcome.Success {
				d.config.Logger.Printf("Periodic sync failed at %s: %s", outcome.Step, outcome.Error)
			}
			if d.config.OnSyncOutcome != nil {
				d.config.OnSyncOutcome(outcome)
			}
		}
	}
}

func hidden(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
