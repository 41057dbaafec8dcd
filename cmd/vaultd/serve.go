package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vaultmcp/vaultd/internal/config"
	"github.com/vaultmcp/vaultd/internal/daemon"
	"github.com/vaultmcp/vaultd/internal/gitx"
	"github.com/vaultmcp/vaultd/internal/index"
	"github.com/vaultmcp/vaultd/internal/server"
	"github.com/vaultmcp/vaultd/internal/vault"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Clone the vault and serve it over HTTP",
	Long: `Start the vault server.

On startup the vault is cloned from the configured remote (or pulled when
the working copy already exists); a failure here is fatal, since serving a
vault that never materialized helps nobody. The server then:

- exposes note, search, and sync tools on POST /tools/<name>
- broadcasts change and sync events on ws://.../ws
- watches the working copy and keeps the search index current
- syncs with the remote on the configured interval

Example usage:
  vaultd serve
  vaultd serve --config ./vaultd.yaml

Stop with Ctrl+C; shutdown drains the watcher and the HTTP server.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if err := cfg.Validate(); err != nil {
			fatalf("%v", err)
		}

		logger := newLogger(cfg)

		engine, err := gitx.NewEngine(gitx.Config{
			RemoteURL: cfg.RemoteURL,
			Root:      cfg.VaultDir,
			Branch:    cfg.Branch,
			Token:     cfg.Token,
			Logger:    logger,
		})
		if err != nil {
			fatalf("%v", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		outcome := engine.Clone(ctx)
		if !outcome.Success {
			fatalf("failed to materialize vault from %s: %s", engine.RemoteURL(), outcome.Error)
		}
		logger.Printf("Vault ready at %s (%s)", engine.Root(), engine.RemoteURL())

		idx, err := index.Open(cfg.IndexPath)
		if err != nil {
			fatalf("%v", err)
		}
		defer idx.Close()

		// The store broadcasts auto-sync outcomes; the server it
		// broadcasts through is constructed just below.
		var srv *server.Server

		store, err := vault.NewStore(vault.Config{
			Root:     engine.Root(),
			Syncer:   engine,
			AutoSync: cfg.AutoSync,
			Logger:   logger,
			OnSyncOutcome: func(_ string, o gitx.Outcome) {
				if srv != nil {
					srv.BroadcastSyncOutcome(o)
				}
			},
		})
		if err != nil {
			fatalf("%v", err)
		}

		srv = server.NewServer(&server.Config{
			Port:   cfg.Port,
			Logger: logger,
			Tools:  server.NewToolHandler(store, engine, idx, version, logger),
		})
		if err := srv.Start(); err != nil {
			fatalf("%v", err)
		}
		defer func() {
			if err := srv.Stop(); err != nil {
				logger.Printf("Server shutdown error: %v", err)
			}
		}()

		var syncer daemon.Syncer
		if cfg.SyncInterval > 0 {
			syncer = engine
		}
		watcher, err := daemon.New(engine.Root(), idx, syncer, &daemon.Config{
			DebounceInterval: daemon.DefaultConfig().DebounceInterval,
			SyncInterval:     cfg.SyncInterval,
			Logger:           logger,
			OnChange:         srv.BroadcastNoteChange,
			OnSyncOutcome:    srv.BroadcastSyncOutcome,
		})
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("vaultd listening on http://localhost:%d (vault: %s)\n", cfg.Port, engine.Root())
		fmt.Println("Press Ctrl+C to stop...")

		if err := watcher.Start(ctx); err != nil {
			fatalf("%v", err)
		}
	},
}

// newLogger builds the process logger, rotating through lumberjack when a
// log file is configured.
func newLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		}
	}
	return log.New(out, "[vaultd] ", log.LstdFlags)
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
