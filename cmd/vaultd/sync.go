package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultmcp/vaultd/internal/gitx"
	"github.com/vaultmcp/vaultd/internal/ui"
)

var syncMessage string

var syncCmd = &cobra.Command{
	Use:   "sync [pull|push|sync|status|debug]",
	Short: "Run a one-shot vault synchronization",
	Long: `Synchronize the local vault with its git remote.

Actions:
  pull     Fetch and rebase remote changes (stashing local edits around it)
  push     Stage, commit, and push local changes, then verify they landed
  sync     Pull then push (the default)
  status   Show the repository state
  debug    Dump the full status snapshot as JSON

Example usage:
  vaultd sync
  vaultd sync push -m "Meeting notes"
  vaultd sync status`,
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"pull", "push", "sync", "status", "debug"},
	Run: func(cmd *cobra.Command, args []string) {
		action := "sync"
		if len(args) > 0 {
			action = args[0]
		}

		engine := newEngine()
		ctx := context.Background()

		message := syncMessage
		if message == "" {
			message = "Vault sync"
		}

		switch action {
		case "pull":
			printOutcome(engine.Pull(ctx))
		case "push":
			printOutcome(engine.Push(ctx, message))
		case "sync":
			printOutcome(engine.Sync(ctx, message))
		case "status":
			fmt.Print(ui.RenderSnapshot(engine.Status(ctx)))
		case "debug":
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(engine.Status(ctx))
		default:
			fatalf("Unknown action: %s", action)
		}
	},
}

// newEngine builds a sync engine from the effective configuration. Quiet
// logging: one-shot commands report through their rendered output.
func newEngine() *gitx.Engine {
	cfg, err := loadConfig()
	if err != nil {
		fatalf("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalf("%v", err)
	}

	engine, err := gitx.NewEngine(gitx.Config{
		RemoteURL: cfg.RemoteURL,
		Root:      cfg.VaultDir,
		Branch:    cfg.Branch,
		Token:     cfg.Token,
		Logger:    log.New(io.Discard, "", 0),
	})
	if err != nil {
		fatalf("%v", err)
	}
	return engine
}

func printOutcome(o gitx.Outcome) {
	fmt.Println(ui.RenderOutcome(o))
	if !o.Success {
		os.Exit(1)
	}
}

func init() {
	syncCmd.Flags().StringVarP(&syncMessage, "message", "m", "", "Commit message for pushed changes")
	rootCmd.AddCommand(syncCmd)
}
