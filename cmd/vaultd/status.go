package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vaultmcp/vaultd/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the vault's git state",
	Long: `Show the working tree, branch, remote, and divergence of the local
vault. Shorthand for "vaultd sync status".`,
	Run: func(cmd *cobra.Command, args []string) {
		engine := newEngine()
		fmt.Print(ui.RenderSnapshot(engine.Status(context.Background())))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
