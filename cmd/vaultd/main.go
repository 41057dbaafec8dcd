// vaultd serves a git-backed markdown vault over HTTP.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultmcp/vaultd/internal/config"
)

// version is stamped by the release build.
var version = "0.1.0-dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "vaultd",
	Short: "Git-backed vault server for markdown notes",
	Long: `vaultd keeps a local working copy of a markdown vault in step with a
git remote and exposes note, search, and sync operations over HTTP.

Configuration is read from ~/.config/vaultd/config.yaml (or --config) and
VAULTD_* environment variables. The access token is only ever taken from
VAULTD_TOKEN; it is never written to disk or logged.

Run "vaultd init" to create a configuration interactively.`,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default ~/.config/vaultd/config.yaml)")
}

// loadConfig reads the effective configuration for subcommands.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func fatalf(format string, v ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", v...)
	os.Exit(1)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
