package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vaultmcp/vaultd/internal/config"
	"github.com/vaultmcp/vaultd/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a vaultd configuration interactively",
	Long: `Walk through the vaultd settings and write a config file.

The access token is prompted without echo and is NOT stored in the config
file; export it as VAULTD_TOKEN instead. Everything else lands in
~/.config/vaultd/config.yaml (or --config).`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}

		var (
			portStr     = strconv.Itoa(cfg.Port)
			intervalStr = cfg.SyncInterval.String()
		)

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Git remote URL").
					Description("HTTPS or SSH URL of the repository holding your vault").
					Placeholder("https://github.com/you/vault.git").
					Value(&cfg.RemoteURL).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("remote URL is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("Branch").
					Value(&cfg.Branch),
				huh.NewInput().
					Title("Vault directory").
					Description("Where the working copy lives").
					Value(&cfg.VaultDir),
				huh.NewInput().
					Title("HTTP port").
					Value(&portStr).
					Validate(func(s string) error {
						n, err := strconv.Atoi(s)
						if err != nil || n <= 0 || n > 65535 {
							return fmt.Errorf("enter a port between 1 and 65535")
						}
						return nil
					}),
				huh.NewInput().
					Title("Background sync interval").
					Description("Go duration, e.g. 5m; 0s disables periodic sync").
					Value(&intervalStr).
					Validate(func(s string) error {
						_, err := time.ParseDuration(s)
						return err
					}),
				huh.NewConfirm().
					Title("Push after every change?").
					Description("Auto-sync commits and pushes each note mutation").
					Value(&cfg.AutoSync),
			),
		)

		if err := form.Run(); err != nil {
			fatalf("%v", err)
		}

		cfg.Port, _ = strconv.Atoi(portStr)
		cfg.SyncInterval, _ = time.ParseDuration(intervalStr)

		token := promptToken()

		path := configPath
		if path == "" {
			path = config.DefaultPath()
		}
		if err := config.Save(cfg, path); err != nil {
			fatalf("%v", err)
		}

		fmt.Println(ui.Pass("Config written: ") + path)
		if token != "" {
			fmt.Println()
			fmt.Println("Export your token before starting the server:")
			fmt.Println(ui.Accent("  export VAULTD_TOKEN=<your token>"))
			fmt.Println(ui.Dim("(the token was not written to the config file)"))
		}
		fmt.Println()
		fmt.Println("Start serving with: " + ui.Accent("vaultd serve"))
	},
}

// promptToken reads the access token without echo. Skipped when stdin is
// not a terminal (scripted runs export VAULTD_TOKEN instead).
func promptToken() string {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return ""
	}

	fmt.Print("Access token (leave empty to skip, input hidden): ")
	raw, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func init() {
	rootCmd.AddCommand(initCmd)
}
