// Package config loads vaultd settings from a YAML file and VAULTD_*
// environment variables. Environment values win over the file; the file
// wins over defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete vaultd configuration.
type Config struct {
	// RemoteURL is the git remote holding the vault.
	RemoteURL string `mapstructure:"remote_url"`

	// Branch is the branch to track. Defaults to main.
	Branch string `mapstructure:"branch"`

	// Token authenticates HTTPS pushes. Never logged and never written
	// back to the config file; prefer VAULTD_TOKEN.
	Token string `mapstructure:"token"`

	// VaultDir is the local working copy location.
	VaultDir string `mapstructure:"vault_dir"`

	// IndexPath is the SQLite index location. Defaults to a file beside
	// the vault.
	IndexPath string `mapstructure:"index_path"`

	// Port is the HTTP listen port.
	Port int `mapstructure:"port"`

	// AutoSync pushes after every vault mutation.
	AutoSync bool `mapstructure:"auto_sync"`

	// SyncInterval is the periodic background sync cadence. Zero
	// disables it.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// LogFile, when set, routes logs to a rotated file instead of stderr.
	LogFile string `mapstructure:"log_file"`

	// LogMaxSizeMB caps the log file size before rotation.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb"`
}

// DefaultPath is where Load looks when no explicit file is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vaultd.yaml"
	}
	return filepath.Join(home, ".config", "vaultd", "config.yaml")
}

func newViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("remote_url", "")
	v.SetDefault("branch", "main")
	v.SetDefault("token", "")
	v.SetDefault("vault_dir", "")
	v.SetDefault("index_path", "")
	v.SetDefault("port", 8765)
	v.SetDefault("auto_sync", true)
	v.SetDefault("sync_interval", 5*time.Minute)
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 10)

	v.SetEnvPrefix("VAULTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads configuration from path. An empty path falls back to
// DefaultPath; a missing file there is not an error, environment and
// defaults still apply.
func Load(path string) (*Config, error) {
	v := newViper()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if explicit {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		// A missing default config is fine; anything else (bad YAML,
		// permissions) still surfaces.
		if !errors.Is(err, fs.ErrNotExist) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.VaultDir == "" {
		cfg.VaultDir = defaultVaultDir()
	}
	if cfg.IndexPath == "" {
		cfg.IndexPath = filepath.Join(filepath.Dir(cfg.VaultDir), "vaultd-index.db")
	}

	return &cfg, nil
}

func defaultVaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vault"
	}
	return filepath.Join(home, ".local", "share", "vaultd", "vault")
}

// Validate checks the fields the serve command cannot run without.
func (c *Config) Validate() error {
	if c.RemoteURL == "" {
		return fmt.Errorf("remote_url is required (set VAULTD_REMOTE_URL or the config file)")
	}
	if c.VaultDir == "" {
		return fmt.Errorf("vault_dir is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	return nil
}

// Save writes the configuration to path as YAML. The token is deliberately
// omitted; it belongs in VAULTD_TOKEN, not on disk.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.Set("remote_url", cfg.RemoteURL)
	v.Set("branch", cfg.Branch)
	v.Set("vault_dir", cfg.VaultDir)
	v.Set("index_path", cfg.IndexPath)
	v.Set("port", cfg.Port)
	v.Set("auto_sync", cfg.AutoSync)
	v.Set("sync_interval", cfg.SyncInterval.String())
	v.Set("log_file", cfg.LogFile)
	v.Set("log_max_size_mb", cfg.LogMaxSizeMB)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
