package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sigreer/chrootctl/internal/history"
)

type Config struct {
	// Include .snapshots subvolumes in BTRFS pickers
	ShowBTRFSSnapshots bool `yaml:"show_btrfs_snapshots"`
	// Mount the new root's fstab entries automatically
	AutoMount *bool `yaml:"auto_mount,omitempty"`
	// Run arch-chroot with -S (systemd-nspawn like mount handling)
	SystemdChroot *bool `yaml:"systemd_chroot,omitempty"`
	// Command used to enter the new root
	ChrootCommand string `yaml:"chroot_command,omitempty"`
	// Parent directory of the root and scratch mount points
	TempDir  string  `yaml:"temp_dir,omitempty"`
	LogLevel string  `yaml:"log_level,omitempty"`
	History  History `yaml:"history"`
}

type History struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

var defaultConfig = Config{
	ChrootCommand: "arch-chroot",
	LogLevel:      "info",
	History: History{
		Path: history.DefaultPath,
	},
}

// Candidates are the config files tried, in order, when no path is given
func Candidates() []string {
	return []string{
		"/etc/chrootctl/config.yaml",
		filepath.Join(os.Getenv("HOME"), ".config/chrootctl/config.yaml"),
		"config.yaml",
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		for _, c := range Candidates() {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	var cfg Config
	if path == "" {
		cfg = defaultConfig
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if cfg.ChrootCommand == "" {
		cfg.ChrootCommand = defaultConfig.ChrootCommand
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultConfig.LogLevel
	}
	if cfg.History.Path == "" {
		cfg.History.Path = defaultConfig.History.Path
	}

	return &cfg, nil
}

// AutoMountEnabled defaults to true
func (c *Config) AutoMountEnabled() bool {
	return c.AutoMount == nil || *c.AutoMount
}

// SystemdChrootEnabled defaults to true
func (c *Config) SystemdChrootEnabled() bool {
	return c.SystemdChroot == nil || *c.SystemdChroot
}

// HistoryEnabled defaults to true
func (c *Config) HistoryEnabled() bool {
	return c.History.Enabled == nil || *c.History.Enabled
}
