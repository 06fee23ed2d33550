package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/sigreer/chrootctl/internal/config"
	"github.com/sigreer/chrootctl/internal/depends"
	"github.com/sigreer/chrootctl/internal/history"
	"github.com/sigreer/chrootctl/internal/logging"
	"github.com/sigreer/chrootctl/internal/prompt"
	"github.com/sigreer/chrootctl/internal/session"
	"github.com/sigreer/chrootctl/internal/sysexec"
	"github.com/sigreer/chrootctl/internal/version"
)

var cfgFile string

var errNotRoot = errors.New("chrootctl must be run as root")

var rootCmd = &cobra.Command{
	Use:   "chrootctl",
	Short: "Mount a Linux installation and chroot into it",
	Long: `chrootctl finds the block devices of an installed system, mounts its root
and the rest of its fstab under a temporary directory and runs arch-chroot.

Plain, LUKS, BTRFS and ZFS roots are supported. Everything mounted, opened
or imported is released again when the chroot exits.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runSession,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/chrootctl/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().Bool("log-json", false, "log as JSON")

	rootCmd.Flags().Bool("skip-root-check", false, "do not require root privileges")
	rootCmd.Flags().Bool("show-btrfs-dot-snapshots", false, "list .snapshots subvolumes in pickers")
	rootCmd.Flags().Bool("no-auto-mount", false, "do not mount the new root's fstab entries")
	rootCmd.Flags().Bool("no-systemd-chroot", false, "run arch-chroot without -S")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(identifyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadEnv loads the config and builds the logger every command shares
func loadEnv(cmd *cobra.Command) (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.LogLevel
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}
	asJSON, _ := cmd.Flags().GetBool("log-json")
	log, err := logging.New(logging.Options{Level: level, JSON: asJSON})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return cfg, log, nil
}

func runSession(cmd *cobra.Command, args []string) error {
	if skip, _ := cmd.Flags().GetBool("skip-root-check"); !skip && unix.Geteuid() != 0 {
		return errNotRoot
	}

	cfg, log, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	features, err := depends.Check(nil, cfg.ChrootCommand, log)
	if err != nil {
		return err
	}
	log.Debugf("Enabled features: %s", features)

	var journal history.Journal = history.Nop{}
	if cfg.HistoryEnabled() {
		db, err := history.Open(cfg.History.Path)
		if err != nil {
			log.Warnf("Session history disabled: %v", err)
		} else {
			defer db.Close()
			journal = history.NewRecorder(db, log)
		}
	}

	showSnapshots, _ := cmd.Flags().GetBool("show-btrfs-dot-snapshots")
	noAutoMount, _ := cmd.Flags().GetBool("no-auto-mount")
	noSystemd, _ := cmd.Flags().GetBool("no-systemd-chroot")

	opts := session.Options{
		Features:      features,
		ShowSnapshots: showSnapshots || cfg.ShowBTRFSSnapshots,
		AutoMount:     !noAutoMount && cfg.AutoMountEnabled(),
		SystemdChroot: !noSystemd && cfg.SystemdChrootEnabled(),
		ChrootCommand: cfg.ChrootCommand,
		TempDir:       cfg.TempDir,
	}
	return session.New(opts, sysexec.New(), prompt.NewTerminal(), log, journal).Run()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
