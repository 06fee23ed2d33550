// Package depends checks for the system commands chrootctl drives and
// derives which optional features are available.
package depends

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// Features is a set of optional capabilities
type Features uint8

// Optional features
const (
	BTRFS Features = 1 << iota
	LUKS
	ZFS
)

// All is every optional feature
const All = BTRFS | LUKS | ZFS

// Has reports whether every feature in f is present
func (fs Features) Has(f Features) bool {
	return fs&f == f
}

func (fs Features) String() string {
	var names []string
	if fs.Has(BTRFS) {
		names = append(names, "btrfs")
	}
	if fs.Has(LUKS) {
		names = append(names, "luks")
	}
	if fs.Has(ZFS) {
		names = append(names, "zfs")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// ErrMissingCommand is wrapped when a required command is not installed
var ErrMissingCommand = errors.New("required command not found")

// Depend is a command chrootctl may run
type Depend struct {
	Command     string
	Package     string
	Required    bool
	Description string
	Features    Features
}

// Table lists every command, required ones first
var Table = []Depend{
	{Command: "lsblk", Package: "util-linux", Required: true},
	{Command: "mount", Package: "util-linux", Required: true},
	{Command: "umount", Package: "util-linux", Required: true},
	{Command: "arch-chroot", Package: "arch-install-scripts", Required: true},
	{Command: "btrfs", Package: "btrfs-progs", Description: "BTRFS Support", Features: BTRFS},
	{Command: "cryptsetup", Package: "cryptsetup", Description: "LUKS Support", Features: LUKS},
	{Command: "zfs", Package: "zfs-utils", Description: "ZFS Support", Features: ZFS},
	{Command: "zpool", Package: "zfs-utils", Description: "ZFS Support", Features: ZFS},
}

// LookPath finds a command on PATH
type LookPath func(file string) (string, error)

// Check verifies the dependency table. A missing required command is an
// error; a missing optional one disables its features with a warning.
// chrootCommand replaces arch-chroot when set.
func Check(lookPath LookPath, chrootCommand string, log *zap.SugaredLogger) (Features, error) {
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	features := All
	for _, d := range Table {
		cmd := d.Command
		if d.Command == "arch-chroot" && chrootCommand != "" {
			cmd = chrootCommand
		}
		if _, err := lookPath(cmd); err == nil {
			continue
		}
		if d.Required {
			return 0, fmt.Errorf("%w: %s, please install %s", ErrMissingCommand, cmd, d.Package)
		}
		if features.Has(d.Features) {
			log.Warnf("Command %s not found, %s will be disabled, install %s to enable it", cmd, d.Description, d.Package)
		}
		features &^= d.Features
	}
	return features, nil
}
