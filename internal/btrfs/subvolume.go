package btrfs

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/sigreer/chrootctl/internal/device"
)

// RootID is the id of the top-level subvolume every BTRFS filesystem has
const RootID uint64 = 5

// RootName is how the top-level subvolume is displayed
const RootName = "/"

// SnapshotsPrefix is the namespace snapper keeps its snapshots under
const SnapshotsPrefix = ".snapshots"

// PresetRootName is the subvolume name many distributions use for /
const PresetRootName = "@"

// SubVolume is a subvolume of one BTRFS device
type SubVolume struct {
	Device   device.BlockDevice
	SubvolID uint64
	Name     string
}

// ID composes the owning device's identity with the subvolume id
func (s SubVolume) ID() string {
	return fmt.Sprintf("%s-%d", s.Device.ID(), s.SubvolID)
}

func (s SubVolume) String() string {
	return fmt.Sprintf("[%s] BTRFS Subvolume: %s: SubVol ID: %d", s.Device.Name, s.Name, s.SubvolID)
}

// IsRoot reports whether this is the top-level subvolume
func (s SubVolume) IsRoot() bool {
	return s.SubvolID == RootID
}

// MountOption returns the mount option selecting this subvolume
func (s SubVolume) MountOption() string {
	return fmt.Sprintf("subvolid=%d", s.SubvolID)
}

// parseList parses `btrfs subvolume list -t` output: two header lines,
// then rows of id, gen, top level and path. The top-level subvolume is
// always first in the result.
func parseList(out string, dev device.BlockDevice, includeSnapshots bool) ([]SubVolume, error) {
	subvolumes := []SubVolume{{Device: dev, SubvolID: RootID, Name: RootName}}

	scanner := bufio.NewScanner(strings.NewReader(strings.TrimSpace(out)))
	line := 0
	for scanner.Scan() {
		line++
		if line <= 2 {
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) != 4 {
			continue
		}
		id, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid subvolume id %q on line %d: %w", fields[0], line, err)
		}
		name := fields[3]
		if strings.HasPrefix(name, SnapshotsPrefix) && !includeSnapshots {
			continue
		}
		subvolumes = append(subvolumes, SubVolume{Device: dev, SubvolID: id, Name: name})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return subvolumes, nil
}

// FindByID returns the subvolume with the given id
func FindByID(subvolumes []SubVolume, id uint64) (SubVolume, bool) {
	for _, s := range subvolumes {
		if s.SubvolID == id {
			return s, true
		}
	}
	return SubVolume{}, false
}

// FindByName returns the subvolume named name. A single leading separator
// is ignored, so "/@home" finds "@home".
func FindByName(subvolumes []SubVolume, name string) (SubVolume, bool) {
	for _, s := range subvolumes {
		if s.Name == name {
			return s, true
		}
	}
	trimmed := strings.TrimPrefix(name, "/")
	for _, s := range subvolumes {
		if s.Name == trimmed {
			return s, true
		}
	}
	return SubVolume{}, false
}
