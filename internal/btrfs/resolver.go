package btrfs

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/sigreer/chrootctl/internal/cache"
	"github.com/sigreer/chrootctl/internal/device"
	"github.com/sigreer/chrootctl/internal/prompt"
	"github.com/sigreer/chrootctl/internal/sysexec"
)

// RoleRoot is the role name of the root filesystem
const RoleRoot = "root"

// Mounter is the mount capability the resolver needs for its scoped mounts
type Mounter interface {
	Mount(source, target string, options ...string) error
	Unmount(target string, recursive bool) error
}

// Cache holds subvolume listings keyed by device identity
type Cache = cache.Cache[[]SubVolume]

// NewCache returns an empty subvolume cache
func NewCache() *Cache {
	return cache.New[[]SubVolume]()
}

// Resolver discovers and selects subvolumes
type Resolver struct {
	run     sysexec.Runner
	mounter Mounter
	prompt  prompt.Prompter
	log     *zap.SugaredLogger
	cache   *Cache

	// TempDir is where scoped mount points are created ("" = os default)
	TempDir string
	// IncludeSnapshots keeps subvolumes under .snapshots in listings
	IncludeSnapshots bool
}

// NewResolver creates a resolver sharing the given cache
func NewResolver(run sysexec.Runner, m Mounter, p prompt.Prompter, log *zap.SugaredLogger, c *Cache) *Resolver {
	return &Resolver{run: run, mounter: m, prompt: p, log: log, cache: c}
}

// List mounts dev on a scoped temporary directory, lists its subvolumes
// and releases the mount point again on every path out.
func (r *Resolver) List(dev device.BlockDevice, includeSnapshots bool) (subvolumes []SubVolume, err error) {
	dir, err := os.MkdirTemp(r.TempDir, fmt.Sprintf("chrootctl-temp-mount-%s-", dev.UUID))
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary mount point: %w", err)
	}
	defer func() {
		if rmErr := os.Remove(dir); rmErr != nil && !os.IsNotExist(rmErr) {
			r.log.Warnf("Failed to remove temporary mount point %s: %v", dir, rmErr)
		}
	}()

	if err := r.mounter.Mount(dev.Name, dir, "ro"); err != nil {
		return nil, err
	}
	defer func() {
		if umErr := r.mounter.Unmount(dir, false); umErr != nil {
			err = errors.Join(err, umErr)
			subvolumes = nil
		}
	}()

	out, err := r.run.Output("btrfs", "subvolume", "list", "-t", dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list BTRFS subvolumes of %s: %w", dev.Name, err)
	}
	return parseList(string(out), dev, includeSnapshots)
}

// Subvolumes returns the subvolumes of dev, listing them only on the first
// request for that device identity
func (r *Resolver) Subvolumes(dev device.BlockDevice) ([]SubVolume, error) {
	if at, ok := r.cache.FetchedAt(dev.ID()); ok {
		r.log.Debugf("Using subvolumes of %s listed %s", dev.Name, humanize.Time(at))
	}
	return r.cache.GetOrFetch(dev.ID(), func() ([]SubVolume, error) {
		subvolumes, err := r.List(dev, r.IncludeSnapshots)
		if err != nil {
			return nil, err
		}
		for _, s := range subvolumes {
			r.log.Infof("Found subvolume: %s", s.Name)
		}
		return subvolumes, nil
	})
}

// Resolve picks the subvolume of dev to mount for role
func (r *Resolver) Resolve(dev device.BlockDevice, role string) (SubVolume, error) {
	subvolumes, err := r.Subvolumes(dev)
	if err != nil {
		return SubVolume{}, err
	}

	if len(subvolumes) == 1 {
		r.log.Warn("No subvolumes found, using root subvolume")
		return subvolumes[0], nil
	}

	if role == RoleRoot {
		if preset, ok := FindByName(subvolumes, PresetRootName); ok && preset.Name == PresetRootName {
			use, err := r.prompt.Confirm(prompt.QuestionSubvolumePreset)
			if err != nil {
				return SubVolume{}, err
			}
			if use {
				return preset, nil
			}
		}
	}

	idx, err := r.prompt.Select(
		fmt.Sprintf("Select the subvolume for the %s partition", role),
		device.Labels(subvolumes), false)
	if err != nil {
		return SubVolume{}, err
	}
	return subvolumes[idx], nil
}
