// Package session runs one chroot session: it picks and mounts the new
// root, mounts whatever else is wanted under it, enters the chroot and
// releases everything it acquired afterwards.
package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/sigreer/chrootctl/internal/btrfs"
	"github.com/sigreer/chrootctl/internal/depends"
	"github.com/sigreer/chrootctl/internal/device"
	"github.com/sigreer/chrootctl/internal/fstab"
	"github.com/sigreer/chrootctl/internal/history"
	"github.com/sigreer/chrootctl/internal/luks"
	"github.com/sigreer/chrootctl/internal/mount"
	"github.com/sigreer/chrootctl/internal/planner"
	"github.com/sigreer/chrootctl/internal/prompt"
	"github.com/sigreer/chrootctl/internal/sysexec"
	"github.com/sigreer/chrootctl/internal/zfs"
)

var (
	// ErrFeatureDisabled is returned when a device needs a tool that is
	// not installed
	ErrFeatureDisabled = errors.New("required support is not available")
	// ErrNoRootDataset is returned when a pool has no dataset for /
	ErrNoRootDataset = errors.New("no ZFS dataset with mountpoint / found")
)

// Options configures a session
type Options struct {
	Features      depends.Features
	ShowSnapshots bool
	AutoMount     bool
	SystemdChroot bool
	ChrootCommand string
	// TempDir is the parent of the root mount point ("" = os default)
	TempDir string
}

// Session sequences the managers for one chroot session
type Session struct {
	opts    Options
	run     sysexec.Runner
	prompt  prompt.Prompter
	log     *zap.SugaredLogger
	journal history.Journal

	state   *State
	mounter *mount.Mounter
	btrfs   *btrfs.Resolver
	luks    *luks.Manager
	zfs     *zfs.Manager

	devices       []device.BlockDevice
	rootMounted   bool
	rootEncrypted bool
}

// New creates a session; journal may be nil
func New(opts Options, run sysexec.Runner, p prompt.Prompter, log *zap.SugaredLogger, journal history.Journal) *Session {
	if opts.ChrootCommand == "" {
		opts.ChrootCommand = "arch-chroot"
	}
	if journal == nil {
		journal = history.Nop{}
	}
	state := NewState("")
	state.Journal = journal

	m := mount.New(run, p, log)
	resolver := btrfs.NewResolver(run, m, p, log, state.Subvolumes)
	resolver.TempDir = opts.TempDir
	resolver.IncludeSnapshots = opts.ShowSnapshots

	return &Session{
		opts:    opts,
		run:     run,
		prompt:  p,
		log:     log,
		journal: journal,
		state:   state,
		mounter: m,
		btrfs:   resolver,
		luks:    luks.New(run, log),
		zfs:     zfs.New(run, p, log),
	}
}

// State exposes the session context
func (s *Session) State() *State {
	return s.state
}

// Run executes the whole session. Teardown runs on every path out once
// the root mount point exists; its failures are logged, not returned.
func (s *Session) Run() (err error) {
	devices, err := device.List(s.run, nil)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return device.ErrNoDevices
	}
	s.log.Infof("Found %d block devices", len(devices))
	for _, d := range devices {
		s.log.Infof("Found partition: %s", d)
	}
	s.devices = devices

	root, err := os.MkdirTemp(s.opts.TempDir, "chrootctl-root-mount-")
	if err != nil {
		return fmt.Errorf("failed to create root mount point: %w", err)
	}
	s.state.Root = root
	s.journal.Begin(root)

	defer func() {
		if terr := s.Teardown(); terr != nil {
			var merr *multierror.Error
			if errors.As(terr, &merr) {
				for _, e := range merr.Errors {
					s.log.Warnf("Teardown: %v", e)
				}
			}
			s.log.Warn("Some resources could not be released, please release them manually")
		}
		if n := s.state.Subvolumes.Len(); n > 0 {
			s.log.Debugf("Listed subvolumes of %d device(s)", n)
		}
		if rmErr := os.Remove(root); rmErr != nil {
			s.log.Warnf("Failed to remove root mount point %s: %v", root, rmErr)
		}
		s.journal.End(err)
	}()

	if err := s.mountRoot(); err != nil {
		return err
	}
	if err := s.autoMount(); err != nil {
		return err
	}
	if err := s.interactiveLoop(); err != nil {
		return err
	}
	return s.chroot()
}

func (s *Session) mountRoot() error {
	idx, err := s.prompt.Select("Select the root partition", device.Labels(s.devices), false)
	if err != nil {
		return fmt.Errorf("no root partition selected: %w", err)
	}
	dev := s.devices[idx]

	if dev.IsLUKS() {
		s.rootEncrypted = true
		if dev, err = s.openEncrypted(dev); err != nil {
			return err
		}
	}
	s.journal.Root(dev.Name)

	switch {
	case dev.IsZFSMember():
		return s.mountZFSRoot(dev)
	case dev.IsBTRFS():
		if !s.opts.Features.Has(depends.BTRFS) {
			return fmt.Errorf("%w: BTRFS root %s", ErrFeatureDisabled, dev.Name)
		}
		s.log.Info("Selected BTRFS partition, mounting and listing subvolumes...")
		sv, err := s.btrfs.Resolve(dev, btrfs.RoleRoot)
		if err != nil {
			return fmt.Errorf("failed to resolve root subvolume: %w", err)
		}
		return s.mountRootDevice(dev, sv.ID(), sv.MountOption())
	default:
		return s.mountRootDevice(dev, dev.ID())
	}
}

func (s *Session) mountRootDevice(dev device.BlockDevice, id string, options ...string) error {
	if err := s.mounter.Mount(dev.Name, s.state.Root, options...); err != nil {
		return fmt.Errorf("failed to mount root partition: %w", err)
	}
	s.markRootMounted()
	s.state.MarkMounted(id)
	return nil
}

func (s *Session) markRootMounted() {
	s.rootMounted = true
	s.journal.Acquired(history.KindMount, s.state.Root)
}

func (s *Session) mountZFSRoot(dev device.BlockDevice) error {
	if !s.opts.Features.Has(depends.ZFS) {
		return fmt.Errorf("%w: ZFS root %s", ErrFeatureDisabled, dev.Name)
	}
	if err := s.zfs.ImportPool(dev, s.state.Root); err != nil {
		return err
	}
	s.state.RecordPool(dev)

	datasets, err := s.listDatasets(dev)
	if err != nil {
		return err
	}

	var candidates, others []*zfs.Dataset
	for _, ds := range datasets {
		switch {
		case ds.IsLegacy():
		case path.Clean(ds.Properties.Mountpoint.Value) == "/":
			candidates = append(candidates, ds)
		default:
			others = append(others, ds)
		}
	}
	if len(candidates) == 0 {
		return fmt.Errorf("%w in pool %s", ErrNoRootDataset, zfs.PoolName(dev))
	}
	rootDS := candidates[0]
	if len(candidates) > 1 {
		idx, err := s.prompt.Select("Select the root dataset", device.Labels(candidates), false)
		if err != nil {
			return fmt.Errorf("no root dataset selected: %w", err)
		}
		rootDS = candidates[idx]
	}

	mounted, err := s.zfs.MountDataset(rootDS, s.state.Root, false)
	if err != nil {
		return fmt.Errorf("failed to mount root dataset: %w", err)
	}
	if !mounted {
		return fmt.Errorf("root dataset %s is already mounted elsewhere", rootDS.Name)
	}
	s.markRootMounted()
	s.state.MarkMounted(rootDS.ID())

	if len(others) == 0 {
		return nil
	}
	picked, err := s.prompt.MultiSelect("Select the ZFS datasets to mount", device.Labels(others))
	if err != nil {
		if errors.Is(err, prompt.ErrNoAnswer) {
			return nil
		}
		return err
	}
	sort.Ints(picked)
	for _, i := range picked {
		if i < 0 || i >= len(others) {
			continue
		}
		ds := others[i]
		if _, err := s.mountDataset(ds, planner.Target(s.state.Root, ds.Properties.Mountpoint.Value)); err != nil {
			return err
		}
	}
	return nil
}

// listDatasets lists the mountable datasets of the pool dev belongs to
// and journals any key loaded on the way. Mountpoints come back relative
// to the new root.
func (s *Session) listDatasets(dev device.BlockDevice) ([]*zfs.Dataset, error) {
	pool := zfs.PoolName(dev)
	keys := s.state.Opened.Keys
	before := keys.Len()

	datasets, err := s.zfs.ListMountableDatasets(pool, keys)
	for _, name := range keys.Names()[before:] {
		s.journal.Acquired(history.KindKey, name)
	}
	if err != nil {
		return nil, err
	}
	zfs.StripAltroot(datasets, s.state.Root)
	s.state.SetDatasets(pool, datasets)
	return datasets, nil
}

// mountDataset mounts ds gracefully and records it
func (s *Session) mountDataset(ds *zfs.Dataset, target string) (bool, error) {
	if s.state.IsMounted(ds.ID()) {
		s.log.Warnf("ZFS dataset %s already mounted, skipping...", ds.Name)
		return false, nil
	}
	if ds.IsLegacy() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			s.log.Warnf("Failed to create mount point %s: %v, skipping...", target, err)
			return false, nil
		}
	}
	mounted, err := s.zfs.MountDataset(ds, target, true)
	if err != nil {
		return false, err
	}
	if mounted {
		s.state.MarkMounted(ds.ID())
	}
	return mounted, nil
}

// UnmountDataset unmounts a dataset mounted in this session and forgets
// it, so it can be mounted again
func (s *Session) UnmountDataset(ds *zfs.Dataset) error {
	if err := s.zfs.UnmountDataset(ds); err != nil {
		return err
	}
	s.state.Mounted.Remove(ds.ID())
	return nil
}

// openEncrypted opens a LUKS container and returns the decrypted device
// from a fresh listing
func (s *Session) openEncrypted(dev device.BlockDevice) (device.BlockDevice, error) {
	if !s.opts.Features.Has(depends.LUKS) {
		return device.BlockDevice{}, fmt.Errorf("%w: LUKS partition %s", ErrFeatureDisabled, dev.Name)
	}
	if _, err := s.luks.Open(dev); err != nil {
		return device.BlockDevice{}, err
	}
	s.state.RecordLUKS(dev)

	if err := s.relist(); err != nil {
		return device.BlockDevice{}, err
	}
	if mapped, ok := device.Find(s.devices, luks.MappedPath(dev)); ok {
		return mapped, nil
	}

	s.log.Warnf("Decrypted partition %s not found, please select it", luks.MappedPath(dev))
	idx, err := s.prompt.Select("Select the decrypted partition", device.Labels(s.devices), false)
	if err != nil {
		return device.BlockDevice{}, fmt.Errorf("no decrypted partition selected: %w", err)
	}
	return s.devices[idx], nil
}

// relist enumerates devices again, hiding opened containers
func (s *Session) relist() error {
	devices, err := device.List(s.run, s.state.OpenedLUKS())
	if err != nil {
		return err
	}
	s.devices = devices
	return nil
}

func (s *Session) autoMount() error {
	root := s.state.Root
	entries, err := fstab.ReadFile(filepath.Join(root, "etc", "fstab"), s.log)
	if err != nil {
		if os.IsNotExist(err) {
			s.log.Warn("Unable to find /etc/fstab in the root partition, is this a valid root partition? Good luck fixing that!")
		} else {
			s.log.Errorf("Failed to read /etc/fstab: %v", err)
		}
		return nil
	}
	if !s.opts.AutoMount {
		return nil
	}

	aliases := luks.LoadAliases(filepath.Join(root, "etc", "crypttab"), s.rootEncrypted, s.log)
	deps := planner.Deps{
		Run:     s.run,
		Mounter: s.mounter,
		BTRFS:   s.btrfs,
		LUKS:    s.luks,
		ZFS:     s.zfs,
		Log:     s.log,
	}
	p := planner.New(deps, s.state, root, s.devices, aliases)
	n, err := p.Run(entries)
	s.devices = p.Devices()
	if n > 0 {
		s.log.Infof("Mounted %d entries from /etc/fstab", n)
	}
	return err
}

// ValidateMountPoint accepts absolute paths and "skip"
func ValidateMountPoint(input string) error {
	if strings.HasPrefix(input, "/") || strings.EqualFold(input, "skip") {
		return nil
	}
	return errors.New("mount point must start with /")
}

func (s *Session) interactiveLoop() error {
	for {
		more, err := s.prompt.Confirm(prompt.QuestionMountMore)
		if err != nil || !more {
			return nil
		}
		mountPoint, err := s.prompt.Input(prompt.QuestionMountPoint, ValidateMountPoint)
		if err != nil || strings.EqualFold(mountPoint, "skip") {
			return nil
		}

		idx, err := s.prompt.Select(fmt.Sprintf("Select the partition for %s", mountPoint), device.Labels(s.devices), true)
		if err != nil {
			return nil
		}
		if idx == prompt.Skip {
			continue
		}
		if err := s.mountAdditional(s.devices[idx], mountPoint); err != nil {
			return err
		}
	}
}

// mountAdditional mounts one interactively chosen device. Only a failed
// mount the user refused to skip is an error.
func (s *Session) mountAdditional(dev device.BlockDevice, mountPoint string) error {
	target := planner.Target(s.state.Root, mountPoint)

	if dev.IsLUKS() {
		mapped, err := s.openEncrypted(dev)
		if err != nil {
			s.log.Warnf("%v, skipping...", err)
			return nil
		}
		dev = mapped
	}

	switch {
	case dev.IsZFSMember():
		return s.mountAdditionalDataset(dev, mountPoint, target)
	case dev.IsBTRFS():
		if !s.opts.Features.Has(depends.BTRFS) {
			s.log.Warnf("BTRFS support is not available, skipping %s...", dev.Name)
			return nil
		}
		sv, err := s.btrfs.Resolve(dev, mountPoint)
		if err != nil {
			s.log.Warnf("Failed to resolve subvolume of %s: %v, skipping...", dev.Name, err)
			return nil
		}
		return s.mountDevice(dev, sv.ID(), target, sv.MountOption())
	default:
		return s.mountDevice(dev, dev.ID(), target)
	}
}

func (s *Session) mountDevice(dev device.BlockDevice, id, target string, options ...string) error {
	if s.state.IsMounted(id) {
		s.log.Warn("Partition already mounted, skipping...")
		return nil
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		s.log.Warnf("Failed to create mount point %s: %v, skipping...", target, err)
		return nil
	}
	mounted, err := s.mounter.MountGraceful(dev.Name, target, true, options...)
	if err != nil {
		return err
	}
	if mounted {
		s.state.MarkMounted(id)
	}
	return nil
}

func (s *Session) mountAdditionalDataset(dev device.BlockDevice, mountPoint, target string) error {
	if !s.opts.Features.Has(depends.ZFS) {
		s.log.Warnf("ZFS support is not available, skipping %s...", dev.Name)
		return nil
	}
	pool := zfs.PoolName(dev)
	if !s.state.PoolImported(dev) {
		if err := s.zfs.ImportPool(dev, s.state.Root); err != nil {
			s.log.Warnf("%v, skipping...", err)
			return nil
		}
		s.state.RecordPool(dev)
		if _, err := s.listDatasets(dev); err != nil {
			s.log.Warnf("%v, skipping...", err)
			return nil
		}
	}

	datasets := s.state.PoolDatasets(pool)
	if len(datasets) == 0 {
		s.log.Warnf("No mountable datasets in ZFS pool %s", pool)
		return nil
	}
	idx, err := s.prompt.Select(fmt.Sprintf("Select the dataset for %s", mountPoint), device.Labels(datasets), true)
	if err != nil || idx == prompt.Skip {
		return nil
	}
	ds := datasets[idx]
	if !ds.IsLegacy() && path.Clean(ds.Properties.Mountpoint.Value) != path.Clean(mountPoint) {
		s.log.Warnf("ZFS dataset %s mounts at its own mountpoint %s, not %s", ds.Name, ds.Properties.Mountpoint.Value, mountPoint)
	}
	_, err = s.mountDataset(ds, target)
	return err
}

func (s *Session) chroot() error {
	root := s.state.Root
	args := []string{root}
	if s.opts.SystemdChroot && filepath.Base(s.opts.ChrootCommand) == "arch-chroot" {
		args = []string{"-S", root}
	}

	s.log.Info("Chrooting into the configured root partition...")
	s.log.Info("To exit the chroot, type 'exit' or press Ctrl+D")
	if err := s.run.Run(s.opts.ChrootCommand, args...); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			s.log.Warnf("Chroot exited with status %d", exitErr.ExitCode())
			return nil
		}
		return fmt.Errorf("failed to chroot into %s: %w", root, err)
	}
	return nil
}

// Teardown releases everything the session acquired: the root tree is
// unmounted, then LUKS volumes are closed, dataset keys unloaded and pools
// exported. Every step runs regardless of earlier failures; the failures
// are returned together.
func (s *Session) Teardown() error {
	var result *multierror.Error

	if s.rootMounted {
		err := s.mounter.Unmount(s.state.Root, true)
		s.journal.Released(history.KindMount, s.state.Root, err)
		if err != nil {
			result = multierror.Append(result, err)
		} else {
			s.rootMounted = false
		}
	}

	for _, dev := range s.state.Opened.LUKS {
		err := s.luks.Close(dev)
		s.journal.Released(history.KindLUKS, luks.MappedName(dev), err)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	for _, name := range s.state.Opened.Keys.Names() {
		err := s.zfs.UnloadKey(name)
		s.journal.Released(history.KindKey, name, err)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	for _, dev := range s.state.Opened.Pools {
		err := s.zfs.ExportPool(dev)
		s.journal.Released(history.KindPool, zfs.PoolName(dev), err)
		if err != nil {
			result = multierror.Append(result, err)
		}
	}

	s.state.Opened = Opened{Keys: zfs.NewKeySet()}
	return result.ErrorOrNil()
}
