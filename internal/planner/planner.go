// Package planner mounts the entries of the new root's mount table under
// the new root.
package planner

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sigreer/chrootctl/internal/btrfs"
	"github.com/sigreer/chrootctl/internal/device"
	"github.com/sigreer/chrootctl/internal/fstab"
	"github.com/sigreer/chrootctl/internal/luks"
	"github.com/sigreer/chrootctl/internal/mount"
	"github.com/sigreer/chrootctl/internal/sysexec"
	"github.com/sigreer/chrootctl/internal/zfs"
)

// FSTypeZFS is the fstab type of datasets mounted by name
const FSTypeZFS = "zfs"

// Tracker is the session state the planner consults and records into
type Tracker interface {
	IsMounted(id string) bool
	MarkMounted(id string)
	OpenedLUKS() []device.BlockDevice
	RecordLUKS(dev device.BlockDevice)
	Datasets() []*zfs.Dataset
}

// Deps are the managers the planner drives
type Deps struct {
	Run     sysexec.Runner
	Mounter *mount.Mounter
	BTRFS   *btrfs.Resolver
	LUKS    *luks.Manager
	ZFS     *zfs.Manager
	Log     *zap.SugaredLogger
}

// Planner resolves mount table entries and mounts them under Root
type Planner struct {
	deps    Deps
	state   Tracker
	root    string
	aliases map[string]string
	devices []device.BlockDevice
	log     *zap.SugaredLogger
}

// New creates a planner for the tree rooted at root. devices is the
// current device listing; aliases maps crypttab names to references.
func New(deps Deps, state Tracker, root string, devices []device.BlockDevice, aliases map[string]string) *Planner {
	return &Planner{
		deps:    deps,
		state:   state,
		root:    root,
		aliases: aliases,
		devices: devices,
		log:     deps.Log,
	}
}

// Target is where mountpoint ends up under root
func Target(root, mountpoint string) string {
	return filepath.Join(root, strings.TrimPrefix(mountpoint, "/"))
}

// Devices returns the device listing, refreshed after LUKS volumes were
// opened on behalf of crypttab aliases
func (p *Planner) Devices() []device.BlockDevice {
	return p.devices
}

// Run mounts every entry it can resolve and returns how many mounts were
// made. Unresolvable and already mounted entries are skipped; the only
// error is a failed mount the user did not want to skip.
func (p *Planner) Run(entries []fstab.Entry) (int, error) {
	mounted := 0
	for _, e := range entries {
		ok, err := p.mountEntry(e)
		if err != nil {
			return mounted, err
		}
		if ok {
			mounted++
		}
	}
	return mounted, nil
}

func (p *Planner) mountEntry(e fstab.Entry) (bool, error) {
	if e.IsSwap() {
		p.log.Debugf("Skipping swap entry %s", e.Source)
		return false, nil
	}
	if !strings.HasPrefix(e.MountPoint, "/") {
		p.log.Debugf("Skipping %s, %q is not a mount point", e.Source, e.MountPoint)
		return false, nil
	}
	if path.Clean(e.MountPoint) == "/" {
		return false, nil
	}
	target := Target(p.root, e.MountPoint)

	if strings.EqualFold(e.FSType, FSTypeZFS) {
		return p.mountDataset(e, target)
	}

	dev, ok := p.resolve(e.Source)
	if !ok {
		p.log.Warnf("Unable to find a device for fstab entry %s (%s), skipping...", e.Source, e.MountPoint)
		return false, nil
	}
	switch {
	case dev.IsZFSMember():
		p.log.Warnf("fstab entry %s names a ZFS pool member; reference the dataset by name with type zfs instead, skipping...", e.Source)
		return false, nil
	case dev.IsLUKS():
		p.log.Warnf("fstab entry %s names an encrypted container not listed in crypttab, skipping...", e.Source)
		return false, nil
	}

	id := dev.ID()
	options := PassThroughOptions(e.Options)
	if dev.IsBTRFS() {
		sv, err := p.subvolume(dev, e)
		if err != nil {
			p.log.Warnf("%v, skipping %s...", err, e.MountPoint)
			return false, nil
		}
		id = sv.ID()
		options = append([]string{sv.MountOption()}, options...)
	}

	if p.state.IsMounted(id) {
		p.log.Warnf("%s is already mounted, skipping %s...", dev.Name, e.MountPoint)
		return false, nil
	}
	if err := os.MkdirAll(target, 0o755); err != nil {
		p.log.Warnf("Failed to create mount point %s: %v, skipping...", target, err)
		return false, nil
	}

	mounted, err := p.deps.Mounter.MountGraceful(dev.Name, target, true, options...)
	if err != nil {
		return false, err
	}
	if mounted {
		p.state.MarkMounted(id)
	}
	return mounted, nil
}

func (p *Planner) mountDataset(e fstab.Entry, target string) (bool, error) {
	var ds *zfs.Dataset
	for _, d := range p.state.Datasets() {
		if d.Name == e.Source {
			ds = d
			break
		}
	}
	if ds == nil {
		p.log.Warnf("ZFS dataset %s is not part of an imported pool, skipping...", e.Source)
		return false, nil
	}
	if p.state.IsMounted(ds.ID()) {
		p.log.Warnf("ZFS dataset %s is already mounted, skipping...", ds.Name)
		return false, nil
	}
	if ds.IsLegacy() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			p.log.Warnf("Failed to create mount point %s: %v, skipping...", target, err)
			return false, nil
		}
	}

	mounted, err := p.deps.ZFS.MountDataset(ds, target, true)
	if err != nil {
		return false, err
	}
	if mounted {
		p.state.MarkMounted(ds.ID())
	}
	return mounted, nil
}

// resolve finds the device an fstab source names. crypttab aliases are
// tried first, opening the container they point at when needed.
func (p *Planner) resolve(source string) (device.BlockDevice, bool) {
	name := strings.TrimPrefix(source, luks.MapperDir+"/")
	if ref, ok := p.aliases[name]; ok {
		return p.resolveAlias(name, ref)
	}
	return device.Find(p.devices, source)
}

func (p *Planner) resolveAlias(name, ref string) (device.BlockDevice, bool) {
	container, opened := luks.FindContainer(p.state.OpenedLUKS(), ref)
	if !opened {
		var ok bool
		container, ok = luks.FindContainer(p.devices, ref)
		if !ok {
			p.log.Warnf("Unable to find the encrypted container %s for crypttab entry %s", ref, name)
			return device.BlockDevice{}, false
		}
		if _, err := p.deps.LUKS.Open(container); err != nil {
			p.log.Warnf("%v, skipping crypttab entry %s...", err, name)
			return device.BlockDevice{}, false
		}
		p.state.RecordLUKS(container)

		devices, err := device.List(p.deps.Run, p.state.OpenedLUKS())
		if err != nil {
			p.log.Warnf("Failed to list block devices: %v", err)
		} else {
			p.devices = devices
		}
	}
	return device.Find(p.devices, luks.MappedPath(container))
}

// subvolume picks the subvolume an entry asks for: subvolid= first, then
// subvol=, then the root subvolume
func (p *Planner) subvolume(dev device.BlockDevice, e fstab.Entry) (btrfs.SubVolume, error) {
	subvolumes, err := p.deps.BTRFS.Subvolumes(dev)
	if err != nil {
		return btrfs.SubVolume{}, err
	}

	if v, ok := e.Option("subvolid"); ok {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return btrfs.SubVolume{}, fmt.Errorf("invalid subvolid %q for %s", v, e.Source)
		}
		if sv, ok := btrfs.FindByID(subvolumes, id); ok {
			return sv, nil
		}
		return btrfs.SubVolume{}, fmt.Errorf("subvolume id %d not found on %s", id, dev.Name)
	}
	if v, ok := e.Option("subvol"); ok {
		if sv, ok := btrfs.FindByName(subvolumes, v); ok {
			return sv, nil
		}
		return btrfs.SubVolume{}, fmt.Errorf("subvolume %s not found on %s", v, dev.Name)
	}

	p.log.Warnf("No subvolume specified for %s, using root subvolume", e.MountPoint)
	sv, ok := btrfs.FindByID(subvolumes, btrfs.RootID)
	if !ok {
		return btrfs.SubVolume{}, fmt.Errorf("root subvolume not found on %s", dev.Name)
	}
	return sv, nil
}

// PassThroughOptions drops the options the planner decides itself
func PassThroughOptions(options []string) []string {
	var out []string
	for _, o := range options {
		key, _, _ := strings.Cut(o, "=")
		switch key {
		case "defaults", "subvol", "subvolid":
			continue
		}
		out = append(out, o)
	}
	return out
}
