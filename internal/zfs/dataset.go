package zfs

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Property values with special meaning
const (
	KeyLocationNone   = "none"
	KeyLocationPrompt = "prompt"
	MountpointNone    = "none"
	MountpointLegacy  = "legacy"
	TypeFilesystem    = "filesystem"
)

// datasetList is the JSON emitted by `zfs list -j`
type datasetList struct {
	Datasets map[string]*Dataset `json:"datasets"`
}

// Dataset is a ZFS dataset with the properties the mount flow needs
type Dataset struct {
	Name       string     `json:"name"`
	Type       string     `json:"type"`
	Pool       string     `json:"pool"`
	Properties Properties `json:"properties"`
}

// Properties holds the dataset properties requested from zfs list
type Properties struct {
	CanMount    Property `json:"canmount"`
	Encryption  Property `json:"encryption"`
	KeyLocation Property `json:"keylocation"`
	Mounted     Property `json:"mounted"`
	Mountpoint  Property `json:"mountpoint"`
}

// Property is a single property value
type Property struct {
	Value string `json:"value"`
}

// ID composes the dataset name with its pool
func (d *Dataset) ID() string {
	return fmt.Sprintf("%s-%s", d.Name, d.Pool)
}

func (d *Dataset) String() string {
	return fmt.Sprintf("ZFS Dataset: %s: Pool: %s, Mountpoint: %s", d.Name, d.Pool, d.Properties.Mountpoint.Value)
}

// HasUnsupportedEncryption reports a key location other than none/prompt
func (d *Dataset) HasUnsupportedEncryption() bool {
	loc := d.Properties.KeyLocation.Value
	return !strings.EqualFold(loc, KeyLocationNone) && !strings.EqualFold(loc, KeyLocationPrompt)
}

// IsEncrypted reports whether encryption is enabled
func (d *Dataset) IsEncrypted() bool {
	return !strings.EqualFold(d.Properties.Encryption.Value, "off")
}

// IsKeyPromptRoot reports whether the key is entered interactively
func (d *Dataset) IsKeyPromptRoot() bool {
	return strings.EqualFold(d.Properties.KeyLocation.Value, KeyLocationPrompt)
}

// IsMountable reports a filesystem that may be mounted and has somewhere
// to go
func (d *Dataset) IsMountable() bool {
	return strings.EqualFold(d.Type, TypeFilesystem) &&
		!strings.EqualFold(d.Properties.CanMount.Value, "off") &&
		!strings.EqualFold(d.Properties.Mountpoint.Value, MountpointNone)
}

// IsMounted reports the tracked mount state
func (d *Dataset) IsMounted() bool {
	return strings.EqualFold(d.Properties.Mounted.Value, "yes")
}

// IsLegacy reports a dataset mounted through mount(8) instead of zfs mount
func (d *Dataset) IsLegacy() bool {
	return strings.EqualFold(d.Properties.Mountpoint.Value, MountpointLegacy)
}

// StripAltroot rewrites mountpoints reported under altroot, as they are
// after `zpool import -R`, into paths inside the new root. Legacy, none
// and mountpoints outside altroot are left alone.
func StripAltroot(datasets []*Dataset, altroot string) {
	altroot = path.Clean(altroot)
	if altroot == "/" || altroot == "." {
		return
	}
	for _, ds := range datasets {
		mp := ds.Properties.Mountpoint.Value
		if !strings.HasPrefix(mp, "/") {
			continue
		}
		mp = path.Clean(mp)
		switch {
		case mp == altroot:
			ds.Properties.Mountpoint.Value = "/"
		case strings.HasPrefix(mp, altroot+"/"):
			ds.Properties.Mountpoint.Value = mp[len(altroot):]
		}
	}
}

func (d *Dataset) markMounted()   { d.Properties.Mounted.Value = "yes" }
func (d *Dataset) markUnmounted() { d.Properties.Mounted.Value = "no" }

func parseDatasets(out []byte) ([]*Dataset, error) {
	var list datasetList
	if err := json.Unmarshal(out, &list); err != nil {
		return nil, fmt.Errorf("failed to parse zfs list output: %w", err)
	}
	datasets := make([]*Dataset, 0, len(list.Datasets))
	for name, ds := range list.Datasets {
		if ds.Name == "" {
			ds.Name = name
		}
		datasets = append(datasets, ds)
	}
	sortByMountpoint(datasets)
	return datasets, nil
}

// sortByMountpoint orders parents before children so nested mountpoints
// land on top of their parents
func sortByMountpoint(datasets []*Dataset) {
	sort.SliceStable(datasets, func(i, j int) bool {
		a, b := datasets[i].Properties.Mountpoint.Value, datasets[j].Properties.Mountpoint.Value
		da, db := depth(a), depth(b)
		if da != db {
			return da < db
		}
		if a != b {
			return a < b
		}
		return datasets[i].Name < datasets[j].Name
	})
}

func depth(mp string) int {
	if !strings.HasPrefix(mp, "/") {
		return 1 << 20
	}
	clean := path.Clean(mp)
	if clean == "/" {
		return 0
	}
	return strings.Count(clean, "/")
}

// KeySet is an ordered set of dataset names whose keys are loaded
type KeySet struct {
	names []string
	index map[string]bool
}

// NewKeySet creates an empty KeySet
func NewKeySet() *KeySet {
	return &KeySet{index: make(map[string]bool)}
}

// Add records name; adding twice keeps the first position
func (k *KeySet) Add(name string) {
	if k.index[name] {
		return
	}
	k.index[name] = true
	k.names = append(k.names, name)
}

// Contains reports whether name was added
func (k *KeySet) Contains(name string) bool {
	return k.index[name]
}

// Names returns names in insertion order
func (k *KeySet) Names() []string {
	return append([]string(nil), k.names...)
}

// Len returns the number of names
func (k *KeySet) Len() int {
	return len(k.names)
}
