package session

import (
	"github.com/sigreer/chrootctl/internal/btrfs"
	"github.com/sigreer/chrootctl/internal/device"
	"github.com/sigreer/chrootctl/internal/history"
	"github.com/sigreer/chrootctl/internal/luks"
	"github.com/sigreer/chrootctl/internal/zfs"
)

// MountedSet is the ordered set of identities mounted in this session
type MountedSet struct {
	ids   []string
	index map[string]bool
}

// NewMountedSet creates an empty set
func NewMountedSet() *MountedSet {
	return &MountedSet{index: make(map[string]bool)}
}

// Add appends id unless present
func (s *MountedSet) Add(id string) {
	if s.index[id] {
		return
	}
	s.index[id] = true
	s.ids = append(s.ids, id)
}

// Contains reports whether id is mounted
func (s *MountedSet) Contains(id string) bool {
	return s.index[id]
}

// Remove drops id; only dataset unmounts do this
func (s *MountedSet) Remove(id string) {
	if !s.index[id] {
		return
	}
	delete(s.index, id)
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
}

// IDs returns the identities in mount order
func (s *MountedSet) IDs() []string {
	return append([]string(nil), s.ids...)
}

// Opened is everything acquired during the session that teardown has to
// release
type Opened struct {
	LUKS  []device.BlockDevice
	Pools []device.BlockDevice
	Keys  *zfs.KeySet
}

// State is the session context handed to every manager call
type State struct {
	Root       string
	Mounted    *MountedSet
	Subvolumes *btrfs.Cache
	Opened     Opened
	Journal    history.Journal

	datasets map[string][]*zfs.Dataset
	pools    []string
}

// NewState creates the state for a session mounting under root
func NewState(root string) *State {
	return &State{
		Root:       root,
		Mounted:    NewMountedSet(),
		Subvolumes: btrfs.NewCache(),
		Opened:     Opened{Keys: zfs.NewKeySet()},
		Journal:    history.Nop{},
		datasets:   make(map[string][]*zfs.Dataset),
	}
}

// IsMounted reports whether id was mounted in this session
func (s *State) IsMounted(id string) bool { return s.Mounted.Contains(id) }

// MarkMounted records id as mounted
func (s *State) MarkMounted(id string) { s.Mounted.Add(id) }

// OpenedLUKS returns the LUKS containers opened so far
func (s *State) OpenedLUKS() []device.BlockDevice { return s.Opened.LUKS }

// RecordLUKS records an opened LUKS container
func (s *State) RecordLUKS(dev device.BlockDevice) {
	for _, d := range s.Opened.LUKS {
		if d.ID() == dev.ID() {
			return
		}
	}
	s.Opened.LUKS = append(s.Opened.LUKS, dev)
	s.Journal.Acquired(history.KindLUKS, luks.MappedName(dev))
}

// RecordPool records an imported pool
func (s *State) RecordPool(dev device.BlockDevice) {
	for _, d := range s.Opened.Pools {
		if d.ID() == dev.ID() {
			return
		}
	}
	s.Opened.Pools = append(s.Opened.Pools, dev)
	s.Journal.Acquired(history.KindPool, zfs.PoolName(dev))
}

// PoolImported reports whether the pool of dev was imported by this
// session
func (s *State) PoolImported(dev device.BlockDevice) bool {
	for _, d := range s.Opened.Pools {
		if d.ID() == dev.ID() {
			return true
		}
	}
	return false
}

// SetDatasets remembers the mountable datasets of pool
func (s *State) SetDatasets(pool string, datasets []*zfs.Dataset) {
	if _, ok := s.datasets[pool]; !ok {
		s.pools = append(s.pools, pool)
	}
	s.datasets[pool] = datasets
}

// PoolDatasets returns the mountable datasets of pool
func (s *State) PoolDatasets(pool string) []*zfs.Dataset {
	return s.datasets[pool]
}

// Datasets returns the mountable datasets of every imported pool
func (s *State) Datasets() []*zfs.Dataset {
	var out []*zfs.Dataset
	for _, pool := range s.pools {
		out = append(out, s.datasets[pool]...)
	}
	return out
}
