package device

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// ErrNoDevices is returned when enumeration finds nothing usable
var ErrNoDevices = errors.New("no block devices found on the system")

// Entity is anything that can be mounted and must not be mounted twice:
// a block device, a BTRFS subvolume or a ZFS dataset
type Entity interface {
	// ID is the canonical identity, stable across relisting
	ID() string
	// String is the label shown in pickers and logs
	String() string
}

// Filesystem types with special handling
const (
	FSTypeBTRFS     = "btrfs"
	FSTypeLUKS      = "crypto_LUKS"
	FSTypeZFSMember = "zfs_member"
	FSTypeSwap      = "swap"
)

// BlockDevice is a partition or decrypted mapping reported by lsblk
type BlockDevice struct {
	Name      string  `json:"name"`
	Type      string  `json:"type,omitempty"`
	FSType    string  `json:"fstype"`
	UUID      string  `json:"uuid"`
	PartUUID  *string `json:"partuuid,omitempty"`
	Label     *string `json:"label,omitempty"`
	PartLabel *string `json:"partlabel,omitempty"`
	Size      uint64  `json:"size,omitempty"`
}

// ID returns the UUID, or the label (pool name) for ZFS pool members
func (d BlockDevice) ID() string {
	if d.IsZFSMember() && d.Label != nil && *d.Label != "" {
		return *d.Label
	}
	return d.UUID
}

func (d BlockDevice) String() string {
	s := fmt.Sprintf("Partition: %s: FS: %s UUID: %s", d.Name, d.FSType, d.UUID)
	if d.Label != nil {
		s += " Label: " + *d.Label
	}
	if d.Size > 0 {
		s += " Size: " + humanize.IBytes(d.Size)
	}
	return s
}

// IsLUKS reports whether the device is a LUKS container
func (d BlockDevice) IsLUKS() bool {
	return strings.EqualFold(d.FSType, FSTypeLUKS)
}

// IsZFSMember reports whether the device belongs to a ZFS pool
func (d BlockDevice) IsZFSMember() bool {
	return strings.EqualFold(d.FSType, FSTypeZFSMember)
}

// IsBTRFS reports whether the device holds a BTRFS filesystem
func (d BlockDevice) IsBTRFS() bool {
	return strings.EqualFold(d.FSType, FSTypeBTRFS)
}

// Equal compares every identifying attribute
func (d BlockDevice) Equal(o BlockDevice) bool {
	return d.Name == o.Name && d.FSType == o.FSType && d.UUID == o.UUID &&
		eqPtr(d.PartUUID, o.PartUUID) && eqPtr(d.Label, o.Label) && eqPtr(d.PartLabel, o.PartLabel)
}

func eqPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ptr creates a pointer to a string
func ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Labels renders devices for a picker
func Labels[E Entity](entities []E) []string {
	labels := make([]string, len(entities))
	for i, e := range entities {
		labels[i] = e.String()
	}
	return labels
}
