package device

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/chrootctl/internal/sysexec/sysexectest"
)

func strp(s string) *string { return &s }

func fullDevice() BlockDevice {
	return BlockDevice{
		Name:      "/dev/nvme0n1p2",
		FSType:    "ext4",
		UUID:      "abcd",
		PartUUID:  strp("pu-1"),
		Label:     strp("rootfs"),
		PartLabel: strp("Linux root"),
	}
}

func TestMatchesReference(t *testing.T) {
	d := fullDevice()

	tests := []struct {
		ref  string
		want bool
	}{
		{"UUID=abcd", true},
		{"UUID=other", false},
		{"/dev/disk/by-uuid/abcd", true},
		{"PARTUUID=pu-1", true},
		{"/dev/disk/by-partuuid/pu-1", true},
		{"PARTUUID=abcd", false},
		{"LABEL=rootfs", true},
		{"/dev/disk/by-label/rootfs", true},
		{"PARTLABEL=Linux root", true},
		{"/dev/disk/by-partlabel/Linux root", true},
		{"/dev/nvme0n1p2", true},
		{"/dev/nvme0n1p3", false},
		{"abcd", false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, d.MatchesReference(tt.ref))
		})
	}
}

func TestMatchesReferenceMissingAttribute(t *testing.T) {
	d := BlockDevice{Name: "PARTUUID=x", FSType: "vfat", UUID: "1234-ABCD"}

	// a prefixed reference never falls back to the path comparison
	assert.False(t, d.MatchesReference("PARTUUID=x"))
	assert.False(t, d.MatchesReference("LABEL="))
	assert.False(t, d.MatchesReference("PARTLABEL=EFI"))
	assert.False(t, BlockDevice{Name: "/dev/sda1"}.MatchesReference("UUID="))
}

func TestMatchesReferenceIsStable(t *testing.T) {
	d := fullDevice()
	for i := 0; i < 3; i++ {
		assert.True(t, d.MatchesReference("UUID=abcd"))
		assert.False(t, d.MatchesReference("LABEL=nope"))
	}
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "abcd", fullDevice().ID())

	member := BlockDevice{Name: "/dev/sdb1", FSType: "zfs_member", UUID: "1234567890", Label: strp("rpool")}
	assert.Equal(t, "rpool", member.ID())

	unlabeled := BlockDevice{Name: "/dev/sdb1", FSType: "zfs_member", UUID: "1234567890"}
	assert.Equal(t, "1234567890", unlabeled.ID())

	// the label only replaces the uuid for pool members
	assert.Equal(t, "abcd", BlockDevice{FSType: "btrfs", UUID: "abcd", Label: strp("data")}.ID())
}

func TestPredicates(t *testing.T) {
	assert.True(t, BlockDevice{FSType: "crypto_LUKS"}.IsLUKS())
	assert.True(t, BlockDevice{FSType: "crypto_luks"}.IsLUKS())
	assert.True(t, BlockDevice{FSType: "BTRFS"}.IsBTRFS())
	assert.True(t, BlockDevice{FSType: "zfs_member"}.IsZFSMember())
	assert.False(t, BlockDevice{FSType: "ext4"}.IsBTRFS())
}

const lsblkJSON = `{
  "blockdevices": [
    {"name": "/dev/nvme0n1", "type": "disk", "fstype": null, "uuid": null, "partuuid": null,
     "label": null, "partlabel": null, "size": 512110190592,
     "children": [
        {"name": "/dev/nvme0n1p1", "type": "part", "fstype": "vfat", "uuid": "1234-ABCD",
         "partuuid": "pu-efi", "label": null, "partlabel": "EFI", "size": 536870912},
        {"name": "/dev/nvme0n1p2", "type": "part", "fstype": "crypto_LUKS", "uuid": "luks-uuid",
         "partuuid": "pu-root", "label": null, "partlabel": null, "size": "511000000000",
         "children": [
            {"name": "/dev/mapper/luks-luks-uuid", "type": "crypt", "fstype": "btrfs",
             "uuid": "btrfs-uuid", "partuuid": null, "label": null, "partlabel": null, "size": 510000000000}
         ]},
        {"name": "/dev/nvme0n1p3", "type": "part", "fstype": "swap", "uuid": "swap-uuid",
         "partuuid": "pu-swap", "label": null, "partlabel": null, "size": 1024},
        {"name": "/dev/nvme0n1p4", "type": "part", "fstype": null, "uuid": null,
         "partuuid": "pu-raw", "label": null, "partlabel": null, "size": 1024}
     ]}
  ]
}`

func TestList(t *testing.T) {
	run := sysexectest.New().On("lsblk", sysexectest.Response{Output: lsblkJSON})

	devices, err := List(run, nil)
	require.NoError(t, err)
	require.Len(t, devices, 3)

	assert.Equal(t, "/dev/nvme0n1p1", devices[0].Name)
	assert.Equal(t, "EFI", *devices[0].PartLabel)
	assert.Nil(t, devices[0].Label)
	assert.Equal(t, uint64(536870912), devices[0].Size)

	assert.True(t, devices[1].IsLUKS())
	assert.Equal(t, uint64(511000000000), devices[1].Size)
	assert.Equal(t, "crypt", devices[2].Type)
	assert.Equal(t, "btrfs-uuid", devices[2].ID())
}

func TestListIgnoresDevices(t *testing.T) {
	run := sysexectest.New().On("lsblk", sysexectest.Response{Output: lsblkJSON})
	all, err := List(run, nil)
	require.NoError(t, err)

	kept, err := List(run, []BlockDevice{all[1]})
	require.NoError(t, err)
	require.Len(t, kept, 2)
	for _, d := range kept {
		assert.False(t, d.IsLUKS())
	}
}

func TestListBadOutput(t *testing.T) {
	run := sysexectest.New().On("lsblk", sysexectest.Response{Output: "not json"})
	_, err := List(run, nil)
	assert.Error(t, err)
}

func TestFind(t *testing.T) {
	devices := []BlockDevice{
		{Name: "/dev/sda1", FSType: "vfat", UUID: "AAAA"},
		fullDevice(),
	}
	d, ok := Find(devices, "UUID=abcd")
	require.True(t, ok)
	assert.Equal(t, "/dev/nvme0n1p2", d.Name)

	_, ok = Find(devices, "UUID=zzzz")
	assert.False(t, ok)

	assert.Len(t, FindAll(devices, "/dev/sda1"), 1)
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	PrintTable(&buf, []BlockDevice{{Name: "/dev/sda1", FSType: "ext4", UUID: "u1", Size: 1 << 30}})
	assert.Contains(t, buf.String(), "/dev/sda1")
	assert.Contains(t, buf.String(), "1.0 GiB")
}
