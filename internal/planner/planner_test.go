package planner

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sigreer/chrootctl/internal/btrfs"
	"github.com/sigreer/chrootctl/internal/device"
	"github.com/sigreer/chrootctl/internal/fstab"
	"github.com/sigreer/chrootctl/internal/luks"
	"github.com/sigreer/chrootctl/internal/mount"
	"github.com/sigreer/chrootctl/internal/prompt"
	"github.com/sigreer/chrootctl/internal/sysexec/sysexectest"
	"github.com/sigreer/chrootctl/internal/zfs"
)

// tracker is a minimal in-memory session state
type tracker struct {
	mounted  map[string]bool
	luks     []device.BlockDevice
	datasets []*zfs.Dataset
}

func newTracker() *tracker { return &tracker{mounted: make(map[string]bool)} }

func (t *tracker) IsMounted(id string) bool { return t.mounted[id] }
func (t *tracker) MarkMounted(id string) { t.mounted[id] = true }
func (t *tracker) OpenedLUKS() []device.BlockDevice { return t.luks }
func (t *tracker) RecordLUKS(dev device.BlockDevice) { t.luks = append(t.luks, dev) }
func (t *tracker) Datasets() []*zfs.Dataset { return t.datasets }

const subvolumeList = `ID	gen	top level	path
--	---	---------	----
256	1021	5		@
257	1021	5		@home
258	990	5		@log
`

var (
	rootDev  = device.BlockDevice{Name: "/dev/sda2", Type: "part", FSType: "btrfs", UUID: "fsuuid"}
	bootDev  = device.BlockDevice{Name: "/dev/sda1", Type: "part", FSType: "vfat", UUID: "ABCD-1234"}
	cryptDev = device.BlockDevice{Name: "/dev/sdb1", Type: "part", FSType: "crypto_LUKS", UUID: "c0ffee"}
)

type fixture struct {
	run     *sysexectest.Runner
	script  *prompt.Script
	state   *tracker
	root    string
	logs    *observer.ObservedLogs
	planner *Planner
}

func newFixture(t *testing.T, devices []device.BlockDevice, aliases map[string]string) *fixture {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()

	f := &fixture{
		run:    sysexectest.New().On("btrfs subvolume list", sysexectest.Response{Output: subvolumeList}),
		script: &prompt.Script{},
		state:  newTracker(),
		root:   t.TempDir(),
		logs:   logs,
	}
	m := mount.New(f.run, f.script, log)
	resolver := btrfs.NewResolver(f.run, m, f.script, log, btrfs.NewCache())
	resolver.TempDir = t.TempDir()

	deps := Deps{
		Run:     f.run,
		Mounter: m,
		BTRFS:   resolver,
		LUKS:    luks.New(f.run, log),
		ZFS:     zfs.New(f.run, f.script, log),
		Log:     log,
	}
	f.planner = New(deps, f.state, f.root, devices, aliases)
	return f
}

// mountCalls returns mount calls that target the new root
func (f *fixture) mountCalls() []string {
	var out []string
	for _, c := range f.run.CallsWithPrefix("mount ") {
		if strings.Contains(c, f.root) {
			out = append(out, c)
		}
	}
	return out
}

func parse(t *testing.T, table string) []fstab.Entry {
	entries, err := fstab.Parse(strings.NewReader(table), zap.NewNop().Sugar())
	require.NoError(t, err)
	return entries
}

const table = `# /etc/fstab
UUID=fsuuid  /          btrfs  subvol=/@,noatime,compress=zstd  0 0
UUID=fsuuid  /home      btrfs  subvol=/@home,noatime            0 0
UUID=ABCD-1234 /boot    vfat   defaults,umask=0077              0 2
UUID=swapswap none      swap   defaults                         0 0
UUID=missing /data      ext4   defaults                         0 2
`

func TestRunMountsResolvableEntries(t *testing.T) {
	f := newFixture(t, []device.BlockDevice{rootDev, bootDev}, nil)

	n, err := f.planner.Run(parse(t, table))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []string{
		"mount /dev/sda2 " + filepath.Join(f.root, "home") + " -o subvolid=257,noatime",
		"mount /dev/sda1 " + filepath.Join(f.root, "boot") + " -o umask=0077",
	}, f.mountCalls())
	assert.DirExists(t, filepath.Join(f.root, "home"))
	assert.DirExists(t, filepath.Join(f.root, "boot"))
	assert.True(t, f.state.IsMounted("fsuuid-257"))
	assert.True(t, f.state.IsMounted("ABCD-1234"))
	assert.Equal(t, 1, f.logs.FilterMessageSnippet("Unable to find a device for fstab entry UUID=missing").Len())
}

func TestRunIsIdempotent(t *testing.T) {
	f := newFixture(t, []device.BlockDevice{rootDev, bootDev}, nil)
	entries := parse(t, table)

	_, err := f.planner.Run(entries)
	require.NoError(t, err)
	first := len(f.mountCalls())

	n, err := f.planner.Run(entries)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.mountCalls(), first)
	assert.Equal(t, 1, f.run.Count("btrfs subvolume list"))
}

func TestSubvolWithLeadingSeparator(t *testing.T) {
	f := newFixture(t, []device.BlockDevice{rootDev}, nil)

	_, err := f.planner.Run(parse(t, "UUID=fsuuid /home btrfs subvol=/@home 0 0\n"))
	require.NoError(t, err)
	require.Len(t, f.mountCalls(), 1)
	assert.Contains(t, f.mountCalls()[0], "subvolid=257")
}

func TestSubvolIDPreferred(t *testing.T) {
	f := newFixture(t, []device.BlockDevice{rootDev}, nil)

	_, err := f.planner.Run(parse(t, "UUID=fsuuid /var/log btrfs subvol=@home,subvolid=258 0 0\n"))
	require.NoError(t, err)
	require.Len(t, f.mountCalls(), 1)
	assert.Equal(t, "mount /dev/sda2 "+filepath.Join(f.root, "var/log")+" -o subvolid=258", f.mountCalls()[0])
}

func TestNoSubvolumeFallsBackToRoot(t *testing.T) {
	f := newFixture(t, []device.BlockDevice{rootDev}, nil)

	_, err := f.planner.Run(parse(t, "/dev/sda2 /mnt/pool btrfs defaults 0 0\n"))
	require.NoError(t, err)
	require.Len(t, f.mountCalls(), 1)
	assert.Contains(t, f.mountCalls()[0], "subvolid=5")
	assert.Equal(t, 1, f.logs.FilterMessageSnippet("using root subvolume").Len())
}

func TestUnknownSubvolumeSkipped(t *testing.T) {
	f := newFixture(t, []device.BlockDevice{rootDev}, nil)

	n, err := f.planner.Run(parse(t, "UUID=fsuuid /srv btrfs subvol=@srv 0 0\n"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.mountCalls())
}

func TestAlreadyMountedSkipped(t *testing.T) {
	f := newFixture(t, []device.BlockDevice{bootDev}, nil)
	f.state.MarkMounted(bootDev.ID())

	n, err := f.planner.Run(parse(t, "UUID=ABCD-1234 /boot vfat defaults 0 2\n"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.mountCalls())
	assert.Equal(t, 1, f.logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestFailedMountSkippedOrFatal(t *testing.T) {
	f := newFixture(t, []device.BlockDevice{bootDev}, nil)
	f.run.Fail("mount /dev/sda1")
	f.script.Confirms = []bool{true, false}
	entries := parse(t, "UUID=ABCD-1234 /boot vfat defaults 0 2\n")

	n, err := f.planner.Run(entries)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, f.state.IsMounted(bootDev.ID()))

	_, err = f.planner.Run(entries)
	assert.ErrorIs(t, err, mount.ErrMountFailed)
}

const lsblkAfterOpen = `{"blockdevices": [
  {"name": "/dev/sdb", "type": "disk", "fstype": null, "uuid": null, "size": 1000, "children": [
    {"name": "/dev/sdb1", "type": "part", "fstype": "crypto_LUKS", "uuid": "c0ffee", "size": 1000, "children": [
      {"name": "/dev/mapper/luks-c0ffee", "type": "crypt", "fstype": "ext4", "uuid": "inner", "size": 900}
    ]}
  ]}
]}`

func TestCrypttabAliasOpensContainer(t *testing.T) {
	f := newFixture(t, []device.BlockDevice{cryptDev}, map[string]string{"home": "c0ffee"})
	f.run.On("lsblk", sysexectest.Response{Output: lsblkAfterOpen})

	n, err := f.planner.Run(parse(t, "/dev/mapper/home /home ext4 defaults 0 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, 1, f.run.Count("cryptsetup luksOpen /dev/sdb1 luks-c0ffee"))
	assert.Equal(t, []device.BlockDevice{cryptDev}, f.state.OpenedLUKS())
	assert.Equal(t, []string{"mount /dev/mapper/luks-c0ffee " + filepath.Join(f.root, "home")}, f.mountCalls())
	assert.True(t, f.state.IsMounted("inner"))

	// the container is already open the second time round
	_, err = f.planner.Run(parse(t, "/dev/mapper/home /home ext4 defaults 0 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, f.run.Count("cryptsetup luksOpen"))
}

func TestCrypttabAliasOpenFailure(t *testing.T) {
	f := newFixture(t, []device.BlockDevice{cryptDev}, map[string]string{"home": "UUID=c0ffee"})
	f.run.Fail("cryptsetup luksOpen")

	n, err := f.planner.Run(parse(t, "/dev/mapper/home /home ext4 defaults 0 2\n"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.state.OpenedLUKS())
	assert.Zero(t, f.run.Count("lsblk"))
}

func TestZFSEntryByDatasetName(t *testing.T) {
	f := newFixture(t, nil, nil)
	ds := &zfs.Dataset{Name: "rpool/var", Pool: "rpool", Type: "FILESYSTEM"}
	ds.Properties.Mountpoint.Value = "legacy"
	f.state.datasets = []*zfs.Dataset{ds}

	table := "rpool/var /var zfs defaults 0 0\nrpool/nope /nope zfs defaults 0 0\n"
	n, err := f.planner.Run(parse(t, table))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.run.Count("mount -t zfs rpool/var "+filepath.Join(f.root, "var")))
	assert.True(t, f.state.IsMounted(ds.ID()))

	n, err = f.planner.Run(parse(t, table))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPoolMemberReferenceSkipped(t *testing.T) {
	label := "rpool"
	member := device.BlockDevice{Name: "/dev/sdc1", Type: "part", FSType: "zfs_member", UUID: "123", Label: &label}
	f := newFixture(t, []device.BlockDevice{member}, nil)

	n, err := f.planner.Run(parse(t, "LABEL=rpool /tank ext4 defaults 0 0\n"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.logs.FilterMessageSnippet("ZFS pool member").Len())
}

func TestPassThroughOptions(t *testing.T) {
	assert.Nil(t, PassThroughOptions([]string{"defaults"}))
	assert.Equal(t, []string{"noatime", "compress=zstd"},
		PassThroughOptions([]string{"subvol=/@", "noatime", "subvolid=256", "compress=zstd"}))
}

func TestTarget(t *testing.T) {
	assert.Equal(t, "/tmp/root/home", Target("/tmp/root", "/home"))
	assert.Equal(t, "/tmp/root/var/log", Target("/tmp/root", "/var/log/"))
}
