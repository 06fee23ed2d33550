package mount

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigreer/chrootctl/internal/logging"
	"github.com/sigreer/chrootctl/internal/prompt"
	"github.com/sigreer/chrootctl/internal/sysexec/sysexectest"
)

func TestMountWithoutOptions(t *testing.T) {
	run := sysexectest.New()
	m := New(run, &prompt.Script{}, logging.Nop())

	require.NoError(t, m.Mount("/dev/sda2", "/mnt"))
	assert.Equal(t, []string{"mount /dev/sda2 /mnt"}, run.Calls)
}

func TestMountJoinsOptions(t *testing.T) {
	run := sysexectest.New()
	m := New(run, &prompt.Script{}, logging.Nop())

	require.NoError(t, m.Mount("/dev/sda2", "/mnt", "subvolid=256", "compress=zstd"))
	assert.Equal(t, []string{"mount /dev/sda2 /mnt -o subvolid=256,compress=zstd"}, run.Calls)
}

func TestMountGracefulSkip(t *testing.T) {
	run := sysexectest.New().Fail("mount")
	script := &prompt.Script{Confirms: []bool{true}}
	m := New(run, script, logging.Nop())

	mounted, err := m.MountGraceful("/dev/sda3", "/mnt/home", true)
	require.NoError(t, err)
	assert.False(t, mounted)
	assert.Equal(t, 1, script.Count("confirm"))
}

func TestMountGracefulDeclined(t *testing.T) {
	run := sysexectest.New().Fail("mount")
	m := New(run, &prompt.Script{Confirms: []bool{false}}, logging.Nop())

	_, err := m.MountGraceful("/dev/sda3", "/mnt/home", true)
	assert.ErrorIs(t, err, ErrMountFailed)
}

func TestMountNotGracefulNeverPrompts(t *testing.T) {
	run := sysexectest.New().Fail("mount")
	script := &prompt.Script{Confirms: []bool{true}}
	m := New(run, script, logging.Nop())

	_, err := m.MountGraceful("/dev/sda2", "/mnt", false)
	assert.ErrorIs(t, err, ErrMountFailed)
	assert.Empty(t, script.Asked)
}

func TestUnmountRecursive(t *testing.T) {
	run := sysexectest.New()
	m := New(run, &prompt.Script{}, logging.Nop())

	require.NoError(t, m.Unmount("/mnt", true))
	require.NoError(t, m.Unmount("/tmp/x", false))
	assert.Equal(t, []string{"umount -R /mnt", "umount /tmp/x"}, run.Calls)
}
