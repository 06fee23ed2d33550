package depends

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func lookPathWithout(missing ...string) LookPath {
	return func(file string) (string, error) {
		for _, m := range missing {
			if m == file {
				return "", errors.New("not found")
			}
		}
		return "/usr/bin/" + file, nil
	}
}

func TestCheckAllPresent(t *testing.T) {
	features, err := Check(lookPathWithout(), "", zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, All, features)
	assert.Equal(t, "btrfs,luks,zfs", features.String())
}

func TestCheckMissingRequired(t *testing.T) {
	_, err := Check(lookPathWithout("arch-chroot"), "", zap.NewNop().Sugar())
	assert.ErrorIs(t, err, ErrMissingCommand)
	assert.Contains(t, err.Error(), "arch-install-scripts")
}

func TestCheckCustomChrootCommand(t *testing.T) {
	_, err := Check(lookPathWithout("arch-chroot"), "chroot", zap.NewNop().Sugar())
	require.NoError(t, err)

	_, err = Check(lookPathWithout("chroot"), "chroot", zap.NewNop().Sugar())
	assert.ErrorIs(t, err, ErrMissingCommand)
}

func TestCheckMissingOptional(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	features, err := Check(lookPathWithout("zpool", "zfs", "cryptsetup"), "", zap.New(core).Sugar())
	require.NoError(t, err)

	assert.True(t, features.Has(BTRFS))
	assert.False(t, features.Has(LUKS))
	assert.False(t, features.Has(ZFS))
	assert.Equal(t, "btrfs", features.String())
	// zfs and zpool disable the same feature; warned once
	assert.Equal(t, 2, logs.Len())
}

func TestFeaturesNone(t *testing.T) {
	assert.Equal(t, "none", Features(0).String())
	assert.True(t, Features(0).Has(0))
}
