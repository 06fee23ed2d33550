package zfs

import (
	"errors"
	"fmt"

	"github.com/sigreer/chrootctl/internal/prompt"
)

// ErrDatasetMountFailed is wrapped by dataset mount failures that were
// not skipped
var ErrDatasetMountFailed = errors.New("dataset mount failed")

const listProperties = "canmount,encryption,keylocation,mounted,mountpoint"

// ListMountableDatasets lists the filesystems of pool that can be mounted,
// loading passphrase keys on the way. Keys already in loaded are not asked
// for again; newly loaded keys are added to it. A dataset whose key could
// not be loaded stays in the result and fails visibly when mounted.
func (m *Manager) ListMountableDatasets(pool string, loaded *KeySet) ([]*Dataset, error) {
	out, err := m.run.Output("zfs", "list", "-j", "-o", listProperties, "-t", "filesystem", "-r", pool)
	if err != nil {
		return nil, fmt.Errorf("failed to list ZFS datasets of %s: %w", pool, err)
	}
	datasets, err := parseDatasets(out)
	if err != nil {
		return nil, err
	}

	for _, ds := range datasets {
		if ds.IsEncrypted() && ds.HasUnsupportedEncryption() {
			m.log.Warn("One or more ZFS datasets have unsupported encryption methods. Only datasets with " +
				"'none' or 'prompt' keylocation are supported. You might need to manually unlock these datasets.")
			break
		}
	}

	var encryptedRoots []*Dataset
	for _, ds := range datasets {
		if ds.IsEncrypted() && ds.IsKeyPromptRoot() {
			encryptedRoots = append(encryptedRoots, ds)
		}
	}
	if len(encryptedRoots) > 0 {
		m.log.Infof("Detected %d encrypted ZFS dataset(s) that require a passphrase to unlock.", len(encryptedRoots))
	}
	for _, ds := range encryptedRoots {
		if loaded.Contains(ds.Name) {
			m.log.Infof("Key for ZFS dataset: %s already loaded, skipping prompt.", ds.Name)
			continue
		}
		m.log.Infof("Please enter passphrase for ZFS dataset: %s", ds.Name)
		if m.LoadKey(ds.Name) {
			m.log.Infof("Successfully loaded key for ZFS dataset: %s", ds.Name)
			loaded.Add(ds.Name)
		} else {
			m.log.Errorf("Failed to load key for ZFS dataset: %s. You will not be able to mount this "+
				"dataset and its children datasets.", ds.Name)
		}
	}

	var mountable []*Dataset
	for _, ds := range datasets {
		if ds.IsMountable() {
			mountable = append(mountable, ds)
		}
	}
	return mountable, nil
}

// LoadKey loads the key of dataset, offering retries until it succeeds or
// the user gives up
func (m *Manager) LoadKey(dataset string) bool {
	m.log.Infof("Loading key for ZFS dataset: %s", dataset)
	for {
		err := m.run.Run("zfs", "load-key", dataset)
		if err == nil {
			return true
		}
		m.log.Errorf("Failed to load key for ZFS dataset: %s", dataset)
		retry, perr := m.prompt.Confirm(fmt.Sprintf(prompt.QuestionRetryPassphraseF, dataset))
		if perr != nil || !retry {
			return false
		}
		m.log.Infof("Retrying to load key for ZFS dataset: %s", dataset)
	}
}

// UnloadKey unloads the key of dataset
func (m *Manager) UnloadKey(dataset string) error {
	m.log.Infof("Unloading key for ZFS dataset: %s", dataset)
	if err := m.run.Run("zfs", "unload-key", dataset); err != nil {
		m.log.Errorf("Failed to unload key for ZFS dataset: %s, please perform the operation manually.", dataset)
		return fmt.Errorf("failed to unload key for %s: %w", dataset, err)
	}
	return nil
}

// MountDataset mounts ds; target is where it ends up under the new root.
// Mounting an already mounted dataset is a no-op. On failure the user may
// skip when gracefullyFail is set, reported as mounted=false with no error.
func (m *Manager) MountDataset(ds *Dataset, target string, gracefullyFail bool) (bool, error) {
	if ds.IsMounted() {
		m.log.Warnf("ZFS dataset %s is already mounted, skipping...", ds.Name)
		return false, nil
	}
	m.log.Infof("Mounting ZFS dataset %s at %s", ds.Name, target)

	var err error
	if ds.IsLegacy() {
		err = m.run.Run("mount", "-t", "zfs", ds.Name, target)
	} else {
		err = m.run.Run("zfs", "mount", ds.Name)
	}
	if err != nil {
		if gracefullyFail {
			skip, perr := m.prompt.Confirm(prompt.QuestionSkipFailedMount)
			if perr == nil && skip {
				m.log.Warnf("Failed to mount ZFS dataset %s at %s, skipping...", ds.Name, target)
				return false, nil
			}
		}
		return false, fmt.Errorf("%w: %s at %s: %v", ErrDatasetMountFailed, ds.Name, target, err)
	}
	ds.markMounted()
	return true, nil
}

// UnmountDataset unmounts ds. The mounted flag is only cleared once the
// unmount is confirmed.
func (m *Manager) UnmountDataset(ds *Dataset) error {
	m.log.Infof("Unmounting ZFS dataset %s", ds.Name)
	if err := m.run.Run("zfs", "unmount", ds.Name); err != nil {
		m.log.Warnf("Failed to unmount ZFS dataset: %s, please perform the operation manually.", ds.Name)
		return fmt.Errorf("failed to unmount %s: %w", ds.Name, err)
	}
	ds.markUnmounted()
	return nil
}
