package zfs

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sigreer/chrootctl/internal/device"
	"github.com/sigreer/chrootctl/internal/prompt"
	"github.com/sigreer/chrootctl/internal/sysexec"
)

// Manager drives zpool and zfs for one session
type Manager struct {
	run    sysexec.Runner
	prompt prompt.Prompter
	log    *zap.SugaredLogger
}

// New creates a Manager
func New(run sysexec.Runner, p prompt.Prompter, log *zap.SugaredLogger) *Manager {
	return &Manager{run: run, prompt: p, log: log}
}

// PoolName is the name a pool member's pool is imported and exported as
func PoolName(dev device.BlockDevice) string {
	return dev.ID()
}

// ImportPool imports the pool dev belongs to with altroot set to root.
// Datasets are not mounted by the import; the caller mounts the ones it
// wants. A failed import may be retried once as a forced import.
func (m *Manager) ImportPool(dev device.BlockDevice, root string) error {
	pool := PoolName(dev)
	m.log.Infof("Importing ZFS pool: %s at: %s", pool, root)
	if m.IsPoolImported(pool) {
		m.log.Warnf("ZFS pool %s already appears to be imported on this system, the import will likely fail", pool)
	}

	err := m.run.Run("zpool", "import", "-N", "-R", root, dev.UUID)
	if err == nil {
		m.reportHealth(pool)
		return nil
	}

	force, perr := m.prompt.Confirm(fmt.Sprintf(prompt.QuestionForceImportF, pool))
	if perr != nil || !force {
		return fmt.Errorf("failed to import ZFS pool %s: %w", pool, err)
	}
	m.log.Info("Forcing ZFS pool import...")
	if err := m.run.Run("zpool", "import", "-f", "-N", "-R", root, dev.UUID); err != nil {
		return fmt.Errorf("failed to force import ZFS pool %s: %w", pool, err)
	}
	m.reportHealth(pool)
	return nil
}

// ExportPool syncs and exports the pool dev belongs to, offering a forced
// export when the normal one fails. An error means the pool is still
// imported and must be exported manually.
func (m *Manager) ExportPool(dev device.BlockDevice) error {
	pool := PoolName(dev)
	m.log.Infof("Exporting ZFS pool: %s", pool)

	if err := m.run.Run("zpool", "sync", pool); err != nil {
		m.log.Warnf("zpool sync failed for %s: %v", pool, err)
	}

	err := m.run.Run("zpool", "export", pool)
	if err == nil {
		return nil
	}

	force, perr := m.prompt.Confirm(fmt.Sprintf(prompt.QuestionForceExportF, pool))
	if perr == nil && force {
		m.log.Info("Forcing ZFS pool export...")
		if err = m.run.Run("zpool", "export", "-f", pool); err == nil {
			return nil
		}
	}
	m.log.Errorf("Failed to export ZFS pool: %s, please perform the operation manually.", pool)
	return fmt.Errorf("failed to export ZFS pool %s: %w", pool, err)
}

// IsPoolImported checks if a pool is currently imported
func (m *Manager) IsPoolImported(pool string) bool {
	out, err := m.run.Output("zpool", "list", "-H", "-o", "name")
	if err != nil {
		return false
	}

	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) == pool {
			return true
		}
	}
	return false
}

// reportHealth logs the pool state right after import
func (m *Manager) reportHealth(pool string) {
	health, err := m.PoolHealth(pool)
	if err != nil {
		m.log.Debugf("Could not read health of ZFS pool %s: %v", pool, err)
		return
	}
	if health.IsDegraded() {
		m.log.Warnf("ZFS pool %s is %s: %s", pool, health.State, health.Status)
		if health.Action != "" {
			m.log.Warnf("Suggested action: %s", health.Action)
		}
		return
	}
	m.log.Infof("ZFS pool %s is %s", pool, health.State)
}
