package luks

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/sigreer/chrootctl/internal/device"
	"github.com/sigreer/chrootctl/internal/sysexec"
)

// MapperDir is where device-mapper exposes opened volumes
const MapperDir = "/dev/mapper"

// MappedName is the deterministic device-mapper name for dev
func MappedName(dev device.BlockDevice) string {
	return "luks-" + dev.UUID
}

// MappedPath is the device path of the opened mapping for dev
func MappedPath(dev device.BlockDevice) string {
	return filepath.Join(MapperDir, MappedName(dev))
}

// Manager opens and closes LUKS volumes with cryptsetup
type Manager struct {
	run sysexec.Runner
	log *zap.SugaredLogger
}

// New creates a Manager
func New(run sysexec.Runner, log *zap.SugaredLogger) *Manager {
	return &Manager{run: run, log: log}
}

// Open unlocks dev; cryptsetup asks for the passphrase on the terminal
func (m *Manager) Open(dev device.BlockDevice) (string, error) {
	name := MappedName(dev)
	m.log.Infof("Opening LUKS encrypted partition %s", dev.Name)
	if err := m.run.Run("cryptsetup", "luksOpen", dev.Name, name); err != nil {
		return "", fmt.Errorf("failed to open LUKS encrypted partition %s: %w", dev.Name, err)
	}
	return name, nil
}

// Close locks dev again. A failure is logged and returned for the
// teardown report.
func (m *Manager) Close(dev device.BlockDevice) error {
	m.log.Infof("Closing LUKS encrypted partition %s", dev.Name)
	if err := m.run.Run("cryptsetup", "luksClose", MappedName(dev)); err != nil {
		m.log.Warnf("Failed to close LUKS encrypted partition %s", dev.Name)
		return fmt.Errorf("failed to close LUKS encrypted partition %s: %w", dev.Name, err)
	}
	return nil
}

// LoadAliases reads a crypttab and maps each volume name to its device
// reference, with one "UUID=" prefix stripped. A missing file only
// deserves a warning when root itself is encrypted.
func LoadAliases(path string, rootEncrypted bool, log *zap.SugaredLogger) map[string]string {
	aliases := make(map[string]string)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			if rootEncrypted {
				log.Warnf("Unable to find %s in the root partition, is this a valid root partition?", path)
			}
		} else {
			log.Errorf("Failed to read %s, skipping: %v", path, err)
		}
		return aliases
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			log.Warnf("Invalid crypttab entry %q, skipping...", line)
			continue
		}
		aliases[fields[0]] = strings.TrimPrefix(fields[1], "UUID=")
	}
	if err := scanner.Err(); err != nil {
		log.Errorf("Failed to read %s: %v", path, err)
	}
	return aliases
}

// FindContainer returns the LUKS container an alias reference names. The
// reference is bare after LoadAliases, so a bare UUID is tried as well.
func FindContainer(devices []device.BlockDevice, ref string) (device.BlockDevice, bool) {
	for _, d := range devices {
		if !d.IsLUKS() {
			continue
		}
		if d.MatchesReference(ref) || d.MatchesReference("UUID="+ref) {
			return d, true
		}
	}
	return device.BlockDevice{}, false
}
