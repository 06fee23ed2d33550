package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sigreer/chrootctl/internal/sysexec"
)

// lsblkOutput represents the JSON output from lsblk
type lsblkOutput struct {
	Blockdevices []lsblkDevice `json:"blockdevices"`
}

// lsblkDevice represents a single device in lsblk output
type lsblkDevice struct {
	Name      string        `json:"name"`
	Type      string        `json:"type"`
	FSType    string        `json:"fstype"`
	UUID      string        `json:"uuid"`
	PartUUID  string        `json:"partuuid"`
	Label     string        `json:"label"`
	PartLabel string        `json:"partlabel"`
	Size      lsblkSize     `json:"size"`
	Children  []lsblkDevice `json:"children,omitempty"`
}

// lsblkSize accepts both the numeric form newer lsblk emits with -b and
// the quoted form of older releases
type lsblkSize uint64

func (s *lsblkSize) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*s = 0
		return nil
	}
	v, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid lsblk size %q: %w", b, err)
	}
	*s = lsblkSize(v)
	return nil
}

var lsblkArgs = []string{
	"-J", "-b", "-p", "-o", "NAME,TYPE,FSTYPE,UUID,PARTUUID,LABEL,PARTLABEL,SIZE",
}

// List enumerates partitions and decrypted mappings that carry a
// filesystem, excluding swap and anything in ignored
func List(run sysexec.Runner, ignored []BlockDevice) ([]BlockDevice, error) {
	out, err := run.Output("lsblk", lsblkArgs...)
	if err != nil {
		return nil, fmt.Errorf("failed to run lsblk: %w", err)
	}
	devices, err := parseLsblk(out)
	if err != nil {
		return nil, err
	}

	var kept []BlockDevice
	for _, d := range devices {
		skip := false
		for _, ig := range ignored {
			if d.Equal(ig) {
				skip = true
				break
			}
		}
		if !skip {
			kept = append(kept, d)
		}
	}
	return kept, nil
}

func parseLsblk(out []byte) ([]BlockDevice, error) {
	var output lsblkOutput
	if err := json.Unmarshal(out, &output); err != nil {
		return nil, fmt.Errorf("failed to parse lsblk output: %w", err)
	}

	var devices []BlockDevice
	for _, dev := range output.Blockdevices {
		devices = collect(dev, devices)
	}
	return devices, nil
}

// collect walks the device tree, keeping usable leaves
func collect(dev lsblkDevice, devices []BlockDevice) []BlockDevice {
	if usable(dev) {
		devices = append(devices, BlockDevice{
			Name:      dev.Name,
			Type:      dev.Type,
			FSType:    dev.FSType,
			UUID:      dev.UUID,
			PartUUID:  ptr(dev.PartUUID),
			Label:     ptr(dev.Label),
			PartLabel: ptr(dev.PartLabel),
			Size:      uint64(dev.Size),
		})
	}
	for _, child := range dev.Children {
		devices = collect(child, devices)
	}
	return devices
}

func usable(dev lsblkDevice) bool {
	if dev.Type != "part" && dev.Type != "crypt" {
		return false
	}
	return dev.FSType != "" && dev.FSType != FSTypeSwap && dev.UUID != ""
}
