package device

import "strings"

// referencePrefix maps a reference prefix to the attribute it names
type referencePrefix struct {
	prefix string
	attr   func(BlockDevice) *string
}

func uuidAttr(d BlockDevice) *string      { return ptr(d.UUID) }
func partUUIDAttr(d BlockDevice) *string  { return d.PartUUID }
func labelAttr(d BlockDevice) *string     { return d.Label }
func partLabelAttr(d BlockDevice) *string { return d.PartLabel }

// Checked in order; the first matching prefix decides.
var referencePrefixes = []referencePrefix{
	{"UUID=", uuidAttr},
	{"/dev/disk/by-uuid/", uuidAttr},
	{"PARTUUID=", partUUIDAttr},
	{"/dev/disk/by-partuuid/", partUUIDAttr},
	{"LABEL=", labelAttr},
	{"/dev/disk/by-label/", labelAttr},
	{"PARTLABEL=", partLabelAttr},
	{"/dev/disk/by-partlabel/", partLabelAttr},
}

// MatchesReference reports whether ref (as written in fstab, crypttab or
// on the command line) names this device. A prefixed reference whose
// attribute is missing on the device never matches; anything unprefixed
// is compared with the device path.
func (d BlockDevice) MatchesReference(ref string) bool {
	for _, p := range referencePrefixes {
		value, ok := strings.CutPrefix(ref, p.prefix)
		if !ok {
			continue
		}
		attr := p.attr(d)
		return attr != nil && *attr == value
	}
	return ref == d.Name
}

// Find returns the first device matching ref
func Find(devices []BlockDevice, ref string) (BlockDevice, bool) {
	for _, d := range devices {
		if d.MatchesReference(ref) {
			return d, true
		}
	}
	return BlockDevice{}, false
}

// FindAll returns every device matching ref
func FindAll(devices []BlockDevice, ref string) []BlockDevice {
	var out []BlockDevice
	for _, d := range devices {
		if d.MatchesReference(ref) {
			out = append(out, d)
		}
	}
	return out
}
