package device

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
)

// PrintJSON outputs devices as JSON
func PrintJSON(w io.Writer, devices []BlockDevice) error {
	type row struct {
		BlockDevice
		Identity string `json:"identity"`
	}
	rows := make([]row, len(devices))
	for i, d := range devices {
		rows[i] = row{BlockDevice: d, Identity: d.ID()}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

// PrintTable outputs devices as a formatted table
func PrintTable(w io.Writer, devices []BlockDevice) {
	fmt.Fprintf(w, "%-24s %-12s %-38s %-10s %s\n", "DEVICE", "FSTYPE", "IDENTITY", "SIZE", "LABEL")
	fmt.Fprintln(w, strings.Repeat("-", 96))
	for _, d := range devices {
		size := "-"
		if d.Size > 0 {
			size = humanize.IBytes(d.Size)
		}
		fmt.Fprintf(w, "%-24s %-12s %-38s %-10s %s\n", d.Name, d.FSType, d.ID(), size, deref(d.Label))
	}
}

// PrintDetail outputs every identifier of a single device
func PrintDetail(w io.Writer, d BlockDevice) {
	fmt.Fprintf(w, "%-20s %s\n", "IDENTIFIER", "VALUE")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	printField(w, "Device Path", d.Name)
	printField(w, "Type", d.Type)
	printField(w, "FS Type", d.FSType)
	printField(w, "Identity", d.ID())
	printField(w, "FS UUID", d.UUID)
	printPtrField(w, "Part UUID", d.PartUUID)
	printPtrField(w, "FS Label", d.Label)
	printPtrField(w, "Part Label", d.PartLabel)
	if d.Size > 0 {
		printField(w, "Size", humanize.IBytes(d.Size))
	}
}

// printField prints a field if value is non-empty
func printField(w io.Writer, label, value string) {
	if value != "" {
		fmt.Fprintf(w, "%-20s %s\n", label, value)
	}
}

// printPtrField prints a pointer field if non-nil
func printPtrField(w io.Writer, label string, value *string) {
	if value != nil && *value != "" {
		fmt.Fprintf(w, "%-20s %s\n", label, *value)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
