// Package prompt is the boundary between the orchestration core and the
// person at the keyboard. The core only ever asks through Prompter, so a
// scripted implementation can replace the terminal in tests.
package prompt

import "errors"

// Skip is returned by Select when the user chose the skip entry
const Skip = -1

// ErrNoAnswer is returned when no answer can be obtained (closed input,
// exhausted script)
var ErrNoAnswer = errors.New("no answer available")

// Prompter asks the user to choose or confirm
type Prompter interface {
	// Select returns the index of the chosen item, or Skip when allowSkip
	// is set and the user skipped
	Select(title string, items []string, allowSkip bool) (int, error)
	// MultiSelect returns the indexes of the chosen items (possibly none)
	MultiSelect(title string, items []string) ([]int, error)
	// Confirm asks a yes/no question; the default answer is no
	Confirm(question string) (bool, error)
	// Input reads a free-form answer, re-asking until validate passes
	Input(question string, validate func(string) error) (string, error)
}

// Confirmation questions asked by the core. The F variants take a name.
const (
	QuestionSkipFailedMount  = "Do you want to skip mounting this partition?"
	QuestionForceImportF     = "Failed to import ZFS pool %s. Do you want to retry with a forced import?"
	QuestionForceExportF     = "Failed to export ZFS pool %s. Do you want to retry with a forced export?"
	QuestionRetryPassphraseF = "Failed to load the key for ZFS dataset %s. Do you want to retry entering the passphrase?"
	QuestionSubvolumePreset  = "Do you want to use the default BTRFS preset (@) to mount the root subvolume?"
	QuestionMountMore        = "Do you want to mount additional partitions?"
	QuestionMountPoint       = "Enter the mount point for the additional partition (e.g. /boot), type 'skip' to cancel"
)
