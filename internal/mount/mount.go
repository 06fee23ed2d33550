package mount

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sigreer/chrootctl/internal/prompt"
	"github.com/sigreer/chrootctl/internal/sysexec"
)

// ErrMountFailed is wrapped by every mount failure that was not skipped
var ErrMountFailed = errors.New("mount failed")

// Mounter issues mount and umount calls
type Mounter struct {
	run    sysexec.Runner
	prompt prompt.Prompter
	log    *zap.SugaredLogger
}

// New creates a Mounter
func New(run sysexec.Runner, p prompt.Prompter, log *zap.SugaredLogger) *Mounter {
	return &Mounter{run: run, prompt: p, log: log}
}

// Args builds the mount(8) argument list for source, target and options
func Args(source, target string, options []string) []string {
	args := []string{source, target}
	if len(options) > 0 {
		args = append(args, "-o", strings.Join(options, ","))
	}
	return args
}

// Mount mounts source at target with the given -o options
func (m *Mounter) Mount(source, target string, options ...string) error {
	m.log.Infof("Mounting %s at %s with options: %v", source, target, options)
	if err := m.run.Run("mount", Args(source, target, options)...); err != nil {
		return fmt.Errorf("%w: %s at %s: %v", ErrMountFailed, source, target, err)
	}
	return nil
}

// MountGraceful mounts source at target. On failure, when gracefullyFail is
// set, the user may choose to skip; mounted is false and err nil in that
// case. Any other failure is returned.
func (m *Mounter) MountGraceful(source, target string, gracefullyFail bool, options ...string) (bool, error) {
	err := m.Mount(source, target, options...)
	if err == nil {
		return true, nil
	}
	if gracefullyFail {
		skip, perr := m.prompt.Confirm(prompt.QuestionSkipFailedMount)
		if perr == nil && skip {
			m.log.Warnf("Failed to mount %s at %s, skipping...", source, target)
			return false, nil
		}
	}
	return false, err
}

// Unmount unmounts target, recursively when asked
func (m *Mounter) Unmount(target string, recursive bool) error {
	args := []string{target}
	if recursive {
		args = []string{"-R", target}
	}
	m.log.Infof("Unmounting %s", target)
	if err := m.run.Run("umount", args...); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", target, err)
	}
	return nil
}
