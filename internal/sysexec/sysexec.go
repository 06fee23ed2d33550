package sysexec

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Runner executes external system utilities. Run attaches the terminal so
// tools like cryptsetup can prompt for passphrases; Output captures stdout.
type Runner interface {
	Run(name string, args ...string) error
	Output(name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// New returns a runner wired to the process terminal
func New() *ExecRunner {
	return &ExecRunner{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run executes name with args and waits for it to exit
func (r *ExecRunner) Run(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

// Output executes name with args and returns its stdout
func (r *ExecRunner) Output(name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = r.Stdin
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return out, fmt.Errorf("%s failed: %s: %w", name, strings.TrimSpace(string(ee.Stderr)), err)
		}
		return out, fmt.Errorf("%s failed: %w", name, err)
	}
	return out, nil
}

// CommandLine renders a command for logs and error messages
func CommandLine(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
