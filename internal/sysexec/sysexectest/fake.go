// Package sysexectest provides a scripted Runner for tests.
package sysexectest

import (
	"errors"
	"strings"
	"sync"

	"github.com/sigreer/chrootctl/internal/sysexec"
)

// ErrFailed is returned for commands scripted to fail
var ErrFailed = errors.New("command failed")

// Response is the scripted outcome of a command
type Response struct {
	Output string
	Err    error
	// Do runs when the response is used, with the full command line
	Do func(line string)
	// Reply, when set, builds the output from the command line
	Reply func(line string) string
}

// Runner records every call and answers from scripted responses. A
// response is keyed by the command line prefix it applies to; the longest
// matching prefix wins. Queued responses for a prefix are consumed in
// order and the last one repeats.
type Runner struct {
	mu        sync.Mutex
	responses map[string][]Response
	Calls     []string
}

// New creates an empty fake runner; unscripted commands succeed silently
func New() *Runner {
	return &Runner{responses: make(map[string][]Response)}
}

// On queues a response for commands starting with prefix
func (r *Runner) On(prefix string, resp ...Response) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[prefix] = append(r.responses[prefix], resp...)
	return r
}

// Fail scripts commands starting with prefix to fail
func (r *Runner) Fail(prefix string) *Runner {
	return r.On(prefix, Response{Err: ErrFailed})
}

// Run implements sysexec.Runner
func (r *Runner) Run(name string, args ...string) error {
	_, err := r.next(sysexec.CommandLine(name, args...))
	return err
}

// Output implements sysexec.Runner
func (r *Runner) Output(name string, args ...string) ([]byte, error) {
	out, err := r.next(sysexec.CommandLine(name, args...))
	return []byte(out), err
}

func (r *Runner) next(line string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Calls = append(r.Calls, line)

	best := ""
	found := false
	for prefix := range r.responses {
		if strings.HasPrefix(line, prefix) && len(prefix) >= len(best) {
			best = prefix
			found = true
		}
	}
	if !found {
		return "", nil
	}
	queue := r.responses[best]
	resp := queue[0]
	if len(queue) > 1 {
		r.responses[best] = queue[1:]
	}
	if resp.Do != nil {
		resp.Do(line)
	}
	if resp.Reply != nil {
		return resp.Reply(line), resp.Err
	}
	return resp.Output, resp.Err
}

// CallsWithPrefix returns the recorded calls starting with prefix
func (r *Runner) CallsWithPrefix(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.Calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Count returns how many recorded calls start with prefix
func (r *Runner) Count(prefix string) int {
	return len(r.CallsWithPrefix(prefix))
}
