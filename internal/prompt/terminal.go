package prompt

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Terminal prompts on a line-oriented terminal
type Terminal struct {
	in  *bufio.Reader
	out io.Writer

	title  *color.Color
	accent *color.Color
}

// NewTerminal returns a prompter reading stdin and writing stdout
func NewTerminal() *Terminal {
	return NewTerminalIO(os.Stdin, os.Stdout)
}

// NewTerminalIO returns a prompter on arbitrary streams
func NewTerminalIO(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:     bufio.NewReader(in),
		out:    out,
		title:  color.New(color.Bold),
		accent: color.New(color.FgYellow),
	}
}

func (t *Terminal) readLine() (string, error) {
	line, err := t.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", ErrNoAnswer
	}
	return strings.TrimSpace(line), nil
}

// Select implements Prompter
func (t *Terminal) Select(title string, items []string, allowSkip bool) (int, error) {
	if len(items) == 0 && !allowSkip {
		return 0, fmt.Errorf("nothing to choose from for %q", title)
	}
	for {
		t.title.Fprintln(t.out, title)
		for i, item := range items {
			fmt.Fprintf(t.out, "  %s %s\n", t.accent.Sprintf("%2d)", i+1), item)
		}
		if allowSkip {
			fmt.Fprintf(t.out, "  %s Skip\n", t.accent.Sprint(" s)"))
		}
		fmt.Fprint(t.out, "> ")

		line, err := t.readLine()
		if err != nil {
			return 0, err
		}
		if allowSkip && strings.EqualFold(line, "s") {
			return Skip, nil
		}
		n, err := strconv.Atoi(line)
		if err == nil && n >= 1 && n <= len(items) {
			return n - 1, nil
		}
		fmt.Fprintln(t.out, "Invalid choice, try again.")
	}
}

// MultiSelect implements Prompter. Answers are space or comma separated
// numbers; an empty answer selects nothing.
func (t *Terminal) MultiSelect(title string, items []string) ([]int, error) {
	for {
		t.title.Fprintln(t.out, title)
		for i, item := range items {
			fmt.Fprintf(t.out, "  %s %s\n", t.accent.Sprintf("%2d)", i+1), item)
		}
		fmt.Fprint(t.out, "(numbers separated by spaces, empty for none) > ")

		line, err := t.readLine()
		if err != nil {
			return nil, err
		}
		picked, ok := parseIndexes(line, len(items))
		if ok {
			return picked, nil
		}
		fmt.Fprintln(t.out, "Invalid selection, try again.")
	}
}

func parseIndexes(line string, n int) ([]int, bool) {
	fields := strings.FieldsFunc(line, func(r rune) bool { return r == ',' || r == ' ' })
	seen := make(map[int]bool)
	var picked []int
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil || v < 1 || v > n {
			return nil, false
		}
		if !seen[v-1] {
			seen[v-1] = true
			picked = append(picked, v-1)
		}
	}
	return picked, true
}

// Confirm implements Prompter
func (t *Terminal) Confirm(question string) (bool, error) {
	fmt.Fprintf(t.out, "%s [y/N] ", t.title.Sprint(question))
	line, err := t.readLine()
	if err != nil {
		return false, err
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Input implements Prompter
func (t *Terminal) Input(question string, validate func(string) error) (string, error) {
	for {
		fmt.Fprintf(t.out, "%s: ", t.title.Sprint(question))
		line, err := t.readLine()
		if err != nil {
			return "", err
		}
		if validate == nil {
			return line, nil
		}
		if err := validate(line); err != nil {
			fmt.Fprintln(t.out, color.RedString(err.Error()))
			continue
		}
		return line, nil
	}
}
