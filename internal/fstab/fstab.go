package fstab

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Entry is one line of a mount table
type Entry struct {
	Source     string
	MountPoint string
	FSType     string
	Options    []string
	Dump       int
	Pass       int
}

// Option returns the value of a key=value option
func (e Entry) Option(key string) (string, bool) {
	for _, o := range e.Options {
		if k, v, ok := strings.Cut(o, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

// IsSwap reports whether the entry describes swap space
func (e Entry) IsSwap() bool {
	return e.FSType == "swap" || e.MountPoint == "swap"
}

// ReadFile parses the mount table at path. Malformed lines are logged
// and skipped.
func ReadFile(path string, log *zap.SugaredLogger) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, log)
}

// Parse reads fstab(5) formatted entries
func Parse(r io.Reader, log *zap.SugaredLogger) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			log.Warnf("Invalid fstab entry on line %d, skipping...", lineNo)
			continue
		}
		e := Entry{
			Source:     unescape(fields[0]),
			MountPoint: unescape(fields[1]),
			FSType:     fields[2],
		}
		if len(fields) > 3 {
			e.Options = strings.Split(fields[3], ",")
		}
		if len(fields) > 4 {
			e.Dump, _ = strconv.Atoi(fields[4])
		}
		if len(fields) > 5 {
			e.Pass, _ = strconv.Atoi(fields[5])
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("failed to read mount table: %w", err)
	}
	return entries, nil
}

// unescape decodes the octal escapes fstab uses for blanks (\040, \011)
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
