package zfs

import (
	"bufio"
	"fmt"
	"strings"
)

// PoolHealth is the summary of `zpool status` for one pool
type PoolHealth struct {
	Name   string `json:"name"`
	State  string `json:"state"`            // ONLINE, DEGRADED, FAULTED, OFFLINE, REMOVED, UNAVAIL
	Status string `json:"status,omitempty"` // Status message if any
	Action string `json:"action,omitempty"` // Recommended action
	Scan   string `json:"scan,omitempty"`   // Full scan line
	Errors string `json:"errors,omitempty"` // Error summary
}

// Pool states
const (
	StateOnline   = "ONLINE"
	StateDegraded = "DEGRADED"
	StateFaulted  = "FAULTED"
	StateOffline  = "OFFLINE"
	StateRemoved  = "REMOVED"
	StateUnavail  = "UNAVAIL"
)

// IsDegraded returns true if pool is not fully healthy
func (p *PoolHealth) IsDegraded() bool {
	return p.State != StateOnline
}

// PoolHealth parses zpool status for a specific pool
func (m *Manager) PoolHealth(pool string) (*PoolHealth, error) {
	out, err := m.run.Output("zpool", "status", "-vL", pool)
	if err != nil {
		return nil, fmt.Errorf("failed to get pool status: %w", err)
	}

	pools := parseZpoolStatus(string(out))
	if len(pools) == 0 {
		return nil, fmt.Errorf("pool not found: %s", pool)
	}
	return pools[0], nil
}

// parseZpoolStatus parses the header sections of zpool status output.
// Headers are right aligned "key: value" lines; their continuation lines
// are tab indented and joined with spaces.
func parseZpoolStatus(output string) []*PoolHealth {
	var pools []*PoolHealth
	var current *PoolHealth
	var section *string

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, "\t") {
			key, value, ok := strings.Cut(strings.TrimLeft(line, " "), ":")
			if ok && key != "" && !strings.ContainsAny(key, " \t") {
				value = strings.TrimSpace(value)
				section = nil
				switch key {
				case "pool":
					current = &PoolHealth{Name: value}
					pools = append(pools, current)
				case "state":
					if current != nil {
						current.State = value
					}
				default:
					if current != nil {
						section = current.field(key)
					}
				}
				if section != nil {
					appendText(section, value)
				}
				continue
			}
		}

		if section != nil && strings.HasPrefix(line, "\t") {
			appendText(section, strings.TrimSpace(line))
		}
	}
	return pools
}

// field maps a header key to the text field collecting it
func (p *PoolHealth) field(key string) *string {
	switch key {
	case "status":
		return &p.Status
	case "action":
		return &p.Action
	case "scan":
		return &p.Scan
	case "errors":
		return &p.Errors
	}
	return nil
}

func appendText(dst *string, s string) {
	if s == "" {
		return
	}
	if *dst == "" {
		*dst = s
		return
	}
	*dst += " " + s
}
