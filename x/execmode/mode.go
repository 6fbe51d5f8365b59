package execmode

import (
	"fmt"
	"strings"
)

// Mode selects whether writes are submitted or only recorded.
type Mode int

const (
	DryRun Mode = iota
	Live
)

func (m Mode) String() string {
	if m == Live {
		return "live"
	}
	return "dry-run"
}

// ParseMode accepts "live" and the usual spellings of dry-run.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live":
		return Live, nil
	case "dry-run", "dryrun", "dry_run", "":
		return DryRun, nil
	default:
		return DryRun, fmt.Errorf("unknown execution mode %q", s)
	}
}
