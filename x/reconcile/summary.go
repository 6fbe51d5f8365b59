package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/execmode"
	"github.com/compose-network/bridge-deployer/x/provision"
	"github.com/compose-network/bridge-deployer/x/resource"
)

// Entry is one line of the run summary.
type Entry struct {
	Network resource.NetworkID `json:"network"`
	Token   resource.TokenID   `json:"token"`
	Key     string             `json:"key"`
	Kind    string             `json:"kind"`
	Detail  string             `json:"detail,omitempty"`
}

// Summary is what a run did. It is safe for concurrent use while the run
// is in flight.
type Summary struct {
	mu sync.Mutex

	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	Provisioned []Entry `json:"provisioned"`
	Reused      int     `json:"reused"`
	Applied     []Entry `json:"applied"`
	Recorded    []Entry `json:"dry_run_recorded"`
	Converged   int     `json:"already_converged"`
	Skipped     []Entry `json:"skipped"`
	Errors      []Entry `json:"errors"`
}

func newSummary(runID string, mode execmode.Mode, now time.Time) *Summary {
	return &Summary{RunID: runID, Mode: mode.String(), StartedAt: now}
}

func (s *Summary) addProvision(token resource.TokenID, r provision.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{Network: r.Key.Network, Token: token, Key: r.Key.String(), Kind: r.Status.String()}
	switch r.Status {
	case provision.Reused:
		s.Reused++
	case provision.Created, provision.Imported:
		e.Detail = r.Record.Address.Hex()
		s.Provisioned = append(s.Provisioned, e)
	case provision.Recorded:
		s.Recorded = append(s.Recorded, e)
	case provision.Skipped:
		if r.Err != nil {
			e.Detail = r.Err.Error()
		}
		s.Skipped = append(s.Skipped, e)
	default:
		s.addErrLocked(e, r.Err)
	}
}

func (s *Summary) addReport(token resource.TokenID, r execmode.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := Entry{Network: r.Delta.Target.Network, Token: token, Key: r.Delta.Target.String(), Kind: string(r.Delta.Kind), Detail: r.Delta.Args}
	if r.Err != nil {
		s.addErrLocked(e, r.Err)
		return
	}
	switch r.Status {
	case execmode.Converged:
		s.Converged++
	case execmode.Applied:
		s.Applied = append(s.Applied, e)
	case execmode.Recorded:
		s.Recorded = append(s.Recorded, e)
	}
}

func (s *Summary) addError(network resource.NetworkID, token resource.TokenID, key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addErrLocked(Entry{Network: network, Token: token, Key: key}, err)
}

// skippable errors mean "not yet": a later run resolves them on its own.
func skippable(err error) bool {
	return errors.Is(err, addrstore.ErrNotFound) ||
		errors.Is(err, addrstore.ErrBlocked) ||
		errors.Is(err, provision.ErrDependencyPending) ||
		deployerr.IsType(err, deployerr.ErrorTypeMissingSiblingResource)
}

func (s *Summary) addErrLocked(e Entry, err error) {
	if err == nil {
		return
	}
	e.Detail = err.Error()
	if skippable(err) {
		e.Kind = "skipped"
		if deployerr.IsType(err, deployerr.ErrorTypeMissingSiblingResource) {
			e.Kind = deployerr.ErrorTypeMissingSiblingResource.String()
		}
		s.Skipped = append(s.Skipped, e)
		return
	}
	e.Kind = deployerr.KindOf(err).String()
	s.Errors = append(s.Errors, e)
}

// Failed reports whether any error needs attention. Skipped items do not
// count.
func (s *Summary) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Errors) > 0
}

// Converges reports a run that found nothing to do.
func (s *Summary) Converges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Provisioned) == 0 && len(s.Applied) == 0 && len(s.Recorded) == 0 &&
		len(s.Skipped) == 0 && len(s.Errors) == 0
}

// Snapshot returns a copy, sorted for display.
func (s *Summary) Snapshot() *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := &Summary{
		RunID:       s.RunID,
		Mode:        s.Mode,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		Provisioned: sortedEntries(s.Provisioned),
		Reused:      s.Reused,
		Applied:     sortedEntries(s.Applied),
		Recorded:    sortedEntries(s.Recorded),
		Converged:   s.Converged,
		Skipped:     sortedEntries(s.Skipped),
		Errors:      sortedEntries(s.Errors),
	}
	return out
}

func (s *Summary) finish(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishedAt = now
}

func sortedEntries(in []Entry) []Entry {
	out := make([]Entry, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		if out[i].Token != out[j].Token {
			return out[i].Token < out[j].Token
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Render writes the summary as aligned text.
func (s *Summary) Render(w io.Writer) error {
	snap := s.Snapshot()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "run %s (%s)\n", snap.RunID, snap.Mode)
	fmt.Fprintf(tw, "reused: %d\talready converged: %d\n", snap.Reused, snap.Converged)
	sections := []struct {
		title   string
		entries []Entry
	}{
		{"provisioned", snap.Provisioned},
		{"applied", snap.Applied},
		{"dry-run recorded", snap.Recorded},
		{"skipped", snap.Skipped},
		{"errors", snap.Errors},
	}
	for _, sec := range sections {
		if len(sec.entries) == 0 {
			continue
		}
		fmt.Fprintf(tw, "\n%s (%d)\n", sec.title, len(sec.entries))
		for _, e := range sec.entries {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", e.Key, e.Kind, e.Detail)
		}
	}
	if snap.Converges() {
		fmt.Fprintln(tw, "\nall resources and links already converged")
	}
	return tw.Flush()
}

// WriteJSON writes the summary to dir/summary.json and returns the path.
func (s *Summary) WriteJSON(dir string) (string, error) {
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("reconcile: encode summary: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("reconcile: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "summary.json")
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("reconcile: write %s: %w", path, err)
	}
	return path, nil
}
