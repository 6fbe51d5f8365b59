package execmode

import "github.com/compose-network/bridge-deployer/x/resource"

// Status is what a reconcile step did.
type Status int

const (
	// Converged means on-chain state already matched; nothing was written.
	Converged Status = iota
	Applied
	Recorded
)

func (s Status) String() string {
	switch s {
	case Applied:
		return "applied"
	case Recorded:
		return "dry_run_recorded"
	default:
		return "already_converged"
	}
}

// Status maps an outcome to Applied or Recorded.
func (o Outcome) Status() Status {
	if o.Applied() {
		return Applied
	}
	return Recorded
}

// Report is the result of one read-compare-write check.
type Report struct {
	Delta  resource.Delta
	Status Status
	Change *Change
	Err    error
}

// Converge builds the report of a check that found nothing to change.
func Converge(delta resource.Delta) Report {
	return Report{Delta: delta, Status: Converged}
}

// Report builds the report of a write that was applied or recorded.
func (o Outcome) Report(delta resource.Delta) Report {
	return Report{Delta: delta, Status: o.Status(), Change: o.change}
}
