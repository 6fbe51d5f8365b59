package execmode

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/chain"
	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/resource"
)

// Call is one contract write.
type Call struct {
	Target   resource.Key
	To       common.Address
	Contract string
	Method   string
	Args     []string
	Data     []byte
}

// Deployment is one contract creation. Bytecode is only needed live.
type Deployment struct {
	Target   resource.Key
	Contract string
	Args     []string
	Bytecode []byte
	CtorArgs []byte
}

// Outcome is the result of a write: a receipt when live, a recorded change
// in dry-run. A recorded change must never be read as applied.
type Outcome struct {
	mode    Mode
	receipt *chain.Receipt
	change  *Change
}

// Applied reports whether the write reached the chain.
func (o Outcome) Applied() bool { return o.mode == Live && o.receipt != nil }

// Recorded returns the dry-run change, if any.
func (o Outcome) Recorded() *Change { return o.change }

// Receipt returns the confirmation receipt. Asking a dry-run outcome for a
// receipt is a DryRunAssumptionViolation.
func (o Outcome) Receipt() (*chain.Receipt, error) {
	if !o.Applied() {
		return nil, o.violation("receipt")
	}
	return o.receipt, nil
}

// Address returns the created contract address of a live deployment.
func (o Outcome) Address() (common.Address, error) {
	if !o.Applied() {
		return common.Address{}, o.violation("address")
	}
	if o.receipt.ContractAddress == (common.Address{}) {
		return common.Address{}, deployerr.NewDryRunViolation("deployment %s produced a zero address", o.receipt.TxHash.Hex())
	}
	return o.receipt.ContractAddress, nil
}

func (o Outcome) violation(what string) error {
	err := deployerr.NewDryRunViolation("%s requested from a write that was only recorded", what)
	if o.change != nil {
		err = err.WithContext("target", o.change.Target).WithContext("method", o.change.Method)
	}
	return err
}

// Executor threads the execution mode through every write.
type Executor struct {
	mode    Mode
	summary *ChangeSummary
	log     zerolog.Logger
}

func NewExecutor(mode Mode, summary *ChangeSummary, log zerolog.Logger) *Executor {
	if summary == nil {
		summary = NewChangeSummary()
	}
	return &Executor{
		mode:    mode,
		summary: summary,
		log:     log.With().Str("component", "executor").Str("mode", mode.String()).Logger(),
	}
}

func (e *Executor) Mode() Mode { return e.mode }

func (e *Executor) Summary() *ChangeSummary { return e.summary }

// Execute submits call in live mode and waits for confirmation; in dry-run
// it appends the call to the change summary.
func (e *Executor) Execute(ctx context.Context, client chain.Client, call Call) (Outcome, error) {
	if e.mode == DryRun {
		change := Change{
			Network:  client.Network(),
			ChainID:  client.ChainID(),
			Target:   call.Target.String(),
			To:       call.To.Hex(),
			Contract: call.Contract,
			Method:   call.Method,
			Args:     nonNil(call.Args),
			Calldata: hexutil.Encode(call.Data),
		}
		e.summary.Add(change)
		e.log.Info().
			Str("target", change.Target).
			Str("method", call.Method).
			Strs("args", call.Args).
			Msg("Dry-run: write recorded")
		return Outcome{mode: DryRun, change: &change}, nil
	}

	receipt, err := client.Send(ctx, call.To, call.Data)
	if err != nil {
		return Outcome{}, fmt.Errorf("%s.%s on %s: %w", call.Contract, call.Method, call.Target, err)
	}
	return Outcome{mode: Live, receipt: receipt}, nil
}

// Deploy creates a contract in live mode; in dry-run it records the
// creation with its constructor arguments and yields no address.
func (e *Executor) Deploy(ctx context.Context, client chain.Client, d Deployment) (Outcome, error) {
	if e.mode == DryRun {
		change := Change{
			Network:  client.Network(),
			ChainID:  client.ChainID(),
			Target:   d.Target.String(),
			Contract: d.Contract,
			Method:   MethodDeploy,
			Args:     nonNil(d.Args),
			Calldata: hexutil.Encode(d.CtorArgs),
		}
		e.summary.Add(change)
		e.log.Info().
			Str("target", change.Target).
			Str("contract", d.Contract).
			Strs("args", d.Args).
			Msg("Dry-run: deployment recorded")
		return Outcome{mode: DryRun, change: &change}, nil
	}

	receipt, err := client.Deploy(ctx, d.Bytecode, d.CtorArgs)
	if err != nil {
		return Outcome{}, fmt.Errorf("deploy %s for %s: %w", d.Contract, d.Target, err)
	}
	return Outcome{mode: Live, receipt: receipt}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
