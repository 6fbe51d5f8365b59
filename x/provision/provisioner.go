package provision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/chain"
	"github.com/compose-network/bridge-deployer/x/chain/contracts"
	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/execmode"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/resource"
)

// Status is what provisioning did for one resource.
type Status int

const (
	Reused Status = iota
	Created
	Imported
	Recorded
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Reused:
		return "reused"
	case Created:
		return "created"
	case Imported:
		return "imported"
	case Recorded:
		return "dry_run_recorded"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result reports one resource. Record is zero unless Status is Reused,
// Created or Imported.
type Result struct {
	Key    resource.Key
	Status Status
	Record resource.Record
	Change *execmode.Change
	Err    error
}

// ErrDependencyPending marks a resource whose dependency was only recorded
// by a dry-run and therefore has no address yet.
var ErrDependencyPending = errors.New("provision: dependency not yet provisioned")

// Provisioner creates each resource at most once, consulting the address
// store before every creation.
type Provisioner struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config) (*Provisioner, error) {
	if err := cfg.apply(); err != nil {
		return nil, err
	}
	return &Provisioner{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "provisioner").Logger(),
	}, nil
}

// Provision returns the existing record for step.Key, or creates the
// resource and records it. Creation is not retried; a failure leaves the
// store untouched so the next run re-attempts cleanly.
func (p *Provisioner) Provision(ctx context.Context, client chain.Client, step plan.ResourceStep) (Result, error) {
	res := Result{Key: step.Key}
	log := p.log.With().
		Str("network", string(step.Key.Network)).
		Str("resource", step.Key.String()).
		Logger()

	existing, found, err := p.cfg.Store.Get(ctx, step.Key)
	if err != nil {
		return res, fmt.Errorf("provision %s: %w", step.Key, err)
	}
	if found {
		if step.Import != nil && existing.Address != *step.Import {
			return res, deployerr.NewStoreConflict(step.Key, existing.Address.Hex(), step.Import.Hex())
		}
		log.Debug().Str("address", existing.Address.Hex()).Msg("Resource already provisioned")
		res.Status, res.Record = Reused, existing
		return res, nil
	}

	if step.Import != nil {
		rec := resource.Record{Key: step.Key, Address: *step.Import, Imported: true}
		if err := p.cfg.Store.Put(ctx, rec); err != nil {
			return res, err
		}
		log.Info().Str("address", rec.Address.Hex()).Msg("Imported existing resource")
		res.Status, res.Record = Imported, rec
		return res, nil
	}

	contract, err := contracts.ByName(step.Contract)
	if err != nil {
		return res, deployerr.NewMisconfigured("%v", err).WithKey(step.Key)
	}
	values, shown, err := p.resolveArgs(ctx, step)
	if err != nil {
		return res, err
	}
	ctorArgs, err := contract.PackConstructor(values...)
	if err != nil {
		return res, err
	}

	deployment := execmode.Deployment{
		Target:   step.Key,
		Contract: contract.Name,
		Args:     shown,
		CtorArgs: ctorArgs,
	}
	if p.cfg.Executor.Mode() == execmode.Live {
		if deployment.Bytecode, err = p.cfg.Artifacts.Bytecode(contract.Name); err != nil {
			return res, err
		}
	}

	outcome, err := p.cfg.Executor.Deploy(ctx, client, deployment)
	if err != nil {
		return res, err
	}
	if !outcome.Applied() {
		res.Status, res.Change = Recorded, outcome.Recorded()
		return res, nil
	}
	addr, err := outcome.Address()
	if err != nil {
		return res, err
	}

	rec := resource.Record{Key: step.Key, Address: addr, CreatedAt: time.Now().UTC()}
	if err := p.cfg.Store.Put(ctx, rec); err != nil {
		return res, err
	}
	log.Info().Str("address", addr.Hex()).Str("contract", contract.Name).Msg("Resource created")
	p.recordVerification(rec, contract.Name, shown)

	res.Status, res.Record = Created, rec
	return res, nil
}

func (p *Provisioner) resolveArgs(ctx context.Context, step plan.ResourceStep) ([]interface{}, []string, error) {
	values := make([]interface{}, 0, len(step.Args))
	shown := make([]string, 0, len(step.Args))
	for _, arg := range step.Args {
		if arg.Ref == nil {
			values = append(values, arg.Value)
			shown = append(shown, arg.String())
			continue
		}
		rec, err := addrstore.Require(ctx, p.cfg.Store, *arg.Ref)
		if err != nil {
			return nil, nil, fmt.Errorf("provision %s: %w", step.Key, err)
		}
		values = append(values, rec.Address)
		shown = append(shown, rec.Address.Hex())
	}
	return values, shown, nil
}

func (p *Provisioner) recordVerification(rec resource.Record, contract string, args []string) {
	if p.cfg.Verification == nil {
		return
	}
	err := p.cfg.Verification.Append(addrstore.VerificationEntry{
		Address:      rec.Address.Hex(),
		Kind:         contract,
		Key:          rec.Key,
		CreationArgs: args,
		RecordedAt:   rec.CreatedAt,
	})
	if err != nil {
		// The address is already persisted.
		p.log.Warn().Err(err).Str("resource", rec.Key.String()).Msg("Failed to append verification entry")
	}
}

// ProvisionNetwork provisions steps in order. A step whose dependency
// failed, was skipped or was only recorded is skipped. Only a
// DryRunAssumptionViolation stops the walk; other failures are reported
// in the results.
func (p *Provisioner) ProvisionNetwork(ctx context.Context, client chain.Client, steps []plan.ResourceStep) ([]Result, error) {
	blocked := make(map[resource.Key]error, len(steps))
	results := make([]Result, 0, len(steps))

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if cause := firstBlocked(blocked, step.DependsOn); cause != nil {
			blocked[step.Key] = cause
			results = append(results, Result{Key: step.Key, Status: Skipped, Err: cause})
			continue
		}

		res, err := p.Provision(ctx, client, step)
		if err != nil {
			if deployerr.IsType(err, deployerr.ErrorTypeDryRunAssumptionViolation) {
				return results, err
			}
			res.Status, res.Err = Failed, err
			if errors.Is(err, addrstore.ErrNotFound) {
				res.Status = Skipped
			}
			blocked[step.Key] = fmt.Errorf("depends on %s: %w", step.Key, err)
			p.log.Error().Err(err).Str("resource", step.Key.String()).Msg("Provisioning failed")
		}
		if res.Status == Recorded {
			blocked[step.Key] = fmt.Errorf("%w: %s was only recorded", ErrDependencyPending, step.Key)
		}
		results = append(results, res)
	}
	return results, nil
}

func firstBlocked(blocked map[resource.Key]error, deps []resource.Key) error {
	for _, d := range deps {
		if err, ok := blocked[d]; ok {
			return err
		}
	}
	return nil
}

// Address is a convenience for callers holding a result.
func (r Result) Address() (common.Address, bool) {
	switch r.Status {
	case Reused, Created, Imported:
		return r.Record.Address, true
	}
	return common.Address{}, false
}
