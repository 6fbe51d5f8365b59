package limits

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/chain"
	"github.com/compose-network/bridge-deployer/x/chain/contracts"
	"github.com/compose-network/bridge-deployer/x/execmode"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/resource"
)

type roleSlot struct {
	target  resource.Key
	role    string
	account string
}

// collapse keeps the last intent per (target, role, account), in the order
// each slot was first mentioned.
func collapse(ops []plan.RoleOp) []plan.RoleOp {
	index := make(map[roleSlot]int, len(ops))
	var out []plan.RoleOp
	for _, op := range ops {
		slot := roleSlot{target: op.Target, role: op.Role, account: op.Account.String()}
		if i, ok := index[slot]; ok {
			out[i] = op
			continue
		}
		index[slot] = len(out)
		out = append(out, op)
	}
	return out
}

// ReconcileRoles grants roles to accounts lacking them and revokes them
// from accounts holding them. Each account is a separate write.
func (r *Reconciler) ReconcileRoles(ctx context.Context, client chain.Client, p *plan.Plan, network resource.NetworkID) []execmode.Report {
	var reports []execmode.Report
	for _, op := range collapse(p.RolesOn(network)) {
		rep, err := r.reconcileRole(ctx, client, op)
		if err != nil {
			rep.Err = err
			r.log.Error().Err(err).Str("target", op.Target.String()).Str("role", op.Role).Msg("Role check did not complete")
		}
		reports = append(reports, rep)
	}
	return reports
}

func (r *Reconciler) reconcileRole(ctx context.Context, client chain.Client, op plan.RoleOp) (execmode.Report, error) {
	kind, method := resource.DeltaGrantRole, contracts.MethodGrantRole
	if !op.Grant {
		kind, method = resource.DeltaRevokeRole, contracts.MethodRevokeRole
	}
	delta := resource.Delta{Kind: kind, Target: op.Target, Args: fmt.Sprintf("%s %s", op.Role, op.Account)}
	rep := execmode.Report{Delta: delta}

	target, err := addrstore.Require(ctx, r.cfg.Store, op.Target)
	if err != nil {
		return rep, err
	}
	account, err := r.account(ctx, op)
	if err != nil {
		return rep, err
	}
	contract, err := contracts.ForRole(op.Target.Role)
	if err != nil {
		return rep, err
	}

	has, err := contract.HasRole(ctx, client, target.Address, op.Role, account)
	if err != nil {
		return rep, fmt.Errorf("read %s of %s on %s: %w", op.Role, account.Hex(), op.Target, err)
	}
	if has == op.Grant {
		return execmode.Converge(delta), nil
	}

	data, err := contract.Pack(method, contracts.RoleID(op.Role), account)
	if err != nil {
		return rep, err
	}
	outcome, err := r.cfg.Executor.Execute(ctx, client, execmode.Call{
		Target:   op.Target,
		To:       target.Address,
		Contract: contract.Name,
		Method:   method,
		Args:     []string{op.Role, account.Hex()},
		Data:     data,
	})
	if err != nil {
		return rep, err
	}
	return outcome.Report(delta), nil
}

func (r *Reconciler) account(ctx context.Context, op plan.RoleOp) (common.Address, error) {
	if op.Account.Ref == nil {
		return op.Account.Address, nil
	}
	key := resource.NewKey(op.Target.Network, op.Target.Token, *op.Account.Ref)
	rec, err := addrstore.Require(ctx, r.cfg.Store, key)
	if err != nil {
		return common.Address{}, err
	}
	return rec.Address, nil
}
