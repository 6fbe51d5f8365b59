// Package wiring links connectors to their siblings and points bridge
// contracts at their hook, writing only when the chain disagrees.
package wiring

import (
	"context"
	"errors"
	"fmt"
	"sync"

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

type plugQuery struct {
	client chain.Client
	socket common.Address
	plug   common.Address
	slug   uint32
}

type hookQuery struct {
	client   chain.Client
	contract *contracts.Contract
	target   common.Address
}

type probes struct {
	plug *chain.Probe[plugQuery, contracts.PlugConfig]
	hook *chain.Probe[hookQuery, common.Address]
}

// Reconciler compares desired links with on-chain links. Probes are kept
// per network since contract versions differ between networks.
type Reconciler struct {
	cfg Config
	log zerolog.Logger

	mu     sync.Mutex
	probes map[resource.NetworkID]*probes
}

func New(cfg Config) (*Reconciler, error) {
	if err := cfg.apply(); err != nil {
		return nil, err
	}
	return &Reconciler{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "wiring").Logger(),
		probes: make(map[resource.NetworkID]*probes),
	}, nil
}

func (r *Reconciler) probesFor(network resource.NetworkID) *probes {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.probes[network]; ok {
		return p
	}
	p := &probes{
		plug: chain.NewProbe(string(network)+"/plug-config",
			chain.Strategy[plugQuery, contracts.PlugConfig]{
				Name: "socket.getPlugConfig",
				Query: func(ctx context.Context, q plugQuery) (contracts.PlugConfig, error) {
					return contracts.ReadSocketPlugConfig(ctx, q.client, q.socket, q.plug, q.slug)
				},
			},
			chain.Strategy[plugQuery, contracts.PlugConfig]{
				Name: "connector.getSiblingConfig",
				Query: func(ctx context.Context, q plugQuery) (contracts.PlugConfig, error) {
					return contracts.ReadConnectorSiblingConfig(ctx, q.client, q.plug)
				},
			},
		),
		hook: chain.NewProbe(string(network)+"/hook-pointer",
			chain.Strategy[hookQuery, common.Address]{
				Name: "hook__",
				Query: func(ctx context.Context, q hookQuery) (common.Address, error) {
					return q.contract.ReadAddress(ctx, q.client, q.target, "hook__")
				},
			},
			chain.Strategy[hookQuery, common.Address]{
				Name: "hook",
				Query: func(ctx context.Context, q hookQuery) (common.Address, error) {
					return q.contract.ReadAddress(ctx, q.client, q.target, "hook")
				},
			},
		),
	}
	r.probes[network] = p
	return p
}

// ReconcileNetwork checks every hook link and outbound connection of
// network. Errors are reported per check and never stop the others.
func (r *Reconciler) ReconcileNetwork(ctx context.Context, client chain.Client, p *plan.Plan, network resource.NetworkID) []execmode.Report {
	var reports []execmode.Report
	for _, link := range p.HookLinksOn(network) {
		reports = append(reports, r.report(r.ReconcileHookLink(ctx, client, link)))
	}
	for _, conn := range p.ConnectionsFrom(network) {
		reports = append(reports, r.report(r.ReconcileConnection(ctx, client, conn)))
	}
	return reports
}

func (r *Reconciler) report(rep execmode.Report, err error) execmode.Report {
	if err != nil {
		rep.Err = err
		ev := r.log.Error()
		if deployerr.IsType(err, deployerr.ErrorTypeMissingSiblingResource) || errors.Is(err, addrstore.ErrNotFound) {
			ev = r.log.Warn()
		}
		ev.Err(err).Str("target", rep.Delta.Target.String()).Str("kind", string(rep.Delta.Kind)).Msg("Wiring check did not complete")
	}
	return rep
}

// ReconcileConnection makes the local connector of conn point at its
// sibling connector through the variant's switchboard. Only the local
// side is ever written.
func (r *Reconciler) ReconcileConnection(ctx context.Context, client chain.Client, conn plan.Connection) (execmode.Report, error) {
	delta := resource.Delta{Kind: resource.DeltaConnect, Target: conn.Key.Connector()}
	rep := execmode.Report{Delta: delta}

	local, err := addrstore.Require(ctx, r.cfg.Store, conn.Key.Connector())
	if err != nil {
		return rep, err
	}
	siblingKey := conn.Key.Counterpart().Connector()
	sibling, found, err := r.cfg.Store.Get(ctx, siblingKey)
	if err != nil {
		return rep, err
	}
	if !found {
		return rep, deployerr.NewMissingSibling(conn.Key.Connector(), "sibling connector %s is not provisioned", siblingKey).
			WithContext("sibling_key", siblingKey.String())
	}
	delta.Args = fmt.Sprintf("sibling=%s switchboard=%s", sibling.Address.Hex(), conn.Switchboard.Hex())
	rep.Delta = delta

	current, err := r.probesFor(client.Network()).plug.Do(ctx, plugQuery{
		client: client,
		socket: conn.Socket,
		plug:   local.Address,
		slug:   conn.SiblingSlug,
	})
	if err != nil {
		return rep, fmt.Errorf("read link of %s: %w", conn.Key, err)
	}

	if resource.SameAddress(current.SiblingPlug.Hex(), sibling.Address.Hex()) &&
		resource.SameAddress(current.Switchboard.Hex(), conn.Switchboard.Hex()) {
		return execmode.Converge(delta), nil
	}

	data, err := contracts.ConnectorPlug.Pack(contracts.MethodConnect, sibling.Address, conn.Switchboard)
	if err != nil {
		return rep, err
	}
	r.log.Info().
		Str("connection", conn.Key.String()).
		Str("current_sibling", current.SiblingPlug.Hex()).
		Str("current_switchboard", current.Switchboard.Hex()).
		Msg("Connector link differs, connecting")
	outcome, err := r.cfg.Executor.Execute(ctx, client, execmode.Call{
		Target:   conn.Key.Connector(),
		To:       local.Address,
		Contract: contracts.ConnectorPlug.Name,
		Method:   contracts.MethodConnect,
		Args:     []string{sibling.Address.Hex(), conn.Switchboard.Hex()},
		Data:     data,
	})
	if err != nil {
		return rep, err
	}
	return outcome.Report(delta), nil
}

// ReconcileHookLink points a vault, controller or execution helper at
// the hook of its network.
func (r *Reconciler) ReconcileHookLink(ctx context.Context, client chain.Client, link plan.HookLink) (execmode.Report, error) {
	delta := resource.Delta{Kind: resource.DeltaSetHook, Target: link.Target}
	rep := execmode.Report{Delta: delta}

	target, err := addrstore.Require(ctx, r.cfg.Store, link.Target)
	if err != nil {
		return rep, err
	}
	hook, err := addrstore.Require(ctx, r.cfg.Store, link.Hook)
	if err != nil {
		return rep, err
	}
	delta.Args = "hook=" + hook.Address.Hex()
	rep.Delta = delta

	contract, err := contracts.ForRole(link.Target.Role)
	if err != nil {
		return rep, err
	}

	var (
		current common.Address
		call    = execmode.Call{Target: link.Target, To: target.Address, Contract: contract.Name}
	)
	if link.Target.Role == resource.RoleExecutionHelper {
		current, err = contract.ReadAddress(ctx, client, target.Address, "hook")
		call.Method = contracts.MethodSetHook
		call.Args = []string{hook.Address.Hex()}
		call.Data, _ = contract.Pack(contracts.MethodSetHook, hook.Address)
	} else {
		current, err = r.probesFor(client.Network()).hook.Do(ctx, hookQuery{client: client, contract: contract, target: target.Address})
		call.Method = contracts.MethodUpdateHook
		call.Args = []string{hook.Address.Hex(), "true"}
		call.Data, _ = contract.Pack(contracts.MethodUpdateHook, hook.Address, true)
	}
	if err != nil {
		return rep, fmt.Errorf("read hook of %s: %w", link.Target, err)
	}
	if resource.SameAddress(current.Hex(), hook.Address.Hex()) {
		return execmode.Converge(delta), nil
	}

	outcome, err := r.cfg.Executor.Execute(ctx, client, call)
	if err != nil {
		return rep, err
	}
	return outcome.Report(delta), nil
}
