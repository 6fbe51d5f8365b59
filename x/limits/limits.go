// Package limits reconciles hook rate limits, hub pool ids and access
// roles against the chain.
package limits

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/chain"
	"github.com/compose-network/bridge-deployer/x/chain/contracts"
	"github.com/compose-network/bridge-deployer/x/execmode"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/resource"
)

type poolQuery struct {
	client    chain.Client
	hook      common.Address
	connector common.Address
}

type Reconciler struct {
	cfg Config
	log zerolog.Logger

	mu    sync.Mutex
	pools map[resource.NetworkID]*chain.Probe[poolQuery, *big.Int]
}

func New(cfg Config) (*Reconciler, error) {
	if err := cfg.apply(); err != nil {
		return nil, err
	}
	return &Reconciler{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "limits").Logger(),
		pools: make(map[resource.NetworkID]*chain.Probe[poolQuery, *big.Int]),
	}, nil
}

func (r *Reconciler) poolProbe(network resource.NetworkID) *chain.Probe[poolQuery, *big.Int] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[network]; ok {
		return p
	}
	strategy := func(method string) chain.Strategy[poolQuery, *big.Int] {
		return chain.Strategy[poolQuery, *big.Int]{
			Name: method,
			Query: func(ctx context.Context, q poolQuery) (*big.Int, error) {
				return contracts.Hook.ReadUint(ctx, q.client, q.hook, method, q.connector)
			},
		}
	}
	p := chain.NewProbe(string(network)+"/pool-id", strategy("connectorPoolIds"), strategy("poolIds"))
	r.pools[network] = p
	return p
}

// batch collects the corrections for one hook.
type batch struct {
	limits     []contracts.UpdateLimitParams
	connectors []common.Address
	poolIDs    []*big.Int
	deltas     []resource.Delta
}

func (b *batch) empty() bool { return len(b.deltas) == 0 }

// ReconcileLimits reads both directions of every connection of network and
// submits every mismatch, together with pool id corrections, as a single
// write to the network's hook.
func (r *Reconciler) ReconcileLimits(ctx context.Context, client chain.Client, p *plan.Plan, network resource.NetworkID) []execmode.Report {
	hookKey := resource.NewKey(network, p.Token, resource.RoleHook)
	hook, err := addrstore.Require(ctx, r.cfg.Store, hookKey)
	if err != nil {
		return []execmode.Report{{Delta: resource.Delta{Kind: resource.DeltaSetLimit, Target: hookKey}, Err: err}}
	}

	var (
		reports []execmode.Report
		b       batch
	)
	for _, conn := range p.ConnectionsFrom(network) {
		connKey := conn.Key.Connector()
		connector, err := addrstore.Require(ctx, r.cfg.Store, connKey)
		if err != nil {
			reports = append(reports, execmode.Report{Delta: resource.Delta{Kind: resource.DeltaSetLimit, Target: connKey}, Err: err})
			continue
		}

		for _, dir := range []resource.Direction{resource.Sending, resource.Receiving} {
			want := conn.Limits.For(dir)
			if want == nil {
				continue
			}
			delta := resource.Delta{
				Kind:   resource.DeltaSetLimit,
				Target: connKey,
				Args:   fmt.Sprintf("%s %s", dir, want),
			}
			current, err := contracts.ReadLimitParams(ctx, client, hook.Address, connector.Address, dir)
			if err != nil {
				reports = append(reports, execmode.Report{Delta: delta, Err: fmt.Errorf("read %s limit of %s: %w", dir, conn.Key, err)})
				continue
			}
			if want.Equal(current.MaxLimit, current.RatePerSecond) {
				reports = append(reports, execmode.Converge(delta))
				continue
			}
			r.log.Info().
				Str("connection", conn.Key.String()).
				Str("direction", dir.String()).
				Str("current", plan.Limit{Max: current.MaxLimit, Rate: current.RatePerSecond}.String()).
				Str("desired", want.String()).
				Msg("Limit differs")
			b.limits = append(b.limits, contracts.UpdateLimitParams{
				IsMint:        dir.IsMint(),
				Connector:     connector.Address,
				MaxLimit:      want.Max,
				RatePerSecond: want.Rate,
			})
			b.deltas = append(b.deltas, delta)
		}

		if conn.PoolID == nil {
			continue
		}
		want := new(big.Int).SetUint64(*conn.PoolID)
		delta := resource.Delta{Kind: resource.DeltaSetPoolID, Target: connKey, Args: "pool=" + want.String()}
		current, err := r.poolProbe(network).Do(ctx, poolQuery{client: client, hook: hook.Address, connector: connector.Address})
		if err != nil {
			reports = append(reports, execmode.Report{Delta: delta, Err: fmt.Errorf("read pool id of %s: %w", conn.Key, err)})
			continue
		}
		if current.Cmp(want) == 0 {
			reports = append(reports, execmode.Converge(delta))
			continue
		}
		b.connectors = append(b.connectors, connector.Address)
		b.poolIDs = append(b.poolIDs, want)
		b.deltas = append(b.deltas, delta)
	}

	if b.empty() {
		return reports
	}
	return append(reports, r.submit(ctx, client, hookKey, hook.Address, &b)...)
}

func (r *Reconciler) submit(ctx context.Context, client chain.Client, hookKey resource.Key, hook common.Address, b *batch) []execmode.Report {
	call, err := buildCall(hookKey, hook, b)
	if err == nil {
		var outcome execmode.Outcome
		outcome, err = r.cfg.Executor.Execute(ctx, client, call)
		if err == nil {
			reports := make([]execmode.Report, 0, len(b.deltas))
			for _, d := range b.deltas {
				reports = append(reports, outcome.Report(d))
			}
			return reports
		}
	}

	r.log.Error().Err(err).Str("hook", hookKey.String()).Int("deltas", len(b.deltas)).Msg("Limit update failed")
	reports := make([]execmode.Report, 0, len(b.deltas))
	for _, d := range b.deltas {
		reports = append(reports, execmode.Report{Delta: d, Err: err})
	}
	return reports
}

// buildCall packs the batch as one call: updateLimitParams or
// updateConnectorPoolId alone, or a multicall carrying both.
func buildCall(hookKey resource.Key, hook common.Address, b *batch) (execmode.Call, error) {
	call := execmode.Call{Target: hookKey, To: hook, Contract: contracts.Hook.Name}

	var parts [][]byte
	if len(b.limits) > 0 {
		data, err := contracts.Hook.Pack(contracts.MethodUpdateLimitParams, b.limits)
		if err != nil {
			return call, err
		}
		parts = append(parts, data)
		call.Method = contracts.MethodUpdateLimitParams
		for _, u := range b.limits {
			call.Args = append(call.Args, fmt.Sprintf("{isMint:%t connector:%s max:%s rate:%s}", u.IsMint, u.Connector.Hex(), u.MaxLimit, u.RatePerSecond))
		}
	}
	if len(b.connectors) > 0 {
		data, err := contracts.Hook.Pack(contracts.MethodUpdateConnectorPoolID, b.connectors, b.poolIDs)
		if err != nil {
			return call, err
		}
		parts = append(parts, data)
		call.Method = contracts.MethodUpdateConnectorPoolID
		for i, c := range b.connectors {
			call.Args = append(call.Args, fmt.Sprintf("{connector:%s pool:%s}", c.Hex(), b.poolIDs[i]))
		}
	}

	if len(parts) == 1 {
		call.Data = parts[0]
		return call, nil
	}
	data, err := contracts.Hook.Pack(contracts.MethodMulticall, parts)
	if err != nil {
		return call, err
	}
	call.Method, call.Data = contracts.MethodMulticall, data
	return call, nil
}
