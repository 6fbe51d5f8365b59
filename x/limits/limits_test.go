package limits

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/chain/chaintest"
	"github.com/compose-network/bridge-deployer/x/chain/contracts"
	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/execmode"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/plan/plantest"
	"github.com/compose-network/bridge-deployer/x/provision"
	"github.com/compose-network/bridge-deployer/x/resource"
)

type env struct {
	reg    plan.Registry
	plan   *plan.Plan
	chains map[resource.NetworkID]*chaintest.Chain
	store  addrstore.Store
}

func newEnv(t *testing.T, cfg plan.TokenConfig, provisioned ...resource.NetworkID) *env {
	t.Helper()
	reg := plantest.Registry("H", "S1", "S2")
	p, err := plan.Resolve(cfg, reg)
	require.NoError(t, err)
	e := &env{reg: reg, plan: p, chains: plantest.Chains(reg, cfg), store: addrstore.NewMemoryStore()}

	prov, err := provision.New(provision.Config{
		Store:     e.store,
		Executor:  execmode.NewExecutor(execmode.Live, nil, zerolog.Nop()),
		Artifacts: chaintest.Artifacts{},
	})
	require.NoError(t, err)
	for _, n := range provisioned {
		results, err := prov.ProvisionNetwork(context.Background(), e.chains[n], p.Resources[n])
		require.NoError(t, err)
		for _, r := range results {
			require.NoError(t, r.Err)
		}
		e.chains[n].ResetCounters()
	}
	return e
}

// replan resolves a changed config against the same chains and store.
func (e *env) replan(t *testing.T, cfg plan.TokenConfig) {
	t.Helper()
	p, err := plan.Resolve(cfg, e.reg)
	require.NoError(t, err)
	e.plan = p
}

func (e *env) reconciler(t *testing.T, mode execmode.Mode) *Reconciler {
	t.Helper()
	r, err := New(Config{Store: e.store, Executor: execmode.NewExecutor(mode, nil, zerolog.Nop())})
	require.NoError(t, err)
	return r
}

func (e *env) address(t *testing.T, key resource.Key) common.Address {
	t.Helper()
	rec, err := addrstore.Require(context.Background(), e.store, key)
	require.NoError(t, err)
	return rec.Address
}

func count(reports []execmode.Report, status execmode.Status) int {
	n := 0
	for _, r := range reports {
		if r.Err == nil && r.Status == status {
			n++
		}
	}
	return n
}

func TestReconcileLimits_OneBatchedWriteThenConverged(t *testing.T) {
	e := newEnv(t, plantest.HubSpoke(), "H", "S1", "S2")
	r := e.reconciler(t, execmode.Live)
	ctx := context.Background()

	reports := r.ReconcileLimits(ctx, e.chains["H"], e.plan, "H")
	require.Len(t, reports, 4)
	require.Equal(t, 4, count(reports, execmode.Applied))

	writes := e.chains["H"].Writes()
	require.Len(t, writes, 1)
	require.Equal(t, contracts.MethodUpdateLimitParams, writes[0].Method)

	hook := e.address(t, resource.NewKey("H", "T", resource.RoleHook))
	conn := e.address(t, resource.ConnectorKey("H", "T", "S2", plantest.Fast))
	for _, dir := range []resource.Direction{resource.Sending, resource.Receiving} {
		got := e.chains["H"].LimitOf(hook, conn, dir)
		assert.Equal(t, int64(1000), got.MaxLimit.Int64())
		assert.Equal(t, int64(1), got.RatePerSecond.Int64())
	}

	e.chains["H"].ResetCounters()
	reports = r.ReconcileLimits(ctx, e.chains["H"], e.plan, "H")
	require.Equal(t, 4, count(reports, execmode.Converged))
	require.Empty(t, e.chains["H"].Writes())
}

func TestReconcileLimits_ChangedSendingLimitTouchesOneConnection(t *testing.T) {
	cfg := plantest.HubSpoke()
	e := newEnv(t, cfg, "H", "S1", "S2")
	r := e.reconciler(t, execmode.Live)
	ctx := context.Background()
	for _, n := range []resource.NetworkID{"H", "S1", "S2"} {
		r.ReconcileLimits(ctx, e.chains[n], e.plan, n)
		e.chains[n].ResetCounters()
	}

	cfg.Limits["S1"]["H"][plantest.Fast] = plan.DirectionalLimits{
		Sending:   plantest.Limit(2000, 1),
		Receiving: plantest.Limit(1000, 1),
	}
	e.replan(t, cfg)

	total := 0
	for _, n := range []resource.NetworkID{"H", "S1", "S2"} {
		for _, rep := range r.ReconcileLimits(ctx, e.chains[n], e.plan, n) {
			require.NoError(t, rep.Err)
			if rep.Status == execmode.Applied {
				require.Equal(t, resource.ConnectorKey("S1", "T", "H", plantest.Fast), rep.Delta.Target)
				require.Contains(t, rep.Delta.Args, "sending")
			}
		}
		total += len(e.chains[n].Writes())
	}
	require.Equal(t, 1, total)
	require.Len(t, e.chains["S1"].Writes(), 1)

	hook := e.address(t, resource.NewKey("S1", "T", resource.RoleHook))
	conn := e.address(t, resource.ConnectorKey("S1", "T", "H", plantest.Fast))
	require.Equal(t, int64(2000), e.chains["S1"].LimitOf(hook, conn, resource.Sending).MaxLimit.Int64())
	require.Equal(t, int64(1000), e.chains["S1"].LimitOf(hook, conn, resource.Receiving).MaxLimit.Int64())
}

func TestReconcileLimits_RateOnlyDifferenceRewritesBoth(t *testing.T) {
	cfg := plantest.HubSpoke()
	e := newEnv(t, cfg, "S2")
	r := e.reconciler(t, execmode.Live)
	ctx := context.Background()
	r.ReconcileLimits(ctx, e.chains["S2"], e.plan, "S2")
	e.chains["S2"].ResetCounters()

	cfg.Limits["S2"]["H"][plantest.Fast] = plan.DirectionalLimits{Receiving: plantest.Limit(1000, 5)}
	e.replan(t, cfg)

	reports := r.ReconcileLimits(ctx, e.chains["S2"], e.plan, "S2")
	require.Len(t, reports, 1)
	require.Equal(t, execmode.Applied, reports[0].Status)

	writes := e.chains["S2"].Writes()
	require.Len(t, writes, 1)
	var updates []contracts.UpdateLimitParams
	require.NoError(t, contracts.Hook.ABI.Methods[contracts.MethodUpdateLimitParams].Inputs.Copy(&updates, writes[0].Args))
	require.Len(t, updates, 1)
	require.True(t, updates[0].IsMint)
	require.Equal(t, int64(1000), updates[0].MaxLimit.Int64())
	require.Equal(t, int64(5), updates[0].RatePerSecond.Int64())
}

func TestReconcileLimits_PoolIDsBatchedWithLimits(t *testing.T) {
	cfg := plantest.HubSpoke()
	cfg.PoolIDs = map[resource.NetworkID]map[resource.NetworkID]map[resource.Variant]uint64{
		"H": {"S1": {plantest.Fast: 7}},
	}
	e := newEnv(t, cfg, "H")
	r := e.reconciler(t, execmode.Live)
	ctx := context.Background()

	reports := r.ReconcileLimits(ctx, e.chains["H"], e.plan, "H")
	require.Equal(t, 5, count(reports, execmode.Applied))
	writes := e.chains["H"].Writes()
	require.Len(t, writes, 1)
	require.Equal(t, contracts.MethodMulticall, writes[0].Method)

	hook := e.address(t, resource.NewKey("H", "T", resource.RoleHook))
	conn := e.address(t, resource.ConnectorKey("H", "T", "S1", plantest.Fast))
	require.Equal(t, int64(7), e.chains["H"].PoolIDOf(hook, conn).Int64())
	require.Equal(t, "connectorPoolIds", r.poolProbe("H").Selected())

	e.chains["H"].ResetCounters()
	reports = r.ReconcileLimits(ctx, e.chains["H"], e.plan, "H")
	require.Equal(t, 5, count(reports, execmode.Converged))
	require.Empty(t, e.chains["H"].Writes())
}

func TestReconcileLimits_PoolIDOnlyAndProbeFallback(t *testing.T) {
	cfg := plantest.HubSpoke()
	cfg.Limits = nil
	cfg.PoolIDs = map[resource.NetworkID]map[resource.NetworkID]map[resource.Variant]uint64{
		"H": {"S2": {plantest.Fast: 3}},
	}
	e := newEnv(t, cfg, "H")
	e.chains["H"].Unsupported("connectorPoolIds")
	r := e.reconciler(t, execmode.Live)

	reports := r.ReconcileLimits(context.Background(), e.chains["H"], e.plan, "H")
	require.Len(t, reports, 1)
	require.Equal(t, resource.DeltaSetPoolID, reports[0].Delta.Kind)
	require.Equal(t, execmode.Applied, reports[0].Status)
	require.Equal(t, contracts.MethodUpdateConnectorPoolID, e.chains["H"].Writes()[0].Method)
	require.Equal(t, "poolIds", r.poolProbe("H").Selected())
}

func TestReconcileLimits_FailedWriteReportsEveryDelta(t *testing.T) {
	e := newEnv(t, plantest.HubSpoke(), "S1")
	r := e.reconciler(t, execmode.Live)
	e.chains["S1"].FailNext(contracts.MethodUpdateLimitParams, deployerr.NewTransientNetwork("timeout"))

	reports := r.ReconcileLimits(context.Background(), e.chains["S1"], e.plan, "S1")
	require.Len(t, reports, 2)
	for _, rep := range reports {
		require.True(t, deployerr.IsType(rep.Err, deployerr.ErrorTypeTransientNetwork))
	}
	require.Empty(t, e.chains["S1"].Writes())

	reports = r.ReconcileLimits(context.Background(), e.chains["S1"], e.plan, "S1")
	require.Equal(t, 2, count(reports, execmode.Applied))
}

func TestReconcileLimits_DryRunKeepsReportingMismatch(t *testing.T) {
	e := newEnv(t, plantest.HubSpoke(), "S2")
	r := e.reconciler(t, execmode.DryRun)

	for i := 0; i < 2; i++ {
		reports := r.ReconcileLimits(context.Background(), e.chains["S2"], e.plan, "S2")
		require.Equal(t, 2, count(reports, execmode.Recorded))
	}
	require.Empty(t, e.chains["S2"].Writes())
	require.Equal(t, 2, r.cfg.Executor.Summary().Len())
}

func TestReconcileLimits_MissingHook(t *testing.T) {
	e := newEnv(t, plantest.HubSpoke())
	r := e.reconciler(t, execmode.Live)

	reports := r.ReconcileLimits(context.Background(), e.chains["H"], e.plan, "H")
	require.Len(t, reports, 1)
	require.ErrorIs(t, reports[0].Err, addrstore.ErrNotFound)
}
