package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/chain/chaintest"
	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/execmode"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/plan/plantest"
	"github.com/compose-network/bridge-deployer/x/resource"
)

type fixture struct {
	plan   *plan.Plan
	chains map[resource.NetworkID]*chaintest.Chain
	store  *addrstore.MemoryStore
	log    *addrstore.VerificationLog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := plantest.HubSpoke()
	reg := plantest.Registry("H", "S1", "S2")
	p, err := plan.Resolve(cfg, reg)
	require.NoError(t, err)
	return &fixture{
		plan:   p,
		chains: plantest.Chains(reg, cfg),
		store:  addrstore.NewMemoryStore(),
		log:    addrstore.NewVerificationLog(t.TempDir()),
	}
}

func (f *fixture) provisioner(t *testing.T, mode execmode.Mode) *Provisioner {
	t.Helper()
	p, err := New(Config{
		Store:        f.store,
		Executor:     execmode.NewExecutor(mode, nil, zerolog.Nop()),
		Artifacts:    chaintest.Artifacts{},
		Verification: f.log,
	})
	require.NoError(t, err)
	return p
}

func (f *fixture) run(t *testing.T, p *Provisioner, network resource.NetworkID) map[resource.Key]Result {
	t.Helper()
	results, err := p.ProvisionNetwork(context.Background(), f.chains[network], f.plan.Resources[network])
	require.NoError(t, err)
	require.Len(t, results, len(f.plan.Resources[network]))
	out := make(map[resource.Key]Result, len(results))
	for _, r := range results {
		out[r.Key] = r
	}
	return out
}

func (f *fixture) address(t *testing.T, key resource.Key) common.Address {
	t.Helper()
	rec, err := addrstore.Require(context.Background(), f.store, key)
	require.NoError(t, err)
	return rec.Address
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.ErrorContains(t, err, "store is required")

	_, err = New(Config{Store: addrstore.NewMemoryStore()})
	require.ErrorContains(t, err, "executor is required")

	_, err = New(Config{
		Store:    addrstore.NewMemoryStore(),
		Executor: execmode.NewExecutor(execmode.Live, nil, zerolog.Nop()),
	})
	require.ErrorContains(t, err, "artifacts are required")

	_, err = New(Config{
		Store:    addrstore.NewMemoryStore(),
		Executor: execmode.NewExecutor(execmode.DryRun, nil, zerolog.Nop()),
	})
	require.NoError(t, err)
}

func TestProvisionNetwork_HubInDependencyOrder(t *testing.T) {
	f := newFixture(t)
	results := f.run(t, f.provisioner(t, execmode.Live), "H")

	for key, r := range results {
		require.NoError(t, r.Err, key)
		assert.Equal(t, Created, r.Status, key)
	}
	hub := f.chains["H"]
	require.Equal(t, 5, hub.Deploys())

	token := f.address(t, resource.NewKey("H", "T", resource.RoleToken))
	controller := f.address(t, resource.NewKey("H", "T", resource.RoleController))
	hook := f.address(t, resource.NewKey("H", "T", resource.RoleHook))
	connector := f.address(t, resource.ConnectorKey("H", "T", "S1", plantest.Fast))

	assert.Equal(t, "SuperToken", hub.ContractAt(token))
	assert.Equal(t, []interface{}{token}, hub.Constructor(controller))
	assert.Equal(t, []interface{}{plantest.Owner, controller, common.Address{}, true}, hub.Constructor(hook))
	assert.Equal(t, controller, hub.Constructor(connector)[0])
	assert.Equal(t, uint32(101), hub.Constructor(connector)[2])

	entries, err := f.log.Entries("H")
	require.NoError(t, err)
	require.Len(t, entries, 5)
}

func TestProvisionNetwork_SecondRunReuses(t *testing.T) {
	f := newFixture(t)
	p := f.provisioner(t, execmode.Live)
	f.run(t, p, "S1")
	deploys := f.chains["S1"].Deploys()

	for key, r := range f.run(t, p, "S1") {
		assert.Equal(t, Reused, r.Status, key)
		_, ok := r.Address()
		assert.True(t, ok)
	}
	require.Equal(t, deploys, f.chains["S1"].Deploys())
}

func TestProvisionNetwork_SpokeImportsToken(t *testing.T) {
	f := newFixture(t)
	results := f.run(t, f.provisioner(t, execmode.Live), "S1")

	tokenKey := resource.NewKey("S1", "T", resource.RoleToken)
	require.Equal(t, Imported, results[tokenKey].Status)
	require.True(t, results[tokenKey].Record.Imported)
	require.Equal(t, plantest.SpokeToken1, f.address(t, tokenKey))

	vault := f.address(t, resource.NewKey("S1", "T", resource.RoleVault))
	require.Equal(t, []interface{}{plantest.SpokeToken1}, f.chains["S1"].Constructor(vault))
	require.Equal(t, 3, f.chains["S1"].Deploys())
}

func TestProvisionNetwork_ImportConflictSkipsDependents(t *testing.T) {
	f := newFixture(t)
	tokenKey := resource.NewKey("S1", "T", resource.RoleToken)
	require.NoError(t, f.store.Put(context.Background(), resource.Record{
		Key:     tokenKey,
		Address: common.HexToAddress("0x00000000000000000000000000000000000000ff"),
	}))

	results := f.run(t, f.provisioner(t, execmode.Live), "S1")
	require.Equal(t, Failed, results[tokenKey].Status)
	require.True(t, deployerr.IsType(results[tokenKey].Err, deployerr.ErrorTypeStoreConflict))

	for key, r := range results {
		if key == tokenKey {
			continue
		}
		assert.Equal(t, Skipped, r.Status, key)
		assert.True(t, deployerr.IsType(r.Err, deployerr.ErrorTypeStoreConflict), key)
	}
	require.Zero(t, f.chains["S1"].Deploys())
}

func TestProvisionNetwork_ConvergesAfterPartialFailure(t *testing.T) {
	f := newFixture(t)
	p := f.provisioner(t, execmode.Live)
	hub := f.chains["H"]
	hub.FailNext("deploy:LimitHook", deployerr.NewTransientNetwork("node unavailable"))

	first := f.run(t, p, "H")
	hookKey := resource.NewKey("H", "T", resource.RoleHook)
	require.Equal(t, Failed, first[hookKey].Status)
	require.True(t, deployerr.IsType(first[hookKey].Err, deployerr.ErrorTypeTransientNetwork))
	require.Equal(t, Created, first[resource.NewKey("H", "T", resource.RoleController)].Status)
	require.Equal(t, Skipped, first[resource.ConnectorKey("H", "T", "S1", plantest.Fast)].Status)
	require.Equal(t, 2, hub.Deploys())

	_, found, err := f.store.Get(context.Background(), hookKey)
	require.NoError(t, err)
	require.False(t, found)

	second := f.run(t, p, "H")
	require.Equal(t, Reused, second[resource.NewKey("H", "T", resource.RoleToken)].Status)
	require.Equal(t, Reused, second[resource.NewKey("H", "T", resource.RoleController)].Status)
	require.Equal(t, Created, second[hookKey].Status)
	require.Equal(t, Created, second[resource.ConnectorKey("H", "T", "S2", plantest.Fast)].Status)
	require.Equal(t, 5, hub.Deploys())
}

func TestProvisionNetwork_DryRunRecordsWithoutAddress(t *testing.T) {
	f := newFixture(t)
	p := f.provisioner(t, execmode.DryRun)
	results := f.run(t, p, "H")

	tokenKey := resource.NewKey("H", "T", resource.RoleToken)
	require.Equal(t, Recorded, results[tokenKey].Status)
	require.NotNil(t, results[tokenKey].Change)
	require.Equal(t, execmode.MethodDeploy, results[tokenKey].Change.Method)
	require.Equal(t, []string{"Token", "T", "6", plantest.Owner.Hex()}, results[tokenKey].Change.Args)

	controller := results[resource.NewKey("H", "T", resource.RoleController)]
	require.Equal(t, Skipped, controller.Status)
	require.True(t, errors.Is(controller.Err, ErrDependencyPending))

	recs, err := f.store.Records(context.Background())
	require.NoError(t, err)
	require.Empty(t, recs)
	require.Zero(t, f.chains["H"].Deploys())
	require.Equal(t, 1, p.cfg.Executor.Summary().Len())
}

func TestProvision_DryRunReusesExisting(t *testing.T) {
	f := newFixture(t)
	f.run(t, f.provisioner(t, execmode.Live), "S2")

	dry := f.provisioner(t, execmode.DryRun)
	for key, r := range f.run(t, dry, "S2") {
		assert.Equal(t, Reused, r.Status, key)
	}
	require.Zero(t, dry.cfg.Executor.Summary().Len())
}

func TestProvision_MissingReferenceIsSkipped(t *testing.T) {
	f := newFixture(t)
	p := f.provisioner(t, execmode.Live)
	vault := f.plan.Resources["S1"][1]
	require.Equal(t, resource.RoleVault, vault.Key.Role)

	results, err := p.ProvisionNetwork(context.Background(), f.chains["S1"], []plan.ResourceStep{vault})
	require.NoError(t, err)
	require.Equal(t, Skipped, results[0].Status)
	require.ErrorIs(t, results[0].Err, addrstore.ErrNotFound)
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "created", Created.String())
	require.Equal(t, "dry_run_recorded", Recorded.String())
	require.Equal(t, "status(42)", Status(42).String())
}
