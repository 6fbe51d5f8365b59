package plan

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/resource"
)

var (
	owner   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	spokeT1 = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	spokeT2 = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

func testRegistry(ids ...resource.NetworkID) Registry {
	reg := make(Registry)
	for i, id := range ids {
		reg[id] = Network{
			ID:        id,
			ChainSlug: uint32(100 + i),
			Socket:    common.BigToAddress(big.NewInt(int64(0x500 + i))),
			Switchboards: map[resource.Variant]common.Address{
				"fast": common.BigToAddress(big.NewInt(int64(0xf00 + i))),
				"slow": common.BigToAddress(big.NewInt(int64(0xe00 + i))),
			},
		}
	}
	return reg
}

func limit(max, rate int64) *Limit {
	return &Limit{Max: big.NewInt(max), Rate: big.NewInt(rate)}
}

func hubSpokeConfig() TokenConfig {
	both := DirectionalLimits{Sending: limit(1000, 1), Receiving: limit(1000, 1)}
	return TokenConfig{
		ID:             "T",
		Topology:       resource.TopologyHubSpoke,
		Hub:            "H",
		Spokes:         []resource.NetworkID{"S1", "S2"},
		Name:           "Token",
		Symbol:         "T",
		Decimals:       6,
		Owner:          owner,
		ExistingTokens: map[resource.NetworkID]common.Address{"S1": spokeT1, "S2": spokeT2},
		Variants: map[resource.NetworkID][]resource.Variant{
			"H": {"fast"}, "S1": {"fast"}, "S2": {"fast"},
		},
		Limits: map[resource.NetworkID]map[resource.NetworkID]map[resource.Variant]DirectionalLimits{
			"H":  {"S1": {"fast": both}, "S2": {"fast": both}},
			"S1": {"H": {"fast": both}},
			"S2": {"H": {"fast": both}},
		},
	}
}

func roles(steps []ResourceStep) []resource.Role {
	out := make([]resource.Role, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.Key.Role)
	}
	return out
}

func TestResolve_HubSpoke(t *testing.T) {
	p, err := Resolve(hubSpokeConfig(), testRegistry("H", "S1", "S2"))
	require.NoError(t, err)

	require.Equal(t, []resource.NetworkID{"H", "S1", "S2"}, p.Networks)
	require.Equal(t, []resource.Role{
		resource.RoleToken, resource.RoleController, resource.RoleHook, resource.RoleConnector, resource.RoleConnector,
	}, roles(p.Resources["H"]))
	require.Equal(t, []resource.Role{
		resource.RoleToken, resource.RoleVault, resource.RoleHook, resource.RoleConnector,
	}, roles(p.Resources["S1"]))

	// spoke tokens are imported, the hub token is created
	require.NotNil(t, p.Resources["S1"][0].Import)
	require.Equal(t, spokeT1, *p.Resources["S1"][0].Import)
	require.Nil(t, p.Resources["H"][0].Import)
	require.Len(t, p.Resources["H"][0].Args, 4)

	require.Len(t, p.Connections, 4)
	keys := make([]string, 0, len(p.Connections))
	for _, c := range p.Connections {
		keys = append(keys, c.Key.String())
		require.NotNil(t, c.Limits.Sending)
		require.NotNil(t, c.Limits.Receiving)
	}
	require.Equal(t, []string{"H/T->S1[fast]", "H/T->S2[fast]", "S1/T->H[fast]", "S2/T->H[fast]"}, keys)

	hubToS1 := p.Connections[0]
	reg := testRegistry("H", "S1", "S2")
	require.Equal(t, reg["S1"].ChainSlug, hubToS1.SiblingSlug)
	require.Equal(t, reg["H"].Switchboards["fast"], hubToS1.Switchboard)
	require.Equal(t, reg["H"].Socket, hubToS1.Socket)

	hookArgs := p.Resources["H"][2].Args
	require.Equal(t, true, hookArgs[3].Value)
	require.Equal(t, false, p.Resources["S1"][2].Args[3].Value)
	require.Equal(t, resource.NewKey("H", "T", resource.RoleController), *hookArgs[1].Ref)

	require.Len(t, p.Roles, 1)
	require.Equal(t, "CONTROLLER_ROLE", p.Roles[0].Role)
	require.Equal(t, resource.NewKey("H", "T", resource.RoleToken), p.Roles[0].Target)
	require.Equal(t, resource.RoleController, *p.Roles[0].Account.Ref)

	require.Len(t, p.HookLinks, 3)
	require.Equal(t, resource.NewKey("S1", "T", resource.RoleVault), p.HookLinksOn("S1")[0].Target)
}

func TestResolve_Mesh(t *testing.T) {
	cfg := TokenConfig{
		ID:              "M",
		Topology:        resource.TopologyMesh,
		Networks:        []resource.NetworkID{"A", "B", "C"},
		Name:            "Mesh",
		Symbol:          "M",
		Owner:           owner,
		ExecutionHelper: true,
		Variants: map[resource.NetworkID][]resource.Variant{
			"A": {"fast", "slow"}, "B": {"fast", "slow"}, "C": {"fast"},
		},
	}
	p, err := Resolve(cfg, testRegistry("A", "B", "C"))
	require.NoError(t, err)

	// A<->B on two variants, A<->C and B<->C on one: 2*2 + 2 + 2
	require.Len(t, p.Connections, 8)
	require.Len(t, p.ConnectionsFrom("C"), 2)
	for _, n := range p.Networks {
		require.Equal(t, resource.RoleToken, p.Resources[n][0].Key.Role)
		require.Equal(t, resource.RoleExecutionHelper, p.Resources[n][1].Key.Role)
		require.Equal(t, resource.RoleController, p.Resources[n][2].Key.Role)
		require.Equal(t, resource.RoleHook, p.Resources[n][3].Key.Role)
		require.Contains(t, p.Resources[n][3].DependsOn, resource.NewKey(n, "M", resource.RoleExecutionHelper))
	}
	require.Len(t, p.Roles, 3)
	require.Len(t, p.HookLinks, 6)
}

func TestResolve_MeshPairWithoutSharedVariant(t *testing.T) {
	cfg := TokenConfig{
		ID:       "M",
		Topology: resource.TopologyMesh,
		Networks: []resource.NetworkID{"A", "B", "C"},
		Name:     "Mesh",
		Symbol:   "M",
		Owner:    owner,
		Variants: map[resource.NetworkID][]resource.Variant{
			"A": {"fast", "slow"}, "B": {"fast"}, "C": {"slow"},
		},
	}
	p, err := Resolve(cfg, testRegistry("A", "B", "C"))
	require.Nil(t, p)
	require.True(t, deployerr.IsType(err, deployerr.ErrorTypeMisconfiguredTopology))
	require.ErrorContains(t, err, "networks B and C share no integration variant")
	require.NotContains(t, err.Error(), "networks A and")
}

func TestResolve_RoleSpecs(t *testing.T) {
	cfg := hubSpokeConfig()
	cfg.Roles = []RoleSpec{
		{Network: AllNetworks, Resource: resource.RoleHook, Role: "LIMIT_UPDATER_ROLE", Grant: []string{"0x00000000000000000000000000000000000000b1"}},
		{Network: AllNetworks, Resource: resource.RoleVault, Role: "RESCUE_ROLE", Grant: []string{"@Hook"}, Revoke: []string{"0x00000000000000000000000000000000000000b2"}},
	}
	p, err := Resolve(cfg, testRegistry("H", "S1", "S2"))
	require.NoError(t, err)

	// derived controller grant + 3 hooks + 2 spoke vaults * 2
	require.Len(t, p.Roles, 1+3+4)
	s1 := p.RolesOn("S1")
	require.Len(t, s1, 3)
	require.True(t, s1[1].Grant)
	require.Equal(t, resource.RoleHook, *s1[1].Account.Ref)
	require.False(t, s1[2].Grant)
}

func TestResolve_Misconfigured(t *testing.T) {
	reg := testRegistry("H", "S1", "S2", "X")
	tests := []struct {
		name   string
		mutate func(*TokenConfig)
		want   string
	}{
		{"unknown topology", func(c *TokenConfig) { c.Topology = "ring" }, "unknown topology"},
		{"no hub", func(c *TokenConfig) { c.Hub = "" }, "exactly one hub"},
		{"hub as spoke", func(c *TokenConfig) { c.Spokes = append(c.Spokes, "H") }, "also listed as a spoke"},
		{"no spokes", func(c *TokenConfig) { c.Spokes = nil }, "at least one spoke"},
		{"duplicate spoke", func(c *TokenConfig) { c.Spokes = []resource.NetworkID{"S1", "S1", "S2"} }, "more than once"},
		{"unknown network", func(c *TokenConfig) { c.Spokes = append(c.Spokes, "Q") }, "not in the network registry"},
		{"spoke without token", func(c *TokenConfig) { delete(c.ExistingTokens, "S2") }, "requires an existing token"},
		{"missing owner", func(c *TokenConfig) { c.Owner = common.Address{} }, "owner is required"},
		{"variant not shared", func(c *TokenConfig) {
			c.Variants["S1"] = []resource.Variant{"fast", "slow"}
		}, "not offered by any sibling"},
		{"network without variants", func(c *TokenConfig) { delete(c.Variants, "S2") }, "declares no integration variants"},
		{"limits on non-connection", func(c *TokenConfig) {
			c.Limits["S1"]["S2"] = map[resource.Variant]DirectionalLimits{"fast": {Sending: limit(1, 1)}}
		}, "not a connection"},
		{"negative limit", func(c *TokenConfig) {
			c.Limits["S1"]["H"]["fast"] = DirectionalLimits{Sending: limit(-1, 1)}
		}, "non-negative"},
		{"pool ids on spoke", func(c *TokenConfig) {
			c.PoolIDs = map[resource.NetworkID]map[resource.NetworkID]map[resource.Variant]uint64{"S1": {"H": {"fast": 1}}}
		}, "only valid on the hub"},
		{"unknown role resource", func(c *TokenConfig) {
			c.Roles = []RoleSpec{{Network: "H", Resource: "Bridge", Role: "X"}}
		}, "unknown resource"},
		{"vault on hub", func(c *TokenConfig) {
			c.Roles = []RoleSpec{{Network: "H", Resource: resource.RoleVault, Role: "X", Grant: []string{"@Hook"}}}
		}, "is not provisioned"},
		{"bad grantee", func(c *TokenConfig) {
			c.Roles = []RoleSpec{{Network: "H", Resource: resource.RoleHook, Role: "X", Grant: []string{"bob"}}}
		}, "invalid grantee"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := hubSpokeConfig()
			tc.mutate(&cfg)
			p, err := Resolve(cfg, reg)
			require.Nil(t, p)
			require.ErrorIs(t, err, deployerr.ErrMisconfiguredTopology)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestResolve_MeshNeedsTwoNetworks(t *testing.T) {
	cfg := TokenConfig{ID: "M", Topology: resource.TopologyMesh, Networks: []resource.NetworkID{"A"}, Owner: owner}
	_, err := Resolve(cfg, testRegistry("A"))
	require.ErrorIs(t, err, deployerr.ErrMisconfiguredTopology)
	require.ErrorContains(t, err, "at least two networks")
}

func TestResolve_PoolIDs(t *testing.T) {
	cfg := hubSpokeConfig()
	cfg.PoolIDs = map[resource.NetworkID]map[resource.NetworkID]map[resource.Variant]uint64{
		"H": {"S1": {"fast": 7}},
	}
	p, err := Resolve(cfg, testRegistry("H", "S1", "S2"))
	require.NoError(t, err)
	require.NotNil(t, p.Connections[0].PoolID)
	require.Equal(t, uint64(7), *p.Connections[0].PoolID)
	require.Nil(t, p.Connections[1].PoolID)
}

func TestParseGrantee(t *testing.T) {
	g, err := ParseGrantee("@controller")
	require.NoError(t, err)
	require.Equal(t, resource.RoleController, *g.Ref)
	require.Equal(t, "@Controller", g.String())

	g, err = ParseGrantee("0x00000000000000000000000000000000000000b1")
	require.NoError(t, err)
	require.Nil(t, g.Ref)

	_, err = ParseGrantee("@nobody")
	require.Error(t, err)
}

func TestLimitEqual(t *testing.T) {
	l := limit(1000, 1)
	require.True(t, l.Equal(big.NewInt(1000), big.NewInt(1)))
	require.False(t, l.Equal(big.NewInt(2000), big.NewInt(1)))
	require.False(t, l.Equal(nil, big.NewInt(1)))
}
