// Package plantest holds shared token and network fixtures for tests.
package plantest

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/bridge-deployer/x/chain/chaintest"
	"github.com/compose-network/bridge-deployer/x/chain/contracts"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/resource"
)

const Fast resource.Variant = "fast"

var (
	Owner = common.HexToAddress("0x0000000000000000000000000000000000000001")
	// Spoke tokens that already exist before the bridge is deployed.
	SpokeToken1 = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	SpokeToken2 = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

// Registry returns networks with a socket and fast/slow switchboards each.
func Registry(ids ...resource.NetworkID) plan.Registry {
	reg := make(plan.Registry)
	for i, id := range ids {
		reg[id] = plan.Network{
			ID:        id,
			ChainSlug: uint32(100 + i),
			Socket:    common.BigToAddress(big.NewInt(int64(0x500 + i))),
			Switchboards: map[resource.Variant]common.Address{
				Fast:   common.BigToAddress(big.NewInt(int64(0xf00 + i))),
				"slow": common.BigToAddress(big.NewInt(int64(0xe00 + i))),
			},
		}
	}
	return reg
}

func Limit(max, rate int64) *plan.Limit {
	return &plan.Limit{Max: big.NewInt(max), Rate: big.NewInt(rate)}
}

// Both applies the same limit to sending and receiving.
func Both(max, rate int64) plan.DirectionalLimits {
	return plan.DirectionalLimits{Sending: Limit(max, rate), Receiving: Limit(max, rate)}
}

// HubSpoke is token T with hub H and spokes S1, S2 on the fast variant,
// limits (1000, 1) on both directions of every connection.
func HubSpoke() plan.TokenConfig {
	both := Both(1000, 1)
	return plan.TokenConfig{
		ID:             "T",
		Topology:       resource.TopologyHubSpoke,
		Hub:            "H",
		Spokes:         []resource.NetworkID{"S1", "S2"},
		Name:           "Token",
		Symbol:         "T",
		Decimals:       6,
		Owner:          Owner,
		ExistingTokens: map[resource.NetworkID]common.Address{"S1": SpokeToken1, "S2": SpokeToken2},
		Variants: map[resource.NetworkID][]resource.Variant{
			"H": {Fast}, "S1": {Fast}, "S2": {Fast},
		},
		Limits: map[resource.NetworkID]map[resource.NetworkID]map[resource.Variant]plan.DirectionalLimits{
			"H":  {"S1": {Fast: both}, "S2": {Fast: both}},
			"S1": {"H": {Fast: both}},
			"S2": {"H": {Fast: both}},
		},
	}
}

// Mesh is token M deployed as peers on ids, fast variant everywhere.
func Mesh(ids ...resource.NetworkID) plan.TokenConfig {
	variants := make(map[resource.NetworkID][]resource.Variant, len(ids))
	for _, id := range ids {
		variants[id] = []resource.Variant{Fast}
	}
	return plan.TokenConfig{
		ID:       "M",
		Topology: resource.TopologyMesh,
		Networks: ids,
		Name:     "Mesh",
		Symbol:   "M",
		Decimals: 18,
		Owner:    Owner,
		Variants: variants,
	}
}

// Chains builds one fake chain per registry entry, with the socket and any
// existing tokens of cfg installed.
func Chains(reg plan.Registry, cfg plan.TokenConfig) map[resource.NetworkID]*chaintest.Chain {
	out := make(map[resource.NetworkID]*chaintest.Chain, len(reg))
	for id, n := range reg {
		c := chaintest.New(id, uint64(n.ChainSlug))
		c.InstallSocket(n.Socket)
		if addr, ok := cfg.ExistingTokens[id]; ok {
			c.Install(addr, contracts.SuperToken)
		}
		out[id] = c
	}
	return out
}
