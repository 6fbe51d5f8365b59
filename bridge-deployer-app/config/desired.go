package config

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethav "github.com/KOREAN139/ethereum-address-validator"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/chain"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/resource"
)

// Viper folds map keys to lower case, so every network id and variant is
// compared in lower case.
func normalizeID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func networkID(s string) resource.NetworkID { return resource.NetworkID(normalizeID(s)) }

func variantID(s string) resource.Variant { return resource.Variant(normalizeID(s)) }

func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return fmt.Errorf("%q is not a hex address", s)
	}
	// Only mixed-case input carries an EIP-55 checksum.
	digits := s[2:]
	if len(s) == 40 {
		digits = s
	}
	if digits != strings.ToLower(digits) && digits != strings.ToUpper(digits) {
		if err := ethav.Validate("0x" + digits); err != nil {
			return fmt.Errorf("%q: %w", s, err)
		}
	}
	return nil
}

func parseAmount(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("%s %q is not a decimal integer", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s %q is negative", field, s)
	}
	return v, nil
}

func (l *LimitConfig) toPlan() (*plan.Limit, error) {
	if l == nil {
		return nil, nil
	}
	maxV, err := parseAmount("max", l.Max)
	if err != nil {
		return nil, err
	}
	rate, err := parseAmount("rate", l.Rate)
	if err != nil {
		return nil, err
	}
	return &plan.Limit{Max: maxV, Rate: rate}, nil
}

func (s LimitSet) toPlan() (plan.DirectionalLimits, error) {
	sending, err := s.Sending.toPlan()
	if err != nil {
		return plan.DirectionalLimits{}, fmt.Errorf("sending: %w", err)
	}
	receiving, err := s.Receiving.toPlan()
	if err != nil {
		return plan.DirectionalLimits{}, fmt.Errorf("receiving: %w", err)
	}
	return plan.DirectionalLimits{Sending: sending, Receiving: receiving}, nil
}

// Registry builds the network registry.
func (c *Config) Registry() plan.Registry {
	reg := make(plan.Registry, len(c.Networks))
	for _, n := range c.Networks {
		id := networkID(n.ID)
		boards := make(map[resource.Variant]common.Address, len(n.Switchboards))
		for variant, addr := range n.Switchboards {
			boards[variantID(variant)] = common.HexToAddress(addr)
		}
		reg[id] = plan.Network{
			ID:           id,
			ChainSlug:    n.ChainSlug,
			Socket:       common.HexToAddress(n.Socket),
			Switchboards: boards,
		}
	}
	return reg
}

// ChainConfigs returns the client configuration of every network, in
// declaration order.
func (c *Config) ChainConfigs() []chain.Config {
	out := make([]chain.Config, 0, len(c.Networks))
	for _, n := range c.Networks {
		cc := chain.DefaultConfig()
		cc.Network = networkID(n.ID)
		cc.RPCEndpoints = n.RPCEndpoints
		cc.ChainID = n.ChainID
		if n.Confirmations > 0 {
			cc.Confirmations = n.Confirmations
		}
		if n.TxTimeout > 0 {
			cc.TxTimeout = n.TxTimeout
		}
		if n.GasLimitBufferPct > 0 {
			cc.GasLimitBufferPct = n.GasLimitBufferPct
		}
		cc.MaxFeePerGasWei = n.MaxFeePerGasWei
		cc.MaxPriorityFeeWei = n.MaxPriorityFeeWei
		out = append(out, cc)
	}
	return out
}

// StoreConfig returns the address store configuration.
func (c *Config) StoreConfig(log zerolog.Logger) addrstore.Config {
	return addrstore.Config{
		Backend:        c.Store.Backend,
		Dir:            c.StoreDir(),
		Project:        c.Project,
		DeploymentMode: c.DeploymentMode,
		Redis: addrstore.RedisConfig{
			Addr:     c.Store.Redis.Addr,
			Password: c.Secrets.RedisPassword,
			DB:       c.Store.Redis.DB,
			Timeout:  c.Store.Redis.Timeout,
		},
		Logger: log,
	}
}

// TokenConfigs converts the selected tokens, in declaration order. An empty
// selection means every token.
func (c *Config) TokenConfigs(selected []string) ([]plan.TokenConfig, error) {
	want := make(map[string]bool, len(selected))
	for _, id := range selected {
		want[strings.TrimSpace(id)] = true
	}

	found := make(map[string]bool, len(want))
	var out []plan.TokenConfig
	for _, t := range c.Tokens {
		if len(want) > 0 && !want[t.ID] {
			continue
		}
		found[t.ID] = true
		tc, err := c.tokenConfig(t)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", t.ID, err)
		}
		out = append(out, tc)
	}

	var missing []string
	for id := range want {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("unknown token(s): %s", strings.Join(missing, ", "))
	}
	return out, nil
}

func (c *Config) tokenConfig(t TokenConfig) (plan.TokenConfig, error) {
	topology, err := resource.ParseTopology(t.Topology)
	if err != nil {
		// Left for the resolver to reject, so only this token fails.
		topology = resource.Topology(t.Topology)
	}

	owner := t.Owner
	if strings.TrimSpace(owner) == "" {
		owner = c.Owner
	}

	tc := plan.TokenConfig{
		ID:              resource.TokenID(t.ID),
		Topology:        topology,
		Name:            t.TokenName,
		Symbol:          t.TokenSymbol,
		Decimals:        t.Decimals,
		Owner:           common.HexToAddress(owner),
		ExecutionHelper: t.ExecutionHelper,
	}
	if strings.TrimSpace(t.Hub) != "" {
		tc.Hub = networkID(t.Hub)
	}
	for _, s := range t.Spokes {
		tc.Spokes = append(tc.Spokes, networkID(s))
	}
	for _, n := range t.Networks {
		tc.Networks = append(tc.Networks, networkID(n))
	}

	if len(t.ExistingTokens) > 0 {
		tc.ExistingTokens = make(map[resource.NetworkID]common.Address, len(t.ExistingTokens))
		for n, addr := range t.ExistingTokens {
			tc.ExistingTokens[networkID(n)] = common.HexToAddress(addr)
		}
	}

	if len(t.Variants) > 0 {
		tc.Variants = make(map[resource.NetworkID][]resource.Variant, len(t.Variants))
		for n, variants := range t.Variants {
			for _, v := range variants {
				tc.Variants[networkID(n)] = append(tc.Variants[networkID(n)], variantID(v))
			}
		}
	}

	if len(t.Limits) > 0 {
		tc.Limits = make(map[resource.NetworkID]map[resource.NetworkID]map[resource.Variant]plan.DirectionalLimits)
		for n, siblings := range t.Limits {
			bySibling := make(map[resource.NetworkID]map[resource.Variant]plan.DirectionalLimits, len(siblings))
			for s, variants := range siblings {
				byVariant := make(map[resource.Variant]plan.DirectionalLimits, len(variants))
				for v, set := range variants {
					limits, err := set.toPlan()
					if err != nil {
						return plan.TokenConfig{}, fmt.Errorf("limits.%s.%s.%s: %w", n, s, v, err)
					}
					byVariant[variantID(v)] = limits
				}
				bySibling[networkID(s)] = byVariant
			}
			tc.Limits[networkID(n)] = bySibling
		}
	}

	if len(t.PoolIDs) > 0 {
		tc.PoolIDs = make(map[resource.NetworkID]map[resource.NetworkID]map[resource.Variant]uint64)
		for n, siblings := range t.PoolIDs {
			bySibling := make(map[resource.NetworkID]map[resource.Variant]uint64, len(siblings))
			for s, variants := range siblings {
				byVariant := make(map[resource.Variant]uint64, len(variants))
				for v, id := range variants {
					byVariant[variantID(v)] = id
				}
				bySibling[networkID(s)] = byVariant
			}
			tc.PoolIDs[networkID(n)] = bySibling
		}
	}

	for _, r := range t.Roles {
		network := plan.AllNetworks
		if strings.TrimSpace(r.Network) != "*" {
			network = networkID(r.Network)
		}
		role, err := resource.ParseRole(r.Resource)
		if err != nil {
			// Same as topology: an unknown resource fails the token's plan.
			role = resource.Role(r.Resource)
		}
		tc.Roles = append(tc.Roles, plan.RoleSpec{
			Network:  network,
			Resource: role,
			Role:     strings.TrimSpace(r.Role),
			Grant:    r.Grant,
			Revoke:   r.Revoke,
		})
	}

	return tc, nil
}
