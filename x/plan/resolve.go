package plan

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/bridge-deployer/x/chain/contracts"
	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/resource"
)

// resolver accumulates every configuration problem so one run reports all
// of them at once.
type resolver struct {
	cfg      TokenConfig
	registry Registry
	problems []string
}

func (r *resolver) fail(format string, args ...interface{}) {
	r.problems = append(r.problems, fmt.Sprintf(format, args...))
}

func (r *resolver) err() error {
	if len(r.problems) == 0 {
		return nil
	}
	return deployerr.NewMisconfigured("token %s: %s", r.cfg.ID, strings.Join(r.problems, "; "))
}

// Resolve turns a token's desired state into the ordered resources,
// connections, hook links and role operations that realise it. It performs
// no I/O. Any inconsistency is a MisconfiguredTopology error and no plan is
// returned.
func Resolve(cfg TokenConfig, registry Registry) (*Plan, error) {
	r := &resolver{cfg: cfg, registry: registry}

	if cfg.ID == "" {
		r.fail("token id is required")
	}
	if cfg.Owner == (common.Address{}) {
		r.fail("owner is required")
	}
	networks := r.participants()
	if err := r.err(); err != nil {
		return nil, err
	}

	p := &Plan{
		Token:     cfg.ID,
		Topology:  cfg.Topology,
		Networks:  networks,
		Resources: make(map[resource.NetworkID][]ResourceStep, len(networks)),
	}

	r.checkExistingTokens(networks)
	pairs := r.pairs(networks)
	conns := r.connections(pairs)
	r.attachLimits(conns)
	r.attachPoolIDs(conns)
	if err := r.err(); err != nil {
		return nil, err
	}

	for _, n := range networks {
		p.Resources[n] = r.resources(n, conns)
	}
	p.Connections = sortedConnections(conns)
	p.HookLinks = r.hookLinks(networks)
	p.Roles = r.roles(p)
	if err := r.err(); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *resolver) isHubLike(n resource.NetworkID) bool {
	return r.cfg.Topology == resource.TopologyMesh || n == r.cfg.Hub
}

// bridgeRole is the lock/release (Vault) or mint/burn (Controller) role of n.
func (r *resolver) bridgeRole(n resource.NetworkID) resource.Role {
	if r.isHubLike(n) {
		return resource.RoleController
	}
	return resource.RoleVault
}

func (r *resolver) participants() []resource.NetworkID {
	var networks []resource.NetworkID
	switch r.cfg.Topology {
	case resource.TopologyHubSpoke:
		if r.cfg.Hub == "" {
			r.fail("hub_spoke topology requires exactly one hub")
		}
		if len(r.cfg.Spokes) == 0 {
			r.fail("hub_spoke topology requires at least one spoke")
		}
		if len(r.cfg.Networks) > 0 {
			r.fail("hub_spoke topology takes hub and spokes, not networks")
		}
		networks = append(networks, r.cfg.Hub)
		networks = append(networks, r.cfg.Spokes...)
		for _, s := range r.cfg.Spokes {
			if s == r.cfg.Hub {
				r.fail("hub %s is also listed as a spoke", s)
			}
		}
	case resource.TopologyMesh:
		if r.cfg.Hub != "" || len(r.cfg.Spokes) > 0 {
			r.fail("mesh topology takes networks, not hub and spokes")
		}
		if len(r.cfg.Networks) < 2 {
			r.fail("mesh topology requires at least two networks")
		}
		networks = append(networks, r.cfg.Networks...)
	default:
		r.fail("unknown topology %q", r.cfg.Topology)
		return nil
	}

	seen := make(map[resource.NetworkID]bool, len(networks))
	out := make([]resource.NetworkID, 0, len(networks))
	for _, n := range networks {
		if n == "" {
			continue
		}
		if seen[n] {
			if n != r.cfg.Hub {
				r.fail("network %s listed more than once", n)
			}
			continue
		}
		seen[n] = true
		if _, ok := r.registry[n]; !ok {
			r.fail("network %s is not in the network registry", n)
		}
		out = append(out, n)
	}
	return out
}

func (r *resolver) checkExistingTokens(networks []resource.NetworkID) {
	member := make(map[resource.NetworkID]bool, len(networks))
	for _, n := range networks {
		member[n] = true
	}
	for n := range r.cfg.ExistingTokens {
		if !member[n] {
			r.fail("existing token configured for %s, which is not part of the token", n)
		}
	}
	for _, n := range networks {
		addr, ok := r.cfg.ExistingTokens[n]
		if !r.isHubLike(n) && (!ok || addr == (common.Address{})) {
			r.fail("spoke %s requires an existing token address", n)
		}
	}
	created := false
	for _, n := range networks {
		if _, ok := r.cfg.ExistingTokens[n]; !ok {
			created = true
		}
	}
	if created && (r.cfg.Name == "" || r.cfg.Symbol == "") {
		r.fail("token_name and token_symbol are required to create the token")
	}
}

type pair struct{ network, sibling resource.NetworkID }

// pairs returns the directed network pairs the topology links.
func (r *resolver) pairs(networks []resource.NetworkID) []pair {
	var out []pair
	if r.cfg.Topology == resource.TopologyHubSpoke {
		for _, s := range networks[1:] {
			out = append(out, pair{r.cfg.Hub, s}, pair{s, r.cfg.Hub})
		}
		return out
	}
	for _, n := range networks {
		for _, s := range networks {
			if n != s {
				out = append(out, pair{n, s})
			}
		}
	}
	return out
}

func (r *resolver) connections(pairs []pair) map[resource.ConnectionKey]*Connection {
	conns := make(map[resource.ConnectionKey]*Connection)
	used := make(map[resource.NetworkID]map[resource.Variant]bool)

	declared := make(map[resource.NetworkID]map[resource.Variant]bool)
	for n, vs := range r.cfg.Variants {
		declared[n] = make(map[resource.Variant]bool, len(vs))
		for _, v := range vs {
			if v == "" {
				r.fail("empty variant on %s", n)
				continue
			}
			if declared[n][v] {
				r.fail("variant %s listed twice on %s", v, n)
			}
			declared[n][v] = true
		}
	}

	for _, p := range pairs {
		if len(r.cfg.Variants[p.network]) == 0 {
			continue
		}
		linked := false
		for _, v := range r.cfg.Variants[p.network] {
			if !declared[p.sibling][v] {
				continue
			}
			linked = true
			if used[p.network] == nil {
				used[p.network] = make(map[resource.Variant]bool)
			}
			used[p.network][v] = true

			local, remote := r.registry[p.network], r.registry[p.sibling]
			sb, ok := local.Switchboards[v]
			if !ok || sb == (common.Address{}) {
				r.fail("network %s has no switchboard for variant %s", p.network, v)
			}
			if rsb, ok := remote.Switchboards[v]; !ok || rsb == (common.Address{}) {
				r.fail("network %s has no switchboard for variant %s", p.sibling, v)
			}
			if local.Socket == (common.Address{}) {
				r.fail("network %s has no socket", p.network)
			}

			key := resource.ConnectionKey{Network: p.network, Token: r.cfg.ID, Sibling: p.sibling, Variant: v}
			conns[key] = &Connection{
				Key:         key,
				SiblingSlug: remote.ChainSlug,
				Socket:      local.Socket,
				Switchboard: sb,
			}
		}
		// Sharing is symmetric, so each unlinked pair is reported once.
		if !linked && len(r.cfg.Variants[p.sibling]) > 0 && p.network < p.sibling {
			r.fail("networks %s and %s share no integration variant", p.network, p.sibling)
		}
	}

	seenNetworks := make(map[resource.NetworkID]bool)
	for _, p := range pairs {
		if seenNetworks[p.network] {
			continue
		}
		seenNetworks[p.network] = true
		if len(r.cfg.Variants[p.network]) == 0 {
			r.fail("network %s declares no integration variants", p.network)
			continue
		}
		for _, v := range r.cfg.Variants[p.network] {
			if !used[p.network][v] {
				r.fail("variant %s on %s is not offered by any sibling", v, p.network)
			}
		}
	}
	for n := range r.cfg.Variants {
		if !seenNetworks[n] {
			r.fail("variants configured for %s, which is not part of the token", n)
		}
	}
	return conns
}

func (r *resolver) attachLimits(conns map[resource.ConnectionKey]*Connection) {
	for n, siblings := range r.cfg.Limits {
		for s, variants := range siblings {
			for v, limits := range variants {
				key := resource.ConnectionKey{Network: n, Token: r.cfg.ID, Sibling: s, Variant: v}
				c, ok := conns[key]
				if !ok {
					r.fail("limits reference %s, which is not a connection", key)
					continue
				}
				for _, dir := range []resource.Direction{resource.Sending, resource.Receiving} {
					l := limits.For(dir)
					if l == nil {
						continue
					}
					if l.Max == nil || l.Rate == nil || l.Max.Sign() < 0 || l.Rate.Sign() < 0 {
						r.fail("limits of %s %s must set non-negative max and rate", key, dir)
					}
				}
				c.Limits = limits
			}
		}
	}
}

func (r *resolver) attachPoolIDs(conns map[resource.ConnectionKey]*Connection) {
	for n, siblings := range r.cfg.PoolIDs {
		if r.cfg.Topology != resource.TopologyHubSpoke || n != r.cfg.Hub {
			r.fail("pool ids are only valid on the hub network, not %s", n)
			continue
		}
		for s, variants := range siblings {
			for v, id := range variants {
				key := resource.ConnectionKey{Network: n, Token: r.cfg.ID, Sibling: s, Variant: v}
				c, ok := conns[key]
				if !ok {
					r.fail("pool id references %s, which is not a connection", key)
					continue
				}
				id := id
				c.PoolID = &id
			}
		}
	}
}

func sortedConnections(conns map[resource.ConnectionKey]*Connection) []Connection {
	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.Network != b.Network {
			return a.Network < b.Network
		}
		if a.Sibling != b.Sibling {
			return a.Sibling < b.Sibling
		}
		return a.Variant < b.Variant
	})
	return out
}

func (r *resolver) resources(n resource.NetworkID, conns map[resource.ConnectionKey]*Connection) []ResourceStep {
	id := r.cfg.ID
	tokenKey := resource.NewKey(n, id, resource.RoleToken)
	var steps []ResourceStep

	if addr, ok := r.cfg.ExistingTokens[n]; ok {
		a := addr
		steps = append(steps, ResourceStep{Key: tokenKey, Contract: contracts.SuperToken.Name, Import: &a})
	} else {
		steps = append(steps, ResourceStep{
			Key:      tokenKey,
			Contract: contracts.SuperToken.Name,
			Args: []Arg{
				Literal(r.cfg.Name),
				Literal(r.cfg.Symbol),
				Literal(r.cfg.Decimals),
				Literal(r.cfg.Owner),
			},
		})
	}

	helper := Literal(common.Address{})
	var helperDeps []resource.Key
	if r.cfg.ExecutionHelper {
		helperKey := resource.NewKey(n, id, resource.RoleExecutionHelper)
		steps = append(steps, ResourceStep{
			Key:      helperKey,
			Contract: contracts.ExecutionHelper.Name,
			Args:     []Arg{Literal(r.cfg.Owner)},
		})
		helper = Ref(helperKey)
		helperDeps = append(helperDeps, helperKey)
	}

	bridgeRole := r.bridgeRole(n)
	bridgeKey := resource.NewKey(n, id, bridgeRole)
	bridgeContract := contracts.Vault.Name
	if bridgeRole == resource.RoleController {
		bridgeContract = contracts.Controller.Name
	}
	steps = append(steps, ResourceStep{
		Key:       bridgeKey,
		Contract:  bridgeContract,
		Args:      []Arg{Ref(tokenKey)},
		DependsOn: []resource.Key{tokenKey},
	})

	hookKey := resource.NewKey(n, id, resource.RoleHook)
	useControllerPools := r.cfg.Topology == resource.TopologyHubSpoke && n == r.cfg.Hub
	steps = append(steps, ResourceStep{
		Key:       hookKey,
		Contract:  contracts.Hook.Name,
		Args:      []Arg{Literal(r.cfg.Owner), Ref(bridgeKey), helper, Literal(useControllerPools)},
		DependsOn: append([]resource.Key{bridgeKey}, helperDeps...),
	})

	var local []resource.ConnectionKey
	for key := range conns {
		if key.Network == n {
			local = append(local, key)
		}
	}
	sort.Slice(local, func(i, j int) bool {
		if local[i].Sibling != local[j].Sibling {
			return local[i].Sibling < local[j].Sibling
		}
		return local[i].Variant < local[j].Variant
	})
	for _, ck := range local {
		c := conns[ck]
		steps = append(steps, ResourceStep{
			Key:       ck.Connector(),
			Contract:  contracts.ConnectorPlug.Name,
			Args:      []Arg{Ref(bridgeKey), Literal(c.Socket), Literal(c.SiblingSlug)},
			DependsOn: []resource.Key{bridgeKey},
		})
	}
	return steps
}

func (r *resolver) hookLinks(networks []resource.NetworkID) []HookLink {
	var links []HookLink
	for _, n := range networks {
		hook := resource.NewKey(n, r.cfg.ID, resource.RoleHook)
		links = append(links, HookLink{Target: resource.NewKey(n, r.cfg.ID, r.bridgeRole(n)), Hook: hook})
		if r.cfg.ExecutionHelper {
			links = append(links, HookLink{Target: resource.NewKey(n, r.cfg.ID, resource.RoleExecutionHelper), Hook: hook})
		}
	}
	return links
}

func (r *resolver) roles(p *Plan) []RoleOp {
	var ops []RoleOp

	// A token created here must let its controller mint and burn.
	for _, n := range p.Networks {
		if !r.isHubLike(n) {
			continue
		}
		if _, imported := r.cfg.ExistingTokens[n]; imported {
			continue
		}
		controller := resource.RoleController
		ops = append(ops, RoleOp{
			Target:  resource.NewKey(n, r.cfg.ID, resource.RoleToken),
			Role:    contracts.ControllerRole,
			Account: Grantee{Ref: &controller},
			Grant:   true,
		})
	}

	for i, rc := range r.cfg.Roles {
		if !rc.Resource.Valid() {
			r.fail("roles[%d]: unknown resource %q", i, rc.Resource)
			continue
		}
		if rc.Resource == resource.RoleConnector {
			r.fail("roles[%d]: connectors are not role targets", i)
			continue
		}
		if rc.Role == "" {
			r.fail("roles[%d]: role name is required", i)
			continue
		}

		var targets []resource.NetworkID
		if rc.Network == AllNetworks {
			targets = p.Networks
		} else {
			targets = []resource.NetworkID{rc.Network}
		}

		for _, n := range targets {
			key := resource.NewKey(n, r.cfg.ID, rc.Resource)
			if !p.Has(key) {
				if rc.Network != AllNetworks {
					r.fail("roles[%d]: %s is not provisioned for this token", i, key)
				}
				continue
			}
			for _, list := range []struct {
				accounts []string
				grant    bool
			}{{rc.Grant, true}, {rc.Revoke, false}} {
				for _, raw := range list.accounts {
					g, err := ParseGrantee(raw)
					if err != nil {
						r.fail("roles[%d]: %v", i, err)
						continue
					}
					if g.Ref != nil && (*g.Ref == resource.RoleConnector || !p.Has(resource.NewKey(n, r.cfg.ID, *g.Ref))) {
						r.fail("roles[%d]: grantee %s does not resolve on %s", i, g, n)
						continue
					}
					ops = append(ops, RoleOp{Target: key, Role: rc.Role, Account: g, Grant: list.grant})
				}
			}
		}
	}
	return ops
}
