package plan

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/bridge-deployer/x/resource"
)

// Network is the static description of one registry entry.
type Network struct {
	ID           resource.NetworkID
	ChainSlug    uint32
	Socket       common.Address
	Switchboards map[resource.Variant]common.Address
}

// Registry is the explicit set of networks the deployer knows about.
type Registry map[resource.NetworkID]Network

// Limit is a rate limit: maximum magnitude and replenishment per second.
type Limit struct {
	Max  *big.Int
	Rate *big.Int
}

// Equal compares both values exactly.
func (l Limit) Equal(max, rate *big.Int) bool {
	return l.Max != nil && l.Rate != nil && max != nil && rate != nil &&
		l.Max.Cmp(max) == 0 && l.Rate.Cmp(rate) == 0
}

func (l Limit) String() string {
	return fmt.Sprintf("max=%s rate=%s", l.Max, l.Rate)
}

// DirectionalLimits holds the desired limit per direction; nil leaves that
// direction unmanaged.
type DirectionalLimits struct {
	Sending   *Limit
	Receiving *Limit
}

// For returns the limit of one direction.
func (d DirectionalLimits) For(dir resource.Direction) *Limit {
	if dir == resource.Receiving {
		return d.Receiving
	}
	return d.Sending
}

// RoleSpec asks for role membership changes on a resource. Network "*"
// applies to every network of the token that has the resource.
type RoleSpec struct {
	Network  resource.NetworkID
	Resource resource.Role
	Role     string
	Grant    []string
	Revoke   []string
}

// AllNetworks is the RoleSpec wildcard.
const AllNetworks resource.NetworkID = "*"

// TokenConfig is the declarative desired state of one token.
type TokenConfig struct {
	ID       resource.TokenID
	Topology resource.Topology

	Hub      resource.NetworkID
	Spokes   []resource.NetworkID
	Networks []resource.NetworkID // mesh peers

	Name     string
	Symbol   string
	Decimals uint8
	Owner    common.Address

	ExistingTokens  map[resource.NetworkID]common.Address
	Variants        map[resource.NetworkID][]resource.Variant
	ExecutionHelper bool

	// network -> sibling -> variant
	Limits  map[resource.NetworkID]map[resource.NetworkID]map[resource.Variant]DirectionalLimits
	PoolIDs map[resource.NetworkID]map[resource.NetworkID]map[resource.Variant]uint64

	Roles []RoleSpec
}

// Arg is one creation argument: a literal value or the address of another
// resource on the same network.
type Arg struct {
	Value interface{}
	Ref   *resource.Key
}

func Literal(v interface{}) Arg { return Arg{Value: v} }

func Ref(k resource.Key) Arg { return Arg{Ref: &k} }

func (a Arg) String() string {
	if a.Ref != nil {
		return "@" + a.Ref.String()
	}
	if addr, ok := a.Value.(common.Address); ok {
		return addr.Hex()
	}
	return fmt.Sprint(a.Value)
}

// ResourceStep is one resource to provision, in dependency order.
type ResourceStep struct {
	Key       resource.Key
	Contract  string
	Import    *common.Address
	Args      []Arg
	DependsOn []resource.Key
}

// Connection is one direction of a link with everything needed to wire it.
type Connection struct {
	Key         resource.ConnectionKey
	SiblingSlug uint32
	Socket      common.Address
	Switchboard common.Address
	Limits      DirectionalLimits
	PoolID      *uint64
}

// HookLink points a vault, controller or execution helper at the hook.
type HookLink struct {
	Target resource.Key
	Hook   resource.Key
}

// Grantee is a literal account or a resource on the same network.
type Grantee struct {
	Address common.Address
	Ref     *resource.Role
}

// ParseGrantee accepts a hex address or "@Role".
func ParseGrantee(s string) (Grantee, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") {
		role, err := resource.ParseRole(s[1:])
		if err != nil {
			return Grantee{}, err
		}
		return Grantee{Ref: &role}, nil
	}
	if !common.IsHexAddress(s) {
		return Grantee{}, fmt.Errorf("invalid grantee %q", s)
	}
	return Grantee{Address: common.HexToAddress(s)}, nil
}

func (g Grantee) String() string {
	if g.Ref != nil {
		return "@" + string(*g.Ref)
	}
	return g.Address.Hex()
}

// RoleOp is one intended membership state for an account on a resource.
type RoleOp struct {
	Target  resource.Key
	Role    string
	Account Grantee
	Grant   bool
}

// Plan is the resolved desired state of one token.
type Plan struct {
	Token       resource.TokenID
	Topology    resource.Topology
	Networks    []resource.NetworkID
	Resources   map[resource.NetworkID][]ResourceStep
	Connections []Connection
	HookLinks   []HookLink
	Roles       []RoleOp
}

// ConnectionsFrom returns the connections configured on network, in plan order.
func (p *Plan) ConnectionsFrom(network resource.NetworkID) []Connection {
	var out []Connection
	for _, c := range p.Connections {
		if c.Key.Network == network {
			out = append(out, c)
		}
	}
	return out
}

// HookLinksOn returns the hook links on network.
func (p *Plan) HookLinksOn(network resource.NetworkID) []HookLink {
	var out []HookLink
	for _, l := range p.HookLinks {
		if l.Target.Network == network {
			out = append(out, l)
		}
	}
	return out
}

// RolesOn returns the role operations on network, in intent order.
func (p *Plan) RolesOn(network resource.NetworkID) []RoleOp {
	var out []RoleOp
	for _, r := range p.Roles {
		if r.Target.Network == network {
			out = append(out, r)
		}
	}
	return out
}

// Has reports whether the plan provisions key.
func (p *Plan) Has(key resource.Key) bool {
	for _, step := range p.Resources[key.Network] {
		if step.Key == key {
			return true
		}
	}
	return false
}
