package resource

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NetworkID names one configured network. Valid values are the ids declared
// in the network registry.
type NetworkID string

// TokenID names a bridged token.
type TokenID string

// Variant names an integration variant (verification-policy family).
type Variant string

// Role is the closed set of resource kinds the deployer provisions.
type Role string

const (
	RoleToken           Role = "Token"
	RoleVault           Role = "Vault"
	RoleController      Role = "Controller"
	RoleHook            Role = "Hook"
	RoleConnector       Role = "Connector"
	RoleExecutionHelper Role = "ExecutionHelper"
)

// Roles lists every role in dependency order.
var Roles = []Role{RoleToken, RoleExecutionHelper, RoleVault, RoleController, RoleHook, RoleConnector}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole resolves a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	for _, known := range Roles {
		if strings.EqualFold(string(known), s) {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown resource role %q", s)
}

// Key identifies one provisioned resource. Sibling and Variant are set only
// for connectors, which exist once per sibling network and variant.
type Key struct {
	Network NetworkID `json:"network"`
	Token   TokenID   `json:"token"`
	Role    Role      `json:"role"`
	Sibling NetworkID `json:"sibling,omitempty"`
	Variant Variant   `json:"variant,omitempty"`
}

// NewKey returns the key of a non-connector resource.
func NewKey(network NetworkID, token TokenID, role Role) Key {
	return Key{Network: network, Token: token, Role: role}
}

// ConnectorKey returns the key of the connector on network that talks to sibling.
func ConnectorKey(network NetworkID, token TokenID, sibling NetworkID, variant Variant) Key {
	return Key{Network: network, Token: token, Role: RoleConnector, Sibling: sibling, Variant: variant}
}

// Validate checks the key is complete and qualifiers match the role.
func (k Key) Validate() error {
	if k.Network == "" {
		return fmt.Errorf("resource key: network is required")
	}
	if k.Token == "" {
		return fmt.Errorf("resource key: token is required")
	}
	if !k.Role.Valid() {
		return fmt.Errorf("resource key: invalid role %q", k.Role)
	}
	if k.Role == RoleConnector {
		if k.Sibling == "" || k.Variant == "" {
			return fmt.Errorf("resource key %s: connector requires sibling and variant", k)
		}
		if k.Sibling == k.Network {
			return fmt.Errorf("resource key %s: connector sibling equals its own network", k)
		}
	} else if k.Sibling != "" || k.Variant != "" {
		return fmt.Errorf("resource key %s: only connectors carry sibling/variant", k)
	}
	return nil
}

func (k Key) String() string {
	if k.Role == RoleConnector {
		return fmt.Sprintf("%s/%s/%s[%s:%s]", k.Network, k.Token, k.Role, k.Sibling, k.Variant)
	}
	return fmt.Sprintf("%s/%s/%s", k.Network, k.Token, k.Role)
}

// ConnectionKey is one direction of a link between two networks' connectors.
type ConnectionKey struct {
	Network NetworkID `json:"network"`
	Token   TokenID   `json:"token"`
	Sibling NetworkID `json:"sibling"`
	Variant Variant   `json:"variant"`
}

// Connector is the key of the local connector this connection configures.
func (c ConnectionKey) Connector() Key {
	return ConnectorKey(c.Network, c.Token, c.Sibling, c.Variant)
}

// Counterpart is the same link seen from the sibling network.
func (c ConnectionKey) Counterpart() ConnectionKey {
	return ConnectionKey{Network: c.Sibling, Token: c.Token, Sibling: c.Network, Variant: c.Variant}
}

func (c ConnectionKey) String() string {
	return fmt.Sprintf("%s/%s->%s[%s]", c.Network, c.Token, c.Sibling, c.Variant)
}

// Record is a persisted resource address. Imported marks addresses taken
// from configuration rather than created by the deployer.
type Record struct {
	Key       Key            `json:"key"`
	Address   common.Address `json:"address"`
	CreatedAt time.Time      `json:"created_at"`
	Imported  bool           `json:"imported,omitempty"`
}

// Topology selects how networks of a token relate to each other.
type Topology string

const (
	TopologyHubSpoke Topology = "hub_spoke"
	TopologyMesh     Topology = "mesh"
)

// ParseTopology accepts the config spellings of a topology.
func ParseTopology(s string) (Topology, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hub_spoke", "hub-spoke", "hubspoke":
		return TopologyHubSpoke, nil
	case "mesh":
		return TopologyMesh, nil
	default:
		return "", fmt.Errorf("unknown topology %q", s)
	}
}

// Direction is one side of a connection's rate limit.
type Direction int

const (
	Sending Direction = iota
	Receiving
)

func (d Direction) String() string {
	if d == Receiving {
		return "receiving"
	}
	return "sending"
}

// IsMint reports whether the direction maps to the hook's mint/unlock limit.
func (d Direction) IsMint() bool {
	return d == Receiving
}

// CanonicalAddress returns the lowercase hex form used for comparisons.
func CanonicalAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SameAddress compares two hex addresses ignoring case and checksum formatting.
func SameAddress(a, b string) bool {
	return CanonicalAddress(a) == CanonicalAddress(b)
}
