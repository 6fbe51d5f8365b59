package contracts

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Method names used by the reconcilers.
const (
	MethodConnect               = "connect"
	MethodUpdateLimitParams     = "updateLimitParams"
	MethodUpdateConnectorPoolID = "updateConnectorPoolId"
	MethodMulticall             = "multicall"
	MethodGrantRole             = "grantRole"
	MethodRevokeRole            = "revokeRole"
	MethodHasRole               = "hasRole"
	MethodUpdateHook            = "updateHook"
	MethodSetHook               = "setHook"
)

// Well-known role names.
const (
	DefaultAdminRole  = "DEFAULT_ADMIN_ROLE"
	ControllerRole    = "CONTROLLER_ROLE"
	LimitUpdaterRole  = "LIMIT_UPDATER_ROLE"
	RescueRole        = "RESCUE_ROLE"
	PoolIDUpdaterRole = "POOL_ID_UPDATER_ROLE"
)

// RoleID is the on-chain identifier of a named role: keccak256 of the name,
// except the admin role which is zero.
func RoleID(name string) [32]byte {
	if name == DefaultAdminRole {
		return [32]byte{}
	}
	return crypto.Keccak256Hash([]byte(name))
}

// LimitParams is the hook's stored state for one connector direction.
type LimitParams struct {
	LastUpdateTimestamp *big.Int `abi:"lastUpdateTimestamp"`
	RatePerSecond       *big.Int `abi:"ratePerSecond"`
	MaxLimit            *big.Int `abi:"maxLimit"`
	LastUpdateLimit     *big.Int `abi:"lastUpdateLimit"`
}

// UpdateLimitParams is one entry of a batched limit update.
type UpdateLimitParams struct {
	IsMint        bool           `abi:"isMint"`
	Connector     common.Address `abi:"connector"`
	MaxLimit      *big.Int       `abi:"maxLimit"`
	RatePerSecond *big.Int       `abi:"ratePerSecond"`
}

// PlugConfig is a connector's current link to its sibling.
type PlugConfig struct {
	SiblingPlug common.Address
	Switchboard common.Address
}
