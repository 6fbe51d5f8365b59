package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/bridge-deployer/x/chain"
	"github.com/compose-network/bridge-deployer/x/resource"
)

// Call performs a read and decodes its outputs. An empty result (no code at
// the target, or a method the contract lacks) reports chain.ErrCallReverted.
func (c *Contract) Call(ctx context.Context, client chain.Client, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := c.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	out, err := client.Call(ctx, to, data)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s.%s at %s: %w: empty result", c.Name, method, to.Hex(), chain.ErrCallReverted)
	}
	values, err := c.ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("contracts: unpack %s.%s: %w", c.Name, method, err)
	}
	return values, nil
}

func (c *Contract) ReadAddress(ctx context.Context, client chain.Client, to common.Address, method string, args ...interface{}) (common.Address, error) {
	values, err := c.Call(ctx, client, to, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(values[0], new(common.Address)).(*common.Address), nil
}

func (c *Contract) ReadUint(ctx context.Context, client chain.Client, to common.Address, method string, args ...interface{}) (*big.Int, error) {
	values, err := c.Call(ctx, client, to, method, args...)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(values[0], new(*big.Int)).(**big.Int), nil
}

// HasRole reads AccessControl membership.
func (c *Contract) HasRole(ctx context.Context, client chain.Client, to common.Address, role string, account common.Address) (bool, error) {
	values, err := c.Call(ctx, client, to, MethodHasRole, RoleID(role), account)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(values[0], new(bool)).(*bool), nil
}

// ReadLimitParams reads the hook's limit state for one connector direction.
func ReadLimitParams(ctx context.Context, client chain.Client, hook, connector common.Address, dir resource.Direction) (LimitParams, error) {
	method := "getSendingLimitParams"
	if dir.IsMint() {
		method = "getReceivingLimitParams"
	}
	values, err := Hook.Call(ctx, client, hook, method, connector)
	if err != nil {
		return LimitParams{}, err
	}
	return *abi.ConvertType(values[0], new(LimitParams)).(*LimitParams), nil
}

// ReadSocketPlugConfig reads the link through the messaging socket.
func ReadSocketPlugConfig(ctx context.Context, client chain.Client, socket, plug common.Address, siblingSlug uint32) (PlugConfig, error) {
	values, err := Socket.Call(ctx, client, socket, "getPlugConfig", plug, siblingSlug)
	if err != nil {
		return PlugConfig{}, err
	}
	return PlugConfig{
		SiblingPlug: *abi.ConvertType(values[0], new(common.Address)).(*common.Address),
		Switchboard: *abi.ConvertType(values[1], new(common.Address)).(*common.Address),
	}, nil
}

// ReadConnectorSiblingConfig asks the connector itself for its link.
func ReadConnectorSiblingConfig(ctx context.Context, client chain.Client, plug common.Address) (PlugConfig, error) {
	values, err := ConnectorPlug.Call(ctx, client, plug, "getSiblingConfig")
	if err != nil {
		return PlugConfig{}, err
	}
	return PlugConfig{
		SiblingPlug: *abi.ConvertType(values[0], new(common.Address)).(*common.Address),
		Switchboard: *abi.ConvertType(values[1], new(common.Address)).(*common.Address),
	}, nil
}
