// Package chaintest provides an in-memory chain.Client that understands the
// bridge contract ABIs, for exercising the reconcilers without a node.
package chaintest

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/compose-network/bridge-deployer/x/chain"
	"github.com/compose-network/bridge-deployer/x/chain/contracts"
	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/resource"
)

const markerPrefix = "FAKE:"

// Marker is the creation code the fake accepts for a contract name.
func Marker(name string) []byte {
	return []byte(markerPrefix + name)
}

// Artifacts serves marker bytecode for every contract.
type Artifacts struct{}

func (Artifacts) Bytecode(name string) ([]byte, error) {
	if _, err := contracts.ByName(name); err != nil {
		return nil, err
	}
	return Marker(name), nil
}

// Write is one applied transaction.
type Write struct {
	To     common.Address
	Method string
	Args   []interface{}
}

type state struct {
	contract *contracts.Contract
	ctor     []interface{}

	roles   map[[32]byte]map[common.Address]bool
	hook    common.Address
	sibling contracts.PlugConfig
	slug    uint32

	sending   map[common.Address]contracts.LimitParams
	receiving map[common.Address]contracts.LimitParams
	poolIDs   map[common.Address]*big.Int
}

func newState(c *contracts.Contract, ctor []interface{}) *state {
	return &state{
		contract:  c,
		ctor:      ctor,
		roles:     make(map[[32]byte]map[common.Address]bool),
		sending:   make(map[common.Address]contracts.LimitParams),
		receiving: make(map[common.Address]contracts.LimitParams),
		poolIDs:   make(map[common.Address]*big.Int),
	}
}

// Chain is a single fake network.
type Chain struct {
	network resource.NetworkID
	chainID uint64
	from    common.Address
	origin  common.Address

	mu          sync.Mutex
	nonce       uint64
	block       uint64
	code        map[common.Address]*state
	writes      []Write
	deploys     int
	reads       int
	failNext    map[string]error
	unsupported map[string]bool
}

var _ chain.Client = (*Chain)(nil)

// New returns an empty fake network. Contract addresses are derived from
// the network name so they never collide across networks.
func New(network resource.NetworkID, chainID uint64) *Chain {
	return &Chain{
		network:     network,
		chainID:     chainID,
		from:        common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		origin:      common.BytesToAddress(crypto.Keccak256([]byte(network))),
		code:        make(map[common.Address]*state),
		failNext:    make(map[string]error),
		unsupported: make(map[string]bool),
	}
}

func (c *Chain) Network() resource.NetworkID { return c.network }
func (c *Chain) ChainID() uint64             { return c.chainID }
func (c *Chain) From() common.Address        { return c.from }

// InstallSocket places a messaging socket at addr.
func (c *Chain) InstallSocket(addr common.Address) {
	c.Install(addr, contracts.Socket)
}

// Install places a pre-existing contract at addr, such as an imported token.
func (c *Chain) Install(addr common.Address, contract *contracts.Contract) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.code[addr] = newState(contract, nil)
}

// Unsupported makes reads of method revert, as on contracts built before
// the method existed.
func (c *Chain) Unsupported(method string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsupported[method] = true
}

// FailNext makes the next write of method fail with err. Use "deploy:<Name>"
// for contract creations.
func (c *Chain) FailNext(method string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext[method] = err
}

// Writes returns applied transactions, deployments excluded.
func (c *Chain) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Write, len(c.writes))
	copy(out, c.writes)
	return out
}

// Deploys counts contract creations.
func (c *Chain) Deploys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deploys
}

// Reads counts calls.
func (c *Chain) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// ResetCounters forgets recorded writes, deploys and reads.
func (c *Chain) ResetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes, c.deploys, c.reads = nil, 0, 0
}

// HasCode reports whether a contract lives at addr.
func (c *Chain) HasCode(addr common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.code[addr]
	return ok
}

// ContractAt returns the contract name at addr.
func (c *Chain) ContractAt(addr common.Address) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.code[addr]; ok {
		return s.contract.Name
	}
	return ""
}

// Constructor returns the decoded constructor arguments of a deployment.
func (c *Chain) Constructor(addr common.Address) []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.code[addr]; ok {
		return s.ctor
	}
	return nil
}

// HasRole reads membership directly.
func (c *Chain) HasRole(addr common.Address, role string, account common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.code[addr]
	return ok && s.roles[contracts.RoleID(role)][account]
}

// SetRole changes membership out of band.
func (c *Chain) SetRole(addr common.Address, role string, account common.Address, member bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.code[addr]; ok {
		s.setRole(contracts.RoleID(role), account, member)
	}
}

// HookOf returns the hook a vault, controller or execution helper points at.
func (c *Chain) HookOf(addr common.Address) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.code[addr]; ok {
		return s.hook
	}
	return common.Address{}
}

// SiblingOf returns a connector's link.
func (c *Chain) SiblingOf(plug common.Address) contracts.PlugConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.code[plug]; ok {
		return s.sibling
	}
	return contracts.PlugConfig{}
}

// Connect links a connector out of band.
func (c *Chain) Connect(plug common.Address, cfg contracts.PlugConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.code[plug]; ok {
		s.sibling = cfg
	}
}

// LimitOf returns the stored limit of a hook for one connector direction.
func (c *Chain) LimitOf(hook, connector common.Address, dir resource.Direction) contracts.LimitParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.code[hook]
	if !ok {
		return zeroLimit()
	}
	m := s.sending
	if dir.IsMint() {
		m = s.receiving
	}
	if p, ok := m[connector]; ok {
		return p
	}
	return zeroLimit()
}

// PoolIDOf returns the pool id a hook holds for connector.
func (c *Chain) PoolIDOf(hook, connector common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.code[hook]; ok {
		if id, ok := s.poolIDs[connector]; ok {
			return id
		}
	}
	return new(big.Int)
}

func zeroLimit() contracts.LimitParams {
	return contracts.LimitParams{
		LastUpdateTimestamp: new(big.Int),
		RatePerSecond:       new(big.Int),
		MaxLimit:            new(big.Int),
		LastUpdateLimit:     new(big.Int),
	}
}

func (s *state) setRole(role [32]byte, account common.Address, member bool) {
	if s.roles[role] == nil {
		s.roles[role] = make(map[common.Address]bool)
	}
	if member {
		s.roles[role][account] = true
	} else {
		delete(s.roles[role], account)
	}
}

// Call answers a read. Unknown addresses return empty output like an
// address without code.
func (c *Chain) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++

	s, ok := c.code[to]
	if !ok || len(data) < 4 {
		return nil, nil
	}
	method, err := s.contract.ABI.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: %s has no method %x", chain.ErrCallReverted, s.contract.Name, data[:4])
	}
	if c.unsupported[method.Name] {
		return nil, fmt.Errorf("%w: %s.%s", chain.ErrCallReverted, s.contract.Name, method.Name)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", chain.ErrCallReverted, method.Name, err)
	}

	var out []interface{}
	switch method.Name {
	case contracts.MethodHasRole:
		role := args[0].([32]byte)
		out = []interface{}{s.roles[role][args[1].(common.Address)]}
	case "hook__", "hook":
		out = []interface{}{s.hook}
	case "token":
		out = []interface{}{s.ctor[0]}
	case "decimals":
		if len(s.ctor) > 2 {
			out = []interface{}{s.ctor[2]}
		} else {
			out = []interface{}{uint8(18)}
		}
	case "getSendingLimitParams", "getReceivingLimitParams":
		m := s.sending
		if method.Name == "getReceivingLimitParams" {
			m = s.receiving
		}
		p, ok := m[args[0].(common.Address)]
		if !ok {
			p = zeroLimit()
		}
		out = []interface{}{p}
	case "connectorPoolIds", "poolIds":
		id, ok := s.poolIDs[args[0].(common.Address)]
		if !ok {
			id = new(big.Int)
		}
		out = []interface{}{id}
	case "getSiblingConfig":
		out = []interface{}{s.sibling.SiblingPlug, s.sibling.Switchboard}
	case "siblingChainSlug":
		out = []interface{}{s.slug}
	case "getPlugConfig":
		cfg := contracts.PlugConfig{}
		if plug, ok := c.code[args[0].(common.Address)]; ok && plug.slug == args[1].(uint32) {
			cfg = plug.sibling
		}
		out = []interface{}{cfg.SiblingPlug, cfg.Switchboard, cfg.Switchboard, common.Address{}, common.Address{}}
	default:
		return nil, fmt.Errorf("%w: %s.%s is write-only", chain.ErrCallReverted, s.contract.Name, method.Name)
	}
	return method.Outputs.Pack(out...)
}

// Send applies a write.
func (c *Chain) Send(_ context.Context, to common.Address, data []byte) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.code[to]
	if !ok || len(data) < 4 {
		return nil, deployerr.NewWriteReverted("no contract at %s on %s", to.Hex(), c.network)
	}
	method, err := s.contract.ABI.MethodById(data[:4])
	if err != nil {
		return nil, deployerr.NewWriteReverted("%s has no method %x", s.contract.Name, data[:4])
	}
	if err, ok := c.failNext[method.Name]; ok {
		delete(c.failNext, method.Name)
		return nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, deployerr.NewWriteReverted("decode %s: %v", method.Name, err)
	}
	if err := c.apply(s, method, args); err != nil {
		return nil, err
	}
	c.writes = append(c.writes, Write{To: to, Method: method.Name, Args: args})
	return c.receipt(common.Address{}), nil
}

func (c *Chain) apply(s *state, method *abi.Method, args []interface{}) error {
	switch method.Name {
	case contracts.MethodConnect:
		s.sibling = contracts.PlugConfig{SiblingPlug: args[0].(common.Address), Switchboard: args[1].(common.Address)}
	case contracts.MethodUpdateLimitParams:
		var updates []contracts.UpdateLimitParams
		if err := method.Inputs.Copy(&updates, args); err != nil {
			return deployerr.NewWriteReverted("decode limit updates: %v", err)
		}
		for _, u := range updates {
			p := contracts.LimitParams{
				LastUpdateTimestamp: new(big.Int).SetUint64(c.block),
				RatePerSecond:       new(big.Int).Set(u.RatePerSecond),
				MaxLimit:            new(big.Int).Set(u.MaxLimit),
				LastUpdateLimit:     new(big.Int).Set(u.MaxLimit),
			}
			if u.IsMint {
				s.receiving[u.Connector] = p
			} else {
				s.sending[u.Connector] = p
			}
		}
	case contracts.MethodUpdateConnectorPoolID:
		connectors := args[0].([]common.Address)
		ids := args[1].([]*big.Int)
		if len(connectors) != len(ids) {
			return deployerr.NewWriteReverted("pool id length mismatch")
		}
		for i, conn := range connectors {
			s.poolIDs[conn] = ids[i]
		}
	case contracts.MethodMulticall:
		for _, inner := range args[0].([][]byte) {
			m, err := s.contract.ABI.MethodById(inner[:4])
			if err != nil {
				return deployerr.NewWriteReverted("multicall: %v", err)
			}
			innerArgs, err := m.Inputs.Unpack(inner[4:])
			if err != nil {
				return deployerr.NewWriteReverted("multicall %s: %v", m.Name, err)
			}
			if err := c.apply(s, m, innerArgs); err != nil {
				return err
			}
		}
	case contracts.MethodGrantRole:
		s.setRole(args[0].([32]byte), args[1].(common.Address), true)
	case contracts.MethodRevokeRole:
		s.setRole(args[0].([32]byte), args[1].(common.Address), false)
	case contracts.MethodUpdateHook, contracts.MethodSetHook:
		s.hook = args[0].(common.Address)
	default:
		return deployerr.NewWriteReverted("%s.%s is not a write", s.contract.Name, method.Name)
	}
	return nil
}

// Deploy creates a contract from Marker bytecode.
func (c *Chain) Deploy(_ context.Context, bytecode, ctorArgs []byte) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !bytes.HasPrefix(bytecode, []byte(markerPrefix)) {
		return nil, deployerr.NewWriteReverted("unrecognised creation code on %s", c.network)
	}
	contract, err := contracts.ByName(string(bytecode[len(markerPrefix):]))
	if err != nil {
		return nil, deployerr.NewWriteReverted("%v", err)
	}
	if err, ok := c.failNext["deploy:"+contract.Name]; ok {
		delete(c.failNext, "deploy:"+contract.Name)
		return nil, err
	}
	ctor, err := contract.ABI.Constructor.Inputs.Unpack(ctorArgs)
	if err != nil {
		return nil, deployerr.NewWriteReverted("decode %s constructor: %v", contract.Name, err)
	}

	addr := crypto.CreateAddress(c.origin, c.nonce)
	s := newState(contract, ctor)
	switch contract {
	case contracts.SuperToken:
		s.setRole(contracts.RoleID(contracts.DefaultAdminRole), ctor[3].(common.Address), true)
	case contracts.ConnectorPlug:
		s.slug = ctor[2].(uint32)
	}
	c.code[addr] = s
	c.deploys++
	return c.receipt(addr), nil
}

func (c *Chain) receipt(created common.Address) *chain.Receipt {
	c.nonce++
	c.block++
	return &chain.Receipt{
		TxHash:          crypto.Keccak256Hash([]byte(c.network), new(big.Int).SetUint64(c.nonce).Bytes()),
		BlockNumber:     c.block,
		GasUsed:         21_000,
		ContractAddress: created,
	}
}

// Addresses lists every contract on the chain, sorted.
func (c *Chain) Addresses() []common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]common.Address, 0, len(c.code))
	for a := range c.code {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}
