package contracts

import (
	"bytes"
	"embed"
	"fmt"
	"path"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/compose-network/bridge-deployer/x/resource"
)

// Contract ABIs embedded at compile time
//
//go:embed abi/*.json
var abiFS embed.FS

// Contract is a parsed ABI with the artifact name its bytecode is stored under.
type Contract struct {
	Name string
	ABI  abi.ABI
}

var (
	SuperToken      = mustLoad("SuperToken", "super_token.json")
	Vault           = mustLoad("Vault", "vault.json")
	Controller      = mustLoad("Controller", "controller.json")
	Hook            = mustLoad("LimitHook", "hook.json")
	ConnectorPlug   = mustLoad("ConnectorPlug", "connector_plug.json")
	Socket          = mustLoad("Socket", "socket.json")
	ExecutionHelper = mustLoad("ExecutionHelper", "execution_helper.json")
)

func mustLoad(name, file string) *Contract {
	raw, err := abiFS.ReadFile(path.Join("abi", file))
	if err != nil {
		panic(fmt.Sprintf("contracts: read %s ABI: %v", name, err))
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("contracts: parse %s ABI: %v", name, err))
	}
	return &Contract{Name: name, ABI: parsed}
}

// ForRole returns the contract deployed for a resource role.
func ForRole(role resource.Role) (*Contract, error) {
	switch role {
	case resource.RoleToken:
		return SuperToken, nil
	case resource.RoleVault:
		return Vault, nil
	case resource.RoleController:
		return Controller, nil
	case resource.RoleHook:
		return Hook, nil
	case resource.RoleConnector:
		return ConnectorPlug, nil
	case resource.RoleExecutionHelper:
		return ExecutionHelper, nil
	default:
		return nil, fmt.Errorf("contracts: no contract for role %q", role)
	}
}

// ByName returns the contract with the given artifact name.
func ByName(name string) (*Contract, error) {
	for _, c := range []*Contract{SuperToken, Vault, Controller, Hook, ConnectorPlug, Socket, ExecutionHelper} {
		if c.Name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("contracts: unknown contract %q", name)
}

// PackConstructor encodes constructor arguments, to be appended to bytecode.
func (c *Contract) PackConstructor(args ...interface{}) ([]byte, error) {
	data, err := c.ABI.Pack("", args...)
	if err != nil {
		return nil, fmt.Errorf("contracts: pack %s constructor: %w", c.Name, err)
	}
	return data, nil
}

// Pack encodes a method call.
func (c *Contract) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("contracts: pack %s.%s: %w", c.Name, method, err)
	}
	return data, nil
}

// HasMethod reports whether the ABI declares method.
func (c *Contract) HasMethod(method string) bool {
	_, ok := c.ABI.Methods[method]
	return ok
}
