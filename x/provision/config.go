package provision

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/execmode"
)

// BytecodeSource supplies creation code by contract name.
type BytecodeSource interface {
	Bytecode(name string) ([]byte, error)
}

// Config wires the provisioner to its collaborators.
type Config struct {
	Store     addrstore.Store
	Executor  *execmode.Executor
	Artifacts BytecodeSource
	// Verification is optional; when set every created contract is logged
	// for later bytecode verification.
	Verification *addrstore.VerificationLog
	Logger       zerolog.Logger
}

func (c *Config) apply() error {
	if c.Logger.GetLevel() == zerolog.NoLevel {
		c.Logger = zerolog.Nop()
	}
	if c.Store == nil {
		return errors.New("provision: store is required")
	}
	if c.Executor == nil {
		return errors.New("provision: executor is required")
	}
	if c.Artifacts == nil && c.Executor.Mode() == execmode.Live {
		return errors.New("provision: artifacts are required in live mode")
	}
	return nil
}
