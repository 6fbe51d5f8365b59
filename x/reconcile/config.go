package reconcile

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/chain"
	"github.com/compose-network/bridge-deployer/x/execmode"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/provision"
	"github.com/compose-network/bridge-deployer/x/resource"
)

// Clients hands out the chain client of a network.
type Clients interface {
	Get(network resource.NetworkID) (chain.Client, error)
}

// Config holds the engine's collaborators.
type Config struct {
	Store        addrstore.Store
	Executor     *execmode.Executor
	Clients      Clients
	Networks     plan.Registry
	Artifacts    provision.BytecodeSource
	Verification *addrstore.VerificationLog
	Logger       zerolog.Logger
}

// Option configures the engine
type Option func(*Config)

// WithVerificationLog records created contracts for bytecode verification.
func WithVerificationLog(v *addrstore.VerificationLog) Option {
	return func(c *Config) {
		c.Verification = v
	}
}

// WithLogger sets the engine logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func (c *Config) apply() error {
	if c.Logger.GetLevel() == zerolog.NoLevel {
		c.Logger = zerolog.Nop()
	}
	if c.Store == nil {
		return errors.New("reconcile: store is required")
	}
	if c.Executor == nil {
		return errors.New("reconcile: executor is required")
	}
	if c.Clients == nil {
		return errors.New("reconcile: chain clients are required")
	}
	if len(c.Networks) == 0 {
		return errors.New("reconcile: network registry is empty")
	}
	return nil
}
