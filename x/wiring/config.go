package wiring

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/execmode"
)

type Config struct {
	Store    addrstore.Store
	Executor *execmode.Executor
	Logger   zerolog.Logger
}

func (c *Config) apply() error {
	if c.Logger.GetLevel() == zerolog.NoLevel {
		c.Logger = zerolog.Nop()
	}
	if c.Store == nil {
		return errors.New("wiring: store is required")
	}
	if c.Executor == nil {
		return errors.New("wiring: executor is required")
	}
	return nil
}
