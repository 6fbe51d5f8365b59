package chain

import (
	"time"

	"github.com/compose-network/bridge-deployer/x/resource"
)

// Config holds the connection and fee policy for one network.
type Config struct {
	Network resource.NetworkID

	// RPC endpoints tried in order; the first that answers eth_chainId is used.
	RPCEndpoints []string
	DialTimeout  time.Duration

	// ChainID is checked against the endpoint when non-zero.
	ChainID uint64

	// Confirmations required before a write counts as confirmed.
	Confirmations uint64
	TxTimeout     time.Duration
	PollInterval  time.Duration

	// Gas/fees configuration (EIP-1559)
	MaxFeePerGasWei   string // optional cap
	MaxPriorityFeeWei string // optional tip cap
	GasLimitBufferPct uint64
	FallbackGasLimit  uint64
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:       10 * time.Second,
		Confirmations:     1,
		TxTimeout:         2 * time.Minute,
		PollInterval:      2 * time.Second,
		GasLimitBufferPct: 20,
		FallbackGasLimit:  6_000_000,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.DialTimeout == 0 {
		c.DialTimeout = def.DialTimeout
	}
	if c.Confirmations == 0 {
		c.Confirmations = def.Confirmations
	}
	if c.TxTimeout == 0 {
		c.TxTimeout = def.TxTimeout
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if c.FallbackGasLimit == 0 {
		c.FallbackGasLimit = def.FallbackGasLimit
	}
}
