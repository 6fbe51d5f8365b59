package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/execmode"
)

// Config holds the complete application configuration
type Config struct {
	Project        string `mapstructure:"project"         yaml:"project"`
	DeploymentMode string `mapstructure:"deployment_mode" yaml:"deployment_mode"`
	Mode           string `mapstructure:"mode"            yaml:"mode"`
	Owner          string `mapstructure:"owner"           yaml:"owner"`
	OutputDir      string `mapstructure:"output_dir"      yaml:"output_dir"`
	ArtifactsDir   string `mapstructure:"artifacts_dir"   yaml:"artifacts_dir"`

	Store    StoreConfig     `mapstructure:"store"    yaml:"store"`
	Networks []NetworkConfig `mapstructure:"networks" yaml:"networks"`
	Tokens   []TokenConfig   `mapstructure:"tokens"   yaml:"tokens"`
	API      APIServerConfig `mapstructure:"api"      yaml:"api"`
	Metrics  MetricsConfig   `mapstructure:"metrics"  yaml:"metrics"`
	Log      LogConfig       `mapstructure:"log"      yaml:"log"`

	// Secrets never come from the config file.
	Secrets Secrets `mapstructure:"-" yaml:"-"`
}

// StoreConfig selects the address store backend
type StoreConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Dir     string      `mapstructure:"dir"     yaml:"dir"`
	Redis   RedisConfig `mapstructure:"redis"   yaml:"redis"`
}

// RedisConfig holds the redis backend settings. The password is a secret.
type RedisConfig struct {
	Addr    string        `mapstructure:"addr"    yaml:"addr"`
	DB      int           `mapstructure:"db"      yaml:"db"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// NetworkConfig describes one registry entry and how to reach it
type NetworkConfig struct {
	ID                string            `mapstructure:"id"                   yaml:"id"`
	ChainSlug         uint32            `mapstructure:"chain_slug"           yaml:"chain_slug"`
	ChainID           uint64            `mapstructure:"chain_id"             yaml:"chain_id"`
	RPCEndpoints      []string          `mapstructure:"rpc_endpoints"        yaml:"rpc_endpoints"`
	Socket            string            `mapstructure:"socket"               yaml:"socket"`
	Switchboards      map[string]string `mapstructure:"switchboards"         yaml:"switchboards"`
	Confirmations     uint64            `mapstructure:"confirmations"        yaml:"confirmations"`
	TxTimeout         time.Duration     `mapstructure:"tx_timeout"           yaml:"tx_timeout"`
	MaxFeePerGasWei   string            `mapstructure:"max_fee_per_gas_wei"  yaml:"max_fee_per_gas_wei"`
	MaxPriorityFeeWei string            `mapstructure:"max_priority_fee_wei" yaml:"max_priority_fee_wei"`
	GasLimitBufferPct uint64            `mapstructure:"gas_limit_buffer_pct" yaml:"gas_limit_buffer_pct"`
}

// TokenConfig is the declarative desired state of one token
type TokenConfig struct {
	ID              string                                    `mapstructure:"id"               yaml:"id"`
	Topology        string                                    `mapstructure:"topology"         yaml:"topology"`
	Hub             string                                    `mapstructure:"hub"              yaml:"hub"`
	Spokes          []string                                  `mapstructure:"spokes"           yaml:"spokes"`
	Networks        []string                                  `mapstructure:"networks"         yaml:"networks"`
	TokenName       string                                    `mapstructure:"token_name"       yaml:"token_name"`
	TokenSymbol     string                                    `mapstructure:"token_symbol"     yaml:"token_symbol"`
	Decimals        uint8                                     `mapstructure:"decimals"         yaml:"decimals"`
	Owner           string                                    `mapstructure:"owner"            yaml:"owner"`
	ExistingTokens  map[string]string                         `mapstructure:"existing_tokens"  yaml:"existing_tokens"`
	Variants        map[string][]string                       `mapstructure:"variants"         yaml:"variants"`
	ExecutionHelper bool                                      `mapstructure:"execution_helper" yaml:"execution_helper"`
	Limits          map[string]map[string]map[string]LimitSet `mapstructure:"limits"           yaml:"limits"`
	PoolIDs         map[string]map[string]map[string]uint64   `mapstructure:"pool_ids"         yaml:"pool_ids"`
	Roles           []RoleConfig                              `mapstructure:"roles"            yaml:"roles"`
}

// LimitSet holds the desired limits of both directions of one connection
type LimitSet struct {
	Sending   *LimitConfig `mapstructure:"sending"   yaml:"sending"`
	Receiving *LimitConfig `mapstructure:"receiving" yaml:"receiving"`
}

// LimitConfig is a decimal max/rate pair. Values are strings so amounts
// above 2^64 survive YAML decoding.
type LimitConfig struct {
	Max  string `mapstructure:"max"  yaml:"max"`
	Rate string `mapstructure:"rate" yaml:"rate"`
}

// RoleConfig requests role membership changes on a resource
type RoleConfig struct {
	Network  string   `mapstructure:"network"  yaml:"network"`
	Resource string   `mapstructure:"resource" yaml:"resource"`
	Role     string   `mapstructure:"role"     yaml:"role"`
	Grant    []string `mapstructure:"grant"    yaml:"grant"`
	Revoke   []string `mapstructure:"revoke"   yaml:"revoke"`
}

// APIServerConfig holds the optional status API configuration
type APIServerConfig struct {
	Enabled           bool          `mapstructure:"enabled"             yaml:"enabled"`
	ListenAddr        string        `mapstructure:"listen_addr"         yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"        yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"       yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"        yaml:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"    yaml:"max_header_bytes"`
}

// MetricsConfig holds metrics configuration. Metrics are served by the
// status API.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path"    yaml:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// Secrets are read from DEPLOYER_* environment variables.
type Secrets struct {
	PrivateKey    string `envconfig:"PRIVATE_KEY"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process("deployer", &cfg.Secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets: %w", err)
	}

	// Endpoints may be kept out of the file: RPC_<NETWORK_ID>, comma separated.
	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		if len(n.RPCEndpoints) > 0 {
			continue
		}
		if env := strings.TrimSpace(os.Getenv(RPCEnvName(n.ID))); env != "" {
			n.RPCEndpoints = splitList(env)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// RPCEnvName is the environment variable consulted for a network whose
// rpc_endpoints are empty.
func RPCEnvName(network string) string {
	name := strings.ToUpper(strings.TrimSpace(network))
	name = strings.NewReplacer("-", "_", ".", "_").Replace(name)
	return "RPC_" + name
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("project", "bridge")
	v.SetDefault("deployment_mode", "dev")
	v.SetDefault("mode", "dry-run")
	v.SetDefault("output_dir", "deployments")
	v.SetDefault("artifacts_dir", "artifacts")

	v.SetDefault("store.backend", addrstore.BackendFile)
	v.SetDefault("store.dir", "")
	v.SetDefault("store.redis.addr", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.timeout", "5s")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen_addr", ":8081")
	v.SetDefault("api.read_header_timeout", "5s")
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "30s")
	v.SetDefault("api.idle_timeout", "120s")
	v.SetDefault("api.max_header_bytes", 1048576)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateGeneral(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateNetworks(); err != nil {
		return err
	}
	if err := c.validateTokens(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateGeneral() error {
	if strings.TrimSpace(c.Project) == "" {
		return fmt.Errorf("project is required")
	}
	switch c.DeploymentMode {
	case "dev", "prod":
	default:
		return fmt.Errorf("deployment_mode must be dev or prod, got %q", c.DeploymentMode)
	}
	if _, err := execmode.ParseMode(c.Mode); err != nil {
		return fmt.Errorf("mode: %w", err)
	}
	if strings.TrimSpace(c.Owner) != "" {
		if err := validateAddress(c.Owner); err != nil {
			return fmt.Errorf("owner: %w", err)
		}
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return fmt.Errorf("output_dir is required")
	}
	return nil
}

func (c *Config) validateStore() error {
	switch c.Store.Backend {
	case addrstore.BackendFile, addrstore.BackendSQLite, addrstore.BackendMemory:
	case addrstore.BackendRedis:
		if strings.TrimSpace(c.Store.Redis.Addr) == "" {
			return fmt.Errorf("store.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("store.backend %q is not one of file, sqlite, redis, memory", c.Store.Backend)
	}
	return nil
}

func (c *Config) validateNetworks() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("networks must not be empty")
	}
	seen := make(map[string]bool, len(c.Networks))
	slugs := make(map[uint32]string, len(c.Networks))
	for i, n := range c.Networks {
		id := normalizeID(n.ID)
		if id == "" {
			return fmt.Errorf("networks[%d].id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("network %s is declared more than once", id)
		}
		seen[id] = true
		if n.ChainSlug == 0 {
			return fmt.Errorf("network %s: chain_slug must be positive", id)
		}
		if other, dup := slugs[n.ChainSlug]; dup {
			return fmt.Errorf("network %s: chain_slug %d already used by %s", id, n.ChainSlug, other)
		}
		slugs[n.ChainSlug] = id
		if len(n.RPCEndpoints) == 0 {
			return fmt.Errorf("network %s: rpc_endpoints must be provided (or set %s)", id, RPCEnvName(n.ID))
		}
		if err := validateAddress(n.Socket); err != nil {
			return fmt.Errorf("network %s: socket: %w", id, err)
		}
		if len(n.Switchboards) == 0 {
			return fmt.Errorf("network %s: at least one switchboard is required", id)
		}
		for variant, addr := range n.Switchboards {
			if err := validateAddress(addr); err != nil {
				return fmt.Errorf("network %s: switchboard %s: %w", id, variant, err)
			}
		}
	}
	return nil
}

// validateTokens checks only what cannot be expressed as a plan. Topology
// problems are reported per token when the plan is resolved.
func (c *Config) validateTokens() error {
	seen := make(map[string]bool, len(c.Tokens))
	for i, t := range c.Tokens {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return fmt.Errorf("tokens[%d].id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("token %s is declared more than once", id)
		}
		seen[id] = true

		owner := t.Owner
		if strings.TrimSpace(owner) == "" {
			owner = c.Owner
		}
		if err := validateAddress(owner); err != nil {
			return fmt.Errorf("token %s: owner (or the global owner): %w", id, err)
		}
		for network, addr := range t.ExistingTokens {
			if err := validateAddress(addr); err != nil {
				return fmt.Errorf("token %s: existing_tokens.%s: %w", id, network, err)
			}
		}
		for network, siblings := range t.Limits {
			for sibling, variants := range siblings {
				for variant, set := range variants {
					if _, err := set.toPlan(); err != nil {
						return fmt.Errorf("token %s: limits.%s.%s.%s: %w", id, network, sibling, variant, err)
					}
				}
			}
		}
	}
	return nil
}

func (c *Config) validateAPI() error {
	if !c.API.Enabled {
		return nil
	}
	if strings.TrimSpace(c.API.ListenAddr) == "" {
		return fmt.Errorf("api.listen_addr is required when the api is enabled")
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	return nil
}

// ExecMode returns the parsed execution mode.
func (c *Config) ExecMode() execmode.Mode {
	m, _ := execmode.ParseMode(c.Mode)
	return m
}

// StoreDir is the directory holding address maps, defaulting to output_dir.
func (c *Config) StoreDir() string {
	if strings.TrimSpace(c.Store.Dir) != "" {
		return c.Store.Dir
	}
	return c.OutputDir
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Project:        "bridge",
		DeploymentMode: "dev",
		Mode:           execmode.DryRun.String(),
		OutputDir:      "deployments",
		ArtifactsDir:   "artifacts",
		Store: StoreConfig{
			Backend: addrstore.BackendFile,
			Redis:   RedisConfig{Timeout: 5 * time.Second},
		},
		API: APIServerConfig{
			ListenAddr:        ":8081",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
