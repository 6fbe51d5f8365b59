package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/bridge-deployer/x/addrstore"
	"github.com/compose-network/bridge-deployer/x/execmode"
	"github.com/compose-network/bridge-deployer/x/plan"
	"github.com/compose-network/bridge-deployer/x/resource"
)

const sampleConfig = `
project: superbridge
deployment_mode: prod
mode: live
owner: "0x0000000000000000000000000000000000000001"
output_dir: out
networks:
  - id: Hub-Chain
    chain_slug: 1
    chain_id: 11
    rpc_endpoints: ["http://hub-1", "http://hub-2"]
    socket: "0x0000000000000000000000000000000000000501"
    switchboards: { FAST: "0x0000000000000000000000000000000000000f01" }
    tx_timeout: 90s
  - id: spoke-a
    chain_slug: 2
    socket: "0x0000000000000000000000000000000000000502"
    switchboards: { fast: "0x0000000000000000000000000000000000000f02" }
tokens:
  - id: USDC
    topology: hub-spoke
    hub: hub-chain
    spokes: [spoke-a]
    token_name: USD Coin
    token_symbol: USDC
    decimals: 6
    existing_tokens: { spoke-a: "0x00000000000000000000000000000000000000a1" }
    variants: { hub-chain: [fast], spoke-a: [fast] }
    limits:
      spoke-a:
        hub-chain:
          fast:
            sending: { max: "100000000000000000000000", rate: 1 }
            receiving: { max: "1000", rate: "1" }
    pool_ids: { hub-chain: { spoke-a: { fast: 7 } } }
    roles:
      - { network: "*", resource: hook, role: LIMIT_UPDATER_ROLE, grant: ["0x00000000000000000000000000000000000000bb"] }
      - { network: Hub-Chain, resource: Token, role: MINTER_ROLE, grant: ["@Controller"], revoke: ["0x00000000000000000000000000000000000000cc"] }
  - id: MESHY
    topology: ring
    networks: [hub-chain, spoke-a]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("DEPLOYER_PRIVATE_KEY", "0xabc")
	t.Setenv("DEPLOYER_REDIS_PASSWORD", "hunter2")
	t.Setenv("RPC_SPOKE_A", "http://spoke-1, http://spoke-2")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "superbridge", cfg.Project)
	assert.Equal(t, execmode.Live, cfg.ExecMode())
	assert.Equal(t, "0xabc", cfg.Secrets.PrivateKey)
	assert.Equal(t, "hunter2", cfg.Secrets.RedisPassword)
	assert.Equal(t, []string{"http://spoke-1", "http://spoke-2"}, cfg.Networks[1].RPCEndpoints)

	// defaults
	assert.Equal(t, addrstore.BackendFile, cfg.Store.Backend)
	assert.Equal(t, "out", cfg.StoreDir())
	assert.Equal(t, ":8081", cfg.API.ListenAddr)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, "info", cfg.Log.Level)

	sc := cfg.StoreConfig(zerolog.Nop())
	assert.Equal(t, "prod", sc.DeploymentMode)
	assert.Equal(t, "hunter2", sc.Redis.Password)
	assert.Equal(t, 5*time.Second, sc.Redis.Timeout)
}

func TestRegistryAndChainConfigs(t *testing.T) {
	t.Setenv("RPC_SPOKE_A", "http://spoke-1")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	reg := cfg.Registry()
	require.Len(t, reg, 2)
	hub := reg["hub-chain"]
	assert.Equal(t, uint32(1), hub.ChainSlug)
	assert.Equal(t, common.HexToAddress("0x501"), hub.Socket)
	assert.Equal(t, common.HexToAddress("0xf01"), hub.Switchboards["fast"])

	ccs := cfg.ChainConfigs()
	require.Len(t, ccs, 2)
	assert.Equal(t, resource.NetworkID("hub-chain"), ccs[0].Network)
	assert.Equal(t, uint64(11), ccs[0].ChainID)
	assert.Equal(t, 90*time.Second, ccs[0].TxTimeout)
	assert.Equal(t, 2*time.Minute, ccs[1].TxTimeout)
	assert.Equal(t, uint64(1), ccs[1].Confirmations)
}

func TestTokenConfigs(t *testing.T) {
	t.Setenv("RPC_SPOKE_A", "http://spoke-1")
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	tokens, err := cfg.TokenConfigs([]string{"USDC"})
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	tc := tokens[0]

	assert.Equal(t, resource.TopologyHubSpoke, tc.Topology)
	assert.Equal(t, resource.NetworkID("hub-chain"), tc.Hub)
	assert.Equal(t, []resource.NetworkID{"spoke-a"}, tc.Spokes)
	assert.Equal(t, uint8(6), tc.Decimals)
	assert.Equal(t, common.HexToAddress("0x1"), tc.Owner)
	assert.Equal(t, common.HexToAddress("0xa1"), tc.ExistingTokens["spoke-a"])
	assert.Equal(t, []resource.Variant{"fast"}, tc.Variants["hub-chain"])

	limits := tc.Limits["spoke-a"]["hub-chain"]["fast"]
	want, _ := new(big.Int).SetString("100000000000000000000000", 10)
	require.NotNil(t, limits.Sending)
	assert.Zero(t, want.Cmp(limits.Sending.Max))
	assert.True(t, limits.Receiving.Equal(big.NewInt(1000), big.NewInt(1)))
	assert.Equal(t, uint64(7), tc.PoolIDs["hub-chain"]["spoke-a"]["fast"])

	require.Len(t, tc.Roles, 2)
	assert.Equal(t, plan.AllNetworks, tc.Roles[0].Network)
	assert.Equal(t, resource.RoleHook, tc.Roles[0].Resource)
	assert.Equal(t, resource.NetworkID("hub-chain"), tc.Roles[1].Network)
	assert.Equal(t, resource.RoleToken, tc.Roles[1].Resource)
	assert.Equal(t, []string{"@Controller"}, tc.Roles[1].Grant)

	p, err := plan.Resolve(tc, cfg.Registry())
	require.NoError(t, err)
	assert.Len(t, p.Connections, 2)

	all, err := cfg.TokenConfigs(nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	_, err = plan.Resolve(all[1], cfg.Registry())
	require.Error(t, err, "unknown topology is rejected by the resolver, not at load time")

	_, err = cfg.TokenConfigs([]string{"USDC", "DAI"})
	require.ErrorContains(t, err, "unknown token(s): DAI")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.Owner = "0x0000000000000000000000000000000000000001"
		c.Networks = []NetworkConfig{{
			ID:           "a",
			ChainSlug:    1,
			RPCEndpoints: []string{"http://a"},
			Socket:       "0x0000000000000000000000000000000000000501",
			Switchboards: map[string]string{"fast": "0x0000000000000000000000000000000000000f01"},
		}}
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"bad mode", func(c *Config) { c.Mode = "sometimes" }, "mode"},
		{"bad deployment mode", func(c *Config) { c.DeploymentMode = "qa" }, "deployment_mode"},
		{"bad owner", func(c *Config) { c.Owner = "0x12" }, "owner"},
		{"no networks", func(c *Config) { c.Networks = nil }, "networks must not be empty"},
		{"duplicate network", func(c *Config) {
			n := c.Networks[0]
			n.ChainSlug = 2
			n.ID = "A"
			c.Networks = append(c.Networks, n)
		}, "declared more than once"},
		{"duplicate slug", func(c *Config) {
			n := c.Networks[0]
			n.ID = "b"
			c.Networks = append(c.Networks, n)
		}, "chain_slug 1 already used"},
		{"no endpoints", func(c *Config) { c.Networks[0].RPCEndpoints = nil }, "RPC_A"},
		{"bad socket", func(c *Config) { c.Networks[0].Socket = "socket" }, "socket"},
		{"bad switchboard", func(c *Config) { c.Networks[0].Switchboards["fast"] = "0x" }, "switchboard fast"},
		{"redis without addr", func(c *Config) { c.Store.Backend = addrstore.BackendRedis }, "store.redis.addr"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "s3" }, "store.backend"},
		{"token without owner", func(c *Config) {
			c.Owner = ""
			c.Tokens = []TokenConfig{{ID: "T"}}
		}, "token T: owner"},
		{"duplicate token", func(c *Config) { c.Tokens = []TokenConfig{{ID: "T"}, {ID: "T"}} }, "declared more than once"},
		{"bad limit", func(c *Config) {
			c.Tokens = []TokenConfig{{ID: "T", Limits: map[string]map[string]map[string]LimitSet{
				"a": {"b": {"fast": {Sending: &LimitConfig{Max: "1e3", Rate: "1"}}}},
			}}}
		}, "limits.a.b.fast"},
		{"negative limit", func(c *Config) {
			c.Tokens = []TokenConfig{{ID: "T", Limits: map[string]map[string]map[string]LimitSet{
				"a": {"b": {"fast": {Receiving: &LimitConfig{Max: "10", Rate: "-1"}}}},
			}}}
		}, "negative"},
		{"api without addr", func(c *Config) {
			c.API.Enabled = true
			c.API.ListenAddr = ""
		}, "api.listen_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorContains(t, err, "failed to read config file")
}

func TestRPCEnvName(t *testing.T) {
	assert.Equal(t, "RPC_HUB_CHAIN", RPCEnvName("hub-chain"))
	assert.Equal(t, "RPC_OP_MAINNET", RPCEnvName(" op.mainnet "))
}

func TestValidateAddressChecksum(t *testing.T) {
	valid := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		"0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED",
	}
	for _, addr := range valid {
		require.NoError(t, validateAddress(addr), addr)
	}

	err := validateAddress("0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	require.ErrorContains(t, err, "checksum")
	require.ErrorContains(t, validateAddress("0x5aAeb6053F3E94C9b9A09f"), "not a hex address")

	c := Default()
	c.Owner = "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	require.ErrorContains(t, c.Validate(), "owner")
}
