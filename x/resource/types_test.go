package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	r, err := ParseRole(" hook ")
	require.NoError(t, err)
	require.Equal(t, RoleHook, r)

	r, err = ParseRole("executionhelper")
	require.NoError(t, err)
	require.Equal(t, RoleExecutionHelper, r)

	_, err = ParseRole("bridge")
	require.Error(t, err)
}

func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"vault", NewKey("a", "USDC", RoleVault), false},
		{"connector", ConnectorKey("a", "USDC", "b", "fast"), false},
		{"missing network", NewKey("", "USDC", RoleVault), true},
		{"missing token", NewKey("a", "", RoleVault), true},
		{"bad role", NewKey("a", "USDC", Role("Bridge")), true},
		{"connector without variant", ConnectorKey("a", "USDC", "b", ""), true},
		{"connector to itself", ConnectorKey("a", "USDC", "a", "fast"), true},
		{"qualified vault", Key{Network: "a", Token: "USDC", Role: RoleVault, Sibling: "b"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.key.Validate()
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConnectionKeyCounterpart(t *testing.T) {
	c := ConnectionKey{Network: "hub", Token: "T", Sibling: "s1", Variant: "fast"}
	cp := c.Counterpart()
	require.Equal(t, ConnectionKey{Network: "s1", Token: "T", Sibling: "hub", Variant: "fast"}, cp)
	require.Equal(t, c, cp.Counterpart())
	require.Equal(t, ConnectorKey("hub", "T", "s1", "fast"), c.Connector())
	require.Equal(t, "hub/T->s1[fast]", c.String())
	require.Equal(t, "hub/T/Connector[s1:fast]", c.Connector().String())
}

func TestSameAddress(t *testing.T) {
	require.True(t, SameAddress("0xAbC0000000000000000000000000000000000001", "0xabc0000000000000000000000000000000000001"))
	require.False(t, SameAddress("0xabc0000000000000000000000000000000000001", "0xabc0000000000000000000000000000000000002"))
}

func TestParseTopology(t *testing.T) {
	top, err := ParseTopology("Hub-Spoke")
	require.NoError(t, err)
	require.Equal(t, TopologyHubSpoke, top)
	top, err = ParseTopology("mesh")
	require.NoError(t, err)
	require.Equal(t, TopologyMesh, top)
	_, err = ParseTopology("ring")
	require.Error(t, err)
}
