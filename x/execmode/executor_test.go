package execmode

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/bridge-deployer/x/chain/chaintest"
	"github.com/compose-network/bridge-deployer/x/chain/contracts"
	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/resource"
)

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"live": Live, "LIVE": Live, "dry-run": DryRun, "dryrun": DryRun, "": DryRun} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
	_, err := ParseMode("maybe")
	require.Error(t, err)
	require.Equal(t, "dry-run", DryRun.String())
}

func grantCall(t *testing.T, to common.Address) Call {
	t.Helper()
	data, err := contracts.SuperToken.Pack(contracts.MethodGrantRole, contracts.RoleID(contracts.ControllerRole), common.Address{7})
	require.NoError(t, err)
	return Call{
		Target:   resource.NewKey("H", "T", resource.RoleToken),
		To:       to,
		Contract: contracts.SuperToken.Name,
		Method:   contracts.MethodGrantRole,
		Args:     []string{contracts.ControllerRole, common.Address{7}.Hex()},
		Data:     data,
	}
}

func TestExecutor_DryRunRecordsAndNeverApplies(t *testing.T) {
	fake := chaintest.New("H", 1)
	token := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	fake.Install(token, contracts.SuperToken)

	ex := NewExecutor(DryRun, nil, zerolog.Nop())
	out, err := ex.Execute(context.Background(), fake, grantCall(t, token))
	require.NoError(t, err)
	require.False(t, out.Applied())
	require.Equal(t, Recorded, out.Status())
	require.NotNil(t, out.Recorded())
	require.Equal(t, token.Hex(), out.Recorded().To)

	_, err = out.Receipt()
	require.True(t, deployerr.IsType(err, deployerr.ErrorTypeDryRunAssumptionViolation))
	_, err = out.Address()
	require.ErrorIs(t, err, deployerr.ErrDryRunAssumptionViolation)

	require.Empty(t, fake.Writes())
	require.Equal(t, 1, ex.Summary().Len())
	require.False(t, fake.HasRole(token, contracts.ControllerRole, common.Address{7}))
}

func TestExecutor_LiveSubmits(t *testing.T) {
	fake := chaintest.New("H", 1)
	token := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	fake.Install(token, contracts.SuperToken)

	ex := NewExecutor(Live, nil, zerolog.Nop())
	out, err := ex.Execute(context.Background(), fake, grantCall(t, token))
	require.NoError(t, err)
	require.True(t, out.Applied())
	require.Equal(t, Applied, out.Status())
	receipt, err := out.Receipt()
	require.NoError(t, err)
	require.NotZero(t, receipt.BlockNumber)
	require.True(t, fake.HasRole(token, contracts.ControllerRole, common.Address{7}))
	require.Zero(t, ex.Summary().Len())
}

func TestExecutor_LiveFailureIsWrapped(t *testing.T) {
	fake := chaintest.New("H", 1)
	ex := NewExecutor(Live, nil, zerolog.Nop())
	_, err := ex.Execute(context.Background(), fake, grantCall(t, common.Address{9}))
	require.True(t, deployerr.IsType(err, deployerr.ErrorTypeWriteReverted))
	require.ErrorContains(t, err, "SuperToken.grantRole")
}

func TestExecutor_Deploy(t *testing.T) {
	fake := chaintest.New("H", 1)
	ctor, err := contracts.ExecutionHelper.PackConstructor(common.Address{1})
	require.NoError(t, err)
	d := Deployment{
		Target:   resource.NewKey("H", "T", resource.RoleExecutionHelper),
		Contract: contracts.ExecutionHelper.Name,
		Args:     []string{common.Address{1}.Hex()},
		Bytecode: chaintest.Marker(contracts.ExecutionHelper.Name),
		CtorArgs: ctor,
	}

	dry := NewExecutor(DryRun, nil, zerolog.Nop())
	out, err := dry.Deploy(context.Background(), fake, d)
	require.NoError(t, err)
	require.Equal(t, MethodDeploy, out.Recorded().Method)
	_, err = out.Address()
	require.Error(t, err)
	require.Zero(t, fake.Deploys())

	live := NewExecutor(Live, nil, zerolog.Nop())
	out, err = live.Deploy(context.Background(), fake, d)
	require.NoError(t, err)
	addr, err := out.Address()
	require.NoError(t, err)
	require.True(t, fake.HasCode(addr))
}

func TestWriteBatches(t *testing.T) {
	s := NewChangeSummary()
	s.Add(Change{Network: "H", ChainID: 10, To: "0xabc", Method: "connect", Calldata: "0x01"})
	s.Add(Change{Network: "H", ChainID: 10, Contract: "Vault", Method: MethodDeploy, Args: []string{"0x1"}})
	s.Add(Change{Network: "S1", ChainID: 20, To: "0xdef", Method: "grantRole", Calldata: "0x02"})

	dir := t.TempDir()
	paths, err := s.WriteBatches(dir, "proj", time.UnixMilli(1700000000000))
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "H.json"), filepath.Join(dir, "S1.json")}, paths)

	raw, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	var f batchFile
	require.NoError(t, json.Unmarshal(raw, &f))
	require.Equal(t, "10", f.ChainID)
	require.Equal(t, int64(1700000000000), f.CreatedAt)
	require.Equal(t, []batchTx{{To: "0xabc", Value: "0", Data: "0x01"}}, f.Transactions)
	require.Len(t, f.Deployments, 1)

	empty, err := NewChangeSummary().WriteBatches(dir, "proj", time.Now())
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestStatusString(t *testing.T) {
	require.Equal(t, "already_converged", Converged.String())
	require.Equal(t, "applied", Applied.String())
	require.Equal(t, "dry_run_recorded", Recorded.String())
}
