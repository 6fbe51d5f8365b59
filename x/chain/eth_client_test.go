package chain

import (
	"context"
	"errors"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/compose-network/bridge-deployer/x/deployerr"
)

type mockEthClient struct {
	sent             *types.Transaction
	lastEstimateCall ethereum.CallMsg
	estimateErr      error
	callErr          error
	callOut          []byte
	receipt          *types.Receipt
	receiptMisses    int
	headNumbers      []uint64
	headCalls        int
	baseFee          *big.Int
}

func (m *mockEthClient) ChainID(ctx context.Context) (*big.Int, error) { return big.NewInt(1337), nil }
func (m *mockEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 7, nil
}
func (m *mockEthClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}
func (m *mockEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(3_000_000_000), nil
}
func (m *mockEthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	m.lastEstimateCall = msg
	if m.estimateErr != nil {
		return 0, m.estimateErr
	}
	return 100_000, nil
}
func (m *mockEthClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	n := uint64(100)
	if len(m.headNumbers) > 0 {
		idx := m.headCalls
		if idx >= len(m.headNumbers) {
			idx = len(m.headNumbers) - 1
		}
		n = m.headNumbers[idx]
	}
	m.headCalls++
	baseFee := m.baseFee
	if baseFee == nil {
		baseFee = big.NewInt(10_000_000_000)
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), BaseFee: baseFee}, nil
}
func (m *mockEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return m.callOut, m.callErr
}
func (m *mockEthClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.sent = tx
	return nil
}
func (m *mockEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if m.receipt == nil || m.receiptMisses > 0 {
		m.receiptMisses--
		return nil, ethereum.NotFound
	}
	r := *m.receipt
	r.TxHash = txHash
	return &r, nil
}
func (m *mockEthClient) Close() {}

func testSigner(t *testing.T) *LocalECDSASigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewLocalECDSASigner(key)
}

func testClient(mock *mockEthClient, signer Signer, mutate func(*Config)) *EthClient {
	cfg := DefaultConfig()
	cfg.Network = "hub"
	cfg.PollInterval = time.Millisecond
	cfg.TxTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	return newEthClient(cfg, mock, big.NewInt(1337), signer, zerolog.New(io.Discard).Level(zerolog.Disabled))
}

func successReceipt(block uint64) *types.Receipt {
	return &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: new(big.Int).SetUint64(block),
		GasUsed:     21_000,
	}
}

func TestSend_SignsAndWaitsForReceipt(t *testing.T) {
	signer := testSigner(t)
	mock := &mockEthClient{receipt: successReceipt(100), receiptMisses: 2}
	c := testClient(mock, signer, nil)

	to := common.HexToAddress("0x000000000000000000000000000000000000dead")
	receipt, err := c.Send(context.Background(), to, []byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)
	require.NotNil(t, mock.sent)
	require.Equal(t, to, *mock.sent.To())
	require.Equal(t, uint64(7), mock.sent.Nonce())
	require.Equal(t, uint64(120_000), mock.sent.Gas())
	require.Equal(t, uint64(1337), mock.sent.ChainId().Uint64())
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, mock.sent.Data())
	require.Equal(t, signer.From(), mock.lastEstimateCall.From)

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), mock.sent)
	require.NoError(t, err)
	require.Equal(t, signer.From(), sender)

	require.Equal(t, mock.sent.Hash(), receipt.TxHash)
	require.Equal(t, uint64(100), receipt.BlockNumber)
	require.Equal(t, signer.From(), c.From())
	require.Equal(t, uint64(1337), c.ChainID())
}

func TestSend_RevertedReceipt(t *testing.T) {
	mock := &mockEthClient{receipt: &types.Receipt{Status: types.ReceiptStatusFailed, BlockNumber: big.NewInt(5)}}
	c := testClient(mock, testSigner(t), nil)

	_, err := c.Send(context.Background(), common.Address{1}, []byte{0x01})
	require.ErrorIs(t, err, deployerr.ErrWriteReverted)
}

func TestSend_EstimateRevertDoesNotSend(t *testing.T) {
	mock := &mockEthClient{estimateErr: errors.New("execution reverted: AccessControl")}
	c := testClient(mock, testSigner(t), nil)

	_, err := c.Send(context.Background(), common.Address{1}, []byte{0x01})
	require.ErrorIs(t, err, deployerr.ErrWriteReverted)
	require.Nil(t, mock.sent)
}

func TestSend_EstimateFailureUsesFallback(t *testing.T) {
	mock := &mockEthClient{estimateErr: errors.New("method not supported"), receipt: successReceipt(1)}
	c := testClient(mock, testSigner(t), nil)

	_, err := c.Send(context.Background(), common.Address{1}, []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().FallbackGasLimit, mock.sent.Gas())
}

func TestSend_TimeoutIsTransient(t *testing.T) {
	mock := &mockEthClient{}
	c := testClient(mock, testSigner(t), func(cfg *Config) { cfg.TxTimeout = 20 * time.Millisecond })

	_, err := c.Send(context.Background(), common.Address{1}, []byte{0x01})
	require.ErrorIs(t, err, deployerr.ErrTransientNetwork)
}

func TestSend_WaitsForConfirmations(t *testing.T) {
	mock := &mockEthClient{receipt: successReceipt(100), headNumbers: []uint64{100, 100, 100, 101, 102}}
	c := testClient(mock, testSigner(t), func(cfg *Config) { cfg.Confirmations = 3 })

	_, err := c.Send(context.Background(), common.Address{1}, []byte{0x01})
	require.NoError(t, err)
	require.GreaterOrEqual(t, mock.headCalls, 5)
}

func TestSend_ReadOnly(t *testing.T) {
	c := testClient(&mockEthClient{}, nil, nil)
	_, err := c.Send(context.Background(), common.Address{1}, nil)
	require.ErrorIs(t, err, ErrReadOnly)
	_, err = c.Deploy(context.Background(), []byte{0x60}, nil)
	require.ErrorIs(t, err, ErrReadOnly)
	require.Equal(t, common.Address{}, c.From())
}

func TestDeploy_AppendsConstructorArgs(t *testing.T) {
	created := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	r := successReceipt(9)
	r.ContractAddress = created
	mock := &mockEthClient{receipt: r}
	c := testClient(mock, testSigner(t), nil)

	receipt, err := c.Deploy(context.Background(), []byte{0x60, 0x80}, []byte{0x01, 0x02})
	require.NoError(t, err)
	require.Equal(t, created, receipt.ContractAddress)
	require.Nil(t, mock.sent.To())
	require.Equal(t, []byte{0x60, 0x80, 0x01, 0x02}, mock.sent.Data())
}

func TestDeploy_MissingContractAddress(t *testing.T) {
	mock := &mockEthClient{receipt: successReceipt(9)}
	c := testClient(mock, testSigner(t), nil)

	_, err := c.Deploy(context.Background(), []byte{0x60}, nil)
	require.ErrorIs(t, err, deployerr.ErrWriteReverted)
}

func TestCall_ClassifiesErrors(t *testing.T) {
	mock := &mockEthClient{callErr: errors.New("execution reverted")}
	c := testClient(mock, nil, nil)
	_, err := c.Call(context.Background(), common.Address{1}, []byte{0x01})
	require.ErrorIs(t, err, ErrCallReverted)

	mock.callErr = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
	_, err = c.Call(context.Background(), common.Address{1}, []byte{0x01})
	require.ErrorIs(t, err, deployerr.ErrTransientNetwork)

	mock.callErr = nil
	mock.callOut = []byte{0x2a}
	out, err := c.Call(context.Background(), common.Address{1}, []byte{0x01})
	require.NoError(t, err)
	require.Equal(t, []byte{0x2a}, out)
}

func TestSuggestFees_AppliesCaps(t *testing.T) {
	c := testClient(&mockEthClient{}, nil, func(cfg *Config) {
		cfg.MaxPriorityFeeWei = "1000000000"
		cfg.MaxFeePerGasWei = "15000000000"
	})
	tip, fee := c.suggestFees(context.Background())
	require.Equal(t, uint64(1_000_000_000), tip.Uint64())
	require.Equal(t, uint64(15_000_000_000), fee.Uint64())

	c = testClient(&mockEthClient{}, nil, nil)
	tip, fee = c.suggestFees(context.Background())
	require.Equal(t, uint64(2_000_000_000), tip.Uint64())
	require.Equal(t, uint64(22_000_000_000), fee.Uint64())
}

func TestDial_NoReachableEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Network = "hub"
	cfg.RPCEndpoints = []string{"http://127.0.0.1:1"}
	cfg.DialTimeout = time.Second

	_, err := Dial(context.Background(), cfg, nil, zerolog.Nop())
	require.ErrorIs(t, err, deployerr.ErrTransientNetwork)

	cfg.RPCEndpoints = nil
	_, err = Dial(context.Background(), cfg, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestSignerFromHex(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	s, err := SignerFromHex(hexKey)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), s.From())

	_, err = SignerFromHex("not-a-key")
	require.Error(t, err)
}
