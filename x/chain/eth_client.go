package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"github.com/compose-network/bridge-deployer/x/deployerr"
	"github.com/compose-network/bridge-deployer/x/resource"
)

var _ Client = (*EthClient)(nil)

// EthClient talks to one network through go-ethereum and signs with an
// optional Signer. Without a signer it is read-only.
type EthClient struct {
	cfg     Config
	client  ethClient
	signer  Signer
	chainID *big.Int
	log     zerolog.Logger

	// serializes writes so pending nonces are handed out in order
	mu sync.Mutex
}

// Dial connects to the first reachable endpoint of cfg.RPCEndpoints.
// signer may be nil for a read-only client.
func Dial(ctx context.Context, cfg Config, signer Signer, log zerolog.Logger) (*EthClient, error) {
	cfg.applyDefaults()
	if cfg.Network == "" {
		return nil, errors.New("chain: network is required")
	}
	if len(cfg.RPCEndpoints) == 0 {
		return nil, fmt.Errorf("chain: %s: rpc_endpoints must be provided", cfg.Network)
	}
	log = log.With().Str("component", "chain-client").Str("network", string(cfg.Network)).Logger()

	var errs []error
	for i, endpoint := range cfg.RPCEndpoints {
		client, chainID, err := dialEndpoint(ctx, endpoint, cfg.DialTimeout)
		if err != nil {
			log.Warn().Err(err).Int("endpoint", i).Msg("RPC endpoint unavailable, trying next")
			errs = append(errs, err)
			continue
		}
		if cfg.ChainID != 0 && cfg.ChainID != chainID.Uint64() {
			client.Close()
			err := fmt.Errorf("endpoint %d reports chain id %s, expected %d", i, chainID, cfg.ChainID)
			log.Warn().Err(err).Msg("RPC endpoint on the wrong chain, trying next")
			errs = append(errs, err)
			continue
		}
		log.Info().Int("endpoint", i).Stringer("chain_id", chainID).Bool("read_only", signer == nil).
			Msg("Connected to network")
		return newEthClient(cfg, client, chainID, signer, log), nil
	}
	return nil, deployerr.NewTransientNetwork("%s: no rpc endpoint reachable", cfg.Network).
		WithCause(errors.Join(errs...))
}

func dialEndpoint(ctx context.Context, endpoint string, timeout time.Duration) (*ethclient.Client, *big.Int, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(dialCtx, endpoint)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}
	client := ethclient.NewClient(rpcClient)
	chainID, err := client.ChainID(dialCtx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("fetch chain id: %w", err)
	}
	return client, chainID, nil
}

func newEthClient(cfg Config, client ethClient, chainID *big.Int, signer Signer, log zerolog.Logger) *EthClient {
	cfg.applyDefaults()
	return &EthClient{
		cfg:     cfg,
		client:  client,
		signer:  signer,
		chainID: chainID,
		log:     log,
	}
}

func (c *EthClient) Network() resource.NetworkID { return c.cfg.Network }

func (c *EthClient) ChainID() uint64 { return c.chainID.Uint64() }

func (c *EthClient) From() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.From()
}

func (c *EthClient) Close() error {
	c.client.Close()
	return nil
}

func (c *EthClient) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{From: c.From(), To: &to, Data: data}
	out, err := c.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, classifyRead(string(c.cfg.Network), err)
	}
	return out, nil
}

func (c *EthClient) Send(ctx context.Context, to common.Address, data []byte) (*Receipt, error) {
	return c.transact(ctx, "send", &to, data)
}

func (c *EthClient) Deploy(ctx context.Context, bytecode, ctorArgs []byte) (*Receipt, error) {
	if len(bytecode) == 0 {
		return nil, fmt.Errorf("chain: %s: empty bytecode", c.cfg.Network)
	}
	data := make([]byte, 0, len(bytecode)+len(ctorArgs))
	data = append(data, bytecode...)
	data = append(data, ctorArgs...)

	receipt, err := c.transact(ctx, "deploy", nil, data)
	if err != nil {
		return nil, err
	}
	if receipt.ContractAddress == (common.Address{}) {
		return nil, deployerr.NewWriteReverted("%s: deploy produced no contract address", c.cfg.Network).
			WithContext("tx_hash", receipt.TxHash.Hex())
	}
	return receipt, nil
}

func (c *EthClient) transact(ctx context.Context, op string, to *common.Address, data []byte) (*Receipt, error) {
	if c.signer == nil {
		return nil, ErrReadOnly
	}
	network := string(c.cfg.Network)

	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	defer func() {
		writeDuration.WithLabelValues(network, op).Observe(time.Since(start).Seconds())
	}()

	from := c.signer.From()
	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, classify(network, "fetch nonce", err)
	}

	gasLimit, err := c.estimateGasLimit(ctx, from, to, data)
	if err != nil {
		return nil, err
	}
	tipCap, feeCap := c.suggestFees(ctx)

	unsigned := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		To:        to,
		Value:     big.NewInt(0),
		Gas:       gasLimit,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Data:      data,
	})
	signed, err := c.signer.SignTx(ctx, c.chainID, unsigned)
	if err != nil {
		return nil, fmt.Errorf("chain: %s: sign tx: %w", network, err)
	}

	if err := c.client.SendTransaction(ctx, signed); err != nil {
		c.log.Error().Err(err).Str("tx_hash", signed.Hash().Hex()).Str("operation", op).Msg("Failed to send transaction")
		return nil, classify(network, "send tx", err)
	}

	c.log.Info().
		Str("tx_hash", signed.Hash().Hex()).
		Str("operation", op).
		Uint64("nonce", nonce).
		Uint64("gas_limit", gasLimit).
		Str("gas_tip_cap", tipCap.String()).
		Str("gas_fee_cap", feeCap.String()).
		Msg("Transaction submitted")

	return c.waitConfirmed(ctx, signed.Hash())
}

// estimateGasLimit estimates gas and applies the configured buffer. An
// estimate that fails because the call would revert is reported instead of
// sending a transaction that is known to fail.
func (c *EthClient) estimateGasLimit(ctx context.Context, from common.Address, to *common.Address, data []byte) (uint64, error) {
	msg := ethereum.CallMsg{From: from, To: to, Value: big.NewInt(0), Data: data}
	est, err := c.client.EstimateGas(ctx, msg)
	if err == nil {
		buffer := est * c.cfg.GasLimitBufferPct / 100
		c.log.Debug().Uint64("estimated_gas", est).Uint64("gas_limit", est+buffer).Msg("Gas estimated")
		return est + buffer, nil
	}
	if isRevert(err) {
		return 0, deployerr.NewWriteReverted("%s: gas estimation", c.cfg.Network).WithCause(err)
	}
	if isTransient(err) {
		return 0, classify(string(c.cfg.Network), "estimate gas", err)
	}
	c.log.Warn().Err(err).Uint64("fallback_gas_limit", c.cfg.FallbackGasLimit).Msg("Gas estimation failed, using fallback")
	return c.cfg.FallbackGasLimit, nil
}

// suggestFees returns EIP-1559 tip and fee caps with config overrides
func (c *EthClient) suggestFees(ctx context.Context) (*big.Int, *big.Int) {
	head, _ := c.client.HeaderByNumber(ctx, nil)
	tipCap, err := c.client.SuggestGasTipCap(ctx)
	if err != nil || tipCap == nil {
		tipCap = big.NewInt(2_000_000_000)
	}
	var feeCap *big.Int
	if head != nil && head.BaseFee != nil {
		feeCap = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tipCap)
	} else if sp, err := c.client.SuggestGasPrice(ctx); err == nil && sp != nil {
		feeCap = sp
	} else {
		feeCap = new(big.Int).Add(big.NewInt(2_000_000_000), tipCap)
	}
	if c.cfg.MaxPriorityFeeWei != "" {
		if v, ok := new(big.Int).SetString(c.cfg.MaxPriorityFeeWei, 10); ok && v.Sign() > 0 && v.Cmp(tipCap) < 0 {
			tipCap = v
		}
	}
	if c.cfg.MaxFeePerGasWei != "" {
		if v, ok := new(big.Int).SetString(c.cfg.MaxFeePerGasWei, 10); ok && v.Sign() > 0 && v.Cmp(feeCap) < 0 {
			feeCap = v
		}
	}
	if feeCap.Cmp(tipCap) < 0 {
		tipCap = new(big.Int).Set(feeCap)
	}
	return tipCap, feeCap
}

// waitConfirmed polls for the receipt, then for enough confirmations, all
// within TxTimeout.
func (c *EthClient) waitConfirmed(ctx context.Context, hash common.Hash) (*Receipt, error) {
	network := string(c.cfg.Network)
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TxTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var receipt *types.Receipt
	for {
		r, err := c.client.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && r != nil:
			receipt = r
		case err != nil && !errors.Is(err, ethereum.NotFound) && !errors.Is(err, context.DeadlineExceeded):
			c.log.Debug().Err(err).Str("tx_hash", hash.Hex()).Msg("Receipt lookup failed, retrying")
		}
		if receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				c.log.Warn().Str("tx_hash", hash.Hex()).Uint64("gas_used", receipt.GasUsed).Msg("Transaction reverted")
				return nil, deployerr.NewWriteReverted("%s: transaction %s reverted", network, hash.Hex()).
					WithContext("block_number", receipt.BlockNumber.Uint64())
			}
			if c.confirmed(ctx, receipt) {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil, deployerr.NewTransientNetwork("%s: transaction %s not confirmed within %s",
				network, hash.Hex(), c.cfg.TxTimeout).WithCause(ctx.Err())
		case <-ticker.C:
		}
	}

	out := &Receipt{
		TxHash:          receipt.TxHash,
		BlockNumber:     receipt.BlockNumber.Uint64(),
		GasUsed:         receipt.GasUsed,
		ContractAddress: receipt.ContractAddress,
	}
	c.log.Info().
		Str("tx_hash", hash.Hex()).
		Uint64("block_number", out.BlockNumber).
		Uint64("gas_used", out.GasUsed).
		Msg("Transaction confirmed")
	return out, nil
}

func (c *EthClient) confirmed(ctx context.Context, receipt *types.Receipt) bool {
	if c.cfg.Confirmations <= 1 {
		return true
	}
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil || head == nil {
		return false
	}
	block := receipt.BlockNumber.Uint64()
	if head.Number.Uint64() < block {
		return false
	}
	return head.Number.Uint64()-block+1 >= c.cfg.Confirmations
}
