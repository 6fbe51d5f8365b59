package chain

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/compose-network/bridge-deployer/x/resource"
)

// Client is the per-network chain capability the deployer consumes.
// Call is side-effect free. Send and Deploy block until the transaction is
// confirmed or fails.
type Client interface {
	Network() resource.NetworkID
	ChainID() uint64
	From() common.Address
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	Send(ctx context.Context, to common.Address, data []byte) (*Receipt, error)
	Deploy(ctx context.Context, bytecode, ctorArgs []byte) (*Receipt, error)
}

// Receipt is the confirmed outcome of a write.
type Receipt struct {
	TxHash          common.Hash
	BlockNumber     uint64
	GasUsed         uint64
	ContractAddress common.Address
}

var (
	// ErrReadOnly is returned by writes on a client built without a signer.
	ErrReadOnly = errors.New("chain: client is read-only")
	// ErrCallReverted marks a read that the contract rejected.
	ErrCallReverted = errors.New("chain: call reverted")
)
