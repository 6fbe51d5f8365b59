package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer abstracts transaction signing.
type Signer interface {
	From() common.Address
	SignTx(ctx context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error)
}

// LocalECDSASigner signs transactions with a local secp256k1 private key.
// One signer serves every network; the chain id comes with each transaction.
type LocalECDSASigner struct {
	key  *ecdsa.PrivateKey
	from common.Address
}

func NewLocalECDSASigner(key *ecdsa.PrivateKey) *LocalECDSASigner {
	return &LocalECDSASigner{
		key:  key,
		from: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// SignerFromHex parses a hex private key, with or without 0x prefix.
func SignerFromHex(keyHex string) (*LocalECDSASigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(keyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("chain: parse private key: %w", err)
	}
	return NewLocalECDSASigner(key), nil
}

func (s *LocalECDSASigner) From() common.Address { return s.from }

func (s *LocalECDSASigner) SignTx(_ context.Context, chainID *big.Int, tx *types.Transaction) (*types.Transaction, error) {
	if chainID == nil {
		return nil, fmt.Errorf("chain: signer chain id not set")
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}
