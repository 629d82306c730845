// Package chain talks to the EVM chain: it resolves vaults through the
// factory, reads ERC-20 state, and relays vault execute calls signed by the
// operator wallet.
package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Caller performs read-only contract calls.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Backend is the subset of *ethclient.Client the package uses.
type Backend interface {
	Caller
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Dial connects to the RPC endpoint and checks it serves wantChainID.
func Dial(ctx context.Context, rpcURL string, wantChainID int64) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain: read chain id: %w", err)
	}
	if id.Int64() != wantChainID {
		client.Close()
		return nil, fmt.Errorf("chain: rpc serves chain %s, want %d", id, wantChainID)
	}
	return client, nil
}

var _ Backend = (*ethclient.Client)(nil)
