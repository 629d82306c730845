package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SwapQuote describes the exact call needed to perform a swap. It lives for
// a single execution attempt and is never cached.
type SwapQuote struct {
	FromSymbol string
	ToSymbol   string
	SellToken  common.Address
	SellAmount *big.Int
	Call       VaultCall
}

// VaultCall is a generic call relayed through a vault's execute entry point.
type VaultCall struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// TxReceipt is the subset of a mined transaction receipt the service uses.
type TxReceipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber uint64
	GasUsed     uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r TxReceipt) Succeeded() bool {
	return r.Status == 1
}

// SwapResult is returned by a successful swap execution.
type SwapResult struct {
	TxHash     string
	SellAmount *big.Int
	Quote      SwapQuote
}

// SwapFailure enumerates the reasons a swap execution may fail.
type SwapFailure string

const (
	SwapNoQuote                  SwapFailure = "no_quote"
	SwapInsufficientBalance      SwapFailure = "insufficient_balance"
	SwapApprovalFailed           SwapFailure = "approval_failed"
	SwapApprovalDidNotTakeEffect SwapFailure = "approval_did_not_take_effect"
	SwapGasEstimationFailed      SwapFailure = "gas_estimation_failed"
	SwapSubmitFailed             SwapFailure = "submit_failed"
	SwapExecutionReverted        SwapFailure = "execution_reverted"
	SwapChainReadFailed          SwapFailure = "chain_read_failed"
)

// SwapError is the error returned for every failed execution. TxHash is set
// only when a transaction was mined and reverted.
type SwapError struct {
	Reason SwapFailure
	TxHash string
	Err    error
}

func (e *SwapError) Error() string {
	if e.Err == nil {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *SwapError) Unwrap() error {
	return e.Err
}
