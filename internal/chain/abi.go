package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const factoryABIJSON = `[
	{"type":"function","name":"vaults","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"}],
	 "outputs":[{"name":"","type":"address"}]}
]`

const vaultABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"payable",
	 "inputs":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],
	 "outputs":[{"name":"","type":"bytes"}]}
]`

const erc20ABIJSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view",
	 "inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable",
	 "inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

var (
	factoryABI = mustParseABI(factoryABIJSON)
	vaultABI   = mustParseABI(vaultABIJSON)
	erc20ABI   = mustParseABI(erc20ABIJSON)
)

// MaxUint256 is the unlimited ERC-20 allowance.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// EncodeApprove returns calldata for ERC-20 approve(spender, amount).
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("chain: pack approve: %w", err)
	}
	return data, nil
}

// encodeExecute returns calldata for vault execute(target, value, data).
func encodeExecute(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	out, err := vaultABI.Pack("execute", target, value, data)
	if err != nil {
		return nil, fmt.Errorf("chain: pack execute: %w", err)
	}
	return out, nil
}

// unpackSingle decodes a single-return-value call.
func unpackSingle(a abi.ABI, method string, out []byte) (any, error) {
	vals, err := a.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("chain: unpack %s: got %d values", method, len(vals))
	}
	return vals[0], nil
}
