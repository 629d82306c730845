package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

// TxSigner signs operator transactions.
type TxSigner interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(tx *types.Transaction) (*types.Transaction, error)
}

// OperatorConfig tunes confirmation waiting.
type OperatorConfig struct {
	// PollInterval is the receipt polling period.
	PollInterval time.Duration
	// ConfirmTimeout bounds one WaitMined call; zero leaves it to ctx.
	ConfirmTimeout time.Duration
}

// VaultOperator reads token state and relays vault execute calls from the
// operator wallet. Sends are serialised through a local nonce so concurrent
// dispatch units never reuse a nonce.
type VaultOperator struct {
	backend Backend
	signer  TxSigner
	cfg     OperatorConfig
	logger  *slog.Logger

	nonceMu sync.Mutex
	nonce   *uint64
}

// NewVaultOperator creates a VaultOperator.
func NewVaultOperator(backend Backend, signer TxSigner, cfg OperatorConfig, logger *slog.Logger) *VaultOperator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &VaultOperator{
		backend: backend,
		signer:  signer,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "vault_operator")),
	}
}

// BalanceOf returns holder's balance of token in base units.
func (o *VaultOperator) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return o.callUint(ctx, token, "balanceOf", holder)
}

// Allowance returns the amount spender may pull from owner.
func (o *VaultOperator) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return o.callUint(ctx, token, "allowance", owner, spender)
}

func (o *VaultOperator) callUint(ctx context.Context, token common.Address, method string, args ...any) (*big.Int, error) {
	input, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	out, err := o.backend.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s on %s: %w", method, token.Hex(), err)
	}
	v, err := unpackSingle(erc20ABI, method, out)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("chain: %s returned %T", method, v)
	}
	return n, nil
}

// EstimateExecute simulates vault.execute(call) from the operator. A revert
// is returned as *RevertError carrying the node's diagnostic.
func (o *VaultOperator) EstimateExecute(ctx context.Context, vault common.Address, call domain.VaultCall) (uint64, error) {
	msg, err := o.executeMsg(vault, call)
	if err != nil {
		return 0, err
	}
	gas, err := o.backend.EstimateGas(ctx, msg)
	if err != nil {
		return 0, fmt.Errorf("chain: estimate execute on %s: %w", vault.Hex(), asRevert(err))
	}
	return gas, nil
}

// SendExecute signs and broadcasts vault.execute(call) with a fixed gas
// limit and returns the transaction hash. It does not wait for mining.
func (o *VaultOperator) SendExecute(ctx context.Context, vault common.Address, call domain.VaultCall, gasLimit uint64) (common.Hash, error) {
	msg, err := o.executeMsg(vault, call)
	if err != nil {
		return common.Hash{}, err
	}

	tip, feeCap, err := o.fees(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	o.nonceMu.Lock()
	defer o.nonceMu.Unlock()

	if o.nonce == nil {
		n, err := o.backend.PendingNonceAt(ctx, o.signer.Address())
		if err != nil {
			return common.Hash{}, fmt.Errorf("chain: pending nonce: %w", err)
		}
		o.nonce = &n
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   o.signer.ChainID(),
		Nonce:     *o.nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gasLimit,
		To:        &vault,
		Value:     msg.Value,
		Data:      msg.Data,
	})
	signed, err := o.signer.SignTx(tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chain: sign execute: %w", err)
	}

	if err := o.backend.SendTransaction(ctx, signed); err != nil {
		// The node may or may not have accepted the nonce; re-read next time.
		o.nonce = nil
		return common.Hash{}, fmt.Errorf("chain: send execute on %s: %w", vault.Hex(), asRevert(err))
	}
	*o.nonce++

	o.logger.InfoContext(ctx, "execute sent",
		slog.String("vault", vault.Hex()),
		slog.String("target", call.Target.Hex()),
		slog.String("tx", signed.Hash().Hex()),
		slog.Uint64("nonce", signed.Nonce()),
	)
	return signed.Hash(), nil
}

// WaitMined polls until the transaction has a receipt.
func (o *VaultOperator) WaitMined(ctx context.Context, hash common.Hash) (domain.TxReceipt, error) {
	if o.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ConfirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := o.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			out := domain.TxReceipt{
				TxHash:  receipt.TxHash,
				Status:  receipt.Status,
				GasUsed: receipt.GasUsed,
			}
			if receipt.BlockNumber != nil {
				out.BlockNumber = receipt.BlockNumber.Uint64()
			}
			return out, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			o.logger.WarnContext(ctx, "receipt lookup failed",
				slog.String("tx", hash.Hex()),
				slog.String("error", err.Error()),
			)
		}

		select {
		case <-ctx.Done():
			// The tx may have been dropped; resync so later sends do not
			// queue behind a nonce gap.
			o.resetNonce()
			return domain.TxReceipt{}, fmt.Errorf("chain: wait for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (o *VaultOperator) resetNonce() {
	o.nonceMu.Lock()
	o.nonce = nil
	o.nonceMu.Unlock()
}

func (o *VaultOperator) executeMsg(vault common.Address, call domain.VaultCall) (ethereum.CallMsg, error) {
	data, err := encodeExecute(call.Target, call.Value, call.Data)
	if err != nil {
		return ethereum.CallMsg{}, err
	}
	value := call.Value
	if value == nil {
		value = new(big.Int)
	}
	return ethereum.CallMsg{
		From:  o.signer.Address(),
		To:    &vault,
		Value: value,
		Data:  data,
	}, nil
}

// fees returns an EIP-1559 tip and a fee cap of twice the latest base fee
// plus the tip.
func (o *VaultOperator) fees(ctx context.Context) (tip, feeCap *big.Int, err error) {
	tip, err = o.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: suggest tip: %w", err)
	}
	head, err := o.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: latest header: %w", err)
	}
	baseFee := head.BaseFee
	if baseFee == nil {
		baseFee = new(big.Int)
	}
	feeCap = new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)
	return tip, feeCap, nil
}

// RevertError carries a node's revert diagnostic.
type RevertError struct {
	Err error
	// Data is the raw revert payload (hex) when the node returned one.
	Data string
	// Reason is the decoded Error(string) message, if any.
	Reason string
}

func (e *RevertError) Error() string {
	switch {
	case e.Reason != "":
		return fmt.Sprintf("%v (reason: %s)", e.Err, e.Reason)
	case e.Data != "":
		return fmt.Sprintf("%v (data: %s)", e.Err, e.Data)
	default:
		return e.Err.Error()
	}
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// asRevert wraps err in a *RevertError when the node attached revert data.
func asRevert(err error) error {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return err
	}
	out := &RevertError{Err: err}
	if s, ok := dataErr.ErrorData().(string); ok {
		out.Data = s
		if raw, decErr := hexutil.Decode(s); decErr == nil {
			if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
				out.Reason = reason
			}
		}
	}
	return out
}
