package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultsignal/internal/chain"
	"github.com/alanyoungcy/vaultsignal/internal/domain"
	"github.com/alanyoungcy/vaultsignal/internal/metrics"
	"github.com/alanyoungcy/vaultsignal/internal/platform/zeroex"
)

// QuoteProvider returns executable swap quotes.
type QuoteProvider interface {
	Quote(ctx context.Context, req zeroex.QuoteRequest) (zeroex.Quote, error)
}

// VaultChain is the on-chain surface the executor drives.
type VaultChain interface {
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	EstimateExecute(ctx context.Context, vault common.Address, call domain.VaultCall) (uint64, error)
	SendExecute(ctx context.Context, vault common.Address, call domain.VaultCall, gasLimit uint64) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash) (domain.TxReceipt, error)
}

// SwapExecutorConfig holds the gas ceilings used for vault calls.
type SwapExecutorConfig struct {
	ExecuteGasLimit uint64
	ApproveGasLimit uint64
}

// SwapExecutor drives one swap through a vault: quote, balance check,
// allowance check with conditional approval, gas estimation, execution and
// confirmation. Steps run strictly in that order.
type SwapExecutor struct {
	tokens  domain.TokenTable
	quotes  QuoteProvider
	chain   VaultChain
	cfg     SwapExecutorConfig
	metrics *metrics.Recorder
	logger  *slog.Logger
}

// NewSwapExecutor creates a SwapExecutor.
func NewSwapExecutor(tokens domain.TokenTable, quotes QuoteProvider, vc VaultChain, cfg SwapExecutorConfig, rec *metrics.Recorder, logger *slog.Logger) *SwapExecutor {
	if cfg.ExecuteGasLimit == 0 {
		cfg.ExecuteGasLimit = 500_000
	}
	if cfg.ApproveGasLimit == 0 {
		cfg.ApproveGasLimit = 200_000
	}
	return &SwapExecutor{
		tokens:  tokens,
		quotes:  quotes,
		chain:   vc,
		cfg:     cfg,
		metrics: rec,
		logger:  logger.With(slog.String("component", "swap_executor")),
	}
}

// Execute swaps quantity of from into to on behalf of vault and returns the
// confirmed transaction hash. Every failure is a *domain.SwapError. The call
// is not idempotent: invoking it twice attempts two swaps.
func (e *SwapExecutor) Execute(ctx context.Context, from, to string, quantity float64, vault common.Address) (domain.SwapResult, error) {
	res, err := e.execute(ctx, from, to, quantity, vault)
	if err != nil {
		var se *domain.SwapError
		if errors.As(err, &se) {
			e.metrics.RecordSwapFailure(string(se.Reason))
		}
		return domain.SwapResult{}, err
	}
	return res, nil
}

func (e *SwapExecutor) execute(ctx context.Context, from, to string, quantity float64, vault common.Address) (domain.SwapResult, error) {
	sell, err := e.tokens.Lookup(from)
	if err != nil {
		return domain.SwapResult{}, fail(domain.SwapNoQuote, err)
	}
	buy, err := e.tokens.Lookup(to)
	if err != nil {
		return domain.SwapResult{}, fail(domain.SwapNoQuote, err)
	}
	sellAmount := sell.ToBaseUnits(quantity)
	if sellAmount.Sign() <= 0 {
		return domain.SwapResult{}, fail(domain.SwapNoQuote, fmt.Errorf("quantity %v %s rounds to zero", quantity, sell.Symbol))
	}

	log := e.logger.With(
		slog.String("vault", vault.Hex()),
		slog.String("from", sell.Symbol),
		slog.String("to", buy.Symbol),
		slog.String("sell_amount", sellAmount.String()),
	)

	// 1. Quote.
	start := time.Now()
	q, err := e.quotes.Quote(ctx, zeroex.QuoteRequest{
		SellToken:  sell.Address,
		BuyToken:   buy.Address,
		SellAmount: sellAmount,
		Taker:      vault,
	})
	e.metrics.RecordProviderCall("zeroex", err, time.Since(start))
	if err != nil {
		return domain.SwapResult{}, fail(domain.SwapNoQuote, err)
	}
	quote := domain.SwapQuote{
		FromSymbol: sell.Symbol,
		ToSymbol:   buy.Symbol,
		SellToken:  sell.Address,
		SellAmount: sellAmount,
		Call: domain.VaultCall{
			Target: q.Transaction.To,
			Value:  q.Transaction.Value,
			Data:   q.Transaction.Data,
		},
	}
	spender := quote.Call.Target

	// 2. Balance, before any write.
	balance, err := e.chain.BalanceOf(ctx, sell.Address, vault)
	if err != nil {
		return domain.SwapResult{}, fail(domain.SwapChainReadFailed, fmt.Errorf("balanceOf: %w", err))
	}
	if balance.Cmp(sellAmount) < 0 {
		return domain.SwapResult{}, fail(domain.SwapInsufficientBalance,
			fmt.Errorf("vault holds %s %s, need %s", balance, sell.Symbol, sellAmount))
	}

	// 3. Allowance, raised and confirmed before the swap is attempted.
	allowance, err := e.chain.Allowance(ctx, sell.Address, vault, spender)
	if err != nil {
		return domain.SwapResult{}, fail(domain.SwapChainReadFailed, fmt.Errorf("allowance: %w", err))
	}
	if allowance.Cmp(sellAmount) < 0 {
		log.InfoContext(ctx, "approving spender",
			slog.String("spender", spender.Hex()),
			slog.String("allowance", allowance.String()),
		)
		if err := e.approve(ctx, vault, sell.Address, spender); err != nil {
			return domain.SwapResult{}, err
		}
		allowance, err = e.chain.Allowance(ctx, sell.Address, vault, spender)
		if err != nil {
			return domain.SwapResult{}, fail(domain.SwapChainReadFailed, fmt.Errorf("allowance after approve: %w", err))
		}
		if allowance.Cmp(sellAmount) < 0 {
			return domain.SwapResult{}, fail(domain.SwapApprovalDidNotTakeEffect,
				fmt.Errorf("allowance %s still below %s", allowance, sellAmount))
		}
	}

	// 4. Simulate. Not retried.
	gas, err := e.chain.EstimateExecute(ctx, vault, quote.Call)
	if err != nil {
		log.WarnContext(ctx, "gas estimation failed", slog.String("error", err.Error()))
		return domain.SwapResult{}, fail(domain.SwapGasEstimationFailed, err)
	}
	log.DebugContext(ctx, "gas estimated",
		slog.Uint64("estimate", gas),
		slog.Uint64("limit", e.cfg.ExecuteGasLimit),
	)

	// 5. Execute and wait.
	hash, err := e.chain.SendExecute(ctx, vault, quote.Call, e.cfg.ExecuteGasLimit)
	if err != nil {
		return domain.SwapResult{}, fail(domain.SwapSubmitFailed, err)
	}
	receipt, err := e.chain.WaitMined(ctx, hash)
	if err != nil {
		return domain.SwapResult{}, &domain.SwapError{Reason: domain.SwapSubmitFailed, TxHash: hash.Hex(), Err: err}
	}
	if !receipt.Succeeded() {
		return domain.SwapResult{}, &domain.SwapError{
			Reason: domain.SwapExecutionReverted,
			TxHash: hash.Hex(),
			Err:    fmt.Errorf("transaction %s reverted in block %d", hash.Hex(), receipt.BlockNumber),
		}
	}

	log.InfoContext(ctx, "swap executed",
		slog.String("tx_hash", hash.Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return domain.SwapResult{TxHash: hash.Hex(), SellAmount: sellAmount, Quote: quote}, nil
}

// approve relays token.approve(spender, max) through the vault and waits for
// it to be mined.
func (e *SwapExecutor) approve(ctx context.Context, vault, token, spender common.Address) error {
	data, err := chain.EncodeApprove(spender, chain.MaxUint256)
	if err != nil {
		return fail(domain.SwapApprovalFailed, err)
	}
	call := domain.VaultCall{Target: token, Value: new(big.Int), Data: data}

	hash, err := e.chain.SendExecute(ctx, vault, call, e.cfg.ApproveGasLimit)
	if err != nil {
		return fail(domain.SwapApprovalFailed, err)
	}
	receipt, err := e.chain.WaitMined(ctx, hash)
	if err != nil {
		return fail(domain.SwapApprovalFailed, fmt.Errorf("wait approve %s: %w", hash.Hex(), err))
	}
	if !receipt.Succeeded() {
		return fail(domain.SwapApprovalFailed, fmt.Errorf("approve %s reverted", hash.Hex()))
	}
	return nil
}

func fail(reason domain.SwapFailure, err error) *domain.SwapError {
	return &domain.SwapError{Reason: reason, Err: err}
}
