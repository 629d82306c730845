package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
)

type staticPrices map[string]float64

func (p staticPrices) PriceOrFallback(_ context.Context, symbol string) (domain.PriceQuote, error) {
	price, ok := p[symbol]
	if !ok {
		return domain.PriceQuote{}, domain.ErrPriceUnavailable
	}
	return domain.PriceQuote{Symbol: symbol, Price: price}, nil
}

type fakeResolver struct {
	vaults map[common.Address]common.Address
	errs   map[common.Address]error
}

func (f *fakeResolver) ResolveVault(_ context.Context, owner common.Address) (common.Address, error) {
	if err, ok := f.errs[owner]; ok {
		return common.Address{}, err
	}
	v, ok := f.vaults[owner]
	if !ok {
		return common.Address{}, domain.ErrNoVault
	}
	return v, nil
}

type recordingSwapper struct {
	mu       sync.Mutex
	calls    []float64
	err      error
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (s *recordingSwapper) Execute(_ context.Context, _, _ string, quantity float64, _ common.Address) (domain.SwapResult, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		seen := s.maxSeen.Load()
		if n <= seen || s.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(s.delay)

	s.mu.Lock()
	s.calls = append(s.calls, quantity)
	s.mu.Unlock()
	if s.err != nil {
		return domain.SwapResult{}, s.err
	}
	return domain.SwapResult{TxHash: "0xabc"}, nil
}

type panickyResolver struct{ panicOn common.Address }

func (p panickyResolver) ResolveVault(_ context.Context, owner common.Address) (common.Address, error) {
	if owner == p.panicOn {
		panic("boom")
	}
	return common.BigToAddress(big.NewInt(99)), nil
}

func addr(n int64) string {
	return strings.ToLower(common.BigToAddress(big.NewInt(n)).Hex())
}

func automated(id string, n int64) domain.Account {
	return domain.Account{
		ID:                id,
		Address:           addr(n),
		AutomationEnabled: true,
		MaxTradeSize:      100,
		Pairs:             []domain.Pair{{From: "USDC", To: "AAVE"}},
	}
}

func newSignal() domain.NewSignal {
	qty, conf, ev := 10.0, 0.8, int64(42)
	return domain.NewSignal{
		Direction:  "buy",
		Symbol:     "aave",
		Quantity:   &qty,
		Confidence: &conf,
		EventID:    &ev,
		Rationale:  "breakout above resistance",
	}
}

type dispatchFixture struct {
	signals  *memSignals
	accounts *memAccounts
	outcomes *memOutcomes
	audit    *memAudit
	resolver *fakeResolver
	swapper  *recordingSwapper
	prices   PriceSource
	cfg      DispatcherConfig
}

func newFixture(accts ...domain.Account) *dispatchFixture {
	f := &dispatchFixture{
		signals:  &memSignals{},
		accounts: &memAccounts{rows: accts},
		outcomes: newMemOutcomes(),
		audit:    &memAudit{},
		resolver: &fakeResolver{vaults: map[common.Address]common.Address{}, errs: map[common.Address]error{}},
		swapper:  &recordingSwapper{},
		prices:   staticPrices{"USDC": 50, "AAVE": 100},
		cfg:      DispatcherConfig{QuoteSymbol: "USDC", MaxConcurrency: 4},
	}
	for i, a := range accts {
		f.resolver.vaults[common.HexToAddress(a.Address)] = common.BigToAddress(big.NewInt(int64(1000 + i)))
	}
	return f
}

func (f *dispatchFixture) dispatcher(swapper Swapper) *Dispatcher {
	if swapper == nil {
		swapper = f.swapper
	}
	return NewDispatcher(f.signals, f.accounts, f.outcomes, f.audit, f.prices, f.resolver, swapper,
		nil, nil, nil, f.cfg, discardLogger())
}

func TestDispatchCreatesOneOutcomePerAccount(t *testing.T) {
	disabled := automated("b", 2)
	disabled.AutomationEnabled = false
	f := newFixture(automated("a", 1), disabled, automated("c", 3))

	sig, err := f.dispatcher(nil).Dispatch(context.Background(), newSignal())
	require.NoError(t, err)

	assert.Len(t, f.signals.rows, 1)
	assert.Equal(t, domain.DirectionBuy, sig.Direction)
	assert.Equal(t, "AAVE", sig.Symbol)

	got := f.outcomes.byAccount(sig.ID)
	require.Len(t, got, 3)
	for _, o := range got {
		assert.Equal(t, sig.ID, o.SignalID)
		assert.InDelta(t, 2, o.Quantity, 1e-9) // min(10, 100/50)
		assert.Equal(t, 10.0, o.RequestedQuantity)
	}
	assert.Contains(t, f.audit.events, "signal.received")
}

func TestDispatchAutomationGates(t *testing.T) {
	disabled := automated("off", 1)
	disabled.AutomationEnabled = false
	otherPair := automated("pair", 2)
	otherPair.Pairs = []domain.Pair{{From: "USDC", To: "WETH"}}
	f := newFixture(disabled, otherPair)

	sig, err := f.dispatcher(nil).Dispatch(context.Background(), newSignal())
	require.NoError(t, err)

	got := f.outcomes.byAccount(sig.ID)
	assert.Equal(t, domain.MsgAutomationDisabled, got["off"].Message)
	assert.False(t, got["off"].WasExecuted)
	assert.Equal(t, domain.MsgPairNotAllowed, got["pair"].Message)
	assert.False(t, got["pair"].WasExecuted)
	assert.Empty(t, f.swapper.calls)
}

func TestDispatchAutomationGatesWithoutPrice(t *testing.T) {
	disabled := automated("off", 1)
	disabled.AutomationEnabled = false
	otherPair := automated("pair", 2)
	otherPair.Pairs = []domain.Pair{{From: "USDC", To: "WETH"}}
	f := newFixture(disabled, otherPair, automated("on", 3))
	f.prices = staticPrices{}

	sig, err := f.dispatcher(nil).Dispatch(context.Background(), newSignal())
	require.NoError(t, err)

	got := f.outcomes.byAccount(sig.ID)
	require.Len(t, got, 3)
	assert.Equal(t, domain.MsgAutomationDisabled, got["off"].Message)
	assert.Equal(t, domain.MsgPairNotAllowed, got["pair"].Message)
	assert.Contains(t, got["on"].Message, "price unavailable")
	assert.Empty(t, f.swapper.calls)
}

func TestDispatchExecutesAllowedPair(t *testing.T) {
	f := newFixture(automated("a", 1))

	sig, err := f.dispatcher(nil).Dispatch(context.Background(), newSignal())
	require.NoError(t, err)

	o := f.outcomes.byAccount(sig.ID)["a"]
	assert.True(t, o.WasExecuted)
	assert.Equal(t, "0xabc", o.TxHash)
	assert.Contains(t, o.Message, "executed BUY AAVE")
	assert.Contains(t, o.Message, "2.0000")
	assert.Contains(t, o.Message, "50.0000")
	assert.Equal(t, []float64{2}, f.swapper.calls)
}

func TestDispatchSellSizesFromAssetPrice(t *testing.T) {
	acct := automated("a", 1)
	acct.Pairs = []domain.Pair{{From: "AAVE", To: "USDC"}}
	f := newFixture(acct)

	in := newSignal()
	in.Direction = "SELL"
	sig, err := f.dispatcher(nil).Dispatch(context.Background(), in)
	require.NoError(t, err)

	o := f.outcomes.byAccount(sig.ID)["a"]
	assert.InDelta(t, 1, o.Quantity, 1e-9) // 100 / AAVE@100
	assert.True(t, o.WasExecuted)
}

func TestDispatchIsolatesVaultFailure(t *testing.T) {
	a, b, c := automated("a", 1), automated("b", 2), automated("c", 3)
	f := newFixture(a, b, c)
	f.resolver.errs[common.HexToAddress(b.Address)] = errors.New("rpc: connection reset")

	sig, err := f.dispatcher(nil).Dispatch(context.Background(), newSignal())
	require.NoError(t, err)

	got := f.outcomes.byAccount(sig.ID)
	require.Len(t, got, 3)
	assert.True(t, got["a"].WasExecuted)
	assert.True(t, got["c"].WasExecuted)
	assert.False(t, got["b"].WasExecuted)
	assert.Contains(t, got["b"].Message, "vault lookup failed")
	assert.Contains(t, f.audit.events, "outcome.error")
}

func TestDispatchIsolatesPanics(t *testing.T) {
	a, b, c := automated("a", 1), automated("b", 2), automated("c", 3)
	f := newFixture(a, b, c)
	d := NewDispatcher(f.signals, f.accounts, f.outcomes, nil, f.prices,
		panickyResolver{panicOn: common.HexToAddress(b.Address)}, f.swapper,
		nil, nil, nil, f.cfg, discardLogger())

	sig, err := d.Dispatch(context.Background(), newSignal())
	require.NoError(t, err)

	got := f.outcomes.byAccount(sig.ID)
	assert.True(t, got["a"].WasExecuted)
	assert.True(t, got["c"].WasExecuted)
	assert.False(t, got["b"].WasExecuted)
}

func TestDispatchNoVault(t *testing.T) {
	a := automated("a", 1)
	f := newFixture(a)
	delete(f.resolver.vaults, common.HexToAddress(a.Address))

	sig, err := f.dispatcher(nil).Dispatch(context.Background(), newSignal())
	require.NoError(t, err)

	o := f.outcomes.byAccount(sig.ID)["a"]
	assert.Equal(t, domain.MsgNoVault, o.Message)
	assert.False(t, o.WasExecuted)
	assert.Empty(t, f.swapper.calls)
}

func TestDispatchGasEstimationFailureStoresNoHash(t *testing.T) {
	f := newFixture(automated("a", 1))
	f.prices = staticPrices{"USDC": 1}
	vc := &fakeVaultChain{
		balance:     usdc(1000),
		allowance:   usdc(1000),
		estimateErr: errors.New("execution reverted"),
	}
	ex := newTestExecutor(&fakeQuotes{quote: okQuote()}, vc)

	sig, err := f.dispatcher(ex).Dispatch(context.Background(), newSignal())
	require.NoError(t, err)

	o := f.outcomes.byAccount(sig.ID)["a"]
	assert.False(t, o.WasExecuted)
	assert.Empty(t, o.TxHash)
	assert.True(t, strings.HasPrefix(o.Message, "swap failed: gas_estimation_failed"), o.Message)
	assert.NotContains(t, vc.opsSnapshot(), "execute")
}

func TestDispatchSwapFailureMessage(t *testing.T) {
	f := newFixture(automated("a", 1))
	f.swapper.err = &domain.SwapError{Reason: domain.SwapInsufficientBalance, Err: errors.New("vault holds 0")}

	sig, err := f.dispatcher(nil).Dispatch(context.Background(), newSignal())
	require.NoError(t, err)

	o := f.outcomes.byAccount(sig.ID)["a"]
	assert.Equal(t, "swap failed: insufficient_balance: vault holds 0", o.Message)
	assert.False(t, o.WasExecuted)
}

func TestDispatchPriceUnavailableStillRecordsOutcome(t *testing.T) {
	f := newFixture(automated("a", 1))
	f.prices = staticPrices{}

	sig, err := f.dispatcher(nil).Dispatch(context.Background(), newSignal())
	require.NoError(t, err)

	o := f.outcomes.byAccount(sig.ID)["a"]
	assert.Zero(t, o.Quantity)
	assert.Contains(t, o.Message, "price unavailable for USDC")
	assert.Empty(t, f.swapper.calls)
}

func TestDispatchRejectsInvalidSignal(t *testing.T) {
	f := newFixture(automated("a", 1))
	d := f.dispatcher(nil)

	missing := newSignal()
	missing.EventID = nil
	_, err := d.Dispatch(context.Background(), missing)
	require.ErrorIs(t, err, domain.ErrInvalidSignal)
	assert.Contains(t, err.Error(), "eventId is required")

	badDir := newSignal()
	badDir.Direction = "HOLD"
	_, err = d.Dispatch(context.Background(), badDir)
	require.ErrorIs(t, err, domain.ErrInvalidSignal)

	conf := 1.5
	badConf := newSignal()
	badConf.Confidence = &conf
	_, err = d.Dispatch(context.Background(), badConf)
	require.ErrorIs(t, err, domain.ErrInvalidSignal)

	assert.Empty(t, f.signals.rows)
	assert.Empty(t, f.outcomes.rows)
}

func TestDispatchAcceptsExplicitZeroQuantity(t *testing.T) {
	f := newFixture(automated("a", 1))
	in := newSignal()
	zero := 0.0
	in.Quantity = &zero

	_, err := f.dispatcher(nil).Dispatch(context.Background(), in)
	require.NoError(t, err)
}

func TestDispatchPersistFailurePropagates(t *testing.T) {
	f := newFixture(automated("a", 1))
	f.signals.err = errors.New("db down")

	_, err := f.dispatcher(nil).Dispatch(context.Background(), newSignal())
	require.Error(t, err)
	assert.Empty(t, f.outcomes.rows)
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	accts := make([]domain.Account, 12)
	for i := range accts {
		accts[i] = automated(string(rune('a'+i)), int64(i+1))
	}
	f := newFixture(accts...)
	f.cfg.MaxConcurrency = 3
	f.swapper.delay = 10 * time.Millisecond

	sig, err := f.dispatcher(nil).Dispatch(context.Background(), newSignal())
	require.NoError(t, err)

	assert.Len(t, f.outcomes.byAccount(sig.ID), 12)
	assert.LessOrEqual(t, f.swapper.maxSeen.Load(), int32(3))
	assert.Len(t, f.swapper.calls, 12)
}

type gatedSwapper struct {
	release chan struct{}
	ctxErr  chan error
}

func (s *gatedSwapper) Execute(ctx context.Context, _, _ string, _ float64, _ common.Address) (domain.SwapResult, error) {
	<-s.release
	s.ctxErr <- ctx.Err()
	return domain.SwapResult{TxHash: "0xdef"}, nil
}

func TestAcceptReturnsOnceStored(t *testing.T) {
	f := newFixture(automated("a", 1))
	sw := &gatedSwapper{release: make(chan struct{}), ctxErr: make(chan error, 1)}
	d := f.dispatcher(sw)

	ctx, cancel := context.WithCancel(context.Background())
	sig, err := d.Accept(ctx, newSignal())
	require.NoError(t, err)
	require.NotEmpty(t, sig.ID)
	assert.Len(t, f.signals.rows, 1)

	// The caller going away must not reach the background units.
	cancel()

	short, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	require.ErrorIs(t, d.Drain(short), context.DeadlineExceeded)

	close(sw.release)
	require.NoError(t, d.Drain(context.Background()))
	assert.NoError(t, <-sw.ctxErr)

	o := f.outcomes.byAccount(sig.ID)["a"]
	assert.True(t, o.WasExecuted)
	assert.Equal(t, "0xdef", o.TxHash)
}

func TestAcceptRejectsWithoutFanOut(t *testing.T) {
	f := newFixture(automated("a", 1))
	d := f.dispatcher(nil)

	in := newSignal()
	in.EventID = nil
	_, err := d.Accept(context.Background(), in)
	require.ErrorIs(t, err, domain.ErrInvalidSignal)

	f.signals.err = errors.New("db down")
	_, err = d.Accept(context.Background(), newSignal())
	require.Error(t, err)

	require.NoError(t, d.Drain(context.Background()))
	assert.Empty(t, f.outcomes.rows)
	assert.Empty(t, f.swapper.calls)
}
