package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
	"github.com/alanyoungcy/vaultsignal/internal/platform/defillama"
	"github.com/alanyoungcy/vaultsignal/internal/platform/zeroex"
)

var (
	usdcAddr = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	aaveAddr = common.HexToAddress("0x63706e401c06ac8513145b7687A14804d17f814b")
	wethAddr = common.HexToAddress("0x4200000000000000000000000000000000000006")
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testTokens() domain.TokenTable {
	tt, err := domain.NewTokenTable([]domain.Token{
		{Symbol: "USDC", Address: usdcAddr, Decimals: 6},
		{Symbol: "AAVE", Address: aaveAddr, Decimals: 18},
		{Symbol: "WETH", Address: wethAddr, Decimals: 18},
	})
	if err != nil {
		panic(err)
	}
	return tt
}

// ---- stores ----

type memSignals struct {
	mu   sync.Mutex
	rows []domain.Signal
	err  error
}

func (m *memSignals) Create(_ context.Context, sig domain.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.rows = append(m.rows, sig)
	return nil
}

func (m *memSignals) GetByID(_ context.Context, id string) (domain.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.rows {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.Signal{}, domain.ErrNotFound
}

func (m *memSignals) List(_ context.Context, _ domain.ListOpts) ([]domain.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Signal(nil), m.rows...), nil
}

type memAccounts struct {
	rows []domain.Account
}

func (m *memAccounts) List(context.Context) ([]domain.Account, error) {
	return append([]domain.Account(nil), m.rows...), nil
}

func (m *memAccounts) GetByAddress(_ context.Context, address string) (domain.Account, error) {
	for _, a := range m.rows {
		if domain.NormalizeAddress(a.Address) == domain.NormalizeAddress(address) {
			return a, nil
		}
	}
	return domain.Account{}, domain.ErrNotFound
}

func (m *memAccounts) Upsert(_ context.Context, acct domain.Account) error {
	m.rows = append(m.rows, acct)
	return nil
}

type memOutcomes struct {
	mu   sync.Mutex
	rows map[string]*domain.AccountOutcome
}

func newMemOutcomes() *memOutcomes {
	return &memOutcomes{rows: make(map[string]*domain.AccountOutcome)}
}

func (m *memOutcomes) Create(_ context.Context, o domain.AccountOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.SignalID == o.SignalID && r.AccountID == o.AccountID {
			return domain.ErrAlreadyExists
		}
	}
	m.rows[o.ID] = &o
	return nil
}

func (m *memOutcomes) SetMessage(_ context.Context, id, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Message = message
	return nil
}

func (m *memOutcomes) MarkExecuted(_ context.Context, id, txHash, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.WasExecuted = true
	r.TxHash = txHash
	r.Message = message
	return nil
}

func (m *memOutcomes) MarkReviewed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.WasReviewed = true
	return nil
}

func (m *memOutcomes) GetByID(_ context.Context, id string) (domain.AccountOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return domain.AccountOutcome{}, domain.ErrNotFound
	}
	return *r, nil
}

func (m *memOutcomes) ListBySignal(_ context.Context, signalID string) ([]domain.AccountOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AccountOutcome
	for _, r := range m.rows {
		if r.SignalID == signalID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func (m *memOutcomes) ListByAccount(_ context.Context, accountID string, unreviewedOnly bool, _ domain.ListOpts) ([]domain.AccountOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AccountOutcome
	for _, r := range m.rows {
		if r.AccountID != accountID || (unreviewedOnly && r.WasReviewed) {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (m *memOutcomes) byAccount(signalID string) map[string]domain.AccountOutcome {
	rows, _ := m.ListBySignal(context.Background(), signalID)
	out := make(map[string]domain.AccountOutcome, len(rows))
	for _, r := range rows {
		out[r.AccountID] = r
	}
	return out
}

type memSnapshots struct {
	mu   sync.Mutex
	rows []domain.PriceSnapshot
}

func (m *memSnapshots) InsertIfAbsent(_ context.Context, snap domain.PriceSnapshot, freshness time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.Symbol == snap.Symbol && r.ObservedAt.After(snap.ObservedAt.Add(-freshness)) {
			return false, nil
		}
	}
	snap.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, snap)
	return true, nil
}

func (m *memSnapshots) Latest(_ context.Context, symbol string) (domain.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].Symbol == symbol {
			return m.rows[i], nil
		}
	}
	return domain.PriceSnapshot{}, domain.ErrNotFound
}

func (m *memSnapshots) ListBySymbol(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.PriceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PriceSnapshot
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].Symbol == symbol {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

func (m *memSnapshots) count(symbol string) int {
	rows, _ := m.ListBySymbol(context.Background(), symbol, domain.ListOpts{})
	return len(rows)
}

type memAudit struct {
	mu     sync.Mutex
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// ---- providers ----

type fakeChart struct {
	mu     sync.Mutex
	series map[common.Address][]float64
	err    error
	calls  int
}

func (f *fakeChart) Chart(_ context.Context, token common.Address, end time.Time) ([]defillama.PricePoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	prices := f.series[token]
	out := make([]defillama.PricePoint, 0, len(prices))
	for i, p := range prices {
		out = append(out, defillama.PricePoint{
			Timestamp: end.Add(time.Duration(i-len(prices)+1) * time.Hour).Unix(),
			Price:     p,
		})
	}
	return out, nil
}

type fakeQuotes struct {
	quote zeroex.Quote
	err   error
	reqs  []zeroex.QuoteRequest
}

var routerAddr = common.HexToAddress("0x0000000000001fF3684f28c67538d4D072C22734")

func okQuote() zeroex.Quote {
	return zeroex.Quote{
		BuyAmount: big.NewInt(1),
		Transaction: zeroex.Transaction{
			To:    routerAddr,
			Data:  []byte{0xde, 0xad, 0xbe, 0xef},
			Value: new(big.Int),
		},
	}
}

func (f *fakeQuotes) Quote(_ context.Context, req zeroex.QuoteRequest) (zeroex.Quote, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return zeroex.Quote{}, f.err
	}
	return f.quote, nil
}

// fakeVaultChain records the order of on-chain operations.
type fakeVaultChain struct {
	mu sync.Mutex

	balance         *big.Int
	allowance       *big.Int
	approveGrants   bool
	estimateErr     error
	sendErr         error
	executeReverted bool

	ops   []string
	sends []domain.VaultCall
	nonce uint64
}

func (f *fakeVaultChain) record(op string) {
	f.ops = append(f.ops, op)
}

func (f *fakeVaultChain) BalanceOf(_ context.Context, _, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("balance")
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeVaultChain) Allowance(_ context.Context, _, _, _ common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("allowance")
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeVaultChain) EstimateExecute(_ context.Context, _ common.Address, _ domain.VaultCall) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("estimate")
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 210_000, nil
}

func (f *fakeVaultChain) SendExecute(_ context.Context, _ common.Address, call domain.VaultCall, _ uint64) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.nonce++
	if call.Target == routerAddr {
		f.record("execute")
	} else {
		f.record("approve")
		if f.approveGrants {
			f.allowance = new(big.Int).Lsh(big.NewInt(1), 255)
		}
	}
	f.sends = append(f.sends, call)
	return common.BigToHash(new(big.Int).SetUint64(f.nonce)), nil
}

func (f *fakeVaultChain) WaitMined(_ context.Context, hash common.Hash) (domain.TxReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("wait")
	status := uint64(1)
	last := f.sends[len(f.sends)-1]
	if last.Target == routerAddr && f.executeReverted {
		status = 0
	}
	return domain.TxReceipt{TxHash: hash, Status: status, BlockNumber: 100, GasUsed: 150_000}, nil
}

func (f *fakeVaultChain) opsSnapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}
