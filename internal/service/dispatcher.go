package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/vaultsignal/internal/domain"
	"github.com/alanyoungcy/vaultsignal/internal/metrics"
)

// PriceSource resolves a usable price for a symbol, falling back to the
// fallback table when the provider cannot.
type PriceSource interface {
	PriceOrFallback(ctx context.Context, symbol string) (domain.PriceQuote, error)
}

// VaultResolver maps an account owner to its vault.
type VaultResolver interface {
	ResolveVault(ctx context.Context, owner common.Address) (common.Address, error)
}

// Swapper executes a swap through a vault.
type Swapper interface {
	Execute(ctx context.Context, from, to string, quantity float64, vault common.Address) (domain.SwapResult, error)
}

// EventNotifier forwards operator notifications.
type EventNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Outcome statuses, used as event types on the bus, notifier events and
// metric labels.
const (
	StatusAutomationDisabled = "automation_disabled"
	StatusPairNotAllowed     = "pair_not_allowed"
	StatusPriceUnavailable   = "price_unavailable"
	StatusNoVault            = "no_vault"
	StatusVaultLookupFailed  = "vault_lookup_failed"
	StatusExecuted           = "executed"
	StatusSwapFailed         = "swap_failed"
	StatusDuplicate          = "duplicate"
	StatusError              = "error"
)

// DispatcherConfig tunes the fan-out.
type DispatcherConfig struct {
	// QuoteSymbol is the currency BUY signals spend and SELL signals receive.
	QuoteSymbol string
	// MaxConcurrency bounds in-flight account units; zero is unbounded.
	MaxConcurrency int
}

// Dispatcher persists inbound signals and fans each one out to every
// registered account, producing exactly one outcome per account.
type Dispatcher struct {
	signals  domain.SignalStore
	accounts domain.AccountStore
	outcomes domain.OutcomeStore
	audit    domain.AuditStore
	prices   PriceSource
	vaults   VaultResolver
	swapper  Swapper
	bus      domain.SignalBus
	notifier EventNotifier
	metrics  *metrics.Recorder
	cfg      DispatcherConfig
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	running int
	idle    chan struct{}
}

// NewDispatcher creates a Dispatcher. audit, bus, notifier and rec may be nil.
func NewDispatcher(
	signals domain.SignalStore,
	accounts domain.AccountStore,
	outcomes domain.OutcomeStore,
	audit domain.AuditStore,
	prices PriceSource,
	vaults VaultResolver,
	swapper Swapper,
	bus domain.SignalBus,
	notifier EventNotifier,
	rec *metrics.Recorder,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.QuoteSymbol == "" {
		cfg.QuoteSymbol = "USDC"
	}
	return &Dispatcher{
		signals:  signals,
		accounts: accounts,
		outcomes: outcomes,
		audit:    audit,
		prices:   prices,
		vaults:   vaults,
		swapper:  swapper,
		bus:      bus,
		notifier: notifier,
		metrics:  rec,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With(slog.String("component", "dispatcher")),
	}
}

// Dispatch validates and persists in, then processes every account
// concurrently and returns the persisted signal once all units settle.
// Validation and persistence failures are returned; per-account failures
// only ever surface in the outcome records.
func (d *Dispatcher) Dispatch(ctx context.Context, in domain.NewSignal) (domain.Signal, error) {
	start := time.Now()
	sig, err := d.persist(ctx, in, start)
	if err != nil {
		return domain.Signal{}, err
	}
	if err := d.fanOut(ctx, sig, start); err != nil {
		return sig, err
	}
	return sig, nil
}

// Accept validates and persists in and returns as soon as the signal is
// stored. The fan-out continues in the background on a context that
// outlives ctx; Drain waits for it.
func (d *Dispatcher) Accept(ctx context.Context, in domain.NewSignal) (domain.Signal, error) {
	start := time.Now()
	sig, err := d.persist(ctx, in, start)
	if err != nil {
		return domain.Signal{}, err
	}

	d.track()
	go func() {
		defer d.untrack()
		bg := context.WithoutCancel(ctx)
		if err := d.fanOut(bg, sig, start); err != nil {
			d.logger.ErrorContext(bg, "fan-out did not run",
				slog.String("signal_id", sig.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
	return sig, nil
}

// Drain blocks until every background fan-out started by Accept has
// settled or ctx is done.
func (d *Dispatcher) Drain(ctx context.Context) error {
	d.mu.Lock()
	if d.running == 0 {
		d.mu.Unlock()
		return nil
	}
	if d.idle == nil {
		d.idle = make(chan struct{})
	}
	idle := d.idle
	running := d.running
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "draining fan-outs", slog.Int("running", running))
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher: drain: %w", ctx.Err())
	}
}

func (d *Dispatcher) track() {
	d.mu.Lock()
	d.running++
	d.mu.Unlock()
}

func (d *Dispatcher) untrack() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running--
	if d.running == 0 && d.idle != nil {
		close(d.idle)
		d.idle = nil
	}
}

func (d *Dispatcher) persist(ctx context.Context, in domain.NewSignal, start time.Time) (domain.Signal, error) {
	if err := ValidateSignal(&in); err != nil {
		d.metrics.RecordDispatch("", "invalid", time.Since(start))
		return domain.Signal{}, err
	}

	sig := domain.Signal{
		ID:         uuid.New().String(),
		Direction:  domain.Direction(in.Direction),
		Symbol:     in.Symbol,
		Quantity:   *in.Quantity,
		Confidence: *in.Confidence,
		EventID:    *in.EventID,
		Rationale:  in.Rationale,
		CreatedAt:  d.now(),
	}
	if err := d.signals.Create(ctx, sig); err != nil {
		d.metrics.RecordDispatch(string(sig.Direction), "store_failed", time.Since(start))
		return domain.Signal{}, fmt.Errorf("dispatcher: persist signal: %w", err)
	}

	d.auditLog(ctx, "signal.received", map[string]any{
		"signal_id": sig.ID,
		"direction": string(sig.Direction),
		"symbol":    sig.Symbol,
		"quantity":  sig.Quantity,
		"event_id":  sig.EventID,
	})
	d.publish(ctx, domain.ChannelSignals, sig)
	return sig, nil
}

// fanOut runs one unit per registered account and waits for all of them.
func (d *Dispatcher) fanOut(ctx context.Context, sig domain.Signal, start time.Time) error {
	log := d.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("direction", string(sig.Direction)),
		slog.String("symbol", sig.Symbol),
		slog.Int64("event_id", sig.EventID),
	)

	accounts, err := d.accounts.List(ctx)
	if err != nil {
		d.metrics.RecordDispatch(string(sig.Direction), "accounts_failed", time.Since(start))
		return fmt.Errorf("dispatcher: list accounts: %w", err)
	}

	var g errgroup.Group
	if d.cfg.MaxConcurrency > 0 {
		g.SetLimit(d.cfg.MaxConcurrency)
	}
	for _, acct := range accounts {
		g.Go(func() error {
			d.runUnit(ctx, sig, acct)
			return nil
		})
	}
	_ = g.Wait()

	log.InfoContext(ctx, "signal dispatched",
		slog.Int("accounts", len(accounts)),
		slog.Duration("took", time.Since(start)),
	)
	d.metrics.RecordDispatch(string(sig.Direction), "ok", time.Since(start))
	return nil
}

// runUnit isolates one account: any error or panic is logged and never
// reaches sibling units.
func (d *Dispatcher) runUnit(ctx context.Context, sig domain.Signal, acct domain.Account) {
	d.metrics.UnitStarted()
	defer d.metrics.UnitDone()

	log := d.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("account_id", acct.ID),
		slog.String("address", acct.Address),
	)
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "account unit panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			d.metrics.RecordOutcome(StatusError)
		}
	}()

	status, err := d.processAccount(ctx, sig, acct, log)
	if err != nil {
		log.ErrorContext(ctx, "account unit failed",
			slog.String("status", status),
			slog.String("error", err.Error()),
		)
		d.auditLog(ctx, "outcome.error", map[string]any{
			"signal_id":  sig.ID,
			"account_id": acct.ID,
			"status":     status,
			"error":      err.Error(),
		})
	}
	d.metrics.RecordOutcome(status)
}

// processAccount prices, sizes and records the account's outcome, then
// applies the automation gates, the price check and executes the swap. It returns the settled
// status.
func (d *Dispatcher) processAccount(ctx context.Context, sig domain.Signal, acct domain.Account, log *slog.Logger) (string, error) {
	from, to := sig.Legs(d.cfg.QuoteSymbol)

	// Sizing uses the source-token price for both directions.
	quantity := 0.0
	quote, priceErr := d.prices.PriceOrFallback(ctx, from)
	if priceErr == nil {
		quantity = SizeTrade(acct.MaxTradeSize, quote.Price, sig.Quantity)
	}

	outcome := domain.OutcomeFor(sig, acct, quantity)
	outcome.ID = uuid.New().String()
	outcome.CreatedAt = d.now()
	outcome.UpdatedAt = outcome.CreatedAt
	if err := d.outcomes.Create(ctx, outcome); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			log.WarnContext(ctx, "outcome already recorded")
			return StatusDuplicate, nil
		}
		return StatusError, fmt.Errorf("dispatcher: create outcome: %w", err)
	}

	// Gates settle before pricing so a disabled account always reads as such.
	if !acct.AutomationEnabled {
		d.settle(ctx, &outcome, StatusAutomationDisabled, domain.MsgAutomationDisabled)
		return StatusAutomationDisabled, nil
	}
	if !acct.Allows(from, to) {
		d.settle(ctx, &outcome, StatusPairNotAllowed, domain.MsgPairNotAllowed)
		return StatusPairNotAllowed, nil
	}
	if priceErr != nil {
		msg := fmt.Sprintf("price unavailable for %s: %v", from, priceErr)
		d.settle(ctx, &outcome, StatusPriceUnavailable, msg)
		return StatusPriceUnavailable, priceErr
	}

	if !common.IsHexAddress(acct.Address) {
		d.settle(ctx, &outcome, StatusNoVault, domain.MsgNoVault)
		return StatusNoVault, fmt.Errorf("dispatcher: account address %q is not hex", acct.Address)
	}
	vault, err := d.vaults.ResolveVault(ctx, common.HexToAddress(acct.Address))
	if errors.Is(err, domain.ErrNoVault) {
		log.InfoContext(ctx, "account has no vault")
		d.settle(ctx, &outcome, StatusNoVault, domain.MsgNoVault)
		return StatusNoVault, nil
	}
	if err != nil {
		d.settle(ctx, &outcome, StatusVaultLookupFailed, "vault lookup failed: "+err.Error())
		return StatusVaultLookupFailed, fmt.Errorf("dispatcher: resolve vault: %w", err)
	}

	res, err := d.swapper.Execute(ctx, from, to, quantity, vault)
	if err != nil {
		log.WarnContext(ctx, "swap failed",
			slog.String("vault", vault.Hex()),
			slog.String("error", err.Error()),
		)
		d.settle(ctx, &outcome, StatusSwapFailed, "swap failed: "+err.Error())
		return StatusSwapFailed, nil
	}

	msg := fmt.Sprintf("executed %s %s: swapped %.4f %s for %s @ %.4f",
		sig.Direction, sig.Symbol, quantity, from, to, quote.Price)
	if err := d.outcomes.MarkExecuted(ctx, outcome.ID, res.TxHash, msg); err != nil {
		// The swap is on chain; the record must be reconciled by hand.
		log.ErrorContext(ctx, "mark executed failed",
			slog.String("tx_hash", res.TxHash),
			slog.String("error", err.Error()),
		)
	}
	outcome.WasExecuted = true
	outcome.TxHash = res.TxHash
	outcome.Message = msg
	outcome.UpdatedAt = d.now()
	d.announce(ctx, outcome, StatusExecuted)
	d.auditLog(ctx, "outcome.executed", map[string]any{
		"signal_id":  sig.ID,
		"account_id": acct.ID,
		"vault":      vault.Hex(),
		"tx_hash":    res.TxHash,
		"quantity":   quantity,
	})
	return StatusExecuted, nil
}

// settle records a terminal message on a non-executed outcome.
func (d *Dispatcher) settle(ctx context.Context, o *domain.AccountOutcome, status, msg string) {
	if err := d.outcomes.SetMessage(ctx, o.ID, msg); err != nil {
		d.logger.ErrorContext(ctx, "set outcome message failed",
			slog.String("outcome_id", o.ID),
			slog.String("error", err.Error()),
		)
	}
	o.Message = msg
	o.UpdatedAt = d.now()
	d.announce(ctx, *o, status)
}

// announce publishes the settled outcome and notifies operators of swaps.
func (d *Dispatcher) announce(ctx context.Context, o domain.AccountOutcome, status string) {
	d.publish(ctx, domain.ChannelOutcomes, domain.OutcomeEvent{Type: status, Outcome: o})

	if d.notifier == nil {
		return
	}
	var event, title string
	switch status {
	case StatusExecuted:
		event, title = "swap_executed", "Swap executed"
	case StatusSwapFailed:
		event, title = "swap_failed", "Swap failed"
	default:
		return
	}
	body := fmt.Sprintf("%s\naccount %s\n%s", o.Message, o.AccountAddress, o.TxHash)
	if err := d.notifier.Notify(ctx, event, title, body); err != nil {
		d.logger.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) publish(ctx context.Context, channel string, v any) {
	if d.bus == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.bus.Publish(ctx, channel, payload); err != nil {
		d.logger.WarnContext(ctx, "publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) auditLog(ctx context.Context, event string, detail map[string]any) {
	if d.audit == nil {
		return
	}
	if err := d.audit.Log(ctx, event, detail); err != nil {
		d.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
