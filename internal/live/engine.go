package live

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xsa-dev/perp-trading-engine/internal/risk"
	"github.com/xsa-dev/perp-trading-engine/internal/store"
	"github.com/xsa-dev/perp-trading-engine/internal/strategy"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// OrderClient is the venue collaborator (C13, internal/venue) the live
// engine submits orders through. OpenOrders/Positions back the
// reconnect-time reconciliation required by spec.md §4.6, and Cancel gives
// the engine a per-order complement to CancelAllOrders.
type OrderClient interface {
	SubmitOrder(ctx context.Context, order types.OrderRequest) (types.OrderResult, error)
	Cancel(ctx context.Context, orderID string) error
	CancelAllOrders(ctx context.Context, symbol string) error
	OpenOrders(ctx context.Context, symbol string) ([]types.OrderResult, error)
	Positions(ctx context.Context) ([]types.Position, error)
}

// MarketDataSubscriber is the stream collaborator (C12, internal/stream)
// the live engine consumes MarketData from.
type MarketDataSubscriber interface {
	Subscribe(ctx context.Context, symbols []string) (<-chan types.MarketData, error)
}

// Config bundles the dependencies the live engine needs at construction.
type Config struct {
	Symbol         string
	Client         OrderClient
	Feed           MarketDataSubscriber
	Retry          RetryPolicy
	RiskManager    *risk.Manager
	Breakers       *risk.BreakerBank
	Strategy       strategy.Strategy
	PositionStore  *store.Store
	InitialCapital float64
	Logger         *slog.Logger
}

// Engine drives a Strategy against a real venue: orders go out through
// OrderClient (wrapped in the retry policy), market data comes in through
// MarketDataSubscriber over a reconnecting subscription, and every order
// result/market event/alert is evaluated against the safety circuit
// breakers (spec.md §4.3). A trip calls emergencyStop. Grounded on the
// teacher's engine.Engine (reconnect/shutdown orchestration) and
// risk.Manager's kill-signal handling, generalized from a
// drain-and-replace kill channel to the explicit-latch EmergencyStop the
// risk manager already exposes ([[risk-manager]]).
type Engine struct {
	cfg Config

	mu              sync.Mutex
	position        types.Position
	disconnectCount int
	orderLatencies  []time.Duration
	successCount    int
	failureCount    int
	openOrderIDs    map[string]struct{}
	alerts          []types.Alert
	stopCh          chan struct{}
	stopped         bool
}

// New builds a live-trading engine for one symbol, restoring its starting
// position from cfg.PositionStore if one was persisted by a prior run.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "live", "symbol", cfg.Symbol)
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}

	position := types.Position{Symbol: cfg.Symbol}
	if cfg.PositionStore != nil {
		if restored, err := cfg.PositionStore.LoadPosition(cfg.Symbol); err != nil {
			cfg.Logger.Error("failed to restore position from store", "error", err)
		} else if restored != nil {
			position = *restored
			cfg.Logger.Info("restored position from store", "size", position.Size, "entry_price", position.EntryPrice)
		}
	}

	return &Engine{
		cfg:          cfg,
		position:     position,
		openOrderIDs: make(map[string]struct{}),
		stopCh:       make(chan struct{}),
	}
}

// Stop signals a graceful shutdown.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	close(e.stopCh)
}

// Position returns a snapshot of the current position.
func (e *Engine) Position() types.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.position
}

// DisconnectCount returns how many times the market-data subscription has
// dropped and been re-established, consumed by monitoring.
func (e *Engine) DisconnectCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnectCount
}

// Alerts returns every alert raised so far, consumed by monitoring.
func (e *Engine) Alerts() []types.Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Alert, len(e.alerts))
	copy(out, e.alerts)
	return out
}

// recordAlert appends an alert to the engine's in-memory log without
// consulting the breaker bank; used by emergencyStop's own final log line
// so a tripped alert-rate breaker can't re-trip itself through the alert
// it raises on the way out.
func (e *Engine) recordAlert(level types.AlertLevel, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.alerts = append(e.alerts, types.Alert{
		Level:     level,
		Message:   message,
		Component: fmt.Sprintf("live-engine:%s", e.cfg.Symbol),
		Timestamp: time.Now(),
	})
}

// raiseAlert records an alert and, for Critical-level alerts, feeds the
// alert-rate safety breaker (spec.md §4.3/§121): a trip triggers
// emergencyStop.
func (e *Engine) raiseAlert(ctx context.Context, level types.AlertLevel, message string) {
	e.recordAlert(level, message)
	if level != types.AlertCritical || e.cfg.Breakers == nil {
		return
	}
	if reason := e.cfg.Breakers.RecordCriticalAlert(time.Now()); reason != risk.TripNone {
		e.emergencyStop(ctx, string(reason))
	}
}

// Run maintains the market-data subscription (resubscribing after every
// drop, and backing off with the retry policy's growing delays while
// subscribing keeps failing) and drives the strategy off of it until ctx
// is cancelled or Stop is called.
func (e *Engine) Run(ctx context.Context) error {
	e.cfg.Logger.Info("live engine started")
	defer e.cfg.Logger.Info("live engine stopped")

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopCh:
			return nil
		default:
		}

		dataCh, err := e.cfg.Feed.Subscribe(ctx, []string{e.cfg.Symbol})
		if err != nil {
			failures++
			e.cfg.Logger.Error("subscribe failed, retrying", "error", err)
			e.raiseAlert(ctx, types.AlertError, fmt.Sprintf("market data subscribe failed: %v", err))
			if !e.sleepOrStop(ctx, e.cfg.Retry.delayFor(failures)) {
				return nil
			}
			continue
		}
		failures = 0

		e.reconcileAfterReconnect(ctx)

		e.consume(ctx, dataCh)

		e.mu.Lock()
		e.disconnectCount++
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stopCh:
			return nil
		default:
		}
		e.cfg.Logger.Warn("market data subscription ended, reconnecting")
	}
}

func (e *Engine) sleepOrStop(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-e.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

func (e *Engine) consume(ctx context.Context, dataCh <-chan types.MarketData) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case data, ok := <-dataCh:
			if !ok {
				return
			}
			e.onMarketData(ctx, data)
		}
	}
}

// reconcileAfterReconnect re-establishes ground truth with the venue right
// after a (re)subscribe, per spec.md §4.6/§150: in-flight orders with
// unknown state are resolved against the venue's open-order list, and the
// locally-tracked position is refreshed from the venue's own view.
func (e *Engine) reconcileAfterReconnect(ctx context.Context) {
	e.reconcileOpenOrders(ctx)
	e.reconcilePosition(ctx)
}

// reconcileOpenOrders fetches the venue's open-order list and marks any
// locally-tracked order absent from it (and not already known filled) as
// Expired: a reconnect can lose the fill/cancel event for an order that
// resolved while the feed was down.
func (e *Engine) reconcileOpenOrders(ctx context.Context) {
	e.mu.Lock()
	tracked := make([]string, 0, len(e.openOrderIDs))
	for id := range e.openOrderIDs {
		tracked = append(tracked, id)
	}
	e.mu.Unlock()

	if len(tracked) == 0 {
		return
	}

	openOrders, err := e.cfg.Client.OpenOrders(ctx, e.cfg.Symbol)
	if err != nil {
		e.cfg.Logger.Error("reconcile: fetch open orders failed", "error", err)
		return
	}

	stillOpen := make(map[string]struct{}, len(openOrders))
	for _, o := range openOrders {
		stillOpen[o.OrderID] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range tracked {
		if _, ok := stillOpen[id]; ok {
			continue
		}
		delete(e.openOrderIDs, id)
		e.cfg.Logger.Warn("reconcile: order missing from venue's open set, marking expired", "order_id", id)
		e.cfg.Strategy.OnOrderFill(types.OrderResult{
			OrderID:   id,
			Symbol:    e.cfg.Symbol,
			Status:    types.StatusExpired,
			Timestamp: time.Now(),
		})
	}
}

// reconcilePosition refreshes the locally-tracked position from the
// venue's own account-positions view, correcting for any fill the engine
// missed while disconnected.
func (e *Engine) reconcilePosition(ctx context.Context) {
	positions, err := e.cfg.Client.Positions(ctx)
	if err != nil {
		e.cfg.Logger.Error("reconcile: fetch positions failed", "error", err)
		return
	}
	for _, p := range positions {
		if p.Symbol != e.cfg.Symbol {
			continue
		}
		e.mu.Lock()
		e.position = p
		e.mu.Unlock()
		return
	}
}

func (e *Engine) onMarketData(ctx context.Context, data types.MarketData) {
	if data.Symbol != e.cfg.Symbol {
		return
	}

	e.mu.Lock()
	e.position.Mark(data.Last, data.Timestamp)
	pos := e.position
	e.mu.Unlock()

	if e.cfg.PositionStore != nil {
		if err := e.cfg.PositionStore.SavePosition(e.cfg.Symbol, pos); err != nil {
			e.cfg.Logger.Error("failed to persist position", "error", err)
		}
	}

	if e.cfg.Breakers != nil {
		if reason := e.cfg.Breakers.RecordPrice(data.Timestamp, data.Last); reason != risk.TripNone {
			e.emergencyStop(ctx, string(reason))
			return
		}
	}

	if e.checkDrawdownBreakers(ctx, pos) {
		return
	}

	for _, order := range e.cfg.Strategy.OnMarketData(data) {
		e.submitOrder(ctx, order)
	}
}

// checkDrawdownBreakers marks the current position to market against the
// risk manager's portfolio tracking, then evaluates both the account-level
// and position-level drawdown breakers (spec.md §4.3). Returns true if a
// trip fired emergencyStop.
func (e *Engine) checkDrawdownBreakers(ctx context.Context, pos types.Position) bool {
	if e.cfg.RiskManager == nil || e.cfg.Breakers == nil {
		return false
	}

	equity := e.cfg.InitialCapital + pos.RealizedPnL + pos.FundingPnL + pos.UnrealizedPnL
	if err := e.cfg.RiskManager.UpdatePortfolioValue(equity, 0); err != nil {
		e.cfg.Logger.Warn("risk manager rejected portfolio update", "error", err)
	}

	if reason := e.cfg.Breakers.RecordAccountDrawdown(e.cfg.RiskManager.Snapshot().CurrentDrawdown); reason != risk.TripNone {
		e.emergencyStop(ctx, string(reason))
		return true
	}

	if !pos.IsFlat() {
		notional := absf(pos.Size) * pos.CurrentPrice
		if notional > 0 && pos.UnrealizedPnL < 0 {
			positionDrawdown := -pos.UnrealizedPnL / notional
			if reason := e.cfg.Breakers.RecordPositionDrawdown(positionDrawdown); reason != risk.TripNone {
				e.emergencyStop(ctx, string(reason))
				return true
			}
		}
	}

	return false
}

func (e *Engine) submitOrder(ctx context.Context, order types.OrderRequest) {
	if e.cfg.RiskManager != nil && e.cfg.RiskManager.IsEmergencyStopped() {
		e.cfg.Logger.Warn("order suppressed, emergency stop active")
		return
	}

	start := time.Now()
	var result types.OrderResult
	err := e.cfg.Retry.Do(ctx, func(ctx context.Context) error {
		var submitErr error
		result, submitErr = e.cfg.Client.SubmitOrder(ctx, order)
		return submitErr
	})

	failed := err != nil
	e.mu.Lock()
	if failed {
		e.failureCount++
	} else {
		e.successCount++
		e.orderLatencies = append(e.orderLatencies, time.Since(start))
	}
	e.mu.Unlock()

	if e.cfg.Breakers != nil {
		if reason := e.cfg.Breakers.RecordOrderOutcome(time.Now(), failed); reason != risk.TripNone {
			e.emergencyStop(ctx, string(reason))
			return
		}
	}

	if failed {
		e.cfg.Logger.Error("order submission failed", "error", err)
		e.raiseAlert(ctx, types.AlertError, fmt.Sprintf("order submission failed: %v", err))
		return
	}

	e.mu.Lock()
	if result.Status.IsActive() {
		e.openOrderIDs[result.OrderID] = struct{}{}
	} else {
		delete(e.openOrderIDs, result.OrderID)
	}
	e.mu.Unlock()

	e.cfg.Strategy.OnOrderFill(result)
}

// emergencyStop implements spec.md §4.6's trip response: cancel all open
// orders, flatten all positions at market (reduce-only), latch the risk
// manager's emergency-stop flag, and emit a Critical alert.
func (e *Engine) emergencyStop(ctx context.Context, reason string) {
	e.cfg.Logger.Error("safety circuit breaker tripped, emergency stop", "reason", reason)

	if err := e.cfg.Client.CancelAllOrders(ctx, e.cfg.Symbol); err != nil {
		e.cfg.Logger.Error("emergency stop: cancel all orders failed", "error", err)
	}

	e.mu.Lock()
	pos := e.position
	e.mu.Unlock()

	if !pos.IsFlat() {
		side := types.Sell
		if pos.IsShort() {
			side = types.Buy
		}
		flatten := types.OrderRequest{
			Symbol:     e.cfg.Symbol,
			Side:       side,
			Type:       types.OrderTypeMarket,
			Quantity:   absf(pos.Size),
			ReduceOnly: true,
		}
		if _, err := e.cfg.Client.SubmitOrder(ctx, flatten); err != nil {
			e.cfg.Logger.Error("emergency stop: flatten order failed", "error", err)
		}
	}

	if e.cfg.RiskManager != nil {
		e.cfg.RiskManager.EmergencyStop(reason)
	}
	e.cfg.Logger.Error("CRITICAL: emergency stop engaged", "component", fmt.Sprintf("live-engine:%s", e.cfg.Symbol), "reason", reason)
	e.recordAlert(types.AlertCritical, fmt.Sprintf("emergency stop engaged: %s", reason))
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
