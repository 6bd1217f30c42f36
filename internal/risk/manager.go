// Package risk implements pre-trade validation, stop/take-profit
// generation, and post-trade drawdown/daily-loss accounting shared by the
// paper and live engines.
//
// The shape is borrowed from a market maker's portfolio-wide risk monitor:
// a mutex-guarded aggregate of counters, mutated only through the
// manager's own methods, with an emergency-stop flag that gates every
// subsequent validation once tripped — the same role the teacher's
// kill-switch cooldown plays, generalized from a timed cooldown to an
// explicit-clear latch (spec.md §4.3 gives emergency stop no auto-expiry).
package risk

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// Manager enforces portfolio-level risk limits: pre-trade order validation,
// post-trade daily-loss/drawdown accounting, and stop-loss/take-profit
// generation. It never places orders itself — it only returns decisions
// and order shapes for the owning engine to act on.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu                  sync.RWMutex
	dailyPnL            float64
	sessionHighWater    float64
	currentDrawdown     float64
	emergencyStopActive bool
	emergencyReason     string
	correlations        map[string]float64 // "SYMA|SYMB" (sorted) -> correlation
}

// NewManager creates a risk manager with the given limits.
func NewManager(cfg config.RiskConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		logger:       logger.With("component", "risk"),
		correlations: make(map[string]float64),
	}
}

// SetCorrelation records the correlation observed between two symbols, used
// by ValidateOrder's correlation-exceeded check. Symbols are order
// independent.
func (m *Manager) SetCorrelation(symbolA, symbolB string, correlation float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.correlations[correlationKey(symbolA, symbolB)] = correlation
}

func correlationKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

// ValidateOrder is the pre-trade contract of spec.md §4.3: it returns nil
// if the order may proceed, or a *types.EngineError of kind RiskRejected
// (or EmergencyStopActive / InvalidOrder) describing why not. positions is
// the caller's current position book; currentPrice is the reference price
// used to size the resulting notional; equity is portfolio equity.
func (m *Manager) ValidateOrder(order *types.OrderRequest, positions map[string]*types.Position, currentPrice, equity float64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.emergencyStopActive {
		return types.WrapKind(types.KindEmergencyStopActive, m.emergencyReason, nil)
	}
	if err := order.Validate(); err != nil {
		return err
	}
	if equity <= 0 {
		return types.WrapKind(types.KindRiskRejected, "equity must be > 0 to size orders", nil)
	}

	existing := positions[order.Symbol]
	var priorSize float64
	if existing != nil {
		priorSize = existing.Size
	}
	delta := order.Quantity
	if order.Side == types.Sell {
		delta = -delta
	}
	newSize := priorSize + delta
	notional := absf(newSize) * currentPrice

	if m.cfg.MaxPositionSizePct > 0 && notional/equity > m.cfg.MaxPositionSizePct {
		return types.WrapKind(types.KindRiskRejected, "position-size-exceeded", nil)
	}

	if m.cfg.MaxLeverage > 0 && notional/equity > m.cfg.MaxLeverage {
		return types.WrapKind(types.KindRiskRejected, "leverage-exceeded", nil)
	}

	if m.cfg.MaxOpenPositions > 0 && (existing == nil || existing.IsFlat()) && newSize != 0 {
		open := 0
		for _, p := range positions {
			if !p.IsFlat() {
				open++
			}
		}
		if open >= m.cfg.MaxOpenPositions {
			return types.WrapKind(types.KindRiskRejected, "open-positions-exceeded", nil)
		}
	}

	if m.cfg.MaxConcentrationPct > 0 {
		total := notional
		for sym, p := range positions {
			if sym == order.Symbol {
				continue
			}
			total += absf(p.Size) * p.CurrentPrice
		}
		if total > notional && notional/total > m.cfg.MaxConcentrationPct {
			return types.WrapKind(types.KindRiskRejected, "concentration-exceeded", nil)
		}
	}

	if m.cfg.MaxCorrelation > 0 {
		for sym := range positions {
			if sym == order.Symbol {
				continue
			}
			if corr, ok := m.correlations[correlationKey(order.Symbol, sym)]; ok && absf(corr) > m.cfg.MaxCorrelation {
				return types.WrapKind(types.KindRiskRejected, "correlation-exceeded", nil)
			}
		}
	}

	if m.cfg.MaxDailyLossPct > 0 && m.dailyPnL < -(m.cfg.MaxDailyLossPct*equity) {
		return types.WrapKind(types.KindRiskRejected, "daily-loss-triggered", nil)
	}

	if m.cfg.MaxDrawdownPct > 0 && m.currentDrawdown > m.cfg.MaxDrawdownPct {
		return types.WrapKind(types.KindRiskRejected, "drawdown-triggered", nil)
	}

	return nil
}

// UpdatePortfolioValue is the post-trade contract of spec.md §4.3, called
// once per bar (backtest) or tick (paper/live). It updates the running
// daily PnL, session high-water mark, and current drawdown, returning a
// DailyLossTriggered or DrawdownTriggered error on every call while a
// threshold is breached (the caller decides whether to escalate to
// EmergencyStop).
func (m *Manager) UpdatePortfolioValue(newValue, realizedPnLDelta float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dailyPnL += realizedPnLDelta

	if newValue > m.sessionHighWater {
		m.sessionHighWater = newValue
	}
	if m.sessionHighWater > 0 {
		m.currentDrawdown = (m.sessionHighWater - newValue) / m.sessionHighWater
	}

	if m.cfg.MaxDailyLossPct > 0 && m.sessionHighWater > 0 && m.dailyPnL < -(m.cfg.MaxDailyLossPct*m.sessionHighWater) {
		return types.WrapKind(types.KindRiskRejected, "daily-loss-triggered", nil)
	}
	if m.cfg.MaxDrawdownPct > 0 && m.currentDrawdown > m.cfg.MaxDrawdownPct {
		return types.WrapKind(types.KindRiskRejected, "drawdown-triggered", nil)
	}
	return nil
}

// GenerateStopLoss returns a reduce-only stop order at
// entry_price * (1 ∓ stop_loss_pct), side opposite the position. Returns
// nil if the position is flat or no stop_loss_pct is configured.
func (m *Manager) GenerateStopLoss(position *types.Position) *types.OrderRequest {
	if position == nil || position.IsFlat() || m.cfg.StopLossPct <= 0 {
		return nil
	}
	return m.generateProtectiveOrder(position, m.cfg.StopLossPct, true)
}

// GenerateTakeProfit returns a reduce-only take-profit order at
// entry_price * (1 ± take_profit_pct), side opposite the position.
// Returns nil if the position is flat or no take_profit_pct is configured.
func (m *Manager) GenerateTakeProfit(position *types.Position) *types.OrderRequest {
	if position == nil || position.IsFlat() || m.cfg.TakeProfitPct <= 0 {
		return nil
	}
	return m.generateProtectiveOrder(position, m.cfg.TakeProfitPct, false)
}

// generateProtectiveOrder builds the reduce-only order shared by
// GenerateStopLoss/GenerateTakeProfit. isStop controls whether the trigger
// price sits below (long) or above (short) entry, or the mirror for
// take-profit.
func (m *Manager) generateProtectiveOrder(position *types.Position, pct float64, isStop bool) *types.OrderRequest {
	var triggerPrice float64
	long := position.IsLong()

	switch {
	case isStop && long:
		triggerPrice = position.EntryPrice * (1 - pct)
	case isStop && !long:
		triggerPrice = position.EntryPrice * (1 + pct)
	case !isStop && long:
		triggerPrice = position.EntryPrice * (1 + pct)
	default: // take-profit, short
		triggerPrice = position.EntryPrice * (1 - pct)
	}

	side := types.Buy
	if long {
		side = types.Sell
	}
	orderType := types.OrderTypeStopMarket
	if !isStop {
		orderType = types.OrderTypeTakeProfitMarket
	}

	return &types.OrderRequest{
		Symbol:      position.Symbol,
		Side:        side,
		Type:        orderType,
		Quantity:    absf(position.Size),
		StopPrice:   &triggerPrice,
		ReduceOnly:  true,
		TimeInForce: types.GoodTillCancel,
	}
}

// RequiredMargin returns notional / max_leverage.
func (m *Manager) RequiredMargin(notional float64) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cfg.MaxLeverage <= 0 {
		return notional
	}
	return notional / m.cfg.MaxLeverage
}

// EmergencyStop activates the emergency-stop latch. Until ClearEmergencyStop
// is called, every ValidateOrder call fails with EmergencyStopActive.
func (m *Manager) EmergencyStop(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStopActive = true
	m.emergencyReason = reason
	m.logger.Error("emergency stop activated", "reason", reason, "at", time.Now())
}

// ClearEmergencyStop releases the emergency-stop latch.
func (m *Manager) ClearEmergencyStop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStopActive = false
	m.emergencyReason = ""
	m.logger.Info("emergency stop cleared")
}

// IsEmergencyStopped reports whether the emergency-stop latch is engaged.
func (m *Manager) IsEmergencyStopped() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyStopActive
}

// Snapshot is a value copy of the manager's current counters, safe to hand
// to monitoring without sharing mutable state.
type Snapshot struct {
	DailyPnL            float64
	SessionHighWater    float64
	CurrentDrawdown     float64
	EmergencyStopActive bool
	EmergencyReason     string
}

// Snapshot returns the manager's current counters.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		DailyPnL:            m.dailyPnL,
		SessionHighWater:    m.sessionHighWater,
		CurrentDrawdown:     m.currentDrawdown,
		EmergencyStopActive: m.emergencyStopActive,
		EmergencyReason:     m.emergencyReason,
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
