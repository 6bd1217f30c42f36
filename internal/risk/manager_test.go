package risk

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxPositionSizePct:   0.05,
		MaxDailyLossPct:      0.02,
		StopLossPct:          0.05,
		TakeProfitPct:        0.10,
		MaxLeverage:          5,
		MaxOpenPositions:     3,
		MaxConcentrationPct:  0.6,
		MaxCorrelation:       0.8,
		MaxDrawdownPct:       0.20,
		MaxVolatilityPct:     0.5,
		EmergencyStopLossPct: 0.15,
	}
}

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(testRiskConfig(), logger)
}

// TestValidateOrderPositionSizeExceeded grounds scenario S3 of spec.md §8:
// initial_capital=10_000, max_position_size_pct=0.05, a 0.5 BTC buy at
// 50_000 is 250% of equity and must be rejected.
func TestValidateOrderPositionSizeExceeded(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	order := &types.OrderRequest{Symbol: "BTC-PERP", Side: types.Buy, Type: types.OrderTypeMarket, Quantity: 0.5}
	err := rm.ValidateOrder(order, map[string]*types.Position{}, 50000, 10000)

	if err == nil {
		t.Fatal("expected position-size-exceeded rejection")
	}
	if !types.IsKind(err, types.KindRiskRejected) {
		t.Errorf("expected KindRiskRejected, got %v", err)
	}
}

func TestValidateOrderWithinLimits(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	order := &types.OrderRequest{Symbol: "BTC-PERP", Side: types.Buy, Type: types.OrderTypeMarket, Quantity: 0.005}
	err := rm.ValidateOrder(order, map[string]*types.Position{}, 50000, 10000)
	if err != nil {
		t.Fatalf("expected order to pass, got %v", err)
	}
}

func TestValidateOrderInvalidOrderPassesThrough(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	order := &types.OrderRequest{Symbol: "BTC-PERP", Side: types.Buy, Type: types.OrderTypeMarket, Quantity: 0}
	err := rm.ValidateOrder(order, map[string]*types.Position{}, 50000, 10000)
	if !types.IsKind(err, types.KindInvalidOrder) {
		t.Errorf("expected KindInvalidOrder, got %v", err)
	}
}

// TestEmergencyStopRejectsAllSubsequentOrders grounds invariant 5 of
// spec.md §8.
func TestEmergencyStopRejectsAllSubsequentOrders(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.EmergencyStop("price deviation breaker tripped")

	order := &types.OrderRequest{Symbol: "BTC-PERP", Side: types.Buy, Type: types.OrderTypeMarket, Quantity: 0.001}
	err := rm.ValidateOrder(order, map[string]*types.Position{}, 50000, 10000)

	if !types.IsKind(err, types.KindEmergencyStopActive) {
		t.Fatalf("expected KindEmergencyStopActive, got %v", err)
	}

	rm.ClearEmergencyStop()
	if err := rm.ValidateOrder(order, map[string]*types.Position{}, 50000, 10000); err != nil {
		t.Errorf("expected order to pass after clearing emergency stop, got %v", err)
	}
}

// TestUpdatePortfolioValueDailyLossTrigger grounds scenario S4.
func TestUpdatePortfolioValueDailyLossTrigger(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.UpdatePortfolioValue(10000, 0) // establish high-water mark
	err := rm.UpdatePortfolioValue(9795, -205)

	if !types.IsKind(err, types.KindRiskRejected) {
		t.Fatalf("expected daily-loss-triggered rejection, got %v", err)
	}
	if rm.IsEmergencyStopped() {
		t.Error("daily-loss trigger must not itself activate emergency stop")
	}
}

func TestUpdatePortfolioValueDrawdown(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	rm.UpdatePortfolioValue(10000, 0)
	err := rm.UpdatePortfolioValue(7000, 0) // 30% drawdown > 20% limit, no realized loss

	if !types.IsKind(err, types.KindRiskRejected) {
		t.Fatalf("expected drawdown-triggered rejection, got %v", err)
	}
}

func TestGenerateStopLossLong(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	pos := &types.Position{Symbol: "BTC-PERP", Size: 1, EntryPrice: 50000}
	order := rm.GenerateStopLoss(pos)

	if order == nil {
		t.Fatal("expected stop order")
	}
	if order.Side != types.Sell {
		t.Errorf("expected opposite side Sell, got %v", order.Side)
	}
	if !order.ReduceOnly {
		t.Error("stop order must be reduce-only")
	}
	want := 50000.0 * (1 - 0.05)
	if order.StopPrice == nil || *order.StopPrice != want {
		t.Errorf("stop price = %v, want %v", order.StopPrice, want)
	}
}

func TestGenerateTakeProfitShort(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	pos := &types.Position{Symbol: "BTC-PERP", Size: -1, EntryPrice: 50000}
	order := rm.GenerateTakeProfit(pos)

	if order == nil {
		t.Fatal("expected take-profit order")
	}
	if order.Side != types.Buy {
		t.Errorf("expected opposite side Buy, got %v", order.Side)
	}
	want := 50000.0 * (1 - 0.10)
	if order.StopPrice == nil || *order.StopPrice != want {
		t.Errorf("take-profit price = %v, want %v", order.StopPrice, want)
	}
}

func TestGenerateStopLossFlatPositionReturnsNil(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	pos := &types.Position{Symbol: "BTC-PERP", Size: 0}
	if order := rm.GenerateStopLoss(pos); order != nil {
		t.Errorf("expected nil stop for flat position, got %+v", order)
	}
}

func TestRequiredMargin(t *testing.T) {
	t.Parallel()
	rm := newTestManager()

	got := rm.RequiredMargin(10000)
	want := 10000.0 / 5
	if got != want {
		t.Errorf("RequiredMargin() = %v, want %v", got, want)
	}
}

func TestValidateOrderCorrelationExceeded(t *testing.T) {
	t.Parallel()
	rm := newTestManager()
	rm.SetCorrelation("BTC-PERP", "ETH-PERP", 0.95)

	positions := map[string]*types.Position{
		"ETH-PERP": {Symbol: "ETH-PERP", Size: 1, EntryPrice: 3000, CurrentPrice: 3000},
	}
	order := &types.OrderRequest{Symbol: "BTC-PERP", Side: types.Buy, Type: types.OrderTypeMarket, Quantity: 0.001}
	err := rm.ValidateOrder(order, positions, 50000, 10000)

	if !types.IsKind(err, types.KindRiskRejected) {
		t.Fatalf("expected correlation-exceeded rejection, got %v", err)
	}
}

func TestBreakerBankConsecutiveFailures(t *testing.T) {
	t.Parallel()
	bb := NewBreakerBank(SafetyCircuitBreakerConfig{MaxConsecutiveFailedOrders: 3})

	now := time.Now()
	if reason := bb.RecordOrderOutcome(now, true); reason != TripNone {
		t.Fatalf("unexpected trip after 1 failure: %v", reason)
	}
	bb.RecordOrderOutcome(now, true)
	if reason := bb.RecordOrderOutcome(now, true); reason != TripConsecutiveFailures {
		t.Fatalf("expected TripConsecutiveFailures after 3 failures, got %v", reason)
	}
}

func TestBreakerBankResetsOnSuccess(t *testing.T) {
	t.Parallel()
	bb := NewBreakerBank(SafetyCircuitBreakerConfig{MaxConsecutiveFailedOrders: 2})

	now := time.Now()
	bb.RecordOrderOutcome(now, true)
	bb.RecordOrderOutcome(now, false)
	if reason := bb.RecordOrderOutcome(now, true); reason != TripNone {
		t.Fatalf("failure streak should have reset after success, got %v", reason)
	}
}

func TestBreakerBankPriceDeviation(t *testing.T) {
	t.Parallel()
	bb := NewBreakerBank(SafetyCircuitBreakerConfig{
		MaxPriceDeviationPct:    0.05,
		PriceDeviationWindowSec: 60,
	})

	now := time.Now()
	bb.RecordPrice(now, 50000)
	reason := bb.RecordPrice(now.Add(10*time.Second), 47000) // ~6% move
	if reason != TripPriceDeviation {
		t.Fatalf("expected TripPriceDeviation, got %v", reason)
	}
}

func TestBreakerBankCriticalAlertRate(t *testing.T) {
	t.Parallel()
	bb := NewBreakerBank(SafetyCircuitBreakerConfig{
		MaxCriticalAlerts:    2,
		CriticalAlertsWindow: time.Minute,
	})

	now := time.Now()
	if reason := bb.RecordCriticalAlert(now); reason != TripNone {
		t.Fatalf("unexpected trip after 1 alert: %v", reason)
	}
	if reason := bb.RecordCriticalAlert(now.Add(time.Second)); reason != TripCriticalAlertRate {
		t.Fatalf("expected TripCriticalAlertRate after 2 alerts, got %v", reason)
	}
}
