package paper

import (
	"context"
	"testing"
	"time"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
	"github.com/xsa-dev/perp-trading-engine/internal/strategy"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

func testSlippageConfig() config.SlippageConfig {
	return config.SlippageConfig{
		BaseSlippagePct:        0.0001,
		VolumeImpactFactor:     0,
		VolatilityImpactFactor: 0,
		RandomMaxPct:           0,
		MaxSlippagePct:         0.01,
		SimulatedLatencyMs:     0,
	}
}

func TestPaperEngineAppliesSlippageOnFill(t *testing.T) {
	t.Parallel()

	opened := false
	strat := strategy.NewFromFunc("buy-once", func(data types.MarketData) []types.OrderRequest {
		if opened {
			return nil
		}
		opened = true
		return []types.OrderRequest{{Symbol: "BTC-PERP", Side: types.Buy, Type: types.OrderTypeMarket, Quantity: 1}}
	})

	eng := New(Config{
		Symbol:         "BTC-PERP",
		InitialCapital: 10000,
		Commission:     types.CommissionSchedule{TakerRate: 0},
		Slippage:       testSlippageConfig(),
		Strategy:       strat,
	})

	dataCh := make(chan types.MarketData, 1)
	dataCh <- types.MarketData{Symbol: "BTC-PERP", Last: 100, Timestamp: time.Now(), Volume: 1000}
	close(dataCh)

	eng.Run(context.Background(), dataCh)

	pos := eng.Position()
	if pos.Size != 1 {
		t.Fatalf("position size = %v, want 1", pos.Size)
	}
	// Base slippage 0.0001, buy => fill price slightly above quoted 100.
	if pos.EntryPrice <= 100 {
		t.Errorf("entry price = %v, want > 100 (slippage applied)", pos.EntryPrice)
	}
}

func TestPaperEngineStopSimulationHaltsBeforeNextEvent(t *testing.T) {
	t.Parallel()

	processed := 0
	strat := strategy.NewFromFunc("counter", func(data types.MarketData) []types.OrderRequest {
		processed++
		return nil
	})

	eng := New(Config{
		Symbol:         "BTC-PERP",
		InitialCapital: 10000,
		Commission:     types.CommissionSchedule{},
		Slippage:       testSlippageConfig(),
		Strategy:       strat,
	})

	dataCh := make(chan types.MarketData)
	go func() {
		dataCh <- types.MarketData{Symbol: "BTC-PERP", Last: 100, Timestamp: time.Now(), Volume: 1000}
		eng.StopSimulation()
		close(dataCh)
	}()

	eng.Run(context.Background(), dataCh)

	if processed > 1 {
		t.Errorf("expected at most 1 event processed after stop, got %d", processed)
	}
}

func TestPaperEngineAppliesScheduledFunding(t *testing.T) {
	t.Parallel()

	opened := false
	strat := strategy.NewFromFunc("buy-once", func(data types.MarketData) []types.OrderRequest {
		if opened {
			return nil
		}
		opened = true
		return []types.OrderRequest{{Symbol: "BTC-PERP", Side: types.Buy, Type: types.OrderTypeMarket, Quantity: 1}}
	})

	eng := New(Config{
		Symbol:         "BTC-PERP",
		InitialCapital: 10000,
		Commission:     types.CommissionSchedule{TakerRate: 0, FundingEnabled: true},
		Slippage:       config.SlippageConfig{}, // zero slippage for a clean fill price
		Strategy:       strat,
	})

	now := time.Now()
	eng.ScheduleFunding(now.Add(time.Hour), 0.0001)

	dataCh := make(chan types.MarketData, 2)
	dataCh <- types.MarketData{Symbol: "BTC-PERP", Last: 100, Timestamp: now}
	dataCh <- types.MarketData{Symbol: "BTC-PERP", Last: 100, Timestamp: now.Add(2 * time.Hour)}
	close(dataCh)

	eng.Run(context.Background(), dataCh)

	if eng.fundingCash >= 0 {
		t.Errorf("expected negative funding cash (long pays positive rate), got %v", eng.fundingCash)
	}
}
