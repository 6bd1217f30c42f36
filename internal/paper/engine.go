// Package paper implements the paper-trading engine (spec.md §4.5): the
// same execution contract as the backtest engine, but driven by a live
// MarketData stream instead of a finite bar sequence, with simulated fills.
package paper

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
	"github.com/xsa-dev/perp-trading-engine/internal/funding"
	"github.com/xsa-dev/perp-trading-engine/internal/risk"
	"github.com/xsa-dev/perp-trading-engine/internal/store"
	"github.com/xsa-dev/perp-trading-engine/internal/strategy"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

const volatilityWindow = 20

// scheduledFunding is one known-in-advance funding settlement, applied at
// the first MarketData event whose timestamp reaches it.
type scheduledFunding struct {
	at   time.Time
	rate float64
}

// Engine runs a Strategy cooperatively on a single goroutine against a
// MarketData stream, grounded on the teacher's Maker.Run select-loop shape
// (internal/strategy/maker.go): one goroutine owns all mutable state,
// receiving events over channels, with a graceful-stop flag checked ahead
// of every event.
type Engine struct {
	symbol        string
	commission    types.CommissionSchedule
	slippage      config.SlippageConfig
	riskMgr       *risk.Manager
	positionStore *store.Store
	strat         strategy.Strategy
	logger        *slog.Logger
	rng           *rand.Rand

	initialCapital float64
	tradingCash    float64
	fundingCash    float64
	position       types.Position

	recentPrices []float64
	recentVolume float64

	fundingSchedule []scheduledFunding
	fundingIdx      int

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// Config bundles the dependencies the paper engine needs at construction.
type Config struct {
	Symbol         string
	InitialCapital float64
	Commission     types.CommissionSchedule
	Slippage       config.SlippageConfig
	RiskManager    *risk.Manager
	Store          *store.Store // optional; nil disables position persistence
	Strategy       strategy.Strategy
	Logger         *slog.Logger
}

// New builds a paper-trading engine for one symbol, restoring its starting
// position from cfg.Store if one was persisted by a prior run.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "paper", "symbol", cfg.Symbol)

	position := types.Position{Symbol: cfg.Symbol}
	if cfg.Store != nil {
		if restored, err := cfg.Store.LoadPosition(cfg.Symbol); err != nil {
			logger.Error("failed to restore position from store", "error", err)
		} else if restored != nil {
			position = *restored
			logger.Info("restored position from store", "size", position.Size, "entry_price", position.EntryPrice)
		}
	}

	return &Engine{
		symbol:         cfg.Symbol,
		commission:     cfg.Commission,
		slippage:       cfg.Slippage,
		riskMgr:        cfg.RiskManager,
		positionStore:  cfg.Store,
		strat:          cfg.Strategy,
		logger:         logger,
		rng:            rand.New(rand.NewSource(1)),
		initialCapital: cfg.InitialCapital,
		position:       position,
		stopCh:         make(chan struct{}),
	}
}

// ScheduleFunding registers a known funding settlement, applied at the
// first MarketData event whose timestamp is >= at, per spec.md §4.5.
func (e *Engine) ScheduleFunding(at time.Time, rate float64) {
	e.fundingSchedule = append(e.fundingSchedule, scheduledFunding{at: at, rate: rate})
}

// StopSimulation signals a graceful exit before the next event is
// processed; safe to call concurrently with Run.
func (e *Engine) StopSimulation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	close(e.stopCh)
}

// Position returns a snapshot of the current position.
func (e *Engine) Position() types.Position { return e.position }

// Equity returns the current mark-to-market account equity.
func (e *Engine) Equity() float64 {
	return e.initialCapital + e.tradingCash + e.fundingCash + e.position.UnrealizedPnL
}

// Run drains dataCh, processing one MarketData event at a time, until ctx
// is cancelled, the channel closes, or StopSimulation is called.
func (e *Engine) Run(ctx context.Context, dataCh <-chan types.MarketData) {
	e.logger.Info("paper engine started")
	defer e.logger.Info("paper engine stopped")

	for {
		select {
		case <-e.stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case data, ok := <-dataCh:
			if !ok {
				return
			}
			e.onMarketData(data)
		}
	}
}

func (e *Engine) onMarketData(data types.MarketData) {
	if data.Symbol != e.symbol {
		return
	}

	e.applyDueFunding(data)

	for _, order := range e.strat.OnMarketData(data) {
		e.fillOrder(order, data)
	}

	e.position.Mark(data.Last, data.Timestamp)
	e.updateRollingStats(data)

	if e.positionStore != nil {
		if err := e.positionStore.SavePosition(e.symbol, e.position); err != nil {
			e.logger.Error("failed to persist position", "error", err)
		}
	}
}

func (e *Engine) applyDueFunding(data types.MarketData) {
	if !e.commission.FundingEnabled {
		return
	}
	for e.fundingIdx < len(e.fundingSchedule) && !data.Timestamp.Before(e.fundingSchedule[e.fundingIdx].at) {
		sched := e.fundingSchedule[e.fundingIdx]
		if e.position.Size != 0 {
			payment := e.position.ApplyFunding(sched.rate, data.Last)
			e.fundingCash += payment
			e.strat.OnFundingPayment(types.FundingPayment{
				Timestamp:     sched.at,
				Symbol:        e.symbol,
				PositionSize:  e.position.Size,
				FundingRate:   sched.rate,
				PaymentAmount: payment,
				MarkPrice:     data.Last,
			})
		}
		e.fundingIdx++
	}
}

func (e *Engine) fillOrder(order types.OrderRequest, data types.MarketData) {
	if err := order.Validate(); err != nil {
		e.logger.Warn("strategy produced invalid order, skipping", "error", err)
		return
	}
	if e.riskMgr != nil {
		positions := map[string]*types.Position{e.symbol: &e.position}
		if err := e.riskMgr.ValidateOrder(&order, positions, data.Last, e.Equity()); err != nil {
			e.logger.Warn("order rejected by risk manager", "error", err)
			return
		}
	}

	quoted := data.Last
	if order.Price != nil {
		quoted = *order.Price
	}
	sign := 1.0
	if order.Side == types.Sell {
		sign = -1.0
	}

	recentVolume := e.recentVolume
	if recentVolume <= 0 {
		recentVolume = 1
	}
	fraction := e.slippage.BaseSlippagePct +
		e.slippage.VolumeImpactFactor*order.Quantity/recentVolume +
		e.slippage.VolatilityImpactFactor*funding.Volatility(e.recentPrices) +
		e.rng.Float64()*e.slippage.RandomMaxPct
	if e.slippage.MaxSlippagePct > 0 && fraction > e.slippage.MaxSlippagePct {
		fraction = e.slippage.MaxSlippagePct
	}
	fillPrice := quoted * (1 + sign*fraction)

	fillTime := data.Timestamp
	if e.slippage.SimulatedLatencyMs > 0 {
		fillTime = fillTime.Add(time.Duration(e.slippage.SimulatedLatencyMs) * time.Millisecond)
	}

	signedQty := order.Quantity
	if order.Side == types.Sell {
		signedQty = -signedQty
	}

	priorRealized := e.position.RealizedPnL
	e.position.ApplyFill(signedQty, fillPrice, fillTime)
	delta := e.position.RealizedPnL - priorRealized
	fee := fillPrice * absf(signedQty) * e.commission.TakerRate
	e.tradingCash += delta - fee

	e.strat.OnOrderFill(types.OrderResult{
		OrderID:        order.ClientOrderID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Type:           order.Type,
		Quantity:       order.Quantity,
		FilledQuantity: order.Quantity,
		AveragePrice:   &fillPrice,
		Status:         types.StatusFilled,
		Fees:           fee,
		Timestamp:      fillTime,
	})
}

func (e *Engine) updateRollingStats(data types.MarketData) {
	e.recentVolume = data.Volume
	e.recentPrices = append(e.recentPrices, data.Last)
	if len(e.recentPrices) > volatilityWindow {
		e.recentPrices = e.recentPrices[len(e.recentPrices)-volatilityWindow:]
	}
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
