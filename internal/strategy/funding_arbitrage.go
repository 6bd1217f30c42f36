package strategy

import (
	"github.com/xsa-dev/perp-trading-engine/internal/funding"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// FundingArbitrage takes a position sized to harvest persistently elevated
// funding rates: short when funding is richly positive (longs pay shorts),
// long when richly negative, flat otherwise. It consumes the C3 funding
// indicators (internal/funding) rather than reimplementing the arbitrage
// threshold/annualization math.
type FundingArbitrage struct {
	Symbol    string
	Quantity  float64
	predictor *funding.Predictor
	position  float64
	signals   map[string]types.Signal
}

// NewFundingArbitrage builds a funding-rate-arbitrage strategy for a single
// symbol, with the given predictor lookback (periods of funding history).
func NewFundingArbitrage(symbol string, quantity float64, lookbackPeriods int) *FundingArbitrage {
	return &FundingArbitrage{
		Symbol:    symbol,
		Quantity:  quantity,
		predictor: funding.NewPredictor(lookbackPeriods),
		signals:   make(map[string]types.Signal),
	}
}

func (f *FundingArbitrage) Name() string { return "funding-arbitrage" }

func (f *FundingArbitrage) OnMarketData(data types.MarketData) []types.OrderRequest {
	if data.Symbol != f.Symbol || data.FundingRate == nil {
		return nil
	}
	rate := *data.FundingRate
	f.predictor.AddObservation(rate)

	arb := funding.CalculateArbitrage(rate, data.Last)
	f.signals[f.Symbol] = types.Signal{
		Symbol:     f.Symbol,
		Direction:  arb.Direction,
		Strength:   arb.AnnualizedYield,
		Confidence: f.predictor.Predict().Confidence,
		Timestamp:  data.Timestamp,
	}

	var target float64
	switch {
	case arb.IsArbitrage && arb.Direction == types.DirectionPositive:
		// rate richly positive: longs pay shorts, so go short to collect it.
		target = -f.Quantity
	case arb.IsArbitrage && arb.Direction == types.DirectionNegative:
		target = f.Quantity
	default:
		target = 0
	}

	delta := target - f.position
	if delta == 0 {
		return nil
	}
	f.position = target

	side := types.Buy
	if delta < 0 {
		side = types.Sell
	}
	return []types.OrderRequest{{
		Symbol:     f.Symbol,
		Side:       side,
		Type:       types.OrderTypeMarket,
		Quantity:   absf(delta),
		ReduceOnly: target == 0,
	}}
}

func (f *FundingArbitrage) OnOrderFill(types.OrderResult) {}

func (f *FundingArbitrage) OnFundingPayment(types.FundingPayment) {}

func (f *FundingArbitrage) CurrentSignals() map[string]types.Signal { return f.signals }
