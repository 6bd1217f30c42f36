// Package backtest drives a Strategy deterministically over a
// HistoricalBars series (spec.md §4.4): a single-threaded bar loop with no
// suspension points, simulating market-order fills at each bar's close and,
// optionally, funding settlement between bars.
package backtest

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xsa-dev/perp-trading-engine/internal/strategy"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// Engine runs a Strategy over historical bars for one symbol.
type Engine struct {
	commission types.CommissionSchedule
	logger     *slog.Logger
}

// New builds a backtest engine charging the given commission schedule on
// every simulated fill.
func New(commission types.CommissionSchedule, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{commission: commission, logger: logger.With("component", "backtest")}
}

// Result bundles the report, funding breakdown, trade log, equity curve, and
// per-bar snapshots (for CSV export, C16) produced by a completed run.
type Result struct {
	Report        EnhancedReport
	FundingReport FundingReport
	Trades        []types.Trade
	Equity        []EquityPoint
	BarRecords    []BarRecord
}

// BarRecord is one row of the backtest-results CSV export: the source bar
// plus the cumulative PnL breakdown after that bar settled.
type BarRecord struct {
	Timestamp   time.Time
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
	FundingRate float64
	Position    float64
	TradingPnL  float64
	FundingPnL  float64
	TotalPnL    float64
}

// EquityPoint is one sample of the equity curve, used for drawdown and
// return-series calculations.
type EquityPoint struct {
	Timestamp string
	Equity    float64
	Drawdown  float64
}

// Calculate runs the bar loop without funding settlement.
func (e *Engine) Calculate(bars types.HistoricalBars, strat strategy.Strategy, initialCapital float64) (*Result, error) {
	return e.run(bars, strat, initialCapital, false)
}

// CalculateWithFunding runs the bar loop applying funding payments between
// bars whose timestamps fall in each inter-bar window.
func (e *Engine) CalculateWithFunding(bars types.HistoricalBars, strat strategy.Strategy, initialCapital float64) (*Result, error) {
	return e.run(bars, strat, initialCapital, true)
}

func (e *Engine) run(bars types.HistoricalBars, strat strategy.Strategy, initialCapital float64, withFunding bool) (*Result, error) {
	if initialCapital <= 0 {
		return nil, types.WrapKind(types.KindInvalidOrder, "initial_capital must be positive", nil)
	}
	if err := bars.Validate(); err != nil {
		return nil, err
	}

	position := types.Position{Symbol: bars.Symbol}
	tradingCash := 0.0 // realized PnL - fees, on top of initial capital
	fundingCash := 0.0 // cumulative funding PnL
	var trades []types.Trade
	var equityCurve []EquityPoint
	var barRecords []BarRecord
	var returns []float64
	var roundTripPnLs []float64
	var appliedFundingRates []float64
	fundingBySymbol := map[string]float64{}
	fundingByPeriod := map[string]float64{}
	var paidCount, receivedCount int
	var makerFees, takerFees float64

	peakEquity := initialCapital
	maxDrawdown := 0.0
	prevEquity := initialCapital

	fundingEnabled := withFunding && e.commission.FundingEnabled
	n := bars.Len()
	fundingIdx := 0

	for i := 0; i < n; i++ {
		data := types.MarketData{
			Symbol:    bars.Symbol,
			Timestamp: bars.Datetime[i],
			Mid:       bars.Close[i],
			Last:      bars.Close[i],
			Bid:       bars.Close[i],
			Ask:       bars.Close[i],
			Volume:    bars.Volume[i],
		}
		if i < len(bars.FundingRates) {
			rate := bars.FundingRates[i]
			data.FundingRate = &rate
		}

		orders := strat.OnMarketData(data)
		for _, order := range orders {
			if err := order.Validate(); err != nil {
				e.logger.Warn("strategy produced invalid order, skipping", "error", err)
				continue
			}

			fillPrice := bars.Close[i]
			signedQty := order.Quantity
			if order.Side == types.Sell {
				signedQty = -signedQty
			}

			priorRealized := position.RealizedPnL
			position.ApplyFill(signedQty, fillPrice, data.Timestamp)
			delta := position.RealizedPnL - priorRealized
			if delta != 0 {
				roundTripPnLs = append(roundTripPnLs, delta)
			}
			tradingCash += delta

			fee := fillPrice * absf(signedQty) * e.commission.TakerRate
			takerFees += fee
			tradingCash -= fee

			strat.OnOrderFill(types.OrderResult{
				OrderID:        fmt.Sprintf("bt-%d-%d", i, len(trades)),
				Symbol:         order.Symbol,
				Side:           order.Side,
				Type:           order.Type,
				Quantity:       order.Quantity,
				FilledQuantity: order.Quantity,
				AveragePrice:   &fillPrice,
				Status:         types.StatusFilled,
				Fees:           fee,
				Timestamp:      data.Timestamp,
			})

			trades = append(trades, types.Trade{
				Symbol:      bars.Symbol,
				Side:        order.Side,
				Quantity:    order.Quantity,
				Price:       fillPrice,
				Fee:         fee,
				Maker:       false,
				RealizedPnL: delta,
				Timestamp:   data.Timestamp,
			})
		}

		if fundingEnabled && i+1 < n {
			windowStart := bars.Datetime[i]
			windowEnd := bars.Datetime[i+1]
			for fundingIdx < len(bars.FundingTimestamps) &&
				!bars.FundingTimestamps[fundingIdx].Before(windowStart) &&
				bars.FundingTimestamps[fundingIdx].Before(windowEnd) {

				rate := bars.FundingRates[fundingIdx]
				if position.Size != 0 {
					markPrice := bars.Close[i]
					payment := position.ApplyFunding(rate, markPrice)
					fundingCash += payment
					switch {
					case payment > 0:
						receivedCount++
					case payment < 0:
						paidCount++
					}
					appliedFundingRates = append(appliedFundingRates, rate)
					fundingBySymbol[bars.Symbol] += payment
					fundingByPeriod[bars.FundingTimestamps[fundingIdx].Format("2006-01-02")] += payment

					strat.OnFundingPayment(types.FundingPayment{
						Timestamp:     bars.FundingTimestamps[fundingIdx],
						Symbol:        bars.Symbol,
						PositionSize:  position.Size,
						FundingRate:   rate,
						PaymentAmount: payment,
						MarkPrice:     markPrice,
					})
				}
				fundingIdx++
			}
		}

		markPrice := bars.Close[i]
		if i+1 < n {
			markPrice = bars.Close[i+1]
		}
		position.Mark(markPrice, data.Timestamp)

		equity := initialCapital + tradingCash + fundingCash + position.UnrealizedPnL
		if equity > peakEquity {
			peakEquity = equity
		}
		if peakEquity > 0 {
			if dd := (peakEquity - equity) / peakEquity; dd > maxDrawdown {
				maxDrawdown = dd
			}
		}
		if prevEquity != 0 {
			returns = append(returns, (equity-prevEquity)/prevEquity)
		}
		prevEquity = equity

		drawdown := 0.0
		if peakEquity > 0 {
			drawdown = (peakEquity - equity) / peakEquity
		}
		equityCurve = append(equityCurve, EquityPoint{
			Timestamp: data.Timestamp.Format("2006-01-02T15:04:05Z"),
			Equity:    equity,
			Drawdown:  drawdown,
		})

		barFundingRate := 0.0
		if data.FundingRate != nil {
			barFundingRate = *data.FundingRate
		}
		barRecords = append(barRecords, BarRecord{
			Timestamp:   bars.Datetime[i],
			Open:        bars.Open[i],
			High:        bars.High[i],
			Low:         bars.Low[i],
			Close:       bars.Close[i],
			Volume:      bars.Volume[i],
			FundingRate: barFundingRate,
			Position:    position.Size,
			TradingPnL:  tradingCash + position.UnrealizedPnL,
			FundingPnL:  fundingCash,
			TotalPnL:    tradingCash + fundingCash + position.UnrealizedPnL,
		})
	}

	finalEquity := prevEquity
	report := buildReport(reportInputs{
		initialCapital:  initialCapital,
		finalEquity:     finalEquity,
		maxDrawdown:     maxDrawdown,
		roundTripPnLs:   roundTripPnLs,
		returns:         returns,
		paidCount:       paidCount,
		receivedCount:   receivedCount,
		fundingRates:    appliedFundingRates,
		fundingPnLTotal: fundingBySymbol[bars.Symbol],
		makerFees:       makerFees,
		takerFees:       takerFees,
		bars:            bars,
	})
	fundingReport := FundingReport{
		BySymbol:      fundingBySymbol,
		ByPeriod:      fundingByPeriod,
		RateHistogram: histogram(appliedFundingRates),
	}

	return &Result{
		Report:        report,
		FundingReport: fundingReport,
		Trades:        trades,
		Equity:        equityCurve,
		BarRecords:    barRecords,
	}, nil
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
