package backtest

import (
	"fmt"
	"math"

	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// EnhancedReport is the performance summary spec.md §4.4 requires at the end
// of a backtest run.
type EnhancedReport struct {
	FinalEquity             float64
	NetProfit                float64
	NetProfitPct             float64
	MaxDrawdown              float64
	WinRate                  float64
	ProfitFactor             float64
	SharpeRatio              float64
	SortinoRatio             float64
	TotalReturnWithFunding   float64
	TradingOnlyReturn        float64
	FundingOnlyReturn        float64
	FundingPaymentsPaid      int
	FundingPaymentsReceived  int
	AverageFundingRate       float64
	MakerFeesTotal           float64
	TakerFeesTotal           float64
}

// FundingReport decomposes funding PnL by symbol, by period, and as a rate
// histogram, per spec.md §4.4.
type FundingReport struct {
	BySymbol      map[string]float64
	ByPeriod      map[string]float64
	RateHistogram map[string]int
}

type reportInputs struct {
	initialCapital  float64
	finalEquity     float64
	maxDrawdown     float64
	roundTripPnLs   []float64
	returns         []float64
	paidCount       int
	receivedCount   int
	fundingRates    []float64
	fundingPnLTotal float64
	makerFees       float64
	takerFees       float64
	bars            types.HistoricalBars
}

func buildReport(in reportInputs) EnhancedReport {
	netProfit := in.finalEquity - in.initialCapital
	netProfitPct := 0.0
	if in.initialCapital > 0 {
		netProfitPct = netProfit / in.initialCapital
	}

	wins, losses := 0, 0
	grossWin, grossLoss := 0.0, 0.0
	for _, pnl := range in.roundTripPnLs {
		if pnl > 0 {
			wins++
			grossWin += pnl
		} else if pnl < 0 {
			losses++
			grossLoss += -pnl
		}
	}
	winRate := 0.0
	if wins+losses > 0 {
		winRate = float64(wins) / float64(wins+losses)
	}
	profitFactor := 0.0
	if grossLoss > 0 {
		profitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		profitFactor = math.Inf(1)
	}

	barsPerYear := barsPerYear(in.bars)
	sharpe := riskAdjustedReturn(in.returns, barsPerYear, false)
	sortino := riskAdjustedReturn(in.returns, barsPerYear, true)

	fundingOnlyReturn := 0.0
	if in.initialCapital > 0 {
		fundingOnlyReturn = in.fundingPnLTotal / in.initialCapital
	}
	tradingOnlyReturn := netProfitPct - fundingOnlyReturn

	avgFundingRate := 0.0
	if len(in.fundingRates) > 0 {
		sum := 0.0
		for _, r := range in.fundingRates {
			sum += r
		}
		avgFundingRate = sum / float64(len(in.fundingRates))
	}

	return EnhancedReport{
		FinalEquity:             in.finalEquity,
		NetProfit:                netProfit,
		NetProfitPct:             netProfitPct,
		MaxDrawdown:              in.maxDrawdown,
		WinRate:                  winRate,
		ProfitFactor:             profitFactor,
		SharpeRatio:              sharpe,
		SortinoRatio:             sortino,
		TotalReturnWithFunding:   netProfitPct,
		TradingOnlyReturn:        tradingOnlyReturn,
		FundingOnlyReturn:        fundingOnlyReturn,
		FundingPaymentsPaid:      in.paidCount,
		FundingPaymentsReceived:  in.receivedCount,
		AverageFundingRate:       avgFundingRate,
		MakerFeesTotal:           in.makerFees,
		TakerFeesTotal:           in.takerFees,
	}
}

// barsPerYear infers the annualization factor from the average spacing
// between consecutive bar timestamps, so Sharpe/Sortino scale correctly
// whatever the bar interval is (1m through 1d).
func barsPerYear(bars types.HistoricalBars) float64 {
	n := bars.Len()
	if n < 2 {
		return 0
	}
	totalSeconds := bars.Datetime[n-1].Sub(bars.Datetime[0]).Seconds()
	if totalSeconds <= 0 {
		return 0
	}
	avgIntervalSeconds := totalSeconds / float64(n-1)
	const secondsPerYear = 365.25 * 24 * 3600
	return secondsPerYear / avgIntervalSeconds
}

func riskAdjustedReturn(returns []float64, barsPerYear float64, downsideOnly bool) float64 {
	if len(returns) < 2 || barsPerYear <= 0 {
		return 0
	}
	mean := meanOf(returns)

	var deviation float64
	if downsideOnly {
		sumSq := 0.0
		count := 0
		for _, r := range returns {
			if r < 0 {
				sumSq += r * r
				count++
			}
		}
		if count == 0 {
			return 0
		}
		deviation = math.Sqrt(sumSq / float64(count))
	} else {
		deviation = stdDev(returns, mean)
	}
	if deviation == 0 {
		return 0
	}
	return (mean / deviation) * math.Sqrt(barsPerYear)
}

func meanOf(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}

// histogram buckets funding rates into fixed-width bins, keyed by the
// bucket's lower edge formatted as a fraction with four decimals
// (e.g. "0.0001").
func histogram(rates []float64) map[string]int {
	buckets := map[string]int{}
	const binWidth = 0.0001 // 1 bps
	for _, r := range rates {
		bin := math.Floor(r/binWidth) * binWidth
		key := fmt.Sprintf("%.4f", bin)
		buckets[key]++
	}
	return buckets
}
