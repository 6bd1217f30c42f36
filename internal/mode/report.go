package mode

import (
	"math"
	"time"

	"github.com/xsa-dev/perp-trading-engine/internal/live"
	"github.com/xsa-dev/perp-trading-engine/internal/risk"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// PerformanceReport is the common performance block shared by all three
// modes (spec.md §4.7): PnL breakdown, returns, Sharpe/Sortino, drawdown.
type PerformanceReport struct {
	FinalEquity    float64 `json:"final_equity"`
	NetProfit      float64 `json:"net_profit"`
	NetProfitPct   float64 `json:"net_profit_pct"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	WinRate        float64 `json:"win_rate"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	SortinoRatio   float64 `json:"sortino_ratio"`
	TradingPnL     float64 `json:"trading_pnl"`
	FundingPnL     float64 `json:"funding_pnl"`
}

// RiskMetrics is surfaced only in LiveTrade mode: value-at-risk, leverage,
// and concentration, grounded on risk.Manager's position validation
// formulas ([[risk-manager]]).
type RiskMetrics struct {
	VaR95         float64 `json:"var_95"`
	VaR99         float64 `json:"var_99"`
	Leverage      float64 `json:"leverage"`
	Concentration float64 `json:"concentration"`
}

// ConnectionMetrics is surfaced only in LiveTrade mode. BuildConnectionMetrics
// takes DisconnectCount from the live.Engine's reconnect counter and reports
// UptimePct as a fixed 100; AverageAPILatency and OrderSuccessRate are not
// populated and stay zero.
type ConnectionMetrics struct {
	UptimePct         float64       `json:"uptime_pct"`
	DisconnectCount   int           `json:"disconnect_count"`
	AverageAPILatency time.Duration `json:"average_api_latency"`
	OrderSuccessRate  float64       `json:"order_success_rate"`
}

// AccountSummary, PositionSummary, OrderSummary and RiskSummary feed the
// monitoring DashboardSnapshot, grounded on the teacher's
// api.DashboardSnapshot ([[monitor-hub]]).
type AccountSummary struct {
	Equity         float64 `json:"equity"`
	InitialBalance float64 `json:"initial_balance"`
}

type PositionSummary struct {
	Symbol         string  `json:"symbol"`
	Size           float64 `json:"size"`
	EntryPrice     float64 `json:"entry_price"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
}

// DashboardSnapshot is the monitoring dashboard's point-in-time view of a
// running engine: account, position, risk, connection and performance
// state plus the most recent alerts. Grounded on the teacher's
// api.BuildSnapshot ([[monitor-hub]]), generalized from a multi-market
// maker snapshot to a single-symbol perp engine snapshot.
type DashboardSnapshot struct {
	Timestamp    time.Time          `json:"timestamp"`
	Mode         types.TradingMode  `json:"mode"`
	Account      AccountSummary     `json:"account"`
	Position     PositionSummary    `json:"position"`
	Risk         *RiskMetrics       `json:"risk,omitempty"`
	Connection   *ConnectionMetrics `json:"connection,omitempty"`
	Performance  PerformanceReport  `json:"performance"`
	RecentAlerts []types.Alert      `json:"recent_alerts"`
}

// PerformanceInputs carries the raw series a report is built from, kept
// independent of any one engine so Backtest/Paper/Live can all feed it.
type PerformanceInputs struct {
	InitialCapital float64
	FinalEquity    float64
	Returns        []float64
	EquityCurve    []float64
	TradingPnL     float64
	FundingPnL     float64
	WinningTrades  int
	TotalTrades    int
	BarsPerYear    float64
}

// BuildPerformanceReport computes the common PnL/return/risk-adjusted
// block, grounded on internal/backtest/report.go's buildReport, reused
// across modes so paper and live reporting follow the same formulas as
// the backtest engine.
func BuildPerformanceReport(in PerformanceInputs) PerformanceReport {
	netProfit := in.FinalEquity - in.InitialCapital
	netProfitPct := 0.0
	if in.InitialCapital > 0 {
		netProfitPct = netProfit / in.InitialCapital
	}

	winRate := 0.0
	if in.TotalTrades > 0 {
		winRate = float64(in.WinningTrades) / float64(in.TotalTrades)
	}

	maxDD := maxDrawdown(in.EquityCurve)

	barsPerYear := in.BarsPerYear
	if barsPerYear <= 0 {
		barsPerYear = 365
	}

	return PerformanceReport{
		FinalEquity:  in.FinalEquity,
		NetProfit:    netProfit,
		NetProfitPct: netProfitPct,
		MaxDrawdown:  maxDD,
		WinRate:      winRate,
		SharpeRatio:  riskAdjustedReturn(in.Returns, barsPerYear, false),
		SortinoRatio: riskAdjustedReturn(in.Returns, barsPerYear, true),
		TradingPnL:   in.TradingPnL,
		FundingPnL:   in.FundingPnL,
	}
}

func maxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, e := range equity {
		if e > peak {
			peak = e
		}
		if peak > 0 {
			if dd := (peak - e) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

func riskAdjustedReturn(returns []float64, barsPerYear float64, downsideOnly bool) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := meanOf(returns)

	if !downsideOnly {
		std := stdDevOf(returns)
		if std == 0 {
			return 0
		}
		return mean / std * math.Sqrt(barsPerYear)
	}

	var variance float64
	var n int
	for _, r := range returns {
		if downsideOnly && r >= 0 {
			continue
		}
		variance += r * r
		n++
	}
	if n == 0 {
		return 0
	}
	std := math.Sqrt(variance / float64(n))
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(barsPerYear)
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// BuildRiskMetrics computes the live-only VaR/leverage/concentration block
// from position, equity and recentPnLs; riskMgr is not consulted. VaR is
// estimated parametrically
// (1.645/2.326 sigma for 95%/99%) off the position's recent PnL
// volatility, matching the teacher's normal-approximation risk style.
func BuildRiskMetrics(position types.Position, equity float64, recentPnLs []float64, riskMgr *risk.Manager) RiskMetrics {
	notional := math.Abs(position.Size) * position.CurrentPrice
	leverage := 0.0
	if equity > 0 {
		leverage = notional / equity
	}

	sigma := stdDevOf(recentPnLs)
	return RiskMetrics{
		VaR95:         1.645 * sigma,
		VaR99:         2.326 * sigma,
		Leverage:      leverage,
		Concentration: 1.0, // single-symbol engine: always fully concentrated
	}
}

func stdDevOf(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := meanOf(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)-1))
}

// BuildConnectionMetrics summarizes a live engine's connection health: the
// disconnect count from eng and an uptime fixed at 100%. sessionStart and
// now are not used, and latency and order success rate are left zero.
func BuildConnectionMetrics(eng *live.Engine, sessionStart time.Time, now time.Time) ConnectionMetrics {
	uptime := 100.0
	return ConnectionMetrics{
		UptimePct:       uptime,
		DisconnectCount: eng.DisconnectCount(),
	}
}
