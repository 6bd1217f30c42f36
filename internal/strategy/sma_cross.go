package strategy

import (
	"fmt"

	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// SMACross is a deterministic moving-average crossover strategy: it holds a
// target position of +Quantity units when the fast SMA is above the slow
// SMA, and -Quantity units when it is below. It flips the whole position on
// every cross rather than scaling in, grounding spec.md §8 scenario S1.
type SMACross struct {
	Symbol       string
	FastPeriod   int
	SlowPeriod   int
	Quantity     float64
	closes       []float64
	position     float64 // current target position, signed units
	lastFastOver bool    // whether fast was above slow on the previous bar
	haveLast     bool
	signals      map[string]types.Signal
}

// NewSMACross builds an SMA(fast/slow) crossover strategy for a single
// symbol.
func NewSMACross(symbol string, fastPeriod, slowPeriod int, quantity float64) *SMACross {
	return &SMACross{
		Symbol:     symbol,
		FastPeriod: fastPeriod,
		SlowPeriod: slowPeriod,
		Quantity:   quantity,
		signals:    make(map[string]types.Signal),
	}
}

func (s *SMACross) Name() string { return fmt.Sprintf("sma-cross(%d,%d)", s.FastPeriod, s.SlowPeriod) }

func (s *SMACross) OnMarketData(data types.MarketData) []types.OrderRequest {
	if data.Symbol != s.Symbol {
		return nil
	}
	s.closes = append(s.closes, data.Last)
	if len(s.closes) > s.SlowPeriod {
		s.closes = s.closes[len(s.closes)-s.SlowPeriod:]
	}
	if len(s.closes) < s.SlowPeriod {
		return nil
	}

	fast := sma(s.closes, s.FastPeriod)
	slow := sma(s.closes, s.SlowPeriod)
	fastOver := fast > slow

	direction := types.DirectionNeutral
	if fast > slow {
		direction = types.DirectionPositive
	} else if fast < slow {
		direction = types.DirectionNegative
	}
	s.signals[s.Symbol] = types.Signal{
		Symbol:     s.Symbol,
		Direction:  direction,
		Confidence: 1.0,
		Timestamp:  data.Timestamp,
	}

	if !s.haveLast {
		s.haveLast = true
		s.lastFastOver = fastOver
		return nil
	}
	if fastOver == s.lastFastOver {
		return nil
	}
	s.lastFastOver = fastOver

	target := -s.Quantity
	if fastOver {
		target = s.Quantity
	}
	delta := target - s.position
	if delta == 0 {
		return nil
	}
	s.position = target

	side := types.Buy
	if delta < 0 {
		side = types.Sell
	}
	return []types.OrderRequest{{
		Symbol:   s.Symbol,
		Side:     side,
		Type:     types.OrderTypeMarket,
		Quantity: absf(delta),
	}}
}

func (s *SMACross) OnOrderFill(types.OrderResult)             {}
func (s *SMACross) OnFundingPayment(types.FundingPayment)     {}
func (s *SMACross) CurrentSignals() map[string]types.Signal   { return s.signals }

func sma(values []float64, period int) float64 {
	window := values[len(values)-period:]
	sum := 0.0
	for _, v := range window {
		sum += v
	}
	return sum / float64(period)
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
