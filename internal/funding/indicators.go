// Package funding implements the pure statistical indicators of spec.md
// §4.2 over a rolling window of funding-rate observations, plus a
// Predictor that accumulates that window the way the teacher's
// FlowTracker accumulates fills: append an observation, evict anything
// outside the window, recompute on demand. These functions never mutate
// engine state — they are consumed by strategies and reporting only.
package funding

import (
	"math"
	"sync"

	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// arbitrageThreshold is the |rate| above which calculate_funding_arbitrage
// flags an opportunity.
const arbitrageThreshold = 0.0001

// fundingPeriodsPerDay assumes 8-hour funding periods.
const fundingPeriodsPerDay = 3.0

// Volatility returns the sample standard deviation of rates. Returns 0 for
// fewer than 2 observations.
func Volatility(rates []float64) float64 {
	n := len(rates)
	if n <= 1 {
		return 0
	}
	mean := sum(rates) / float64(n)
	var sumSq float64
	for _, r := range rates {
		d := r - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// Momentum returns the linear-regression slope of rates against their
// index, a rate-of-change estimate. Returns 0 for fewer than 2 observations.
func Momentum(rates []float64) float64 {
	n := len(rates)
	if n <= 1 {
		return 0
	}
	nf := float64(n)
	var sumX, sumY, sumXY, sumXX float64
	for i, r := range rates {
		x := float64(i)
		sumX += x
		sumY += r
		sumXY += x * r
		sumXX += x * x
	}
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (nf*sumXY - sumX*sumY) / denom
}

// Anomaly is the result of z-score anomaly detection over a funding-rate
// window.
type Anomaly struct {
	IsAnomaly bool
	Deviation float64 // |z-score|, always non-negative
	Direction types.SignalDirection
}

// DetectAnomaly flags the most recent rate as anomalous if it sits 3 or
// more sample standard deviations from the window's mean (the "3 sigma
// rule").
func DetectAnomaly(rates []float64) Anomaly {
	if len(rates) < 2 {
		return Anomaly{Direction: types.DirectionNeutral}
	}
	mean := sum(rates) / float64(len(rates))
	stdDev := Volatility(rates)
	last := rates[len(rates)-1]

	var z float64
	if stdDev > 0 {
		z = (last - mean) / stdDev
	}
	deviation := math.Abs(z)

	return Anomaly{
		IsAnomaly: deviation >= 3.0,
		Deviation: deviation,
		Direction: types.DirectionFromValue(last),
	}
}

// ArbitrageOpportunity is the result of CalculateArbitrage.
type ArbitrageOpportunity struct {
	IsArbitrage        bool
	Direction          types.SignalDirection
	AnnualizedYield    float64
	PaymentPerContract float64
}

// CalculateArbitrage flags a funding-arbitrage opportunity when |rate|
// exceeds the configured threshold, annualizing the yield assuming
// 8-hour funding periods (3/day).
func CalculateArbitrage(rate, price float64) ArbitrageOpportunity {
	abs := math.Abs(rate)
	return ArbitrageOpportunity{
		IsArbitrage:        abs > arbitrageThreshold,
		Direction:          types.DirectionFromValue(rate),
		AnnualizedYield:    abs * fundingPeriodsPerDay * 365.25,
		PaymentPerContract: abs * price,
	}
}

// Correlation returns the Pearson correlation coefficient between two
// equal-length series. Returns 0 if lengths differ, either is empty, or
// the denominator is 0.
func Correlation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	n := float64(len(a))
	var sumX, sumY, sumXY, sumXX, sumYY float64
	for i := range a {
		sumX += a[i]
		sumY += b[i]
		sumXY += a[i] * b[i]
		sumXX += a[i] * a[i]
		sumYY += b[i] * b[i]
	}
	numerator := n*sumXY - sumX*sumY
	denominator := math.Sqrt((n*sumXX - sumX*sumX) * (n*sumYY - sumY*sumY))
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}

// Prediction is the output of Predictor.Predict.
type Prediction struct {
	ExpectedRate float64
	Direction    types.SignalDirection
	Confidence   float64
	HorizonHours int
}

// defaultHorizonHours is the predictor's fixed forecast horizon, one
// funding period ahead.
const defaultHorizonHours = 8

// defaultLookbackPeriods bounds the predictor's rolling window, following
// original_source's FundingPredictionConfig default.
const defaultLookbackPeriods = 48

// Predictor accumulates a rolling window of funding-rate observations and
// predicts the next rate from recent trend. The append-then-evict-oldest
// technique mirrors the teacher's FlowTracker, generalized from a
// time-based window to a fixed-size lookback (funding observations arrive
// one per funding interval, not at high frequency, so a count-based window
// is the natural analogue here).
type Predictor struct {
	mu              sync.Mutex
	lookbackPeriods int
	rates           []float64
}

// NewPredictor creates a predictor with the given lookback window. A
// lookback <= 0 uses defaultLookbackPeriods.
func NewPredictor(lookbackPeriods int) *Predictor {
	if lookbackPeriods <= 0 {
		lookbackPeriods = defaultLookbackPeriods
	}
	return &Predictor{lookbackPeriods: lookbackPeriods}
}

// AddObservation appends a funding-rate observation, evicting the oldest
// once the lookback window is full.
func (p *Predictor) AddObservation(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.rates) >= p.lookbackPeriods {
		p.rates = p.rates[1:]
	}
	p.rates = append(p.rates, rate)
}

// Predict returns the next-rate forecast: expected_rate = last + momentum,
// with confidence 0.5 + 0.3*min(1, |momentum|/(volatility+epsilon)).
func (p *Predictor) Predict() Prediction {
	p.mu.Lock()
	rates := append([]float64(nil), p.rates...)
	p.mu.Unlock()

	if len(rates) == 0 {
		return Prediction{Direction: types.DirectionNeutral, HorizonHours: defaultHorizonHours}
	}

	momentum := Momentum(rates)
	volatility := Volatility(rates)
	last := rates[len(rates)-1]
	expected := last + momentum

	const epsilon = 0.0001
	confidence := 0.5 + 0.3*math.Min(1, math.Abs(momentum)/(volatility+epsilon))

	return Prediction{
		ExpectedRate: expected,
		Direction:    types.DirectionFromValue(expected),
		Confidence:   confidence,
		HorizonHours: defaultHorizonHours,
	}
}

// Volatility returns the sample standard deviation of the predictor's
// current window.
func (p *Predictor) Volatility() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Volatility(p.rates)
}

// Momentum returns the linear-regression slope of the predictor's current
// window.
func (p *Predictor) Momentum() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Momentum(p.rates)
}

// DetectAnomaly runs anomaly detection over the predictor's current window.
func (p *Predictor) DetectAnomaly() Anomaly {
	p.mu.Lock()
	defer p.mu.Unlock()
	return DetectAnomaly(p.rates)
}

func sum(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s
}
