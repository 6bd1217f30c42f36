package funding

import (
	"math"
	"testing"

	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

func TestVolatilityInsufficientData(t *testing.T) {
	t.Parallel()
	if got := Volatility(nil); got != 0 {
		t.Errorf("Volatility(nil) = %v, want 0", got)
	}
	if got := Volatility([]float64{0.0001}); got != 0 {
		t.Errorf("Volatility(single) = %v, want 0", got)
	}
}

func TestVolatilityKnownSeries(t *testing.T) {
	t.Parallel()
	rates := []float64{1, 2, 3, 4, 5}
	// sample stddev of 1..5 is sqrt(2.5) ≈ 1.5811
	got := Volatility(rates)
	want := math.Sqrt(2.5)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Volatility() = %v, want %v", got, want)
	}
}

func TestMomentumMonotonicSeries(t *testing.T) {
	t.Parallel()
	rates := []float64{1, 2, 3, 4, 5}
	got := Momentum(rates)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Momentum() = %v, want 1.0 (slope of y=x+1)", got)
	}
}

func TestDetectAnomaly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		rates  []float64
		wantAnomaly bool
	}{
		{"insufficient data", []float64{0.0001}, false},
		{"normal", []float64{0.0001, 0.00012, 0.00009, 0.00011}, false},
		{"spike", []float64{0.0001, 0.0001, 0.0001, 0.0001, 0.0001, 0.0001, 0.0001, 0.0001, 0.0001, 0.0001, 0.0001, 0.0001, 0.01}, true},
	}

	for _, tt := range tests {
		got := DetectAnomaly(tt.rates)
		if got.IsAnomaly != tt.wantAnomaly {
			t.Errorf("%s: DetectAnomaly().IsAnomaly = %v, want %v (deviation=%v)", tt.name, got.IsAnomaly, tt.wantAnomaly, got.Deviation)
		}
	}
}

func TestCalculateArbitrage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		rate         float64
		wantArb      bool
		wantYield    float64
	}{
		{"above threshold", 0.0003, true, 0.0003 * 3 * 365.25},
		{"below threshold", 0.00005, false, 0.00005 * 3 * 365.25},
	}

	for _, tt := range tests {
		got := CalculateArbitrage(tt.rate, 50000)
		if got.IsArbitrage != tt.wantArb {
			t.Errorf("%s: IsArbitrage = %v, want %v", tt.name, got.IsArbitrage, tt.wantArb)
		}
		if math.Abs(got.AnnualizedYield-tt.wantYield) > 1e-9 {
			t.Errorf("%s: AnnualizedYield = %v, want %v", tt.name, got.AnnualizedYield, tt.wantYield)
		}
	}
}

func TestCorrelationPerfectPositive(t *testing.T) {
	t.Parallel()
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{2, 4, 6, 8, 10}
	got := Correlation(a, b)
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("Correlation() = %v, want 1.0", got)
	}
}

func TestCorrelationMismatchedLengths(t *testing.T) {
	t.Parallel()
	if got := Correlation([]float64{1, 2}, []float64{1}); got != 0 {
		t.Errorf("Correlation() = %v, want 0", got)
	}
}

func TestPredictorPredictEmpty(t *testing.T) {
	t.Parallel()
	p := NewPredictor(48)
	got := p.Predict()
	if got.Direction != types.DirectionNeutral {
		t.Errorf("empty predictor direction = %v, want Neutral", got.Direction)
	}
	if got.HorizonHours != defaultHorizonHours {
		t.Errorf("HorizonHours = %v, want %v", got.HorizonHours, defaultHorizonHours)
	}
}

func TestPredictorEvictsOldestBeyondLookback(t *testing.T) {
	t.Parallel()
	p := NewPredictor(3)
	p.AddObservation(0.0001)
	p.AddObservation(0.0002)
	p.AddObservation(0.0003)
	p.AddObservation(0.0004) // evicts 0.0001

	if len(p.rates) != 3 {
		t.Fatalf("expected window capped at 3, got %d", len(p.rates))
	}
	if p.rates[0] != 0.0002 {
		t.Errorf("oldest retained = %v, want 0.0002", p.rates[0])
	}
}

func TestPredictorConfidenceBounds(t *testing.T) {
	t.Parallel()
	p := NewPredictor(48)
	for _, r := range []float64{0.0001, 0.0002, 0.0003, 0.0004} {
		p.AddObservation(r)
	}
	got := p.Predict()
	if got.Confidence < 0.5 || got.Confidence > 0.8 {
		t.Errorf("Confidence = %v, want in [0.5, 0.8]", got.Confidence)
	}
}
