package strategy

import (
	"testing"
	"time"

	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// TestSMACrossScenarioS1 grounds spec.md §8 scenario S1: bars
// [100, 101, 102, 101, 100, 99, 100, 101, 102, 103] hourly, SMA(3/5),
// expects exactly 2 fills (one golden cross, one death cross).
func TestSMACrossScenarioS1(t *testing.T) {
	t.Parallel()

	closes := []float64{100, 101, 102, 101, 100, 99, 100, 101, 102, 103}
	s := NewSMACross("BTC-PERP", 3, 5, 1)

	fillCount := 0
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range closes {
		orders := s.OnMarketData(types.MarketData{
			Symbol:    "BTC-PERP",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Last:      c,
		})
		fillCount += len(orders)
	}

	if fillCount != 2 {
		t.Errorf("fill count = %d, want 2", fillCount)
	}
}

func TestSMACrossIgnoresOtherSymbols(t *testing.T) {
	t.Parallel()
	s := NewSMACross("BTC-PERP", 3, 5, 1)
	orders := s.OnMarketData(types.MarketData{Symbol: "ETH-PERP", Last: 100})
	if orders != nil {
		t.Errorf("expected nil for unrelated symbol, got %v", orders)
	}
}

func TestSMACrossNoSignalBeforeWarmup(t *testing.T) {
	t.Parallel()
	s := NewSMACross("BTC-PERP", 3, 5, 1)
	for i := 0; i < 4; i++ {
		orders := s.OnMarketData(types.MarketData{Symbol: "BTC-PERP", Last: 100})
		if orders != nil {
			t.Fatalf("bar %d: expected nil during warmup, got %v", i, orders)
		}
	}
}

func TestSMACrossName(t *testing.T) {
	t.Parallel()
	s := NewSMACross("BTC-PERP", 3, 5, 1)
	if s.Name() != "sma-cross(3,5)" {
		t.Errorf("Name() = %q", s.Name())
	}
}
