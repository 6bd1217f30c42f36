package historical

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

func TestFetchBarsRejectsUnsupportedInterval(t *testing.T) {
	t.Parallel()

	client := NewClient(config.VenueConfig{HistoricalBaseURL: "http://unused"}, nil)
	_, err := client.FetchBars(context.Background(), "BTC-PERP", Interval("3m"), time.Now(), time.Now().Add(time.Hour))
	if kind, ok := types.KindOf(err); !ok || kind != types.KindUnsupportedInterval {
		t.Fatalf("expected KindUnsupportedInterval, got %v (ok=%v)", kind, ok)
	}
}

func TestFetchBarsRejectsInvalidTimeRange(t *testing.T) {
	t.Parallel()

	client := NewClient(config.VenueConfig{HistoricalBaseURL: "http://unused"}, nil)
	now := time.Now()
	_, err := client.FetchBars(context.Background(), "BTC-PERP", Interval1h, now, now.Add(-time.Hour))
	if kind, ok := types.KindOf(err); !ok || kind != types.KindInvalidTimeRange {
		t.Fatalf("expected KindInvalidTimeRange, got %v (ok=%v)", kind, ok)
	}
}

func TestFetchBarsParsesResponse(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/candles" {
			t.Errorf("path = %s, want /candles", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"timestamp": start.Unix(), "open": 100.0, "high": 101.0, "low": 99.0, "close": 100.5, "volume": 10.0, "funding_rate": 0.0001},
			{"timestamp": start.Add(time.Hour).Unix(), "open": 100.5, "high": 102.0, "low": 100.0, "close": 101.5, "volume": 12.0, "funding_rate": 0.0002},
		})
	}))
	defer srv.Close()

	client := NewClient(config.VenueConfig{HistoricalBaseURL: srv.URL}, nil)
	bars, err := client.FetchBars(context.Background(), "BTC-PERP", Interval1h, start, start.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("FetchBars: %v", err)
	}
	if bars.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", bars.Len())
	}
	if bars.Close[1] != 101.5 {
		t.Errorf("Close[1] = %v, want 101.5", bars.Close[1])
	}
	if bars.FundingRates[0] != 0.0001 {
		t.Errorf("FundingRates[0] = %v, want 0.0001", bars.FundingRates[0])
	}
}
