package mode

import (
	"testing"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

func baseConfig() *config.Config {
	return &config.Config{
		Trading: config.TradingConfig{InitialBalance: 10000},
	}
}

func TestNewManagerValidatesInitialMode(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(types.ModeBacktest, baseConfig(), nil); err != nil {
		t.Fatalf("NewManager(Backtest): %v", err)
	}

	if _, err := NewManager(types.ModePaperTrade, baseConfig(), nil); err == nil {
		t.Fatal("expected error: paper trade requires slippage config")
	}

	if _, err := NewManager(types.ModeLiveTrade, baseConfig(), nil); err == nil {
		t.Fatal("expected error: live trade requires api config")
	}
}

func TestTransitionToForbidsBacktestToLiveTrade(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Trading.Api = &config.ApiConfig{}
	cfg.Trading.Risk = &config.RiskConfig{}
	cfg.Trading.Slippage = &config.SlippageConfig{}

	m, err := NewManager(types.ModeBacktest, cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if err := m.TransitionTo(types.ModeLiveTrade); err == nil {
		t.Fatal("expected UnsupportedModeTransition error for Backtest -> LiveTrade")
	}
	if kind, ok := types.KindOf(m.TransitionTo(types.ModeLiveTrade)); !ok || kind != types.KindUnsupportedModeTransition {
		t.Errorf("expected KindUnsupportedModeTransition, got %v (ok=%v)", kind, ok)
	}
	if m.Mode() != types.ModeBacktest {
		t.Errorf("mode changed despite forbidden transition: %v", m.Mode())
	}
}

func TestTransitionToAllowsEveryOtherPair(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Trading.Api = &config.ApiConfig{ApiKey: "test-key", WalletPrivateKey: "test-wallet-key"}
	cfg.Trading.Risk = &config.RiskConfig{}
	cfg.Trading.Slippage = &config.SlippageConfig{}

	allowed := [][2]types.TradingMode{
		{types.ModeBacktest, types.ModePaperTrade},
		{types.ModePaperTrade, types.ModeLiveTrade},
		{types.ModePaperTrade, types.ModeBacktest},
		{types.ModeLiveTrade, types.ModeBacktest},
		{types.ModeLiveTrade, types.ModePaperTrade},
	}

	for _, pair := range allowed {
		m, err := NewManager(pair[0], cfg, nil)
		if err != nil {
			t.Fatalf("NewManager(%v): %v", pair[0], err)
		}
		if err := m.TransitionTo(pair[1]); err != nil {
			t.Errorf("TransitionTo(%v -> %v): %v", pair[0], pair[1], err)
		}
		if m.Mode() != pair[1] {
			t.Errorf("mode = %v, want %v", m.Mode(), pair[1])
		}
	}
}

func TestTransitionToRejectsTargetMissingRequiredConfig(t *testing.T) {
	t.Parallel()

	m, err := NewManager(types.ModeBacktest, baseConfig(), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := m.TransitionTo(types.ModePaperTrade); err == nil {
		t.Fatal("expected error: paper trade requires slippage config")
	}
	if m.Mode() != types.ModeBacktest {
		t.Errorf("mode changed despite rejected transition: %v", m.Mode())
	}
}
