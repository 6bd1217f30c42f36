// Package config defines all configuration for the trading engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via PERP_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Trading  TradingConfig  `mapstructure:"trading"`
	Venue    VenueConfig    `mapstructure:"venue"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

// TradingConfig is the spec's top-level per-run trading configuration:
// initial balance plus the optional mode-specific sections. Params carries
// unknown free-form strategy parameters through untouched.
type TradingConfig struct {
	InitialBalance float64           `mapstructure:"initial_balance"`
	Commission     types.CommissionSchedule `mapstructure:"commission"`
	Risk           *RiskConfig       `mapstructure:"risk"`
	Slippage       *SlippageConfig   `mapstructure:"slippage"`
	Api            *ApiConfig        `mapstructure:"api"`
	Params         map[string]string `mapstructure:"params"`
}

// RiskConfig is the exact field set from spec.md §3 — all percentages are
// fractions of portfolio equity. This is the authoritative set; do not add
// fields like max_positions that appear in some upstream drafts alongside
// max_open_positions (see spec.md §9 Open Question — the two never coexist
// here).
type RiskConfig struct {
	MaxPositionSizePct    float64 `mapstructure:"max_position_size_pct"`
	MaxDailyLossPct       float64 `mapstructure:"max_daily_loss_pct"`
	StopLossPct           float64 `mapstructure:"stop_loss_pct"`
	TakeProfitPct         float64 `mapstructure:"take_profit_pct"`
	MaxLeverage           float64 `mapstructure:"max_leverage"`
	MaxOpenPositions      int     `mapstructure:"max_open_positions"`
	MaxConcentrationPct   float64 `mapstructure:"max_concentration_pct"`
	MaxCorrelation        float64 `mapstructure:"max_correlation"`
	MaxDrawdownPct        float64 `mapstructure:"max_drawdown_pct"`
	MaxVolatilityPct      float64 `mapstructure:"max_volatility_pct"`
	EmergencyStopLossPct  float64 `mapstructure:"emergency_stop_loss_pct"`
}

// SlippageConfig parameterizes the paper engine's fill model (spec.md §4.5).
type SlippageConfig struct {
	BaseSlippagePct        float64 `mapstructure:"base_slippage_pct"`
	VolumeImpactFactor     float64 `mapstructure:"volume_impact_factor"`
	VolatilityImpactFactor float64 `mapstructure:"volatility_impact_factor"`
	RandomMaxPct           float64 `mapstructure:"random_max_pct"`
	MaxSlippagePct         float64 `mapstructure:"max_slippage_pct"`
	SimulatedLatencyMs     int     `mapstructure:"simulated_latency_ms"`
}

// ApiConfig holds the live-venue endpoint, credentials, and wallet used for
// signing orders. PrivateKey signs EIP-712 auth for wallet-based venues.
type ApiConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	WSURL            string        `mapstructure:"ws_url"`
	ApiKey           string        `mapstructure:"api_key"`
	ApiSecret        string        `mapstructure:"api_secret"`
	WalletPrivateKey string        `mapstructure:"wallet_private_key"`
	TimeoutMs        int           `mapstructure:"timeout_ms"`
	Timeout          time.Duration `mapstructure:"-"`
}

// VenueConfig is the connection-level config for the historical/stream/venue
// clients, independent of any single run's TradingConfig.
type VenueConfig struct {
	HistoricalBaseURL string `mapstructure:"historical_base_url"`
	StreamURL         string `mapstructure:"stream_url"`
}

// StoreConfig sets where position data is persisted (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MonitorConfig controls the websocket monitoring server.
type MonitorConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: PERP_API_KEY, PERP_API_SECRET, PERP_WALLET_PRIVATE_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Trading.Api != nil {
		cfg.Trading.Api.Timeout = time.Duration(cfg.Trading.Api.TimeoutMs) * time.Millisecond
	}

	// Override sensitive fields from env.
	if key := os.Getenv("PERP_API_KEY"); key != "" && cfg.Trading.Api != nil {
		cfg.Trading.Api.ApiKey = key
	}
	if secret := os.Getenv("PERP_API_SECRET"); secret != "" && cfg.Trading.Api != nil {
		cfg.Trading.Api.ApiSecret = secret
	}
	if key := os.Getenv("PERP_WALLET_PRIVATE_KEY"); key != "" && cfg.Trading.Api != nil {
		cfg.Trading.Api.WalletPrivateKey = key
	}
	if os.Getenv("PERP_DRY_RUN") == "true" || os.Getenv("PERP_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// ValidateForMode enforces spec.md §6's validate_for_mode rules: Backtest
// requires only a positive initial balance; PaperTrade additionally
// requires a SlippageConfig; LiveTrade additionally requires an ApiConfig
// with non-empty credentials (RiskConfig is mandatory for LiveTrade too,
// per §4.7).
func (c *TradingConfig) ValidateForMode(mode types.TradingMode) error {
	if c.InitialBalance <= 0 {
		return types.WrapKind(types.KindConfigurationInvalid, "initial_balance must be > 0", nil)
	}

	switch mode {
	case types.ModeBacktest:
		return nil

	case types.ModePaperTrade:
		if c.Slippage == nil {
			return types.WrapKind(types.KindConfigurationInvalid, "paper trading requires a slippage configuration", nil)
		}
		return nil

	case types.ModeLiveTrade:
		if c.Risk == nil {
			return types.WrapKind(types.KindConfigurationInvalid, "live trading requires a risk configuration", nil)
		}
		if c.Api == nil {
			return types.WrapKind(types.KindConfigurationInvalid, "live trading requires an api configuration", nil)
		}
		if c.Api.ApiKey == "" || c.Api.WalletPrivateKey == "" {
			return types.WrapKind(types.KindConfigurationInvalid, "live trading requires non-empty api credentials", nil)
		}
		return nil

	default:
		return types.WrapKind(types.KindConfigurationInvalid, fmt.Sprintf("unknown trading mode %q", mode), nil)
	}
}

// Validate checks the fields of the top-level process config that are
// required regardless of trading mode (venue/store/logging).
func (c *Config) Validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if c.Trading.Commission.TakerRate < c.Trading.Commission.MakerRate {
		return fmt.Errorf("trading.commission.taker_rate must be >= maker_rate")
	}
	return nil
}
