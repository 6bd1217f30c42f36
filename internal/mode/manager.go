// Package mode implements the TradingModeManager (spec.md §4.7): holds the
// active trading mode and config, enforces the mode transition matrix, and
// builds mode-appropriate reports.
package mode

import (
	"log/slog"
	"sync"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// Manager holds the active mode and config, enforcing spec.md §4.7's
// transition matrix: every transition is allowed except
// Backtest → LiveTrade.
type Manager struct {
	mu     sync.Mutex
	mode   types.TradingMode
	cfg    *config.Config
	logger *slog.Logger
}

// NewManager builds a mode manager starting in the given mode. The mode's
// required config section is validated immediately.
func NewManager(initial types.TradingMode, cfg *config.Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Trading.ValidateForMode(initial); err != nil {
		return nil, err
	}
	return &Manager{
		mode:   initial,
		cfg:    cfg,
		logger: logger.With("component", "mode-manager"),
	}, nil
}

// Mode returns the currently active mode.
func (m *Manager) Mode() types.TradingMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// TransitionTo moves the manager to target, failing with
// UnsupportedModeTransition for the one forbidden transition
// (Backtest → LiveTrade) and otherwise validating target's required
// config section before committing.
func (m *Manager) TransitionTo(target types.TradingMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode == types.ModeBacktest && target == types.ModeLiveTrade {
		return types.WrapKind(types.KindUnsupportedModeTransition,
			"cannot transition directly from Backtest to LiveTrade", nil)
	}
	if err := m.cfg.Trading.ValidateForMode(target); err != nil {
		return err
	}

	m.logger.Info("mode transition", "from", m.mode, "to", target)
	m.mode = target
	return nil
}
