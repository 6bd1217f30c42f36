package risk

import (
	"sync"
	"time"
)

// SafetyCircuitBreakerConfig configures the live-engine-only breakers of
// spec.md §4.3, kept separate from RiskConfig. Field names follow the
// original_source live-trading-safety example exactly.
type SafetyCircuitBreakerConfig struct {
	MaxConsecutiveFailedOrders int           `mapstructure:"max_consecutive_failed_orders"`
	MaxOrderFailureRate        float64       `mapstructure:"max_order_failure_rate"`
	OrderFailureRateWindow     time.Duration `mapstructure:"order_failure_rate_window"`
	MaxPositionDrawdownPct     float64       `mapstructure:"max_position_drawdown_pct"`
	MaxAccountDrawdownPct      float64       `mapstructure:"max_account_drawdown_pct"`
	MaxPriceDeviationPct       float64       `mapstructure:"max_price_deviation_pct"`
	PriceDeviationWindowSec    int           `mapstructure:"price_deviation_window_sec"`
	MaxCriticalAlerts          int           `mapstructure:"max_critical_alerts"`
	CriticalAlertsWindow       time.Duration `mapstructure:"critical_alerts_window"`
}

type orderOutcome struct {
	at      time.Time
	failed  bool
}

type priceObservation struct {
	at    time.Time
	price float64
}

type alertObservation struct {
	at time.Time
}

// BreakerBank evaluates the live engine's safety circuit breakers: a trip
// of any one breaker means the engine must call EmergencyStop. The rolling
// windows use the same append-then-evict-stale-prefix technique as
// internal/funding's indicator windows (itself grounded on the teacher's
// FlowTracker), applied here to order outcomes, price observations, and
// critical alerts instead of fills.
type BreakerBank struct {
	cfg SafetyCircuitBreakerConfig

	mu                   sync.Mutex
	consecutiveFailures  int
	orderOutcomes        []orderOutcome
	priceObservations    []priceObservation
	criticalAlerts       []alertObservation
}

// NewBreakerBank creates a breaker bank with the given thresholds.
func NewBreakerBank(cfg SafetyCircuitBreakerConfig) *BreakerBank {
	return &BreakerBank{cfg: cfg}
}

// TripReason names which breaker fired, or "" if none did.
type TripReason string

const (
	TripNone                   TripReason = ""
	TripConsecutiveFailures    TripReason = "consecutive-failed-orders-exceeded"
	TripOrderFailureRate       TripReason = "order-failure-rate-exceeded"
	TripAccountDrawdown        TripReason = "account-drawdown-exceeded"
	TripPositionDrawdown       TripReason = "position-drawdown-exceeded"
	TripPriceDeviation         TripReason = "price-deviation-exceeded"
	TripCriticalAlertRate      TripReason = "critical-alert-rate-exceeded"
)

// RecordOrderOutcome registers an order result (success or failure) and
// returns the trip reason if the consecutive-failure or failure-rate
// breaker now fires.
func (b *BreakerBank) RecordOrderOutcome(at time.Time, failed bool) TripReason {
	b.mu.Lock()
	defer b.mu.Unlock()

	if failed {
		b.consecutiveFailures++
	} else {
		b.consecutiveFailures = 0
	}

	b.orderOutcomes = append(b.orderOutcomes, orderOutcome{at: at, failed: failed})
	b.evictOrderOutcomesLocked(at)

	if b.cfg.MaxConsecutiveFailedOrders > 0 && b.consecutiveFailures >= b.cfg.MaxConsecutiveFailedOrders {
		return TripConsecutiveFailures
	}

	if b.cfg.MaxOrderFailureRate > 0 && len(b.orderOutcomes) > 0 {
		failures := 0
		for _, o := range b.orderOutcomes {
			if o.failed {
				failures++
			}
		}
		rate := float64(failures) / float64(len(b.orderOutcomes))
		if rate > b.cfg.MaxOrderFailureRate {
			return TripOrderFailureRate
		}
	}

	return TripNone
}

func (b *BreakerBank) evictOrderOutcomesLocked(now time.Time) {
	if b.cfg.OrderFailureRateWindow <= 0 {
		return
	}
	cutoff := now.Add(-b.cfg.OrderFailureRateWindow)
	i := 0
	for i < len(b.orderOutcomes) && !b.orderOutcomes[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		b.orderOutcomes = b.orderOutcomes[i:]
	}
}

// RecordAccountDrawdown checks the account-drawdown breaker.
func (b *BreakerBank) RecordAccountDrawdown(drawdownPct float64) TripReason {
	if b.cfg.MaxAccountDrawdownPct > 0 && drawdownPct > b.cfg.MaxAccountDrawdownPct {
		return TripAccountDrawdown
	}
	return TripNone
}

// RecordPositionDrawdown checks the position-drawdown breaker.
func (b *BreakerBank) RecordPositionDrawdown(drawdownPct float64) TripReason {
	if b.cfg.MaxPositionDrawdownPct > 0 && drawdownPct > b.cfg.MaxPositionDrawdownPct {
		return TripPositionDrawdown
	}
	return TripNone
}

// RecordPrice registers a mark price observation and returns the trip
// reason if price has moved more than MaxPriceDeviationPct within the
// configured window.
func (b *BreakerBank) RecordPrice(at time.Time, price float64) TripReason {
	b.mu.Lock()
	defer b.mu.Unlock()

	window := time.Duration(b.cfg.PriceDeviationWindowSec) * time.Second
	cutoff := at.Add(-window)
	i := 0
	for i < len(b.priceObservations) && !b.priceObservations[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		b.priceObservations = b.priceObservations[i:]
	}
	b.priceObservations = append(b.priceObservations, priceObservation{at: at, price: price})

	if b.cfg.MaxPriceDeviationPct <= 0 || len(b.priceObservations) < 2 {
		return TripNone
	}
	oldest := b.priceObservations[0].price
	if oldest == 0 {
		return TripNone
	}
	deviation := (price - oldest) / oldest
	if deviation < 0 {
		deviation = -deviation
	}
	if deviation > b.cfg.MaxPriceDeviationPct {
		return TripPriceDeviation
	}
	return TripNone
}

// RecordCriticalAlert registers a Critical-level alert and returns the trip
// reason once the rolling critical-alert count reaches MaxCriticalAlerts.
func (b *BreakerBank) RecordCriticalAlert(at time.Time) TripReason {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := at.Add(-b.cfg.CriticalAlertsWindow)
	i := 0
	for i < len(b.criticalAlerts) && !b.criticalAlerts[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		b.criticalAlerts = b.criticalAlerts[i:]
	}
	b.criticalAlerts = append(b.criticalAlerts, alertObservation{at: at})

	if b.cfg.MaxCriticalAlerts > 0 && len(b.criticalAlerts) >= b.cfg.MaxCriticalAlerts {
		return TripCriticalAlertRate
	}
	return TripNone
}

// Reset clears all rolling state. No engine in this repository calls it.
func (b *BreakerBank) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutiveFailures = 0
	b.orderOutcomes = nil
	b.priceObservations = nil
	b.criticalAlerts = nil
}
