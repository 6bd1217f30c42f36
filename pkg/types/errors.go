package types

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error so callers can branch on category rather
// than message text, and so each kind can carry a fixed remediation hint.
type Kind string

const (
	KindInvalidOrder              Kind = "INVALID_ORDER"
	KindDataConversion            Kind = "DATA_CONVERSION"
	KindInvalidTimeRange          Kind = "INVALID_TIME_RANGE"
	KindUnsupportedInterval       Kind = "UNSUPPORTED_INTERVAL"
	KindNetworkTransient          Kind = "NETWORK_TRANSIENT"
	KindRateLimited               Kind = "RATE_LIMITED"
	KindVenuePermanent            Kind = "VENUE_PERMANENT"
	KindRiskRejected              Kind = "RISK_REJECTED"
	KindEmergencyStopActive       Kind = "EMERGENCY_STOP_ACTIVE"
	KindUnsupportedModeTransition Kind = "UNSUPPORTED_MODE_TRANSITION"
	KindConfigurationInvalid      Kind = "CONFIGURATION_INVALID"
)

// remediation gives a short, fixed hint per kind, returned by
// EngineError.Remediation; Error() does not include it.
var remediation = map[Kind]string{
	KindInvalidOrder:              "fix the order request before resubmitting",
	KindDataConversion:            "inspect the upstream data source for malformed bars",
	KindInvalidTimeRange:          "check the requested start/end bounds",
	KindUnsupportedInterval:       "Supported intervals: 1m, 5m, 15m, 1h, 4h, 1d",
	KindNetworkTransient:         "safe to retry with backoff",
	KindRateLimited:               "back off and retry after the rate limit window",
	KindVenuePermanent:            "do not retry without operator intervention",
	KindRiskRejected:              "order violates a configured risk limit",
	KindEmergencyStopActive:       "clear the emergency stop before submitting new orders",
	KindUnsupportedModeTransition: "the requested trading-mode transition is not permitted",
	KindConfigurationInvalid:      "correct the configuration and restart",
}

// EngineError is the error type returned across the engine boundary. It
// wraps an underlying cause (if any) and is compatible with errors.Is/As
// via Unwrap.
type EngineError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error { return e.Cause }

// Remediation returns the fixed hint associated with this error's kind.
func (e *EngineError) Remediation() string { return remediation[e.Kind] }

// WrapKind constructs an *EngineError of the given kind. cause may be nil.
func WrapKind(kind Kind, message string, cause error) error {
	return &EngineError{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, if err (or something it wraps) is an
// *EngineError. ok is false otherwise.
func KindOf(err error) (kind Kind, ok bool) {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
