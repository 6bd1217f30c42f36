// Package monitor runs the WebSocket/HTTP dashboard server (spec.md §4.7):
// Alert, PnL, TradeExecution, PerformanceMetrics, ConnectionStatus and
// Dashboard snapshot messages pushed to connected clients. Adapted from
// the teacher's internal/api package, generalized from a per-market
// maker dashboard to a single-symbol perp engine dashboard.
package monitor

import (
	"time"

	"github.com/xsa-dev/perp-trading-engine/internal/mode"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// Message is the wrapper for every event pushed to dashboard clients.
type Message struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

const (
	MessageTypeAlert       = "alert"
	MessageTypeTrade       = "trade"
	MessageTypePerformance = "performance"
	MessageTypeConnection  = "connection"
	MessageTypeDashboard   = "dashboard"
	MessageTypePnL         = "pnl"
)

// PnLUpdate is a lightweight incremental PnL push, cheaper to emit than a
// full dashboard snapshot on every fill.
type PnLUpdate struct {
	Symbol        string  `json:"symbol"`
	RealizedPnL   float64 `json:"realized_pnl"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
}

func newMessage(msgType string, data interface{}) Message {
	return Message{Type: msgType, Timestamp: time.Now(), Data: data}
}

// NewAlertMessage wraps a types.Alert for broadcast.
func NewAlertMessage(a types.Alert) Message { return newMessage(MessageTypeAlert, a) }

// NewTradeMessage wraps a types.Trade execution notification.
func NewTradeMessage(t types.Trade) Message { return newMessage(MessageTypeTrade, t) }

// NewPerformanceMessage wraps a performance report.
func NewPerformanceMessage(r mode.PerformanceReport) Message {
	return newMessage(MessageTypePerformance, r)
}

// NewConnectionMessage wraps a connection status change.
func NewConnectionMessage(c types.ConnectionStatus) Message {
	return newMessage(MessageTypeConnection, c)
}

// NewDashboardMessage wraps a full dashboard snapshot.
func NewDashboardMessage(s mode.DashboardSnapshot) Message {
	return newMessage(MessageTypeDashboard, s)
}

// NewPnLMessage wraps an incremental PnL update.
func NewPnLMessage(p PnLUpdate) Message { return newMessage(MessageTypePnL, p) }
