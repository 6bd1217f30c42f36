// Package types defines the shared vocabulary for the trading engine — the
// position/order/market-data records that flow between strategies and the
// backtest, paper, and live engines. It has no dependencies on internal
// packages, so it can be imported by any layer.
package types

import "time"

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side, used when generating reduce-only stops.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType enumerates the order variants the engines understand.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeStopLimit        OrderType = "STOP_LIMIT"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeTakeProfitLimit  OrderType = "TAKE_PROFIT_LIMIT"
)

// IsLimitVariant reports whether the order type requires a price.
func (t OrderType) IsLimitVariant() bool {
	switch t {
	case OrderTypeLimit, OrderTypeStopLimit, OrderTypeTakeProfitLimit:
		return true
	}
	return false
}

// IsStopVariant reports whether the order type requires a stop price.
func (t OrderType) IsStopVariant() bool {
	switch t {
	case OrderTypeStopMarket, OrderTypeStopLimit, OrderTypeTakeProfitMarket, OrderTypeTakeProfitLimit:
		return true
	}
	return false
}

// TimeInForce controls order lifecycle semantics.
type TimeInForce string

const (
	GoodTillCancel    TimeInForce = "GTC"
	ImmediateOrCancel TimeInForce = "IOC"
	FillOrKill        TimeInForce = "FOK"
	GoodTillDate      TimeInForce = "GTD"
)

// OrderStatus is the lifecycle state of an OrderResult.
type OrderStatus string

const (
	StatusCreated         OrderStatus = "CREATED"
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status is a final state.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected, StatusExpired:
		return true
	}
	return false
}

// IsActive reports whether the order can still receive fills.
func (s OrderStatus) IsActive() bool {
	switch s {
	case StatusCreated, StatusSubmitted, StatusPartiallyFilled:
		return true
	}
	return false
}

// TradingMode selects which engine drives a strategy.
type TradingMode string

const (
	ModeBacktest   TradingMode = "BACKTEST"
	ModePaperTrade TradingMode = "PAPER_TRADE"
	ModeLiveTrade  TradingMode = "LIVE_TRADE"
)

// AlertLevel classifies a monitoring Alert; Critical feeds the safety
// circuit breaker's alert-rate count.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertError    AlertLevel = "ERROR"
	AlertCritical AlertLevel = "CRITICAL"
)

// SignalDirection is the directional read of a predictive signal.
type SignalDirection string

const (
	DirectionPositive SignalDirection = "POSITIVE"
	DirectionNegative SignalDirection = "NEGATIVE"
	DirectionNeutral  SignalDirection = "NEUTRAL"
)

// DirectionFromValue classifies a signed value into a SignalDirection.
func DirectionFromValue(v float64) SignalDirection {
	switch {
	case v > 0:
		return DirectionPositive
	case v < 0:
		return DirectionNegative
	default:
		return DirectionNeutral
	}
}

// ————————————————————————————————————————————————————————————————————————
// Position
// ————————————————————————————————————————————————————————————————————————

// Position is the per-symbol open exposure. Size is signed: positive = long,
// negative = short, zero = flat. UnrealizedPnL is a pure function of the
// other fields, recomputed on every call to Mark.
type Position struct {
	Symbol           string    `json:"symbol"`
	Size             float64   `json:"size"`
	EntryPrice       float64   `json:"entry_price"`
	CurrentPrice     float64   `json:"current_price"`
	UnrealizedPnL    float64   `json:"unrealized_pnl"`
	RealizedPnL      float64   `json:"realized_pnl"`
	FundingPnL       float64   `json:"funding_pnl"`
	Leverage         float64   `json:"leverage"`
	LiquidationPrice float64   `json:"liquidation_price,omitempty"`
	Margin           float64   `json:"margin,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// IsFlat reports whether the position carries no exposure.
func (p *Position) IsFlat() bool { return p.Size == 0 }

// IsLong reports whether the position is net long.
func (p *Position) IsLong() bool { return p.Size > 0 }

// IsShort reports whether the position is net short.
func (p *Position) IsShort() bool { return p.Size < 0 }

// TotalPnL is the sum of realized, unrealized, and funding PnL.
func (p *Position) TotalPnL() float64 {
	return p.RealizedPnL + p.UnrealizedPnL + p.FundingPnL
}

// Mark updates CurrentPrice and recomputes UnrealizedPnL from the invariant
// unrealized_pnl = size * (current_price - entry_price).
func (p *Position) Mark(price float64, at time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL = p.Size * (price - p.EntryPrice)
	p.Timestamp = at
}

// ApplyFill adjusts the position for a fill of signed quantity deltaSize at
// fillPrice. A positive deltaSize is a buy, negative a sell. Opening or
// adding to a position updates EntryPrice by size-weighted average;
// reducing or closing credits RealizedPnL for the closed portion using the
// prior entry price and the prior position's sign; a reversal closes the
// prior size and opens the remainder fresh, both at fillPrice.
func (p *Position) ApplyFill(deltaSize, fillPrice float64, at time.Time) {
	priorSize := p.Size
	priorEntry := p.EntryPrice

	switch {
	case priorSize == 0:
		// Opening from flat.
		p.Size = deltaSize
		p.EntryPrice = fillPrice

	case sameSign(priorSize, deltaSize):
		// Adding to an existing position: size-weighted average entry.
		newSize := priorSize + deltaSize
		p.EntryPrice = (priorEntry*absf(priorSize) + fillPrice*absf(deltaSize)) / absf(newSize)
		p.Size = newSize

	default:
		// Reducing, closing, or reversing.
		closingQty := minf(absf(deltaSize), absf(priorSize))
		sign := signOf(priorSize)
		p.RealizedPnL += closingQty * (fillPrice - priorEntry) * sign

		newSize := priorSize + deltaSize
		if absf(deltaSize) <= absf(priorSize) {
			// Pure reduction or exact close: keep (or zero) entry price.
			p.Size = newSize
			if p.Size == 0 {
				p.EntryPrice = 0
			}
		} else {
			// Reversal: the closing leg is booked above, the remainder opens fresh.
			p.Size = newSize
			p.EntryPrice = fillPrice
		}
	}

	p.Mark(fillPrice, at)
}

// ApplyFunding credits (or debits) funding PnL for one funding interval.
// payment = -size * rate * markPrice: a positive rate with a long size pays
// (payment negative), a negative rate with a short size pays.
func (p *Position) ApplyFunding(rate, markPrice float64) float64 {
	payment := -p.Size * rate * markPrice
	p.FundingPnL += payment
	return payment
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

func signOf(v float64) float64 {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is a strategy's intent to trade.
type OrderRequest struct {
	Symbol        string            `json:"symbol"`
	Side          Side              `json:"side"`
	Type          OrderType         `json:"type"`
	Quantity      float64           `json:"quantity"`
	Price         *float64          `json:"price,omitempty"`
	StopPrice     *float64          `json:"stop_price,omitempty"`
	ReduceOnly    bool              `json:"reduce_only"`
	TimeInForce   TimeInForce       `json:"time_in_force"`
	ClientOrderID string            `json:"client_order_id,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
}

// Validate enforces the structural rules from §3: quantity must be
// strictly positive, limit variants require a price, stop variants require
// a stop price.
func (o *OrderRequest) Validate() error {
	if o.Quantity <= 0 {
		return WrapKind(KindInvalidOrder, "quantity must be > 0", nil)
	}
	if o.Type.IsLimitVariant() && o.Price == nil {
		return WrapKind(KindInvalidOrder, "limit order types require a price", nil)
	}
	if o.Type.IsStopVariant() && o.StopPrice == nil {
		return WrapKind(KindInvalidOrder, "stop order types require a stop price", nil)
	}
	return nil
}

// OrderResult is the outcome of submitting an OrderRequest.
type OrderResult struct {
	OrderID        string      `json:"order_id"`
	Symbol         string      `json:"symbol"`
	Side           Side        `json:"side"`
	Type           OrderType   `json:"type"`
	Quantity       float64     `json:"quantity"`
	FilledQuantity float64     `json:"filled_quantity"`
	AveragePrice   *float64    `json:"average_price,omitempty"`
	Status         OrderStatus `json:"status"`
	Fees           float64     `json:"fees"`
	Error          string      `json:"error,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Equal compares OrderResults by order_id, per §4.1.
func (r OrderResult) Equal(other OrderResult) bool { return r.OrderID == other.OrderID }

// ————————————————————————————————————————————————————————————————————————
// Market data, trades, funding
// ————————————————————————————————————————————————————————————————————————

// MarketData is a per-symbol snapshot at a point in time.
type MarketData struct {
	Symbol          string     `json:"symbol"`
	Timestamp       time.Time  `json:"timestamp"`
	Mid             float64    `json:"mid"`
	Last            float64    `json:"last"`
	Bid             float64    `json:"bid"`
	Ask             float64    `json:"ask"`
	Volume          float64    `json:"volume"`
	FundingRate     *float64   `json:"funding_rate,omitempty"`
	NextFundingTime *time.Time `json:"next_funding_time,omitempty"`
	OpenInterest    *float64   `json:"open_interest,omitempty"`
}

// Trade is a completed fill recorded in an engine's trade log.
type Trade struct {
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Fee         float64   `json:"fee"`
	Maker       bool      `json:"maker"`
	RealizedPnL float64   `json:"realized_pnl"`
	Timestamp   time.Time `json:"timestamp"`
}

// FundingPayment records one funding-interval settlement against a position.
type FundingPayment struct {
	Timestamp     time.Time `json:"timestamp"`
	Symbol        string    `json:"symbol"`
	PositionSize  float64   `json:"position_size"`
	FundingRate   float64   `json:"funding_rate"`
	PaymentAmount float64   `json:"payment_amount"`
	MarkPrice     float64   `json:"mark_price"`
}

// Signal is a strategy-produced directional read, exposed for reporting.
type Signal struct {
	Symbol     string          `json:"symbol"`
	Direction  SignalDirection `json:"direction"`
	Strength   float64         `json:"strength"`
	Confidence float64         `json:"confidence"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ————————————————————————————————————————————————————————————————————————
// Commission schedule
// ————————————————————————————————————————————————————————————————————————

// CommissionSchedule sets maker/taker fee rates and whether funding
// settlement is enabled for a simulation or venue.
type CommissionSchedule struct {
	MakerRate      float64 `json:"maker_rate" mapstructure:"maker_rate"`
	TakerRate      float64 `json:"taker_rate" mapstructure:"taker_rate"`
	FundingEnabled bool    `json:"funding_enabled" mapstructure:"funding_enabled"`
}

// Commission computes the fee for a fill of the given notional at either
// the maker or taker rate.
func (c CommissionSchedule) Commission(notional float64, maker bool) float64 {
	if maker {
		return notional * c.MakerRate
	}
	return notional * c.TakerRate
}

// ————————————————————————————————————————————————————————————————————————
// Historical OHLC series
// ————————————————————————————————————————————————————————————————————————

// HistoricalBars is an aligned OHLCV series for one symbol, plus a
// possibly-differently-sized funding-rate time series.
type HistoricalBars struct {
	Symbol            string      `json:"symbol"`
	Datetime          []time.Time `json:"datetime"`
	Open              []float64   `json:"open"`
	High              []float64   `json:"high"`
	Low               []float64   `json:"low"`
	Close             []float64   `json:"close"`
	Volume            []float64   `json:"volume"`
	FundingRates      []float64   `json:"funding_rates"`
	FundingTimestamps []time.Time `json:"funding_timestamps"`
}

// Len returns the number of bars.
func (h *HistoricalBars) Len() int { return len(h.Datetime) }

// Validate checks the OHLC and monotonicity invariants of §3: low <= {open,
// close} <= high, volume >= 0, strictly increasing datetimes, and aligned
// array lengths.
func (h *HistoricalBars) Validate() error {
	n := len(h.Datetime)
	if len(h.Open) != n || len(h.High) != n || len(h.Low) != n || len(h.Close) != n || len(h.Volume) != n {
		return WrapKind(KindDataConversion, "bar field length mismatch", nil)
	}
	if len(h.FundingRates) != len(h.FundingTimestamps) {
		return WrapKind(KindDataConversion, "funding rate/timestamp length mismatch", nil)
	}
	for i := 0; i < n; i++ {
		lo, hi := h.Low[i], h.High[i]
		if lo > h.Open[i] || lo > h.Close[i] || h.Open[i] > hi || h.Close[i] > hi {
			return WrapKind(KindDataConversion, "bar violates low <= open,close <= high", nil)
		}
		if h.Volume[i] < 0 {
			return WrapKind(KindDataConversion, "bar volume must be >= 0", nil)
		}
		if i > 0 && !h.Datetime[i].After(h.Datetime[i-1]) {
			return WrapKind(KindDataConversion, "bars must be strictly monotone in datetime", nil)
		}
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Monitoring domain types
// ————————————————————————————————————————————————————————————————————————

// Alert is a monitoring notification; Critical alerts participate in the
// live engine's safety circuit breaker alert-rate count.
type Alert struct {
	Level     AlertLevel `json:"level"`
	Message   string     `json:"message"`
	Component string     `json:"component"`
	Timestamp time.Time  `json:"timestamp"`
}

// ConnectionStatus is surfaced by a real-time stream on connect/disconnect.
type ConnectionStatus struct {
	Connected bool      `json:"connected"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
