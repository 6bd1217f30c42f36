// Package venue implements the REST client for submitting and cancelling
// orders against a live perp venue: rate-limited, authenticated, and
// retried the same way the teacher's exchange.Client talks to the
// Polymarket CLOB. Satisfies internal/live.OrderClient.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/xsa-dev/perp-trading-engine/internal/config"
	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

// orderPayload is the wire shape a venue's order-submission endpoint
// expects. Dropped the teacher's on-chain maker/taker-amount encoding
// (tick-size-quantized big.Int amounts, proxy/funder wallet split) since
// this spec trades against a perp venue's matching engine rather than a
// CLOB settling YES/NO conditional tokens on-chain.
type orderPayload struct {
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	Quantity      float64 `json:"quantity"`
	Price         float64 `json:"price,omitempty"`
	StopPrice     float64 `json:"stop_price,omitempty"`
	ReduceOnly    bool    `json:"reduce_only"`
	TimeInForce   string  `json:"time_in_force,omitempty"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	OrderID        string  `json:"order_id"`
	Status         string  `json:"status"`
	FilledQuantity float64 `json:"filled_quantity"`
	AveragePrice   float64 `json:"average_price"`
	Fees           float64 `json:"fees"`
}

// openOrderPayload is one entry of the open-orders list endpoint: the same
// fields as orderResponse plus the order's own symbol/side/type/quantity,
// which a single-order submission response doesn't need to repeat back.
type openOrderPayload struct {
	orderResponse
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Type     string  `json:"type"`
	Quantity float64 `json:"quantity"`
}

// positionPayload is one entry of the account positions endpoint.
type positionPayload struct {
	Symbol           string  `json:"symbol"`
	Size             float64 `json:"size"`
	EntryPrice       float64 `json:"entry_price"`
	CurrentPrice     float64 `json:"current_price"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	RealizedPnL      float64 `json:"realized_pnl"`
	FundingPnL       float64 `json:"funding_pnl"`
	Leverage         float64 `json:"leverage"`
	LiquidationPrice float64 `json:"liquidation_price"`
	Margin           float64 `json:"margin"`
}

// Client is the venue's REST order API client.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient builds a rate-limited, authenticated, retrying venue client.
func NewClient(cfg config.ApiConfig, auth *Auth, dryRun bool, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		if cfg.TimeoutMs > 0 {
			timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
		} else {
			timeout = 10 * time.Second
		}
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: dryRun,
		logger: logger.With("component", "venue-client"),
	}
}

// DeriveAPIKey bootstraps L2 API credentials via L1 wallet authentication.
func (c *Client) DeriveAPIKey(ctx context.Context) (*Credentials, error) {
	headers, err := c.auth.L1Headers(0)
	if err != nil {
		return nil, fmt.Errorf("l1 headers: %w", err)
	}

	var result Credentials
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&result).
		Get("/auth/derive-api-key")
	if err != nil {
		return nil, fmt.Errorf("derive api key: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("derive api key: status %d: %s", resp.StatusCode(), resp.String())
	}

	c.auth.SetCredentials(result)
	return &result, nil
}

// SubmitOrder places a single order and maps the venue's response into a
// types.OrderResult, satisfying internal/live.OrderClient.
func (c *Client) SubmitOrder(ctx context.Context, order types.OrderRequest) (types.OrderResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would submit order", "symbol", order.Symbol, "side", order.Side, "qty", order.Quantity)
		return types.OrderResult{
			OrderID:        fmt.Sprintf("dry-run-%d", time.Now().UnixNano()),
			Symbol:         order.Symbol,
			Side:           order.Side,
			Type:           order.Type,
			Quantity:       order.Quantity,
			FilledQuantity: order.Quantity,
			Status:         types.StatusFilled,
			Timestamp:      time.Now(),
		}, nil
	}

	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.OrderResult{}, err
	}

	payload := orderPayload{
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Type:          string(order.Type),
		Quantity:      order.Quantity,
		ReduceOnly:    order.ReduceOnly,
		TimeInForce:   order.TimeInForce,
		ClientOrderID: order.ClientOrderID,
	}
	if order.Price != nil {
		payload.Price = *order.Price
	}
	if order.StopPrice != nil {
		payload.StopPrice = *order.StopPrice
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers("POST", "/orders", string(body))
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("l2 headers: %w", err)
	}

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return types.OrderResult{}, types.WrapKind(types.KindNetworkTransient, "submit order", err)
	}
	if resp.StatusCode() >= 500 {
		return types.OrderResult{}, types.WrapKind(types.KindNetworkTransient, fmt.Sprintf("submit order: status %d", resp.StatusCode()), nil)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return types.OrderResult{}, types.WrapKind(types.KindRateLimited, "submit order: rate limited", nil)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.OrderResult{}, types.WrapKind(types.KindVenuePermanent, fmt.Sprintf("submit order: status %d: %s", resp.StatusCode(), resp.String()), nil)
	}

	return orderResponseToResult(order.Symbol, order.Side, order.Type, order.Quantity, result), nil
}

// orderResponseToResult maps the venue's wire response onto types.OrderResult,
// shared by SubmitOrder and OpenOrders.
func orderResponseToResult(symbol string, side types.Side, typ types.OrderType, quantity float64, result orderResponse) types.OrderResult {
	res := types.OrderResult{
		OrderID:        result.OrderID,
		Symbol:         symbol,
		Side:           side,
		Type:           typ,
		Quantity:       quantity,
		FilledQuantity: result.FilledQuantity,
		Status:         statusFromString(result.Status),
		Fees:           result.Fees,
		Timestamp:      time.Now(),
	}
	if result.AveragePrice != 0 {
		avg := result.AveragePrice
		res.AveragePrice = &avg
	}
	return res
}

// CancelAllOrders cancels every open order for symbol (all symbols if
// empty), used by the live engine's emergency-stop path.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel all orders", "symbol", symbol)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	body := fmt.Sprintf(`{"symbol":%q}`, symbol)
	headers, err := c.auth.L2Headers("DELETE", "/cancel-all", body)
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		Delete("/cancel-all")
	if err != nil {
		return types.WrapKind(types.KindNetworkTransient, "cancel all orders", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.WrapKind(types.KindVenuePermanent, fmt.Sprintf("cancel all orders: status %d: %s", resp.StatusCode(), resp.String()), nil)
	}
	return nil
}

// Cancel cancels a single open order by ID, satisfying internal/live.
// OrderClient's per-order cancellation contract (spec.md §4.9).
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	headers, err := c.auth.L2Headers("DELETE", "/orders/"+orderID, "")
	if err != nil {
		return fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete("/orders/" + orderID)
	if err != nil {
		return types.WrapKind(types.KindNetworkTransient, "cancel order", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.WrapKind(types.KindVenuePermanent, fmt.Sprintf("cancel order: status %d: %s", resp.StatusCode(), resp.String()), nil)
	}
	return nil
}

// OpenOrders lists the venue's currently-open orders for symbol, used by
// the live engine to reconcile in-flight order state after a reconnect
// (spec.md §4.6): any locally-tracked order absent from this list and not
// previously reported filled is stale and should be marked Expired.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]types.OrderResult, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("GET", "/orders", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var payloads []openOrderPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{"symbol": symbol, "status": "open"}).
		SetResult(&payloads).
		Get("/orders")
	if err != nil {
		return nil, types.WrapKind(types.KindNetworkTransient, "fetch open orders", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, types.WrapKind(types.KindVenuePermanent, fmt.Sprintf("fetch open orders: status %d: %s", resp.StatusCode(), resp.String()), nil)
	}

	results := make([]types.OrderResult, len(payloads))
	for i, p := range payloads {
		results[i] = orderResponseToResult(p.Symbol, types.Side(p.Side), types.OrderType(p.Type), p.Quantity, p.orderResponse)
	}
	return results, nil
}

// Positions lists every open position on the account, used by the live
// engine to reconcile its locally-tracked position against the venue's
// view after a reconnect.
func (c *Client) Positions(ctx context.Context) ([]types.Position, error) {
	if err := c.rl.Query.Wait(ctx); err != nil {
		return nil, err
	}

	headers, err := c.auth.L2Headers("GET", "/positions", "")
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var payloads []positionPayload
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&payloads).
		Get("/positions")
	if err != nil {
		return nil, types.WrapKind(types.KindNetworkTransient, "fetch positions", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, types.WrapKind(types.KindVenuePermanent, fmt.Sprintf("fetch positions: status %d: %s", resp.StatusCode(), resp.String()), nil)
	}

	positions := make([]types.Position, len(payloads))
	for i, p := range payloads {
		positions[i] = types.Position{
			Symbol:           p.Symbol,
			Size:             p.Size,
			EntryPrice:       p.EntryPrice,
			CurrentPrice:     p.CurrentPrice,
			UnrealizedPnL:    p.UnrealizedPnL,
			RealizedPnL:      p.RealizedPnL,
			FundingPnL:       p.FundingPnL,
			Leverage:         p.Leverage,
			LiquidationPrice: p.LiquidationPrice,
			Margin:           p.Margin,
		}
	}
	return positions, nil
}

func statusFromString(s string) types.OrderStatus {
	switch s {
	case "filled":
		return types.StatusFilled
	case "partially_filled":
		return types.StatusPartiallyFilled
	case "cancelled", "canceled":
		return types.StatusCancelled
	case "rejected":
		return types.StatusRejected
	case "expired":
		return types.StatusExpired
	case "submitted", "live", "open":
		return types.StatusSubmitted
	default:
		return types.StatusCreated
	}
}
