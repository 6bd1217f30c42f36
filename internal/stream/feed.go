// Package stream implements the real-time market-data WebSocket feed.
// Adapted from the teacher's exchange.WSFeed (internal/exchange/ws.go):
// same ping/pong keepalive and read-deadline-triggers-reconnect shape,
// generalized from the teacher's book/price_change/trade/order multiplex
// to a single MarketData tick stream, and restructured so one Subscribe
// call owns one connection's lifetime rather than WSFeed's internal
// Run-loop backoff — internal/live.Engine already owns the
// reconnect/backoff policy (C7), so this package just reports "the
// connection ended" by closing the returned channel.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xsa-dev/perp-trading-engine/pkg/types"
)

const (
	pingInterval   = 50 * time.Second
	readTimeout    = 90 * time.Second
	writeTimeout   = 10 * time.Second
	dataBufferSize = 256
)

// tickMessage is the wire shape of one venue market-data tick.
type tickMessage struct {
	EventType       string     `json:"event_type"`
	Symbol          string     `json:"symbol"`
	Bid             float64    `json:"bid"`
	Ask             float64    `json:"ask"`
	Last            float64    `json:"last"`
	Volume          float64    `json:"volume"`
	FundingRate     *float64   `json:"funding_rate,omitempty"`
	NextFundingTime *time.Time `json:"next_funding_time,omitempty"`
	OpenInterest    *float64   `json:"open_interest,omitempty"`
}

type subscribeMessage struct {
	Operation string   `json:"operation"`
	Symbols   []string `json:"symbols"`
}

// Feed is the real-time market-data WebSocket client. Satisfies
// internal/live.MarketDataSubscriber.
type Feed struct {
	url    string
	logger *slog.Logger
}

// NewFeed builds a market-data feed against the given WebSocket URL.
func NewFeed(wsURL string, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{url: wsURL, logger: logger.With("component", "stream-feed")}
}

// Subscribe dials a fresh connection, subscribes to symbols, and returns
// a channel of MarketData ticks. The channel closes when the connection
// ends (error, server close, or ctx cancellation) — the caller
// (internal/live.Engine) is responsible for reconnecting.
func (f *Feed) Subscribe(ctx context.Context, symbols []string) (<-chan types.MarketData, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, types.WrapKind(types.KindNetworkTransient, "dial stream", err)
	}

	if err := f.writeJSON(conn, subscribeMessage{Operation: "subscribe", Symbols: symbols}); err != nil {
		conn.Close()
		return nil, types.WrapKind(types.KindNetworkTransient, "subscribe", err)
	}

	out := make(chan types.MarketData, dataBufferSize)

	pingCtx, pingCancel := context.WithCancel(ctx)
	go f.pingLoop(pingCtx, conn)

	go func() {
		defer close(out)
		defer pingCancel()
		defer conn.Close()
		f.readLoop(ctx, conn, out)
	}()

	return out, nil
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- types.MarketData) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			f.logger.Warn("stream read failed", "error", err)
			return
		}

		data, ok := f.parseTick(msg)
		if !ok {
			continue
		}

		select {
		case out <- data:
		case <-ctx.Done():
			return
		default:
			f.logger.Warn("market data channel full, dropping tick", "symbol", data.Symbol)
		}
	}
}

func (f *Feed) parseTick(raw []byte) (types.MarketData, bool) {
	var msg tickMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		f.logger.Debug("ignoring non-json stream message", "data", string(raw))
		return types.MarketData{}, false
	}
	if msg.EventType != "" && msg.EventType != "tick" && msg.EventType != "ticker" {
		return types.MarketData{}, false
	}
	if msg.Symbol == "" {
		return types.MarketData{}, false
	}

	mid := msg.Last
	if msg.Bid > 0 && msg.Ask > 0 {
		mid = (msg.Bid + msg.Ask) / 2
	}

	return types.MarketData{
		Symbol:          msg.Symbol,
		Timestamp:       time.Now(),
		Mid:             mid,
		Last:            msg.Last,
		Bid:             msg.Bid,
		Ask:             msg.Ask,
		Volume:          msg.Volume,
		FundingRate:     msg.FundingRate,
		NextFundingTime: msg.NextFundingTime,
		OpenInterest:    msg.OpenInterest,
	}, true
}

func (f *Feed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

func (f *Feed) writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
