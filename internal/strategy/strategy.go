// Package strategy defines the capability-set interface every backtest,
// paper, and live engine drives (spec.md §4.8), plus the built-in
// strategies that ship with the engine.
package strategy

import "github.com/xsa-dev/perp-trading-engine/pkg/types"

// Strategy is polymorphic over the capability set an engine presents:
// observe market data, submit order requests, receive fills, receive
// funding payments. The same Strategy value runs unmodified under any of
// the three engines. Implementations must not block on I/O inside any of
// these callbacks — background work belongs outside the engine loop.
type Strategy interface {
	// OnMarketData is called once per MarketData event (once per bar, in
	// the backtest engine's thin adapter) and returns zero or more order
	// requests to submit.
	OnMarketData(data types.MarketData) []types.OrderRequest

	// OnOrderFill is called once per OrderResult, terminal or not.
	OnOrderFill(result types.OrderResult)

	// OnFundingPayment is called once per funding settlement applied to a
	// position the strategy is tracking.
	OnFundingPayment(payment types.FundingPayment)

	// CurrentSignals returns the strategy's latest per-symbol signal
	// state, consumed by reporting; may return nil.
	CurrentSignals() map[string]types.Signal

	// Name identifies the strategy in reports and logs.
	Name() string
}

// FuncStrategy adapts a plain callback into a Strategy, for the
// "callback-only" construction spec.md §4.4 describes (`new_from_fn`).
// OnOrderFill/OnFundingPayment are no-ops and CurrentSignals is empty;
// use a full Strategy implementation when those hooks matter.
type FuncStrategy struct {
	FnName string
	Fn     func(data types.MarketData) []types.OrderRequest
}

// NewFromFunc builds a minimal Strategy around a single market-data
// callback.
func NewFromFunc(name string, fn func(data types.MarketData) []types.OrderRequest) *FuncStrategy {
	return &FuncStrategy{FnName: name, Fn: fn}
}

func (f *FuncStrategy) OnMarketData(data types.MarketData) []types.OrderRequest { return f.Fn(data) }
func (f *FuncStrategy) OnOrderFill(types.OrderResult)                          {}
func (f *FuncStrategy) OnFundingPayment(types.FundingPayment)                  {}
func (f *FuncStrategy) CurrentSignals() map[string]types.Signal                { return nil }
func (f *FuncStrategy) Name() string                                           { return f.FnName }
