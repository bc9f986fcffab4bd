package sim

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/model"
)

// Strategy turns one market event into zero or more order intents. It is
// called synchronously from the controller loop and must not retain h
// beyond the call.
type Strategy interface {
	Decide(ctx context.Context, h Handle, ts time.Time, data map[string]model.MarketEvent) ([]model.Signal, error)
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(ctx context.Context, h Handle, ts time.Time, data map[string]model.MarketEvent) ([]model.Signal, error)

// Decide calls f.
func (f StrategyFunc) Decide(ctx context.Context, h Handle, ts time.Time, data map[string]model.MarketEvent) ([]model.Signal, error) {
	return f(ctx, h, ts, data)
}

// Handle is what a strategy may see and do. Orders submitted through the
// handle go through the same acceptance pipeline as returned signals.
type Handle interface {
	AccountInfo() AccountInfo
	Positions() []model.Position
	PendingOrders() []model.Order
	TradeHistory() []model.Trade
	SubmitOrder(ctx context.Context, sig model.Signal) (model.Order, error)
	CancelOrder(ctx context.Context, orderID string) (model.Order, error)
}

// AccountInfo summarizes the ledger at the latest mark.
type AccountInfo struct {
	model.Account
	MarketValue   decimal.Decimal `json:"market_value"`
	TotalAssets   decimal.Decimal `json:"total_assets"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalReturn   decimal.Decimal `json:"total_return"` // fraction of initial capital
	PositionCount int             `json:"position_count"`
}

// BarSource supplies historical bars for backtests.
type BarSource interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) ([]model.Bar, error)
}

// QuoteSource supplies live quotes for realtime runs.
type QuoteSource interface {
	Quotes(ctx context.Context, symbols []string) ([]model.Quote, error)
}

// SnapshotSink persists ledger snapshots.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap model.Snapshot) error
}
