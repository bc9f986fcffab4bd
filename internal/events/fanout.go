package events

import (
	"context"

	"github.com/quantsim/sim-exchange/internal/exchange"
	"github.com/quantsim/sim-exchange/internal/model"
)

// Fanout forwards every update to each listener in order.
type Fanout []exchange.Listener

// OrderUpdated implements exchange.Listener.
func (f Fanout) OrderUpdated(ctx context.Context, o model.Order) {
	for _, l := range f {
		l.OrderUpdated(ctx, o)
	}
}

// TradeExecuted implements exchange.Listener.
func (f Fanout) TradeExecuted(ctx context.Context, t model.Trade) {
	for _, l := range f {
		l.TradeExecuted(ctx, t)
	}
}
