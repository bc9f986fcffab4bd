package strategy

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/model"
	"github.com/quantsim/sim-exchange/internal/sim"
)

// BuyAndHold buys each symbol once, on its first event, and never sells.
type BuyAndHold struct {
	sizer  Sizer
	bought map[string]bool
}

// NewBuyAndHold creates a buy-and-hold strategy.
func NewBuyAndHold(sizer Sizer) *BuyAndHold {
	return &BuyAndHold{sizer: sizer, bought: make(map[string]bool)}
}

// Decide implements sim.Strategy.
func (s *BuyAndHold) Decide(_ context.Context, h sim.Handle, _ time.Time, data map[string]model.MarketEvent) ([]model.Signal, error) {
	var pending []string
	for _, sym := range sortedSymbols(data) {
		if !s.bought[sym] {
			pending = append(pending, sym)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	cash := h.AccountInfo().AvailableCash.Div(decimalFromInt(int64(len(pending))))
	var signals []model.Signal
	for _, sym := range pending {
		if vol := s.sizer.Volume(cash, data[sym].Price); vol > 0 {
			s.bought[sym] = true
			signals = append(signals, marketOrder(sym, model.Buy, vol))
		}
	}
	return signals, nil
}

func decimalFromInt(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
