package exchange

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/model"
)

// book holds the resting limit orders of one symbol. Each side is kept
// sorted by price priority (highest bid, lowest ask) and then by submission
// sequence. Partial fills never move an order.
type book struct {
	bids []*model.Order
	asks []*model.Order
}

func (b *book) side(s model.Side) []*model.Order {
	if s == model.Buy {
		return b.bids
	}
	return b.asks
}

func (b *book) insert(o *model.Order) {
	if o.Side == model.Buy {
		// After every bid at the same or better price.
		i := sort.Search(len(b.bids), func(i int) bool { return b.bids[i].Price.LessThan(o.Price) })
		b.bids = insertAt(b.bids, i, o)
		return
	}
	i := sort.Search(len(b.asks), func(i int) bool { return b.asks[i].Price.GreaterThan(o.Price) })
	b.asks = insertAt(b.asks, i, o)
}

func (b *book) remove(o *model.Order) bool {
	if o.Side == model.Buy {
		var ok bool
		b.bids, ok = removeID(b.bids, o.ID)
		return ok
	}
	var ok bool
	b.asks, ok = removeID(b.asks, o.ID)
	return ok
}

func (b *book) len() int { return len(b.bids) + len(b.asks) }

func insertAt(q []*model.Order, i int, o *model.Order) []*model.Order {
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = o
	return q
}

func removeID(q []*model.Order, id string) ([]*model.Order, bool) {
	for i, o := range q {
		if o.ID == id {
			return append(q[:i], q[i+1:]...), true
		}
	}
	return q, false
}

// crosses reports whether a resting order is marketable at price.
func crosses(o *model.Order, price decimal.Decimal) bool {
	if o.Side == model.Buy {
		return o.Price.GreaterThanOrEqual(price)
	}
	return o.Price.LessThanOrEqual(price)
}
