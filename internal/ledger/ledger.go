// Package ledger is the authoritative cash and position book for one
// account. Every mutation is applied to a private copy, validated, then
// published atomically, so readers never block and never see a torn state.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a reservation or fill needs more
	// cash than is available.
	ErrInsufficientFunds = errors.New("ledger: insufficient available cash")

	// ErrInsufficientPosition is returned when a sell needs more volume than
	// is available to sell.
	ErrInsufficientPosition = errors.New("ledger: insufficient available volume")

	// ErrInvariant marks a logic defect: the requested change would break a
	// ledger invariant. Callers must treat it as fatal.
	ErrInvariant = errors.New("ledger: invariant violated")

	// ErrCorruptState is returned when a snapshot fails validation on restore.
	ErrCorruptState = errors.New("ledger: corrupt snapshot")
)

// Options tune settlement rules.
type Options struct {
	// TPlusOne keeps shares bought today unavailable to sell until the next
	// trading day.
	TPlusOne bool
	// LotSize is the board lot every position volume must be a multiple of.
	LotSize int64
}

// DefaultOptions is T+1 with a 100-share lot.
func DefaultOptions() Options {
	return Options{TPlusOne: true, LotSize: 100}
}

// Fill is one execution to settle.
type Fill struct {
	Symbol string
	Side   model.Side
	Volume int64
	Price  decimal.Decimal
	Fees   decimal.Decimal
	// Reserved is the frozen cash released by this fill (buys only). Any gap
	// between it and the actual cost is settled against available cash.
	Reserved decimal.Decimal
	// Mark is the prevailing market price, used as the position's last price.
	// Zero means use the fill price.
	Mark decimal.Decimal
	At   time.Time
}

// Settlement reports the effect of a fill.
type Settlement struct {
	Position    model.Position  // state after the fill; zero volume when closed
	Closed      bool            // position removed
	RealizedPnL decimal.Decimal // sells only
	CashDelta   decimal.Decimal // change in total cash
}

// Ledger owns one account and its positions. Writers are serialized; reads
// go through View.
type Ledger struct {
	mu   sync.Mutex
	cur  atomic.Pointer[View]
	opts Options
}

// OpenAccount builds a fresh account with all capital available.
func OpenAccount(id string, capital decimal.Decimal, strategyType string, at time.Time) model.Account {
	return model.Account{
		ID:             id,
		TotalCash:      capital,
		AvailableCash:  capital,
		FrozenCash:     decimal.Zero,
		RealizedPnL:    decimal.Zero,
		InitialCapital: capital,
		StrategyType:   strategyType,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

// New creates a ledger for acct with no positions.
func New(acct model.Account, opts Options) (*Ledger, error) {
	if opts.LotSize <= 0 {
		opts.LotSize = 100
	}
	v := &View{Account: acct, positions: map[string]model.Position{}}
	if err := v.validate(opts.LotSize); err != nil {
		return nil, err
	}
	l := &Ledger{opts: opts}
	l.cur.Store(v)
	return l, nil
}

// Restore rebuilds a ledger from a snapshot, rejecting it if any invariant
// does not hold.
func Restore(snap model.Snapshot, opts Options) (*Ledger, error) {
	if opts.LotSize <= 0 {
		opts.LotSize = 100
	}
	if snap.Account.ID != snap.AccountID {
		return nil, fmt.Errorf("%w: snapshot for %s holds account %s", ErrCorruptState, snap.AccountID, snap.Account.ID)
	}
	v := &View{
		Account:   snap.Account,
		positions: make(map[string]model.Position, len(snap.Positions)),
		Day:       calendar.StartOfDay(snap.Timestamp),
	}
	for _, p := range snap.Positions {
		if _, dup := v.positions[p.Symbol]; dup {
			return nil, fmt.Errorf("%w: duplicate position %s", ErrCorruptState, p.Symbol)
		}
		v.positions[p.Symbol] = p
	}
	if err := v.validate(opts.LotSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	l := &Ledger{opts: opts}
	l.cur.Store(v)
	return l, nil
}

// View returns the current immutable state.
func (l *Ledger) View() *View { return l.cur.Load() }

// Options returns the settlement rules in force.
func (l *Ledger) Options() Options { return l.opts }

// Snapshot copies the current state.
func (l *Ledger) Snapshot(seq int64, at time.Time) model.Snapshot {
	v := l.View()
	return model.Snapshot{
		AccountID: v.Account.ID,
		Seq:       seq,
		Timestamp: at,
		Account:   v.Account,
		Positions: v.Positions(),
	}
}

// Reserve moves amount from available to frozen cash.
func (l *Ledger) Reserve(amount decimal.Decimal, at time.Time) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative reservation %s", ErrInvariant, amount)
	}
	return l.update(at, func(v *View) error {
		if amount.GreaterThan(v.Account.AvailableCash) {
			return fmt.Errorf("%w: need %s, available %s", ErrInsufficientFunds, amount, v.Account.AvailableCash)
		}
		v.Account.AvailableCash = v.Account.AvailableCash.Sub(amount)
		v.Account.FrozenCash = v.Account.FrozenCash.Add(amount)
		return nil
	})
}

// Release returns a reservation to available cash.
func (l *Ledger) Release(amount decimal.Decimal, at time.Time) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative release %s", ErrInvariant, amount)
	}
	return l.update(at, func(v *View) error {
		if amount.GreaterThan(v.Account.FrozenCash) {
			return fmt.Errorf("%w: release %s exceeds frozen %s", ErrInvariant, amount, v.Account.FrozenCash)
		}
		v.Account.FrozenCash = v.Account.FrozenCash.Sub(amount)
		v.Account.AvailableCash = v.Account.AvailableCash.Add(amount)
		return nil
	})
}

// FreezePosition holds volume of symbol for an open sell order.
func (l *Ledger) FreezePosition(symbol string, volume int64, at time.Time) error {
	return l.update(at, func(v *View) error {
		p, ok := v.positions[symbol]
		if !ok || p.AvailableVolume < volume {
			return fmt.Errorf("%w: %s need %d, available %d", ErrInsufficientPosition, symbol, volume, p.AvailableVolume)
		}
		p.AvailableVolume -= volume
		p.FrozenVolume += volume
		v.positions[symbol] = p
		return nil
	})
}

// UnfreezePosition releases volume held by a cancelled sell order.
func (l *Ledger) UnfreezePosition(symbol string, volume int64, at time.Time) error {
	return l.update(at, func(v *View) error {
		p, ok := v.positions[symbol]
		if !ok || p.FrozenVolume < volume {
			return fmt.Errorf("%w: unfreeze %d of %s exceeds frozen %d", ErrInvariant, volume, symbol, p.FrozenVolume)
		}
		p.FrozenVolume -= volume
		p.AvailableVolume += volume
		v.positions[symbol] = p
		return nil
	})
}

// ReleaseAll returns every reservation and frozen volume to available. It
// is for a ledger restored without the open orders that held them.
func (l *Ledger) ReleaseAll(at time.Time) (cash decimal.Decimal, volume int64, err error) {
	err = l.update(at, func(v *View) error {
		cash = v.Account.FrozenCash
		volume = 0
		v.Account.AvailableCash = v.Account.TotalCash
		v.Account.FrozenCash = decimal.Zero
		for sym, p := range v.positions {
			volume += p.FrozenVolume
			p.AvailableVolume += p.FrozenVolume
			p.FrozenVolume = 0
			v.positions[sym] = p
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, 0, err
	}
	return cash, volume, nil
}

// SettleFill applies one execution. Buys release f.Reserved from frozen
// cash and pay notional plus fees; the position's average cost is the
// volume-weighted fill price, fees excluded. Sells must already be frozen
// and realize (price - avg_cost) * volume - fees.
func (l *Ledger) SettleFill(f Fill) (Settlement, error) {
	if f.Volume <= 0 {
		return Settlement{}, fmt.Errorf("%w: fill volume %d", ErrInvariant, f.Volume)
	}
	var out Settlement
	err := l.update(f.At, func(v *View) error {
		vol := decimal.NewFromInt(f.Volume)
		notional := f.Price.Mul(vol)
		mark := f.Mark
		if mark.IsZero() {
			mark = f.Price
		}

		switch f.Side {
		case model.Buy:
			if f.Reserved.GreaterThan(v.Account.FrozenCash) {
				return fmt.Errorf("%w: fill releases %s, frozen %s", ErrInvariant, f.Reserved, v.Account.FrozenCash)
			}
			cost := notional.Add(f.Fees)
			available := v.Account.AvailableCash.Add(f.Reserved).Sub(cost)
			if available.IsNegative() {
				return fmt.Errorf("%w: fill costs %s, reserved %s plus available %s",
					ErrInsufficientFunds, cost, f.Reserved, v.Account.AvailableCash)
			}
			v.Account.FrozenCash = v.Account.FrozenCash.Sub(f.Reserved)
			v.Account.AvailableCash = available
			v.Account.TotalCash = v.Account.TotalCash.Sub(cost)

			p, ok := v.positions[f.Symbol]
			if !ok {
				p = model.Position{Symbol: f.Symbol, AvgCost: decimal.Zero}
			}
			held := decimal.NewFromInt(p.Volume)
			p.AvgCost = p.AvgCost.Mul(held).Add(notional).Div(held.Add(vol)).Round(6)
			p.Volume += f.Volume
			if !l.opts.TPlusOne {
				p.AvailableVolume += f.Volume
			}
			p.LastPrice = mark
			p.BuyDate = f.At
			v.positions[f.Symbol] = p

			out.Position = p
			out.CashDelta = cost.Neg()

		case model.Sell:
			p, ok := v.positions[f.Symbol]
			if !ok || p.FrozenVolume < f.Volume {
				return fmt.Errorf("%w: sell fill %d of %s exceeds frozen %d", ErrInvariant, f.Volume, f.Symbol, p.FrozenVolume)
			}
			proceeds := notional.Sub(f.Fees)
			realized := f.Price.Sub(p.AvgCost).Mul(vol).Sub(f.Fees)

			v.Account.TotalCash = v.Account.TotalCash.Add(proceeds)
			v.Account.AvailableCash = v.Account.AvailableCash.Add(proceeds)
			v.Account.RealizedPnL = v.Account.RealizedPnL.Add(realized)

			p.Volume -= f.Volume
			p.FrozenVolume -= f.Volume
			p.LastPrice = mark
			if p.Volume == 0 {
				delete(v.positions, f.Symbol)
				out.Closed = true
			} else {
				v.positions[f.Symbol] = p
			}

			out.Position = p
			out.RealizedPnL = realized
			out.CashDelta = proceeds

		default:
			return fmt.Errorf("%w: unknown side %q", ErrInvariant, f.Side)
		}
		return nil
	})
	if err != nil {
		return Settlement{}, err
	}
	return out, nil
}

// Mark updates last prices of held symbols. Symbols without a position are
// ignored.
func (l *Ledger) Mark(prices map[string]decimal.Decimal, at time.Time) error {
	return l.update(at, func(v *View) error {
		for sym, price := range prices {
			if p, ok := v.positions[sym]; ok {
				p.LastPrice = price
				v.positions[sym] = p
			}
		}
		return nil
	})
}

// RollDay advances the ledger to the date of day. When the date changes,
// all held volume not frozen by open sells becomes available. It reports
// whether a roll happened.
func (l *Ledger) RollDay(day time.Time) (bool, error) {
	if cur := l.View(); !cur.Day.IsZero() && !calendar.StartOfDay(day).After(cur.Day) {
		return false, nil
	}
	rolled := false
	err := l.update(time.Time{}, func(v *View) error {
		start := calendar.StartOfDay(day)
		if !v.Day.IsZero() && !start.After(v.Day) {
			return nil
		}
		v.Day = start
		for sym, p := range v.positions {
			p.AvailableVolume = p.Volume - p.FrozenVolume
			v.positions[sym] = p
		}
		rolled = true
		return nil
	})
	return rolled, err
}

// update applies fn to a copy of the current view and publishes it if it
// still satisfies every invariant. A zero at leaves UpdatedAt untouched.
func (l *Ledger) update(at time.Time, fn func(v *View) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.cur.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	if err := next.validate(l.opts.LotSize); err != nil {
		return err
	}
	if !at.IsZero() {
		next.Account.UpdatedAt = at
	}
	l.cur.Store(next)
	return nil
}

// View is an immutable ledger state. Do not modify values obtained from it.
type View struct {
	Account   model.Account
	Day       time.Time // exchange-local date of the last roll
	positions map[string]model.Position
}

// Position returns the holding of symbol.
func (v *View) Position(symbol string) (model.Position, bool) {
	p, ok := v.positions[symbol]
	return p, ok
}

// Positions returns all holdings sorted by symbol.
func (v *View) Positions() []model.Position {
	out := make([]model.Position, 0, len(v.positions))
	for _, p := range v.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// MarketValue is the marked value of all positions.
func (v *View) MarketValue() decimal.Decimal {
	total := decimal.Zero
	for _, p := range v.positions {
		total = total.Add(p.MarketValue())
	}
	return total
}

// TotalAssets is total cash plus marked position value.
func (v *View) TotalAssets() decimal.Decimal {
	return v.Account.TotalCash.Add(v.MarketValue())
}

func (v *View) clone() *View {
	next := &View{
		Account:   v.Account,
		Day:       v.Day,
		positions: make(map[string]model.Position, len(v.positions)),
	}
	for k, p := range v.positions {
		next.positions[k] = p
	}
	return next
}

func (v *View) validate(lot int64) error {
	a := v.Account
	if a.AvailableCash.IsNegative() {
		return fmt.Errorf("%w: available cash %s < 0", ErrInvariant, a.AvailableCash)
	}
	if a.FrozenCash.IsNegative() {
		return fmt.Errorf("%w: frozen cash %s < 0", ErrInvariant, a.FrozenCash)
	}
	if !a.AvailableCash.Add(a.FrozenCash).Equal(a.TotalCash) {
		return fmt.Errorf("%w: available %s + frozen %s != total %s",
			ErrInvariant, a.AvailableCash, a.FrozenCash, a.TotalCash)
	}
	for sym, p := range v.positions {
		switch {
		case p.Symbol != sym:
			return fmt.Errorf("%w: position keyed %s holds %s", ErrInvariant, sym, p.Symbol)
		case p.Volume <= 0:
			return fmt.Errorf("%w: %s volume %d", ErrInvariant, sym, p.Volume)
		case p.Volume%lot != 0:
			return fmt.Errorf("%w: %s volume %d not a multiple of %d", ErrInvariant, sym, p.Volume, lot)
		case p.AvailableVolume < 0 || p.FrozenVolume < 0:
			return fmt.Errorf("%w: %s available %d frozen %d", ErrInvariant, sym, p.AvailableVolume, p.FrozenVolume)
		case p.AvailableVolume+p.FrozenVolume > p.Volume:
			return fmt.Errorf("%w: %s available %d + frozen %d > volume %d",
				ErrInvariant, sym, p.AvailableVolume, p.FrozenVolume, p.Volume)
		}
	}
	return nil
}
