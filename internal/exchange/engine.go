// Package exchange is the simulated order matching engine.
//
// It validates orders against the trading calendar, board-lot rules, the
// account ledger and the risk manager; fills market orders immediately and
// keeps limit orders in per-symbol price-time queues that are matched on
// every market event. The engine is the single mutator of the ledger: all
// operations are serialized by one mutex and are deterministic given the
// same sequence of events and submissions.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/fees"
	"github.com/quantsim/sim-exchange/internal/ledger"
	"github.com/quantsim/sim-exchange/internal/metrics"
	"github.com/quantsim/sim-exchange/internal/model"
	"github.com/quantsim/sim-exchange/internal/risk"
)

// Config holds the matching rules.
type Config struct {
	Fees         fees.Schedule
	SlippageRate decimal.Decimal // applied against market orders only
	LotSize      int64
	MaxVolume    int64
	// LiquidityPct caps resting-order fills per event at this fraction of the
	// event's traded volume. Zero, or an event without volume, means no cap.
	LiquidityPct decimal.Decimal
	// SpecialTreatment lists symbols trading inside the narrow price band.
	SpecialTreatment []string
}

// DefaultConfig returns the standard A-share rules.
func DefaultConfig() Config {
	return Config{
		Fees:         fees.DefaultSchedule(),
		SlippageRate: decimal.RequireFromString("0.0001"),
		LotSize:      100,
		MaxVolume:    1000000,
		LiquidityPct: decimal.NewFromFloat(0.1),
	}
}

// Journal persists engine output. Failures are logged and counted; they
// never stop matching.
type Journal interface {
	SaveAccount(ctx context.Context, account model.Account) error
	RecordOrder(ctx context.Context, order model.Order) error
	RecordTrade(ctx context.Context, trade model.Trade) error
}

// Listener is notified after every order change and fill.
type Listener interface {
	OrderUpdated(ctx context.Context, order model.Order)
	TradeExecuted(ctx context.Context, trade model.Trade)
}

// Deps are the engine's collaborators. Risk, Journal and Listener are optional.
type Deps struct {
	Calendar *calendar.Calendar
	Ledger   *ledger.Ledger
	Risk     *risk.Manager
	Journal  Journal
	Listener Listener
	Logger   *slog.Logger
}

type quote struct {
	price     decimal.Decimal
	prevClose decimal.Decimal
	// remaining fill capacity for resting orders in the current event, per
	// side; -1 means unlimited.
	liquidity map[model.Side]int64
}

// Engine matches orders for one account.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	cal      *calendar.Calendar
	led      *ledger.Ledger
	risk     *risk.Manager
	journal  Journal
	listener Listener
	log      *slog.Logger

	accountID string
	st        map[string]bool
	symbols   map[string]fees.Symbol

	now     time.Time
	quotes  map[string]*quote
	orders  map[string]*model.Order
	history []*model.Order
	books   map[string]*book
	trades  []model.Trade

	orderSeq int64
	tradeSeq int64
}

// New creates an engine bound to deps.Ledger's account.
func New(cfg Config, deps Deps) *Engine {
	if cfg.LotSize <= 0 {
		cfg.LotSize = 100
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := make(map[string]bool, len(cfg.SpecialTreatment))
	for _, s := range cfg.SpecialTreatment {
		st[s] = true
	}
	return &Engine{
		cfg:       cfg,
		cal:       deps.Calendar,
		led:       deps.Ledger,
		risk:      deps.Risk,
		journal:   deps.Journal,
		listener:  deps.Listener,
		log:       logger,
		accountID: deps.Ledger.View().Account.ID,
		st:        st,
		symbols:   make(map[string]fees.Symbol),
		quotes:    make(map[string]*quote),
		orders:    make(map[string]*model.Order),
		books:     make(map[string]*book),
	}
}

// SetListener replaces the listener. Intended for wiring at startup.
func (e *Engine) SetListener(l Listener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

// Ledger exposes the ledger for read-only queries.
func (e *Engine) Ledger() *ledger.Ledger { return e.led }

// Config returns the matching rules.
func (e *Engine) Config() Config { return e.cfg }

// OnMarket applies one market event per symbol, all at the same instant:
// it rolls the trading day if the date changed, marks positions, and then
// matches resting orders for each symbol. Returned errors wrap ErrFatal.
func (e *Engine) OnMarket(ctx context.Context, events []model.MarketEvent) ([]model.Trade, error) {
	if len(events) == 0 {
		return nil, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ts := events[0].Timestamp
	for _, ev := range events[1:] {
		if ev.Timestamp.After(ts) {
			ts = ev.Timestamp
		}
	}
	if err := e.advance(ts); err != nil {
		return nil, err
	}

	marks := make(map[string]decimal.Decimal, len(events))
	for _, ev := range events {
		q := e.quoteFor(ev.Symbol)
		if ev.PrevClose.IsPositive() {
			q.prevClose = ev.PrevClose
		}
		q.price = ev.Price
		q.liquidity = map[model.Side]int64{
			model.Buy:  e.liquidity(ev.Volume),
			model.Sell: e.liquidity(ev.Volume),
		}
		marks[ev.Symbol] = ev.Price
	}
	if err := e.led.Mark(marks, ts); err != nil {
		return nil, fmt.Errorf("%w: mark: %w", ErrFatal, err)
	}

	var fills []model.Trade
	for _, ev := range events {
		trades, err := e.matchResting(ctx, ev.Symbol)
		fills = append(fills, trades...)
		if err != nil {
			return fills, err
		}
	}
	return fills, nil
}

// Submit validates a signal and, if accepted, reserves funds or freezes
// volume and matches it. A refused order is still recorded with status
// REJECTED and returned together with a *Rejection error.
func (e *Engine) Submit(ctx context.Context, sig model.Signal) (model.Order, error) {
	if !sig.Side.Valid() {
		return model.Order{}, fmt.Errorf("%w: side %q", ErrMalformedOrder, sig.Side)
	}
	if !sig.Type.Valid() {
		return model.Order{}, fmt.Errorf("%w: type %q", ErrMalformedOrder, sig.Type)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sym, err := e.symbol(sig.Symbol)
	if err != nil {
		return model.Order{}, fmt.Errorf("%w: %w", ErrMalformedOrder, err)
	}

	e.orderSeq++
	o := &model.Order{
		ID:          fmt.Sprintf("O%08d", e.orderSeq),
		AccountID:   e.accountID,
		Symbol:      sig.Symbol,
		Side:        sig.Side,
		Type:        sig.Type,
		Volume:      sig.Volume,
		Price:       decimal.Zero,
		Reserved:    decimal.Zero,
		Status:      model.StatusPending,
		Seq:         e.orderSeq,
		SubmittedAt: e.now,
		UpdatedAt:   e.now,
	}
	if sig.Type == model.Limit {
		o.Price = sig.Price
	}
	e.orders[o.ID] = o
	e.history = append(e.history, o)

	execPrice, rej := e.validate(o, sym)
	if rej == nil {
		rej, err = e.accept(o, sym, execPrice)
		if err != nil {
			return *o, err
		}
	}
	if rej != nil {
		return e.reject(ctx, o, rej)
	}

	e.log.Info("order accepted",
		"order_id", o.ID,
		"symbol", o.Symbol,
		"side", o.Side,
		"type", o.Type,
		"volume", o.Volume,
		"price", o.Price.String(),
		"reserved", o.Reserved.String(),
	)
	e.persistOrder(ctx, o)

	if err := e.matchIncoming(ctx, o, execPrice); err != nil {
		return *o, err
	}
	return *o, nil
}

// Cancel withdraws an open order and returns its reservation.
func (e *Engine) Cancel(ctx context.Context, orderID string) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, ok := e.orders[orderID]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if !o.Status.Open() {
		return *o, fmt.Errorf("%w: cannot cancel %s order %s", model.ErrInvalidTransition, o.Status, o.ID)
	}

	if err := e.withdraw(o); err != nil {
		return *o, err
	}
	e.log.Info("order cancelled", "order_id", o.ID, "symbol", o.Symbol, "filled", o.FilledVolume, "volume", o.Volume)
	e.persistOrder(ctx, o)
	return *o, nil
}

// withdraw cancels an open order, returning its reservation or frozen
// volume and taking it off the queue.
func (e *Engine) withdraw(o *model.Order) error {
	switch o.Side {
	case model.Buy:
		if err := e.led.Release(o.Reserved, e.now); err != nil {
			return fmt.Errorf("%w: release %s: %w", ErrFatal, o.ID, err)
		}
		o.Reserved = decimal.Zero
	case model.Sell:
		if err := e.led.UnfreezePosition(o.Symbol, o.Remaining(), e.now); err != nil {
			return fmt.Errorf("%w: unfreeze %s: %w", ErrFatal, o.ID, err)
		}
	}
	if bk := e.books[o.Symbol]; bk != nil {
		bk.remove(o)
	}
	if err := o.Transition(model.StatusCancelled, e.now); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}
	e.updateRestingGauge()
	return nil
}

// Resume continues an account whose ledger was restored from a snapshot.
// Order and trade numbering carries on after the highest sequence in the
// journal. Orders the journal still shows open are recorded as cancelled,
// and the ledger gets back all frozen cash and volume, since no open order
// survives the restart to hold them.
func (e *Engine) Resume(ctx context.Context, orders []model.Order, trades []model.Trade) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.history) > 0 {
		return fmt.Errorf("exchange: resume after %d orders were submitted", len(e.history))
	}
	for _, o := range orders {
		e.orderSeq = max(e.orderSeq, o.Seq)
	}
	for _, t := range trades {
		e.tradeSeq = max(e.tradeSeq, t.Seq)
	}

	at := e.led.View().Account.UpdatedAt
	cash, volume, err := e.led.ReleaseAll(at)
	if err != nil {
		return fmt.Errorf("%w: release on resume: %w", ErrFatal, err)
	}
	for i := range orders {
		o := orders[i]
		if !o.Status.Open() || o.AccountID != e.accountID {
			continue
		}
		o.Reserved = decimal.Zero
		if err := o.Transition(model.StatusCancelled, at); err != nil {
			return fmt.Errorf("%w: %w", ErrFatal, err)
		}
		e.log.Info("stale order cancelled", "order_id", o.ID, "symbol", o.Symbol, "filled", o.FilledVolume, "volume", o.Volume)
		e.persistOrder(ctx, &o)
	}

	e.log.Info("engine resumed",
		"account_id", e.accountID,
		"order_seq", e.orderSeq,
		"trade_seq", e.tradeSeq,
		"released_cash", cash.String(),
		"released_volume", volume,
	)
	return nil
}

// Now is the timestamp of the latest market event.
func (e *Engine) Now() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

// LastPrice returns the latest trade price seen for symbol.
func (e *Engine) LastPrice(symbol string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	q, ok := e.quotes[symbol]
	if !ok || !q.price.IsPositive() {
		return decimal.Zero, false
	}
	return q.price, true
}

// Order returns a copy of one order.
func (e *Engine) Order(id string) (model.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[id]
	if !ok {
		return model.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	return *o, nil
}

// Orders returns every order in submission order.
func (e *Engine) Orders() []model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Order, 0, len(e.history))
	for _, o := range e.history {
		out = append(out, *o)
	}
	return out
}

// PendingOrders returns open orders in submission order.
func (e *Engine) PendingOrders() []model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []model.Order
	for _, o := range e.history {
		if o.Status.Open() {
			out = append(out, *o)
		}
	}
	return out
}

// Trades returns all fills in execution order.
func (e *Engine) Trades() []model.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Trade, len(e.trades))
	copy(out, e.trades)
	return out
}

// --- acceptance ---

// validate runs the acceptance checks in order and returns the price the
// order is expected to execute at.
func (e *Engine) validate(o *model.Order, sym fees.Symbol) (decimal.Decimal, *Rejection) {
	if e.cal != nil && !e.cal.IsTradingTime(e.now) {
		return decimal.Zero, reject(model.RejectNotTradingTime, "market closed at %s", e.now.In(calendar.Location).Format(time.DateTime))
	}

	if o.Volume <= 0 || o.Volume%e.cfg.LotSize != 0 {
		return decimal.Zero, reject(model.RejectInvalidVolume, "volume %d is not a positive multiple of %d", o.Volume, e.cfg.LotSize)
	}
	if e.cfg.MaxVolume > 0 && o.Volume > e.cfg.MaxVolume {
		return decimal.Zero, reject(model.RejectInvalidVolume, "volume %d exceeds maximum %d", o.Volume, e.cfg.MaxVolume)
	}
	view := e.led.View()
	if o.Side == model.Sell {
		pos, _ := view.Position(o.Symbol)
		if pos.AvailableVolume < o.Volume {
			return decimal.Zero, reject(model.RejectInsufficientPosition, "sell %d of %s, available %d", o.Volume, o.Symbol, pos.AvailableVolume)
		}
	}

	q := e.quotes[o.Symbol]
	var execPrice decimal.Decimal
	switch o.Type {
	case model.Market:
		if q == nil || !q.price.IsPositive() {
			return decimal.Zero, reject(model.RejectInvalidPrice, "no market price for %s", o.Symbol)
		}
		execPrice = e.slipped(q.price, o.Side)
	case model.Limit:
		if !o.Price.IsPositive() {
			return decimal.Zero, reject(model.RejectInvalidPrice, "limit price %s must be positive", o.Price)
		}
		if !o.Price.Equal(o.Price.Round(2)) {
			return decimal.Zero, reject(model.RejectInvalidPrice, "limit price %s is not a multiple of 0.01", o.Price)
		}
		if q != nil && q.prevClose.IsPositive() {
			lo, hi := sym.PriceBand(q.prevClose, e.st[o.Symbol])
			if o.Price.LessThan(lo) || o.Price.GreaterThan(hi) {
				return decimal.Zero, reject(model.RejectInvalidPrice, "limit price %s outside band [%s, %s]", o.Price, lo, hi)
			}
		}
		execPrice = o.Price
	}

	if o.Side == model.Buy {
		need := e.cfg.Fees.BuyCost(sym.Exchange, o.Volume, execPrice)
		if need.GreaterThan(view.Account.AvailableCash) {
			return decimal.Zero, reject(model.RejectInsufficientFunds, "need %s, available %s", need, view.Account.AvailableCash)
		}
	}

	if e.risk != nil {
		dec := e.risk.Evaluate(risk.Proposal{Symbol: o.Symbol, Side: o.Side, Volume: o.Volume, Price: execPrice}, view)
		if !dec.Allowed {
			metrics.RiskRejections.WithLabelValues(string(dec.Reason)).Inc()
			rej := reject(model.RejectRisk, "%s", dec.Detail)
			rej.Risk = dec.Reason
			return decimal.Zero, rej
		}
	}
	return execPrice, nil
}

// accept reserves cash for a buy or freezes volume for a sell.
func (e *Engine) accept(o *model.Order, sym fees.Symbol, execPrice decimal.Decimal) (*Rejection, error) {
	switch o.Side {
	case model.Buy:
		need := e.cfg.Fees.BuyCost(sym.Exchange, o.Volume, execPrice)
		if err := e.led.Reserve(need, e.now); err != nil {
			if errors.Is(err, ledger.ErrInsufficientFunds) {
				return reject(model.RejectInsufficientFunds, "%v", err), nil
			}
			return nil, fmt.Errorf("%w: reserve %s: %w", ErrFatal, o.ID, err)
		}
		o.Reserved = need
	case model.Sell:
		if err := e.led.FreezePosition(o.Symbol, o.Volume, e.now); err != nil {
			if errors.Is(err, ledger.ErrInsufficientPosition) {
				return reject(model.RejectInsufficientPosition, "%v", err), nil
			}
			return nil, fmt.Errorf("%w: freeze %s: %w", ErrFatal, o.ID, err)
		}
	}
	return nil, nil
}

func (e *Engine) reject(ctx context.Context, o *model.Order, rej *Rejection) (model.Order, error) {
	rej.OrderID = o.ID
	if err := o.Transition(model.StatusRejected, e.now); err != nil {
		return *o, fmt.Errorf("%w: %w", ErrFatal, err)
	}
	o.RejectCode = rej.Code
	o.RejectDetail = rej.Detail
	metrics.RejectionsTotal.WithLabelValues(string(rej.Code)).Inc()

	e.log.Info("order rejected",
		"order_id", o.ID,
		"symbol", o.Symbol,
		"side", o.Side,
		"volume", o.Volume,
		"code", rej.Code,
		"detail", rej.Detail,
	)
	e.persistOrder(ctx, o)
	return *o, rej
}

// --- matching ---

// matchIncoming fills a market order in full, fills a marketable limit
// order as far as the current event allows, and queues the rest.
func (e *Engine) matchIncoming(ctx context.Context, o *model.Order, execPrice decimal.Decimal) error {
	if o.Type == model.Market {
		return e.fill(ctx, o, o.Volume, execPrice)
	}

	if q := e.quotes[o.Symbol]; q != nil && q.price.IsPositive() && crosses(o, q.price) {
		vol, starved := e.fillable(o, q)
		if starved {
			return e.cancelUnfunded(ctx, o)
		}
		if vol > 0 {
			if err := e.fill(ctx, o, vol, o.Price); err != nil {
				return err
			}
			q.consume(o.Side, vol)
		}
	}
	if o.Status.Open() {
		e.bookFor(o.Symbol).insert(o)
		e.updateRestingGauge()
	}
	return nil
}

// matchResting walks each side of symbol's queue in priority order, filling
// crossing orders at their limit price until liquidity or the queue runs out.
func (e *Engine) matchResting(ctx context.Context, symbol string) ([]model.Trade, error) {
	bk := e.books[symbol]
	q := e.quotes[symbol]
	if bk == nil || bk.len() == 0 || q == nil {
		return nil, nil
	}
	first := len(e.trades)

	for _, side := range []model.Side{model.Buy, model.Sell} {
		for {
			queue := bk.side(side)
			if len(queue) == 0 {
				break
			}
			o := queue[0]
			if !crosses(o, q.price) {
				break
			}
			vol, starved := e.fillable(o, q)
			if starved {
				if err := e.cancelUnfunded(ctx, o); err != nil {
					return e.trades[first:], err
				}
				continue
			}
			if vol == 0 {
				break
			}
			if err := e.fill(ctx, o, vol, o.Price); err != nil {
				return e.trades[first:], err
			}
			q.consume(side, vol)
			if !o.Status.Open() {
				bk.remove(o)
				continue
			}
			break
		}
	}
	e.updateRestingGauge()

	out := make([]model.Trade, len(e.trades)-first)
	copy(out, e.trades[first:])
	return out, nil
}

// fillable is the lot-rounded volume of o that can fill now, bounded by the
// event's remaining liquidity and, for buys, by the cash the order can draw.
// starved reports a buy that has liquidity for at least a lot but cannot pay
// for one: each partial fill pays its own minimum commission, so the tail of
// a tightly funded order can outgrow its reservation.
func (e *Engine) fillable(o *model.Order, q *quote) (vol int64, starved bool) {
	vol = o.Remaining()
	if liq := q.liquidity[o.Side]; liq >= 0 && vol > liq {
		vol = liq
	}
	vol -= vol % e.cfg.LotSize
	if o.Side != model.Buy || vol == 0 {
		return vol, false
	}

	sym := e.symbols[o.Symbol]
	budget := o.Reserved.Add(e.led.View().Account.AvailableCash)
	for vol > 0 && e.cfg.Fees.BuyCost(sym.Exchange, vol, o.Price).GreaterThan(budget) {
		vol -= e.cfg.LotSize
	}
	if vol == 0 {
		return 0, true
	}
	if vol < o.Remaining() {
		e.log.Debug("partial fill", "order_id", o.ID, "fill", vol, "remaining", o.Remaining())
	}
	return vol, false
}

// cancelUnfunded withdraws the unfillable remainder of a buy order.
func (e *Engine) cancelUnfunded(ctx context.Context, o *model.Order) error {
	released := o.Reserved
	if err := e.withdraw(o); err != nil {
		return err
	}
	metrics.UnfundedCancels.Inc()
	e.log.Warn("order remainder cancelled: insufficient funds",
		"order_id", o.ID,
		"symbol", o.Symbol,
		"filled", o.FilledVolume,
		"volume", o.Volume,
		"released", released.String(),
	)
	e.persistOrder(ctx, o)
	return nil
}

// fill settles one execution of o and records the trade.
func (e *Engine) fill(ctx context.Context, o *model.Order, vol int64, price decimal.Decimal) error {
	sym := e.symbols[o.Symbol]
	cost := e.cfg.Fees.Compute(sym.Exchange, o.Side, vol, price)

	release := decimal.Zero
	if o.Side == model.Buy {
		release = o.Reserved
		if vol < o.Remaining() {
			spent := price.Mul(decimal.NewFromInt(vol)).Add(cost.Total())
			release = decimal.Min(spent, o.Reserved)
		}
	}

	mark := decimal.Zero
	if q := e.quotes[o.Symbol]; q != nil {
		mark = q.price
	}
	set, err := e.led.SettleFill(ledger.Fill{
		Symbol:   o.Symbol,
		Side:     o.Side,
		Volume:   vol,
		Price:    price,
		Fees:     cost.Total(),
		Reserved: release,
		Mark:     mark,
		At:       e.now,
	})
	if err != nil {
		return fmt.Errorf("%w: settle %s: %w", ErrFatal, o.ID, err)
	}
	o.Reserved = o.Reserved.Sub(release)
	if err := o.ApplyFill(vol, price, e.now); err != nil {
		return fmt.Errorf("%w: %w", ErrFatal, err)
	}

	e.tradeSeq++
	t := model.Trade{
		ID:          fmt.Sprintf("T%08d", e.tradeSeq),
		OrderID:     o.ID,
		AccountID:   e.accountID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		Volume:      vol,
		Price:       price,
		Commission:  cost.Commission,
		TransferFee: cost.TransferFee,
		StampTax:    cost.StampTax,
		RealizedPnL: set.RealizedPnL,
		Timestamp:   e.now,
		Seq:         e.tradeSeq,
	}
	e.trades = append(e.trades, t)

	metrics.FillsTotal.WithLabelValues(string(t.Side)).Inc()
	metrics.FillVolume.WithLabelValues(t.Symbol, string(t.Side)).Add(float64(t.Volume))
	metrics.FeesPaid.WithLabelValues("commission").Add(t.Commission.InexactFloat64())
	metrics.FeesPaid.WithLabelValues("transfer").Add(t.TransferFee.InexactFloat64())
	metrics.FeesPaid.WithLabelValues("stamp").Add(t.StampTax.InexactFloat64())

	e.log.Info("order filled",
		"trade_id", t.ID,
		"order_id", o.ID,
		"symbol", t.Symbol,
		"side", t.Side,
		"volume", t.Volume,
		"price", t.Price.String(),
		"fees", t.Fees().String(),
		"realized_pnl", t.RealizedPnL.String(),
		"status", o.Status,
	)

	if e.journal != nil {
		if err := e.journal.RecordTrade(ctx, t); err != nil {
			e.persistFailed("record_trade", err, "trade_id", t.ID)
		}
	}
	if e.listener != nil {
		e.listener.TradeExecuted(ctx, t)
	}
	e.persistOrder(ctx, o)
	return nil
}

// --- helpers ---

// advance moves engine time forward and rolls the trading day on a date
// change, resetting the risk manager's start-of-day assets.
func (e *Engine) advance(ts time.Time) error {
	if ts.Before(e.now) {
		return nil
	}
	e.now = ts
	rolled, err := e.led.RollDay(ts)
	if err != nil {
		return fmt.Errorf("%w: roll day: %w", ErrFatal, err)
	}
	if rolled {
		for _, q := range e.quotes {
			if q.price.IsPositive() {
				q.prevClose = q.price
			}
		}
		if e.risk != nil {
			e.risk.SetDailyStart(e.led.View().TotalAssets())
		}
	}
	return nil
}

func (e *Engine) symbol(raw string) (fees.Symbol, error) {
	if s, ok := e.symbols[raw]; ok {
		return s, nil
	}
	s, err := fees.ParseSymbol(raw)
	if err != nil {
		return fees.Symbol{}, err
	}
	e.symbols[raw] = s
	return s, nil
}

func (e *Engine) quoteFor(symbol string) *quote {
	q, ok := e.quotes[symbol]
	if !ok {
		q = &quote{}
		e.quotes[symbol] = q
	}
	return q
}

func (e *Engine) bookFor(symbol string) *book {
	bk, ok := e.books[symbol]
	if !ok {
		bk = &book{}
		e.books[symbol] = bk
	}
	return bk
}

// liquidity converts event volume into lot-rounded fill capacity.
func (e *Engine) liquidity(volume int64) int64 {
	if volume <= 0 || !e.cfg.LiquidityPct.IsPositive() {
		return -1
	}
	capacity := decimal.NewFromInt(volume).Mul(e.cfg.LiquidityPct).IntPart()
	return capacity - capacity%e.cfg.LotSize
}

func (q *quote) consume(side model.Side, vol int64) {
	if liq := q.liquidity[side]; liq >= 0 {
		q.liquidity[side] = liq - vol
	}
}

// slipped moves price against the order by the slippage rate.
func (e *Engine) slipped(price decimal.Decimal, side model.Side) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if side == model.Buy {
		return price.Mul(one.Add(e.cfg.SlippageRate)).Round(2)
	}
	return price.Mul(one.Sub(e.cfg.SlippageRate)).Round(2)
}

func (e *Engine) persistOrder(ctx context.Context, o *model.Order) {
	metrics.OrdersTotal.WithLabelValues(string(o.Status)).Inc()
	if e.journal != nil {
		if err := e.journal.RecordOrder(ctx, *o); err != nil {
			e.persistFailed("record_order", err, "order_id", o.ID)
		}
		if err := e.journal.SaveAccount(ctx, e.led.View().Account); err != nil {
			e.persistFailed("save_account", err, "account_id", e.accountID)
		}
	}
	if e.listener != nil {
		e.listener.OrderUpdated(ctx, *o)
	}
}

func (e *Engine) persistFailed(op string, err error, args ...any) {
	metrics.PersistenceFailures.WithLabelValues(op).Inc()
	e.log.Warn("persistence failed", append([]any{"op", op, "err", err}, args...)...)
}

func (e *Engine) updateRestingGauge() {
	n := 0
	for _, bk := range e.books {
		n += bk.len()
	}
	metrics.RestingOrders.Set(float64(n))
}

// RestingOrders returns queued limit orders of symbol and side in priority
// order.
func (e *Engine) RestingOrders(symbol string, side model.Side) []model.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	bk := e.books[symbol]
	if bk == nil {
		return nil
	}
	q := bk.side(side)
	out := make([]model.Order, len(q))
	for i, o := range q {
		out[i] = *o
	}
	return out
}

// Symbols returns every symbol with a known price, sorted.
func (e *Engine) Symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.quotes))
	for s := range e.quotes {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
