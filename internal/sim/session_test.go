package sim_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/exchange"
	"github.com/quantsim/sim-exchange/internal/ledger"
	"github.com/quantsim/sim-exchange/internal/marketdata"
	"github.com/quantsim/sim-exchange/internal/model"
	"github.com/quantsim/sim-exchange/internal/risk"
	"github.com/quantsim/sim-exchange/internal/sim"
	"github.com/quantsim/sim-exchange/internal/store"
	"github.com/quantsim/sim-exchange/internal/strategy"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var (
	cal      = calendar.New()
	jan2     = time.Date(2024, 1, 2, 0, 0, 0, 0, calendar.Location)
	jan31    = time.Date(2024, 1, 31, 0, 0, 0, 0, calendar.Location)
	symbols  = []string{"000001", "600000"}
	tradeDay = time.Date(2024, 1, 2, 10, 0, 0, 0, calendar.Location)
)

type fixture struct {
	session *sim.Session
	engine  *exchange.Engine
	ledger  *ledger.Ledger
	store   *store.MemoryStore
}

func newFixture(t *testing.T, cfg sim.Config, bars sim.BarSource, quotes sim.QuoteSource, clock func() time.Time) *fixture {
	t.Helper()
	led, err := ledger.New(ledger.OpenAccount("acct-1", d(1000000), "test", jan2), ledger.DefaultOptions())
	require.NoError(t, err)
	st := store.NewMemoryStore()
	rm := risk.NewManager(risk.DefaultLimits())
	eng := exchange.New(exchange.DefaultConfig(), exchange.Deps{
		Calendar: cal,
		Ledger:   led,
		Risk:     rm,
		Journal:  st,
	})
	s := sim.New(cfg, sim.Deps{
		Engine:    eng,
		Calendar:  cal,
		Risk:      rm,
		Snapshots: st,
		Bars:      bars,
		Quotes:    quotes,
		Clock:     clock,
	})
	return &fixture{session: s, engine: eng, ledger: led, store: st}
}

func maCross(t *testing.T) sim.Strategy {
	t.Helper()
	s, err := strategy.New("ma_cross", strategy.Options{
		ShortPeriod: 2,
		LongPeriod:  5,
		Sizer:       strategy.Sizer{Fraction: d(0.2), MaxNotional: d(50000), LotSize: 100},
	})
	require.NoError(t, err)
	return s
}

func TestBacktest_Completes(t *testing.T) {
	bars := marketdata.SyntheticBars(cal, symbols, jan2, jan31, 7)
	f := newFixture(t, sim.Config{}, bars, nil, nil)

	err := f.session.StartBacktest(context.Background(), jan2, jan31, symbols, maCross(t))
	require.NoError(t, err)

	assert.Equal(t, sim.StateCompleted, f.session.State())
	assert.NoError(t, f.session.Err())
	assert.Len(t, f.session.EquityCurve(), len(cal.TradingDays(jan2, jan31)))

	report := f.session.Report()
	assert.True(t, report.InitialCapital.Equal(d(1000000)))
	assert.Equal(t, len(f.engine.Trades()), report.TotalTrades)
}

func TestBacktest_Deterministic(t *testing.T) {
	run := func() ([]model.Trade, model.Account) {
		bars := marketdata.SyntheticBars(cal, symbols, jan2, jan31, 42)
		f := newFixture(t, sim.Config{}, bars, nil, nil)
		require.NoError(t, f.session.StartBacktest(context.Background(), jan2, jan31, symbols, maCross(t)))
		return f.engine.Trades(), f.ledger.View().Account
	}

	trades1, acct1 := run()
	trades2, acct2 := run()
	assert.Equal(t, trades1, trades2)
	assert.Equal(t, acct1, acct2)
}

func TestBacktest_SnapshotCadence(t *testing.T) {
	bars := marketdata.SyntheticBars(cal, symbols, jan2, jan31, 1)
	f := newFixture(t, sim.Config{SnapshotEvery: 5}, bars, nil, nil)

	require.NoError(t, f.session.StartBacktest(context.Background(), jan2, jan31, symbols, nil))

	days := len(cal.TradingDays(jan2, jan31))
	snaps, err := f.store.ListSnapshots(context.Background(), "acct-1")
	require.NoError(t, err)
	// one per cadence plus the final one
	require.Len(t, snaps, days/5+1)
	for i, snap := range snaps {
		assert.Equal(t, int64(i+1), snap.Seq)
	}
}

func TestBacktest_UnknownSymbolSkipped(t *testing.T) {
	bars := marketdata.SyntheticBars(cal, []string{"000001"}, jan2, jan31, 3)
	f := newFixture(t, sim.Config{}, bars, nil, nil)

	err := f.session.StartBacktest(context.Background(), jan2, jan31, []string{"000001", "300750"}, nil)
	require.NoError(t, err)
	assert.Equal(t, sim.StateCompleted, f.session.State())
	assert.Len(t, f.session.EquityCurve(), len(cal.TradingDays(jan2, jan31)))
}

func TestBacktest_StopObservedBetweenEvents(t *testing.T) {
	bars := marketdata.SyntheticBars(cal, symbols, jan2, jan31, 5)
	f := newFixture(t, sim.Config{}, bars, nil, nil)

	var calls int
	stopper := sim.StrategyFunc(func(context.Context, sim.Handle, time.Time, map[string]model.MarketEvent) ([]model.Signal, error) {
		calls++
		if calls == 3 {
			f.session.Stop()
		}
		return nil, nil
	})

	require.NoError(t, f.session.StartBacktest(context.Background(), jan2, jan31, symbols, stopper))
	assert.Equal(t, sim.StateStopped, f.session.State())
	assert.Equal(t, 3, calls)
	assert.Len(t, f.session.EquityCurve(), 3)

	_, err := f.store.LatestSnapshot(context.Background(), "acct-1")
	assert.NoError(t, err, "stop should persist a final snapshot")
}

func TestBacktest_StrategyErrorFails(t *testing.T) {
	bars := marketdata.SyntheticBars(cal, symbols, jan2, jan31, 5)
	f := newFixture(t, sim.Config{}, bars, nil, nil)

	boom := errors.New("boom")
	failing := sim.StrategyFunc(func(context.Context, sim.Handle, time.Time, map[string]model.MarketEvent) ([]model.Signal, error) {
		return nil, boom
	})

	err := f.session.StartBacktest(context.Background(), jan2, jan31, symbols, failing)
	require.Error(t, err)
	assert.ErrorIs(t, err, sim.ErrStrategy)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, sim.StateFailed, f.session.State())
	assert.ErrorIs(t, f.session.Err(), boom)
}

func TestBacktest_RejectionsBecomeResults(t *testing.T) {
	bars := marketdata.SyntheticBars(cal, []string{"000001"}, jan2, jan31, 9)
	f := newFixture(t, sim.Config{}, bars, nil, nil)

	oversized := sim.StrategyFunc(func(_ context.Context, _ sim.Handle, _ time.Time, data map[string]model.MarketEvent) ([]model.Signal, error) {
		return []model.Signal{
			{Symbol: "000001", Side: model.Buy, Type: model.Market, Volume: 150},
			{Symbol: "000001", Side: model.Sell, Type: model.Market, Volume: 100},
		}, nil
	})

	require.NoError(t, f.session.StartBacktest(context.Background(), jan2, jan2, []string{"000001"}, oversized))
	results := f.session.Results()
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Accepted())
		assert.NotEmpty(t, r.Error)
	}
	assert.Equal(t, model.RejectInvalidVolume, results[0].Order.RejectCode)
	assert.Equal(t, model.RejectInsufficientPosition, results[1].Order.RejectCode)
}

func TestSession_SingleUse(t *testing.T) {
	bars := marketdata.SyntheticBars(cal, symbols, jan2, jan31, 5)
	f := newFixture(t, sim.Config{}, bars, nil, nil)
	require.NoError(t, f.session.StartBacktest(context.Background(), jan2, jan31, symbols, nil))

	err := f.session.StartBacktest(context.Background(), jan2, jan31, symbols, nil)
	assert.ErrorIs(t, err, sim.ErrNotIdle)
	assert.Equal(t, sim.StateCompleted, f.session.State())
}

func TestSession_MissingSource(t *testing.T) {
	f := newFixture(t, sim.Config{}, nil, nil, nil)
	assert.ErrorIs(t, f.session.StartBacktest(context.Background(), jan2, jan31, symbols, nil), sim.ErrNoSource)
	assert.ErrorIs(t, f.session.StartRealtime(context.Background(), symbols, nil, time.Second), sim.ErrNoSource)
	assert.Equal(t, sim.StateIdle, f.session.State())
}

func TestRealtime_TicksUntilStopped(t *testing.T) {
	quotes := marketdata.NewMemorySource()
	quotes.SetQuote(model.Quote{Symbol: "000001", Price: d(10.5), PrevClose: d(10.4), Volume: 10000})
	f := newFixture(t, sim.Config{}, nil, quotes, func() time.Time { return tradeDay })

	var calls atomic.Int32
	counter := sim.StrategyFunc(func(_ context.Context, _ sim.Handle, ts time.Time, data map[string]model.MarketEvent) ([]model.Signal, error) {
		assert.True(t, ts.Equal(tradeDay), "zero quote timestamps take the clock")
		assert.Contains(t, data, "000001")
		if calls.Add(1) == 3 {
			f.session.Stop()
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.session.StartRealtime(ctx, []string{"000001"}, counter, 5*time.Millisecond))

	assert.Equal(t, sim.StateStopped, f.session.State())
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
	price, ok := f.engine.LastPrice("000001")
	require.True(t, ok)
	assert.True(t, price.Equal(d(10.5)))
}

func TestRealtime_SkipsOutsideTradingTime(t *testing.T) {
	quotes := marketdata.NewMemorySource()
	quotes.SetQuote(model.Quote{Symbol: "000001", Price: d(10.5)})
	saturday := time.Date(2024, 1, 6, 10, 0, 0, 0, calendar.Location)
	f := newFixture(t, sim.Config{}, nil, quotes, func() time.Time { return saturday })

	var calls atomic.Int32
	counter := sim.StrategyFunc(func(context.Context, sim.Handle, time.Time, map[string]model.MarketEvent) ([]model.Signal, error) {
		calls.Add(1)
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, f.session.StartRealtime(ctx, []string{"000001"}, counter, 5*time.Millisecond))

	assert.Equal(t, sim.StateStopped, f.session.State())
	assert.Zero(t, calls.Load())
	assert.Empty(t, f.session.EquityCurve())
}

// A strategy trading through the handle: buy 100 @ 10.50 on day one, sell
// them @ 11.00 on day two.
func TestHandle_BuyThenSellEndToEnd(t *testing.T) {
	day1 := cal.MarketClose(jan2)
	day2 := cal.MarketClose(time.Date(2024, 1, 3, 0, 0, 0, 0, calendar.Location))
	bars := marketdata.NewMemorySource()
	bars.AddBars(
		model.Bar{Symbol: "000001", Timestamp: day1, Close: d(10.50), PrevClose: d(10.40)},
		model.Bar{Symbol: "000001", Timestamp: day2, Close: d(11.00), PrevClose: d(10.50)},
	)
	f := newFixture(t, sim.Config{}, bars, nil, nil)

	var orders []model.Order
	trader := sim.StrategyFunc(func(ctx context.Context, h sim.Handle, ts time.Time, _ map[string]model.MarketEvent) ([]model.Signal, error) {
		sig := model.Signal{Symbol: "000001", Side: model.Buy, Type: model.Limit, Volume: 100, Price: d(10.50)}
		if ts.Equal(day2) {
			sig.Side, sig.Price = model.Sell, d(11.00)
		}
		o, err := h.SubmitOrder(ctx, sig)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)

		if ts.Equal(day1) {
			info := h.AccountInfo()
			assert.True(t, info.AvailableCash.Equal(d(1000000-1050-5)), "available = %s", info.AvailableCash)
			require.Len(t, h.Positions(), 1)
			pos := h.Positions()[0]
			assert.Equal(t, int64(100), pos.Volume)
			assert.True(t, pos.AvgCost.Equal(d(10.50)))
			assert.Equal(t, 1, info.PositionCount)
		}
		return nil, nil
	})

	require.NoError(t, f.session.StartBacktest(context.Background(), jan2, jan2.AddDate(0, 0, 1), []string{"000001"}, trader))
	require.Len(t, orders, 2)
	for _, o := range orders {
		assert.Equal(t, model.StatusFilled, o.Status)
	}

	// (11.00 - 10.50) * 100 - 5 buy commission - 5 sell commission - 1.10 stamp tax
	acct := f.ledger.View().Account
	assert.True(t, acct.TotalCash.Sub(acct.InitialCapital).Equal(d(38.9)), "net = %s", acct.TotalCash.Sub(acct.InitialCapital))
	assert.Empty(t, f.session.Positions())
	assert.Len(t, f.session.TradeHistory(), 2)

	report := f.session.Report()
	assert.Equal(t, 1, report.ClosingTrades)
	assert.Equal(t, 1, report.WinningTrades)
}
