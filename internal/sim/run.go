package sim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/quantsim/sim-exchange/internal/analytics"
	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/exchange"
	"github.com/quantsim/sim-exchange/internal/metrics"
	"github.com/quantsim/sim-exchange/internal/model"
)

const (
	modeBacktest = "backtest"
	modeRealtime = "realtime"
)

// StartBacktest replays bars of symbols for the trading days in
// [start, end] and blocks until the replay is exhausted (COMPLETED), Stop
// or ctx ends it (STOPPED), or a fatal error occurs (FAILED, returned).
// Symbols without data are logged and skipped.
func (s *Session) StartBacktest(ctx context.Context, start, end time.Time, symbols []string, strategy Strategy) error {
	if s.bars == nil {
		return ErrNoSource
	}
	if err := s.begin(); err != nil {
		return err
	}
	s.log.Info("backtest started",
		"start", start.Format(time.DateOnly),
		"end", end.Format(time.DateOnly),
		"symbols", symbols,
	)

	groups, err := s.loadBars(ctx, start, end, symbols)
	if err != nil {
		s.finish(StateFailed, err)
		return err
	}

	for _, events := range groups {
		if s.stopping() || ctx.Err() != nil {
			s.snapshot(context.WithoutCancel(ctx), s.engine.Now())
			s.finish(StateStopped, nil)
			return nil
		}
		if err := s.cycle(ctx, modeBacktest, events, strategy); err != nil {
			s.finish(StateFailed, err)
			return err
		}
	}

	s.snapshot(ctx, s.engine.Now())
	s.finish(StateCompleted, nil)
	return nil
}

// loadBars merges every symbol's bars in (timestamp, symbol) order and
// groups them into one event batch per timestamp.
func (s *Session) loadBars(ctx context.Context, start, end time.Time, symbols []string) ([][]model.MarketEvent, error) {
	from := calendar.StartOfDay(start)
	to := calendar.StartOfDay(end).AddDate(0, 0, 1).Add(-time.Nanosecond)

	var all []model.Bar
	for _, sym := range symbols {
		bars, err := s.bars.Bars(ctx, sym, from, to)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.MarketDataErrors.Inc()
			s.log.Warn("no historical data", "symbol", sym, "err", err)
			continue
		}
		for _, b := range bars {
			if s.cal.IsTradingDay(b.Timestamp) {
				all = append(all, b)
			}
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Timestamp.Equal(all[j].Timestamp) {
			return all[i].Timestamp.Before(all[j].Timestamp)
		}
		return all[i].Symbol < all[j].Symbol
	})

	var groups [][]model.MarketEvent
	for i, b := range all {
		if i == 0 || !b.Timestamp.Equal(all[i-1].Timestamp) {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], b.Event())
	}
	s.log.Info("historical data loaded", "bars", len(all), "events", len(groups))
	return groups, nil
}

// StartRealtime polls quotes for symbols every interval and blocks until
// Stop or ctx ends the run (STOPPED) or a fatal error occurs (FAILED,
// returned). Ticks outside trading time are skipped; quote errors are
// logged and the tick is dropped.
func (s *Session) StartRealtime(ctx context.Context, symbols []string, strategy Strategy, interval time.Duration) error {
	if s.quotes == nil {
		return ErrNoSource
	}
	if interval <= 0 {
		return fmt.Errorf("sim: interval must be positive, got %s", interval)
	}
	if err := s.begin(); err != nil {
		return err
	}
	s.log.Info("realtime started", "symbols", symbols, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.snapshot(context.WithoutCancel(ctx), s.engine.Now())
			s.finish(StateStopped, nil)
			return nil
		case <-s.stop:
			s.snapshot(ctx, s.engine.Now())
			s.finish(StateStopped, nil)
			return nil
		case <-ticker.C:
		}

		now := s.clock()
		if !s.cal.IsTradingTime(now) {
			s.log.Debug("outside trading hours, tick skipped", "now", now.In(calendar.Location).Format(time.DateTime))
			continue
		}
		quotes, err := s.quotes.Quotes(ctx, symbols)
		if err != nil {
			metrics.MarketDataErrors.Inc()
			s.log.Warn("quote fetch failed", "err", err)
			continue
		}
		if len(quotes) == 0 {
			continue
		}
		events := make([]model.MarketEvent, 0, len(quotes))
		for _, q := range quotes {
			if q.Timestamp.IsZero() {
				q.Timestamp = now
			}
			events = append(events, q.Event())
		}
		if err := s.cycle(ctx, modeRealtime, events, strategy); err != nil {
			s.finish(StateFailed, err)
			return err
		}
	}
}

// cycle is the per-event step shared by both modes.
func (s *Session) cycle(ctx context.Context, mode string, events []model.MarketEvent, strategy Strategy) error {
	began := time.Now()
	defer func() {
		metrics.EventLatency.WithLabelValues(mode).Observe(time.Since(began).Seconds())
		metrics.EventsProcessed.WithLabelValues(mode).Inc()
	}()

	if _, err := s.engine.OnMarket(ctx, events); err != nil {
		return err
	}
	ts := s.engine.Now()
	view := s.engine.Ledger().View()
	s.checkAlerts()

	data := make(map[string]model.MarketEvent, len(events))
	for _, ev := range events {
		data[ev.Symbol] = ev
	}

	var results []SignalResult
	if strategy != nil {
		signals, err := strategy.Decide(ctx, s, ts, data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStrategy, err)
		}
		for _, sig := range signals {
			res, err := s.submit(ctx, sig)
			if err != nil {
				return err
			}
			results = append(results, res)
		}
		view = s.engine.Ledger().View()
	}

	s.mu.Lock()
	s.results = results
	s.curve = append(s.curve, analytics.Point{Time: ts, Equity: view.TotalAssets()})
	s.events++
	due := s.cfg.SnapshotEvery > 0 && s.events%s.cfg.SnapshotEvery == 0
	s.mu.Unlock()

	if due {
		s.snapshot(ctx, ts)
	}
	return nil
}

// submit forwards one signal. Rejections and malformed signals become
// results; only engine failures are returned.
func (s *Session) submit(ctx context.Context, sig model.Signal) (SignalResult, error) {
	order, err := s.engine.Submit(ctx, sig)
	res := SignalResult{Signal: sig, Order: order}
	switch {
	case err == nil:
	case errors.Is(err, exchange.ErrFatal):
		return res, err
	default:
		res.Error = err.Error()
		if _, ok := exchange.IsRejection(err); !ok {
			s.log.Warn("signal dropped", "symbol", sig.Symbol, "err", err)
		}
	}
	return res, nil
}

// checkAlerts logs stop-loss and take-profit breaches once per crossing.
func (s *Session) checkAlerts() {
	if s.risk == nil {
		return
	}
	active := make(map[string]bool)
	for _, a := range s.risk.PositionAlerts(s.engine.Ledger().View()) {
		key := a.Symbol + "/" + string(a.Kind)
		active[key] = true
		if _, seen := s.alerts[key]; seen {
			continue
		}
		s.alerts[key] = a.Kind
		s.log.Warn("position alert",
			"symbol", a.Symbol,
			"kind", a.Kind,
			"return", a.Return.StringFixed(4),
			"avg_cost", a.AvgCost.String(),
			"price", a.Price.String(),
		)
	}
	for key := range s.alerts {
		if !active[key] {
			delete(s.alerts, key)
		}
	}
}

// snapshot persists the ledger. Failures are logged and counted.
func (s *Session) snapshot(ctx context.Context, at time.Time) {
	if s.snaps == nil {
		return
	}
	s.mu.Lock()
	s.snapSeq++
	seq := s.snapSeq
	s.mu.Unlock()

	snap := s.engine.Ledger().Snapshot(seq, at)
	if err := s.snaps.SaveSnapshot(ctx, snap); err != nil {
		metrics.PersistenceFailures.WithLabelValues("save_snapshot").Inc()
		s.log.Warn("persistence failed", "op", "save_snapshot", "seq", seq, "err", err)
		return
	}
	s.log.Debug("snapshot saved", "seq", seq, "total_assets", snap.TotalAssets().String())
}
