// Package sim is the simulation controller. A Session drives one account's
// matching engine from historical bars (backtest) or polled quotes
// (realtime) through the same per-event cycle: update the market, ask the
// strategy for signals, submit them, and snapshot the ledger on a cadence.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/analytics"
	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/exchange"
	"github.com/quantsim/sim-exchange/internal/metrics"
	"github.com/quantsim/sim-exchange/internal/model"
	"github.com/quantsim/sim-exchange/internal/risk"
)

// State is the controller lifecycle state.
type State string

const (
	StateIdle      State = "IDLE"
	StateRunning   State = "RUNNING"
	StateStopped   State = "STOPPED"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// AllStates lists every state, for the controller-state gauge.
var AllStates = []string{
	string(StateIdle), string(StateRunning), string(StateStopped),
	string(StateCompleted), string(StateFailed),
}

var (
	// ErrNotIdle is returned when a run is started on a session that has
	// already run. Sessions are single-use.
	ErrNotIdle = errors.New("sim: session is not idle")
	// ErrNoSource is returned when the run mode's data source is not wired.
	ErrNoSource = errors.New("sim: no market data source")
	// ErrStrategy wraps errors returned by a strategy.
	ErrStrategy = errors.New("sim: strategy failed")
)

// Config controls the controller loop.
type Config struct {
	// SnapshotEvery persists a snapshot after this many events; zero only
	// snapshots at the end of a run.
	SnapshotEvery int
	// LastSnapshotSeq is the highest snapshot sequence already stored for a
	// resumed account; new snapshots are numbered after it.
	LastSnapshotSeq int64
}

// Deps are the session's collaborators. Engine is required; the sources
// are required only by the mode that uses them.
type Deps struct {
	Engine    *exchange.Engine
	Calendar  *calendar.Calendar
	Risk      *risk.Manager
	Snapshots SnapshotSink
	Bars      BarSource
	Quotes    QuoteSource
	Logger    *slog.Logger
	Clock     func() time.Time // wall clock for realtime runs
}

// SignalResult is the outcome of one submitted signal.
type SignalResult struct {
	Signal model.Signal `json:"signal"`
	Order  model.Order  `json:"order"`
	Error  string       `json:"error,omitempty"`
}

// Accepted reports whether the signal produced a live or filled order.
func (r SignalResult) Accepted() bool {
	return r.Error == "" && r.Order.Status != model.StatusRejected
}

// Session owns one simulation run. Query methods are safe to call from
// other goroutines while the run is in progress.
type Session struct {
	cfg    Config
	engine *exchange.Engine
	cal    *calendar.Calendar
	risk   *risk.Manager
	snaps  SnapshotSink
	bars   BarSource
	quotes QuoteSource
	log    *slog.Logger
	clock  func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	alerts   map[string]risk.AlertKind // owned by the run loop

	mu      sync.RWMutex
	state   State
	err     error
	results []SignalResult
	curve   []analytics.Point
	events  int
	snapSeq int64
}

// New creates an idle session.
func New(cfg Config, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	cal := deps.Calendar
	if cal == nil {
		cal = calendar.New()
	}
	s := &Session{
		cfg:    cfg,
		engine: deps.Engine,
		cal:    cal,
		risk:   deps.Risk,
		snaps:  deps.Snapshots,
		bars:   deps.Bars,
		quotes: deps.Quotes,
		log:    logger.With("component", "controller"),
		clock:  clock,
		stop:   make(chan struct{}),
		state:  StateIdle,
		alerts: make(map[string]risk.AlertKind),

		snapSeq: cfg.LastSnapshotSeq,
	}
	metrics.SetControllerState(string(StateIdle), AllStates)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that failed the run, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Stop asks a running loop to finish. It is observed between events in a
// backtest and within one interval in realtime. Safe to call repeatedly.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Results returns the per-signal outcomes of the most recent event.
func (s *Session) Results() []SignalResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SignalResult, len(s.results))
	copy(out, s.results)
	return out
}

// EquityCurve returns total assets after every processed event.
func (s *Session) EquityCurve() []analytics.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]analytics.Point, len(s.curve))
	copy(out, s.curve)
	return out
}

// Report analyzes the run so far.
func (s *Session) Report() analytics.Report {
	initial := s.engine.Ledger().View().Account.InitialCapital
	return analytics.New(initial).Analyze(s.EquityCurve(), s.engine.Trades())
}

// --- Handle ---

// AccountInfo summarizes the account at the latest mark.
func (s *Session) AccountInfo() AccountInfo {
	v := s.engine.Ledger().View()
	info := AccountInfo{
		Account:       v.Account,
		MarketValue:   v.MarketValue(),
		TotalAssets:   v.TotalAssets(),
		UnrealizedPnL: decimal.Zero,
		TotalReturn:   decimal.Zero,
	}
	positions := v.Positions()
	info.PositionCount = len(positions)
	for _, p := range positions {
		info.UnrealizedPnL = info.UnrealizedPnL.Add(p.UnrealizedPnL())
	}
	if v.Account.InitialCapital.IsPositive() {
		info.TotalReturn = info.TotalAssets.Sub(v.Account.InitialCapital).Div(v.Account.InitialCapital).Round(6)
	}
	return info
}

// Positions returns holdings sorted by symbol.
func (s *Session) Positions() []model.Position {
	return s.engine.Ledger().View().Positions()
}

// PendingOrders returns open orders in submission order.
func (s *Session) PendingOrders() []model.Order {
	return s.engine.PendingOrders()
}

// TradeHistory returns all fills in execution order.
func (s *Session) TradeHistory() []model.Trade {
	return s.engine.Trades()
}

// SubmitOrder forwards a signal to the engine.
func (s *Session) SubmitOrder(ctx context.Context, sig model.Signal) (model.Order, error) {
	return s.engine.Submit(ctx, sig)
}

// CancelOrder cancels an open order.
func (s *Session) CancelOrder(ctx context.Context, orderID string) (model.Order, error) {
	return s.engine.Cancel(ctx, orderID)
}

// --- lifecycle ---

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w: %s", ErrNotIdle, s.state)
	}
	s.state = StateRunning
	metrics.SetControllerState(string(StateRunning), AllStates)
	return nil
}

func (s *Session) finish(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.err = err
	s.mu.Unlock()
	metrics.SetControllerState(string(state), AllStates)

	if err != nil {
		s.log.Error("simulation failed", "state", state, "err", err)
		return
	}
	s.log.Info("simulation finished", "state", state, "events", s.eventCount())
}

func (s *Session) eventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events
}

func (s *Session) stopping() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}
