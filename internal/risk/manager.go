// Package risk implements pre-trade policy checks and position alerts.
//
// The manager is consulted synchronously before an order is accepted. It
// reads a ledger view and never mutates ledger state; its only state is the
// start-of-day asset value used by the daily loss circuit breaker.
package risk

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/ledger"
	"github.com/quantsim/sim-exchange/internal/model"
)

// Reason identifies which rule denied an order.
type Reason string

const (
	ReasonDailyLossLimit        Reason = "DAILY_LOSS_LIMIT"
	ReasonMaxOrderAmount        Reason = "MAX_ORDER_AMOUNT"
	ReasonPositionConcentration Reason = "POSITION_CONCENTRATION"
	ReasonTotalExposure         Reason = "TOTAL_EXPOSURE"
)

var (
	// ErrDailyLossLimit is returned when the account has lost more than the
	// allowed fraction of its start-of-day assets.
	ErrDailyLossLimit = errors.New("risk: daily loss limit reached")

	// ErrMaxOrderAmount is returned when an order's notional exceeds the
	// single-order maximum.
	ErrMaxOrderAmount = errors.New("risk: order amount exceeds maximum")

	// ErrPositionConcentration is returned when a buy would push one symbol
	// above its share of total assets.
	ErrPositionConcentration = errors.New("risk: single position limit exceeded")

	// ErrTotalExposure is returned when a buy would push all positions above
	// the total exposure limit.
	ErrTotalExposure = errors.New("risk: total position limit exceeded")
)

var reasonErrors = map[Reason]error{
	ReasonDailyLossLimit:        ErrDailyLossLimit,
	ReasonMaxOrderAmount:        ErrMaxOrderAmount,
	ReasonPositionConcentration: ErrPositionConcentration,
	ReasonTotalExposure:         ErrTotalExposure,
}

// Limits is the policy. Fractions are of total assets.
type Limits struct {
	Enabled              bool
	MaxSinglePositionPct decimal.Decimal
	MaxTotalPositionPct  decimal.Decimal
	MaxOrderAmount       decimal.Decimal
	DailyLossLimitPct    decimal.Decimal
	StopLossPct          decimal.Decimal
	TakeProfitPct        decimal.Decimal
}

// DefaultLimits mirrors a conservative retail policy.
func DefaultLimits() Limits {
	return Limits{
		Enabled:              true,
		MaxSinglePositionPct: decimal.NewFromFloat(0.30),
		MaxTotalPositionPct:  decimal.NewFromFloat(0.95),
		MaxOrderAmount:       decimal.NewFromInt(50000),
		DailyLossLimitPct:    decimal.NewFromFloat(0.05),
		StopLossPct:          decimal.NewFromFloat(0.10),
		TakeProfitPct:        decimal.NewFromFloat(0.20),
	}
}

// Proposal is an order awaiting acceptance.
type Proposal struct {
	Symbol string
	Side   model.Side
	Volume int64
	Price  decimal.Decimal // limit price, or expected fill price for market orders
}

// Notional is Volume * Price.
func (p Proposal) Notional() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(p.Volume))
}

// Decision is Allow or Deny(reason).
type Decision struct {
	Allowed bool
	Reason  Reason
	Detail  string
}

// Allow permits the order.
func Allow() Decision { return Decision{Allowed: true} }

// Deny refuses the order for reason.
func Deny(reason Reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Err returns nil for Allow, otherwise the sentinel for the reason wrapped
// with the detail.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", reasonErrors[d.Reason], d.Detail)
}

// Manager evaluates proposals against Limits.
type Manager struct {
	limits Limits

	mu         sync.RWMutex
	dailyStart decimal.Decimal
}

// NewManager creates a manager with the given limits.
func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits}
}

// Limits returns the policy in force.
func (m *Manager) Limits() Limits { return m.limits }

// SetDailyStart records total assets at the start of a trading day.
func (m *Manager) SetDailyStart(assets decimal.Decimal) {
	m.mu.Lock()
	m.dailyStart = assets
	m.mu.Unlock()
}

// DailyStart returns the recorded start-of-day assets.
func (m *Manager) DailyStart() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyStart
}

// Evaluate checks, in order: daily loss, order size, and for buys the
// single-position and total-position limits.
func (m *Manager) Evaluate(p Proposal, v *ledger.View) Decision {
	if !m.limits.Enabled {
		return Allow()
	}

	assets := v.TotalAssets()

	// 1. Daily loss circuit breaker.
	if start := m.DailyStart(); start.IsPositive() {
		loss := start.Sub(assets)
		if loss.IsPositive() {
			pct := loss.Div(start)
			if pct.GreaterThanOrEqual(m.limits.DailyLossLimitPct) {
				return Deny(ReasonDailyLossLimit, fmt.Sprintf("daily loss %s%% reaches limit %s%%",
					pct.Mul(hundred).StringFixed(2), m.limits.DailyLossLimitPct.Mul(hundred).StringFixed(2)))
			}
		}
	}

	// 2. Single order notional.
	notional := p.Notional()
	if m.limits.MaxOrderAmount.IsPositive() && notional.GreaterThan(m.limits.MaxOrderAmount) {
		return Deny(ReasonMaxOrderAmount, fmt.Sprintf("order amount %s exceeds max %s",
			notional.StringFixed(2), m.limits.MaxOrderAmount.StringFixed(2)))
	}

	if p.Side != model.Buy || !assets.IsPositive() {
		return Allow()
	}

	// 3. Concentration in the traded symbol.
	held := int64(0)
	if pos, ok := v.Position(p.Symbol); ok {
		held = pos.Volume
	}
	future := p.Price.Mul(decimal.NewFromInt(held + p.Volume))
	if pct := future.Div(assets); pct.GreaterThan(m.limits.MaxSinglePositionPct) {
		return Deny(ReasonPositionConcentration, fmt.Sprintf("%s would be %s%% of assets, max %s%%",
			p.Symbol, pct.Mul(hundred).StringFixed(2), m.limits.MaxSinglePositionPct.Mul(hundred).StringFixed(2)))
	}

	// 4. Total exposure.
	total := v.MarketValue().Add(notional)
	if pct := total.Div(assets); pct.GreaterThan(m.limits.MaxTotalPositionPct) {
		return Deny(ReasonTotalExposure, fmt.Sprintf("positions would be %s%% of assets, max %s%%",
			pct.Mul(hundred).StringFixed(2), m.limits.MaxTotalPositionPct.Mul(hundred).StringFixed(2)))
	}

	return Allow()
}

var hundred = decimal.NewFromInt(100)
