// Package model defines the core domain types shared across the simulator.
// All monetary values use shopspring/decimal; float64 is never used for money.
// Volumes are whole shares.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Valid reports whether s is a known side.
func (s Side) Valid() bool { return s == Buy || s == Sell }

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool { return t == Market || t == Limit }

// Account is the cash side of the ledger for one simulation run.
// Invariant: AvailableCash + FrozenCash == TotalCash and AvailableCash >= 0.
type Account struct {
	ID             string          `json:"id" db:"id"`
	TotalCash      decimal.Decimal `json:"total_cash" db:"total_cash"`
	AvailableCash  decimal.Decimal `json:"available_cash" db:"available_cash"`
	FrozenCash     decimal.Decimal `json:"frozen_cash" db:"frozen_cash"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
	InitialCapital decimal.Decimal `json:"initial_capital" db:"initial_capital"`
	StrategyType   string          `json:"strategy_type" db:"strategy_type"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Position is the holding of one symbol. AvgCost excludes fees.
type Position struct {
	Symbol          string          `json:"symbol"`
	Volume          int64           `json:"volume"`
	AvailableVolume int64           `json:"available_volume"` // sellable now
	FrozenVolume    int64           `json:"frozen_volume"`    // held by open sell orders
	AvgCost         decimal.Decimal `json:"avg_cost"`
	LastPrice       decimal.Decimal `json:"last_price"`
	BuyDate         time.Time       `json:"buy_date"`
}

// MarketValue is Volume marked at LastPrice.
func (p Position) MarketValue() decimal.Decimal {
	return p.LastPrice.Mul(decimal.NewFromInt(p.Volume))
}

// UnrealizedPnL is the mark-to-market gain over average cost.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.LastPrice.Sub(p.AvgCost).Mul(decimal.NewFromInt(p.Volume))
}

// Trade is an immutable fill record. One order may produce several.
type Trade struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	AccountID   string          `json:"account_id"`
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Volume      int64           `json:"volume"`
	Price       decimal.Decimal `json:"price"`
	Commission  decimal.Decimal `json:"commission"`
	TransferFee decimal.Decimal `json:"transfer_fee"`
	StampTax    decimal.Decimal `json:"stamp_tax"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"` // sells only
	Timestamp   time.Time       `json:"timestamp"`
	Seq         int64           `json:"seq"`
}

// Fees is the sum of all costs charged on the fill.
func (t Trade) Fees() decimal.Decimal {
	return t.Commission.Add(t.TransferFee).Add(t.StampTax)
}

// Notional is Volume * Price.
func (t Trade) Notional() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Volume))
}

// Snapshot is a point-in-time copy of the ledger. Never mutated once taken.
type Snapshot struct {
	AccountID string     `json:"account_id"`
	Seq       int64      `json:"seq"`
	Timestamp time.Time  `json:"timestamp"`
	Account   Account    `json:"account"`
	Positions []Position `json:"positions"` // sorted by symbol
}

// TotalAssets is cash plus marked position value.
func (s Snapshot) TotalAssets() decimal.Decimal {
	total := s.Account.TotalCash
	for _, p := range s.Positions {
		total = total.Add(p.MarketValue())
	}
	return total
}

// Signal is an order intent produced by a strategy.
type Signal struct {
	Symbol string          `json:"symbol"`
	Side   Side            `json:"side"`
	Type   OrderType       `json:"type"`
	Volume int64           `json:"volume"`
	Price  decimal.Decimal `json:"price"` // limit price; ignored for market orders
}
