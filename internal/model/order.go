package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTransition is returned when an order status change is not
// permitted by the lifecycle, including any change to a terminal order.
var ErrInvalidTransition = errors.New("model: invalid order status transition")

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusCancelled       OrderStatus = "CANCELLED"
)

// Terminal reports whether no further transitions are possible.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusRejected || s == StatusCancelled
}

// Open reports whether the order can still fill or be cancelled.
func (s OrderStatus) Open() bool {
	return s == StatusPending || s == StatusPartiallyFilled
}

var transitions = map[OrderStatus][]OrderStatus{
	StatusPending:         {StatusPartiallyFilled, StatusFilled, StatusRejected, StatusCancelled},
	StatusPartiallyFilled: {StatusPartiallyFilled, StatusFilled, StatusCancelled},
}

// RejectCode says why an order was refused at acceptance.
type RejectCode string

const (
	RejectNotTradingTime       RejectCode = "NOT_TRADING_TIME"
	RejectInvalidVolume        RejectCode = "INVALID_VOLUME"
	RejectInvalidPrice         RejectCode = "INVALID_PRICE"
	RejectInsufficientFunds    RejectCode = "INSUFFICIENT_FUNDS"
	RejectInsufficientPosition RejectCode = "INSUFFICIENT_POSITION"
	RejectRisk                 RejectCode = "RISK_REJECTED"
)

// Order is owned by the matching engine. The resting queue holds a
// pointer to the same value; it is never duplicated while open.
type Order struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"account_id"`
	Symbol       string          `json:"symbol"`
	Side         Side            `json:"side"`
	Type         OrderType       `json:"type"`
	Volume       int64           `json:"volume"`
	FilledVolume int64           `json:"filled_volume"`
	Price        decimal.Decimal `json:"price"` // zero for market orders
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Status       OrderStatus     `json:"status"`
	RejectCode   RejectCode      `json:"reject_code,omitempty"`
	RejectDetail string          `json:"reject_detail,omitempty"`
	Reserved     decimal.Decimal `json:"reserved"` // cash still frozen for a buy
	Seq          int64           `json:"seq"`
	SubmittedAt  time.Time       `json:"submitted_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Remaining is the unfilled volume.
func (o *Order) Remaining() int64 { return o.Volume - o.FilledVolume }

// Transition moves the order to next, enforcing the lifecycle.
func (o *Order) Transition(next OrderStatus, at time.Time) error {
	for _, allowed := range transitions[o.Status] {
		if allowed == next {
			o.Status = next
			o.UpdatedAt = at
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (order %s)", ErrInvalidTransition, o.Status, next, o.ID)
}

// ApplyFill records a fill of volume at price and advances the status.
func (o *Order) ApplyFill(volume int64, price decimal.Decimal, at time.Time) error {
	if volume <= 0 || volume > o.Remaining() {
		return fmt.Errorf("%w: fill of %d exceeds remaining %d (order %s)",
			ErrInvalidTransition, volume, o.Remaining(), o.ID)
	}
	next := StatusPartiallyFilled
	if volume == o.Remaining() {
		next = StatusFilled
	}
	if err := o.Transition(next, at); err != nil {
		return err
	}
	filledBefore := decimal.NewFromInt(o.FilledVolume)
	o.FilledVolume += volume
	o.AvgFillPrice = o.AvgFillPrice.Mul(filledBefore).
		Add(price.Mul(decimal.NewFromInt(volume))).
		Div(decimal.NewFromInt(o.FilledVolume)).
		Round(4)
	return nil
}
