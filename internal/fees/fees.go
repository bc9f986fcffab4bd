package fees

import (
	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/model"
)

// Schedule is the broker and exchange cost table. Every component of a fill
// is rounded up to the cent, so any positive levy costs at least 0.01.
type Schedule struct {
	CommissionRate decimal.Decimal `json:"commission_rate"`
	MinCommission  decimal.Decimal `json:"min_commission"`
	TransferRate   decimal.Decimal `json:"transfer_rate"` // Shanghai only
	StampRate      decimal.Decimal `json:"stamp_rate"`    // sells only
}

// DefaultSchedule is the retail A-share schedule.
func DefaultSchedule() Schedule {
	return Schedule{
		CommissionRate: decimal.RequireFromString("0.00025"),
		MinCommission:  decimal.NewFromInt(5),
		TransferRate:   decimal.RequireFromString("0.00001"),
		StampRate:      decimal.RequireFromString("0.001"),
	}
}

// Breakdown is the cost of one fill.
type Breakdown struct {
	Commission  decimal.Decimal `json:"commission"`
	TransferFee decimal.Decimal `json:"transfer_fee"`
	StampTax    decimal.Decimal `json:"stamp_tax"`
}

// Total is the sum of all components.
func (b Breakdown) Total() decimal.Decimal {
	return b.Commission.Add(b.TransferFee).Add(b.StampTax)
}

// Compute prices a single fill of volume at price.
func (s Schedule) Compute(venue Exchange, side model.Side, volume int64, price decimal.Decimal) Breakdown {
	notional := price.Mul(decimal.NewFromInt(volume))

	commission := notional.Mul(s.CommissionRate).RoundCeil(2)
	if commission.LessThan(s.MinCommission) {
		commission = s.MinCommission
	}

	var b Breakdown
	b.Commission = commission
	b.TransferFee = decimal.Zero
	b.StampTax = decimal.Zero
	if venue == Shanghai {
		b.TransferFee = notional.Mul(s.TransferRate).RoundCeil(2)
	}
	if side == model.Sell {
		b.StampTax = notional.Mul(s.StampRate).RoundCeil(2)
	}
	return b
}

// BuyCost is the cash a buy of volume at price consumes: notional plus fees.
func (s Schedule) BuyCost(venue Exchange, volume int64, price decimal.Decimal) decimal.Decimal {
	notional := price.Mul(decimal.NewFromInt(volume))
	return notional.Add(s.Compute(venue, model.Buy, volume, price).Total())
}
