package risk

import (
	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/ledger"
)

// AlertKind is the threshold a position crossed.
type AlertKind string

const (
	AlertStopLoss   AlertKind = "STOP_LOSS"
	AlertTakeProfit AlertKind = "TAKE_PROFIT"
)

// Alert is advisory; the manager never closes positions itself.
type Alert struct {
	Symbol  string          `json:"symbol"`
	Kind    AlertKind       `json:"kind"`
	Return  decimal.Decimal `json:"return"` // (last - avg) / avg
	AvgCost decimal.Decimal `json:"avg_cost"`
	Price   decimal.Decimal `json:"price"`
}

// PositionAlerts lists positions whose marked return breaches the stop-loss
// or take-profit threshold.
func (m *Manager) PositionAlerts(v *ledger.View) []Alert {
	if !m.limits.Enabled {
		return nil
	}
	var alerts []Alert
	for _, p := range v.Positions() {
		if !p.AvgCost.IsPositive() || !p.LastPrice.IsPositive() {
			continue
		}
		ret := p.LastPrice.Sub(p.AvgCost).Div(p.AvgCost)
		switch {
		case m.limits.StopLossPct.IsPositive() && ret.LessThanOrEqual(m.limits.StopLossPct.Neg()):
			alerts = append(alerts, Alert{Symbol: p.Symbol, Kind: AlertStopLoss, Return: ret, AvgCost: p.AvgCost, Price: p.LastPrice})
		case m.limits.TakeProfitPct.IsPositive() && ret.GreaterThanOrEqual(m.limits.TakeProfitPct):
			alerts = append(alerts, Alert{Symbol: p.Symbol, Kind: AlertTakeProfit, Return: ret, AvgCost: p.AvgCost, Price: p.LastPrice})
		}
	}
	return alerts
}
