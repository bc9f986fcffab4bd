// Package analytics computes performance statistics for a finished or
// running simulation from its equity curve and fills.
package analytics

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"github.com/quantsim/sim-exchange/internal/calendar"
	"github.com/quantsim/sim-exchange/internal/model"
)

const (
	// TradingDaysPerYear annualizes daily figures.
	TradingDaysPerYear = 252
	// DefaultRiskFreeRate is the annual rate subtracted in the Sharpe ratio.
	DefaultRiskFreeRate = 0.03
)

// Point is one observation of total assets.
type Point struct {
	Time   time.Time       `json:"time"`
	Equity decimal.Decimal `json:"equity"`
}

// Report holds the performance statistics. Ratios are fractions, not
// percentages.
type Report struct {
	InitialCapital   decimal.Decimal `json:"initial_capital"`
	FinalEquity      decimal.Decimal `json:"final_equity"`
	TotalReturn      float64         `json:"total_return"`
	AnnualizedReturn float64         `json:"annualized_return"`
	MaxDrawdown      float64         `json:"max_drawdown"`
	Volatility       float64         `json:"volatility"`
	SharpeRatio      float64         `json:"sharpe_ratio"`
	CalmarRatio      float64         `json:"calmar_ratio"`
	TradingDays      int             `json:"trading_days"`

	TotalTrades     int             `json:"total_trades"`
	ClosingTrades   int             `json:"closing_trades"`
	WinningTrades   int             `json:"winning_trades"`
	LosingTrades    int             `json:"losing_trades"`
	WinRate         float64         `json:"win_rate"`
	ProfitLossRatio float64         `json:"profit_loss_ratio"`
	TotalProfit     decimal.Decimal `json:"total_profit"`
	TotalLoss       decimal.Decimal `json:"total_loss"`
	TotalFees       decimal.Decimal `json:"total_fees"`
}

// Analyzer computes reports against a fixed initial capital.
type Analyzer struct {
	InitialCapital decimal.Decimal
	RiskFreeRate   float64
}

// New returns an analyzer using DefaultRiskFreeRate.
func New(initialCapital decimal.Decimal) *Analyzer {
	return &Analyzer{InitialCapital: initialCapital, RiskFreeRate: DefaultRiskFreeRate}
}

// Analyze builds a report. The curve may hold intraday points; only the
// last point of each trading day is used for daily statistics. Win rate
// and profit/loss ratio count sells, the only fills that realize P&L.
func (a *Analyzer) Analyze(curve []Point, trades []model.Trade) Report {
	r := Report{
		InitialCapital: a.InitialCapital,
		FinalEquity:    a.InitialCapital,
		TotalProfit:    decimal.Zero,
		TotalLoss:      decimal.Zero,
		TotalFees:      decimal.Zero,
	}
	a.tradeStats(&r, trades)

	daily := DailyCloses(curve)
	if len(daily) == 0 || !a.InitialCapital.IsPositive() {
		return r
	}
	equity := make([]float64, len(daily))
	for i, p := range daily {
		equity[i] = p.Equity.InexactFloat64()
	}
	initial := a.InitialCapital.InexactFloat64()

	r.FinalEquity = daily[len(daily)-1].Equity
	r.TradingDays = len(daily)
	r.TotalReturn = (equity[len(equity)-1] - initial) / initial
	years := float64(r.TradingDays) / TradingDaysPerYear
	if 1+r.TotalReturn > 0 {
		r.AnnualizedReturn = math.Pow(1+r.TotalReturn, 1/years) - 1
	} else {
		r.AnnualizedReturn = -1
	}
	r.MaxDrawdown = MaxDrawdown(equity)

	if len(equity) >= 2 {
		returns := make(stats.Float64Data, 0, len(equity)-1)
		for i := 1; i < len(equity); i++ {
			if equity[i-1] != 0 {
				returns = append(returns, equity[i]/equity[i-1]-1)
			}
		}
		mean, _ := stats.Mean(returns)
		std, _ := stats.StandardDeviationPopulation(returns)
		if std > 0 {
			r.Volatility = std * math.Sqrt(TradingDaysPerYear)
			r.SharpeRatio = (mean*TradingDaysPerYear - a.RiskFreeRate) / r.Volatility
		}
	}
	if r.MaxDrawdown > 0 {
		r.CalmarRatio = r.AnnualizedReturn / r.MaxDrawdown
	}
	return r
}

func (a *Analyzer) tradeStats(r *Report, trades []model.Trade) {
	r.TotalTrades = len(trades)
	for _, t := range trades {
		r.TotalFees = r.TotalFees.Add(t.Fees())
		if t.Side != model.Sell {
			continue
		}
		r.ClosingTrades++
		switch {
		case t.RealizedPnL.IsPositive():
			r.WinningTrades++
			r.TotalProfit = r.TotalProfit.Add(t.RealizedPnL)
		case t.RealizedPnL.IsNegative():
			r.LosingTrades++
			r.TotalLoss = r.TotalLoss.Add(t.RealizedPnL.Abs())
		}
	}
	if r.ClosingTrades > 0 {
		r.WinRate = float64(r.WinningTrades) / float64(r.ClosingTrades)
	}
	if r.WinningTrades > 0 && r.LosingTrades > 0 {
		avgProfit := r.TotalProfit.Div(decimal.NewFromInt(int64(r.WinningTrades)))
		avgLoss := r.TotalLoss.Div(decimal.NewFromInt(int64(r.LosingTrades)))
		r.ProfitLossRatio = avgProfit.Div(avgLoss).InexactFloat64()
	}
}

// DailyCloses keeps the last point of each exchange-local date. The curve
// must be in time order.
func DailyCloses(curve []Point) []Point {
	var out []Point
	for _, p := range curve {
		if n := len(out); n > 0 && calendar.SameDay(out[n-1].Time, p.Time) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction of the
// peak.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0]
	maxDD := 0.0
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// String renders the report as a fixed-width text block.
func (r Report) String() string {
	var b strings.Builder
	line := strings.Repeat("=", 60)
	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "Performance Report")
	fmt.Fprintln(&b, line)
	fmt.Fprintf(&b, "  Initial Capital:     %12s\n", r.InitialCapital.StringFixed(2))
	fmt.Fprintf(&b, "  Final Equity:        %12s\n", r.FinalEquity.StringFixed(2))
	fmt.Fprintf(&b, "  Total Return:        %11.2f%%\n", r.TotalReturn*100)
	fmt.Fprintf(&b, "  Annualized Return:   %11.2f%%\n", r.AnnualizedReturn*100)
	fmt.Fprintf(&b, "  Max Drawdown:        %11.2f%%\n", r.MaxDrawdown*100)
	fmt.Fprintf(&b, "  Sharpe Ratio:        %12.4f\n", r.SharpeRatio)
	fmt.Fprintf(&b, "  Calmar Ratio:        %12.4f\n", r.CalmarRatio)
	fmt.Fprintf(&b, "  Trading Days:        %12d\n", r.TradingDays)
	fmt.Fprintf(&b, "  Total Trades:        %12d\n", r.TotalTrades)
	fmt.Fprintf(&b, "  Win Rate:            %11.2f%%\n", r.WinRate*100)
	fmt.Fprintf(&b, "  Profit/Loss Ratio:   %12.2f\n", r.ProfitLossRatio)
	fmt.Fprintf(&b, "  Total Fees:          %12s\n", r.TotalFees.StringFixed(2))
	fmt.Fprint(&b, line)
	return b.String()
}
